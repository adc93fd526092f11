package service

import (
	"net/mail"
	"strings"

	"clinicbook/internal/models"
)

// NormalizeCustomer trims surrounding whitespace from every field.
func NormalizeCustomer(c models.Customer) models.Customer {
	return models.Customer{
		FirstName: strings.TrimSpace(c.FirstName),
		LastName:  strings.TrimSpace(c.LastName),
		Email:     strings.TrimSpace(c.Email),
		Phone:     strings.TrimSpace(c.Phone),
	}
}

// ValidateCustomer checks c and reports all failing fields at once.
// It returns nil or a *ValidationError.
func ValidateCustomer(c models.Customer, minPhoneDigits int) error {
	c = NormalizeCustomer(c)
	fields := make(map[string]string)

	if c.FirstName == "" {
		fields["first_name"] = "is required"
	}
	if c.LastName == "" {
		fields["last_name"] = "is required"
	}

	switch {
	case c.Email == "":
		fields["email"] = "is required"
	case !validEmail(c.Email):
		fields["email"] = "is not a valid address"
	}

	switch {
	case c.Phone == "":
		fields["phone"] = "is required"
	case !validPhone(c.Phone, minPhoneDigits):
		fields["phone"] = "is too short or contains invalid characters"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// validEmail accepts a bare addr-spec; display names and angle brackets are rejected.
func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	if addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && strings.Contains(email[at+1:], ".")
}

func validPhone(phone string, minDigits int) bool {
	digits := 0
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return false
		}
	}
	return digits >= minDigits
}
