package models

import "time"

// Slot is a bookable clinic session or course package with fixed capacity.
type Slot struct {
	ID            int64     `yaml:"id" json:"id"`
	Name          string    `yaml:"name" json:"name"`
	Kind          string    `yaml:"kind" json:"kind"`
	Capacity      int       `yaml:"capacity" json:"capacity"`
	PriceCents    int64     `yaml:"price_cents" json:"price_cents"`
	Currency      string    `yaml:"currency" json:"currency"`
	ScheduleLabel string    `yaml:"schedule_label" json:"schedule_label"`
	SelfConfirm   bool      `yaml:"self_confirm" json:"self_confirm"`
	SortOrder     int64     `yaml:"sort_order" json:"sort_order"`
	IsActive      bool      `yaml:"is_active" json:"is_active"`
	CreatedAt     time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt     time.Time `yaml:"updated_at" json:"updated_at"`
}

// SlotAvailability is a slot together with its remaining capacity.
type SlotAvailability struct {
	Slot      Slot `json:"slot"`
	Live      int  `json:"live"`
	Remaining int  `json:"remaining_capacity"`
}

// Admission is the capacity guard verdict for a slot.
type Admission struct {
	Admitted bool   `json:"admitted"`
	Live     int    `json:"live"`
	Capacity int    `json:"capacity"`
	Reason   string `json:"reason,omitempty"`
}
