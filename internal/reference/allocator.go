// Package reference issues human-friendly booking references.
//
// A reference is PREFIX-TTTT-TTTT-RRRR-RRRR in Crockford base32: eight
// characters from the millisecond clock followed by eight from 40 random
// bits. Uniqueness is finally enforced by the ledger; the allocator only
// makes collisions rare.
package reference

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
	blockSize = 4
	timeChars = 8
	randChars = 8
)

// Allocator produces booking references. Safe for concurrent use.
type Allocator struct {
	prefix  string
	clock   func() time.Time
	entropy func() uuid.UUID
}

func New(prefix string) *Allocator {
	return NewWithSource(prefix, time.Now, uuid.New)
}

// NewWithSource lets callers pin the clock and entropy source.
func NewWithSource(prefix string, clock func() time.Time, entropy func() uuid.UUID) *Allocator {
	if clock == nil {
		clock = time.Now
	}
	if entropy == nil {
		entropy = uuid.New
	}
	return &Allocator{
		prefix:  strings.ToUpper(strings.TrimSpace(prefix)),
		clock:   clock,
		entropy: entropy,
	}
}

func (a *Allocator) Allocate() string {
	millis := uint64(a.clock().UnixMilli())
	timePart := encode(millis, timeChars)

	id := a.entropy()
	// bytes 0..4 of a v4 uuid carry no version/variant bits
	var r uint64
	for _, b := range id[:5] {
		r = r<<8 | uint64(b)
	}
	randPart := encode(r, randChars)

	body := group(timePart + randPart)
	if a.prefix == "" {
		return body
	}
	return a.prefix + "-" + body
}

// Normalize canonicalizes user input before lookup.
func Normalize(ref string) string {
	return strings.ToUpper(strings.TrimSpace(ref))
}

// encode writes the low 5*width bits of v as Crockford base32.
func encode(v uint64, width int) string {
	out := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		out[i] = crockford[v&0x1f]
		v >>= 5
	}
	return string(out)
}

func group(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i += blockSize {
		if i > 0 {
			b.WriteByte('-')
		}
		end := i + blockSize
		if end > len(s) {
			end = len(s)
		}
		b.WriteString(s[i:end])
	}
	return b.String()
}
