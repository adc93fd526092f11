package reference

import (
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var refPattern = regexp.MustCompile(`^CB-[0-9A-HJKMNP-TV-Z]{4}-[0-9A-HJKMNP-TV-Z]{4}-[0-9A-HJKMNP-TV-Z]{4}-[0-9A-HJKMNP-TV-Z]{4}$`)

func TestAllocate_Format(t *testing.T) {
	a := New("cb")
	ref := a.Allocate()
	assert.Regexp(t, refPattern, ref)
}

func TestAllocate_Deterministic(t *testing.T) {
	clock := func() time.Time { return time.UnixMilli(0) }
	entropy := func() uuid.UUID { return uuid.UUID{} }

	a := NewWithSource("CB", clock, entropy)
	assert.Equal(t, "CB-0000-0000-0000-0000", a.Allocate())

	full := uuid.UUID{0xff, 0xff, 0xff, 0xff, 0xff}
	a = NewWithSource("", clock, func() uuid.UUID { return full })
	assert.Equal(t, "0000-0000-ZZZZ-ZZZZ", a.Allocate())
}

func TestAllocate_TimeComponentOrders(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entropy := func() uuid.UUID { return uuid.UUID{} }

	first := NewWithSource("CB", func() time.Time { return now }, entropy).Allocate()
	second := NewWithSource("CB", func() time.Time { return now.Add(time.Millisecond) }, entropy).Allocate()
	assert.Less(t, first, second)
}

func TestAllocate_UniqueUnderConcurrency(t *testing.T) {
	a := New("CB")

	const n = 2000
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{}, n)
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			ref := a.Allocate()
			mu.Lock()
			seen[ref] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, n)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "CB-ABCD-0000", Normalize("  cb-abcd-0000 "))
}

func TestGroup(t *testing.T) {
	assert.Equal(t, "ABCD-EF", group("ABCDEF"))
	assert.Equal(t, "", group(""))
}
