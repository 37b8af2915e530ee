// Package civiltime pins every expiry computation to the institution's civil timezone and
// parses the ISO-8601 variants browsers and the database hand back.
package civiltime

import (
	"fmt"
	"strings"
	"time"
)

var offsetLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05Z07",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04:05Z07",
	"2006-01-02T15:04Z07:00",
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Clock reports the current instant in the canonical zone.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// New loads the named IANA zone.
func New(zone string) (*Clock, error) {
	if zone == "" {
		return nil, fmt.Errorf("timezone required")
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", zone, err)
	}
	return &Clock{loc: loc, now: time.Now}, nil
}

// Fixed returns a clock whose Now is driven by fn; used by tests and replays.
func Fixed(loc *time.Location, fn func() time.Time) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc, now: fn}
}

// Location returns the canonical zone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Now returns the current instant expressed in the canonical zone.
func (c *Clock) Now() time.Time {
	return c.now().In(c.loc)
}

// Normalize re-expresses t in the canonical zone. The instant is unchanged.
func (c *Clock) Normalize(t time.Time) time.Time {
	return t.In(c.loc)
}

// Expired reports whether the canonical now is strictly after deadline.
func (c *Clock) Expired(deadline time.Time) bool {
	return c.Now().After(deadline)
}

// Parse reads raw as ISO-8601 and returns it in the canonical zone. Values without an
// offset are taken to be UTC, which is what browsers send from toISOString().
func (c *Clock) Parse(raw string) (time.Time, error) {
	t, err := parse(raw, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return c.Normalize(t), nil
}

// ParseLocal is Parse but reads offset-less values as canonical wall-clock time.
func (c *Clock) ParseLocal(raw string) (time.Time, error) {
	t, err := parse(raw, c.loc)
	if err != nil {
		return time.Time{}, err
	}
	return c.Normalize(t), nil
}

func parse(raw string, naive *time.Location) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if strings.HasSuffix(value, "z") {
		value = value[:len(value)-1] + "Z"
	}

	// Fractional seconds of any precision are accepted by time.Parse after the seconds field.
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, value, naive); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO-8601 timestamp %q", raw)
}
