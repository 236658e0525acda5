// Package recurrence validates and expands RFC 5545 recurrence rules.
package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/SarveshMina/CAD-gcw-backend/internal/apperr"
)

// DefaultMaxOccurrences caps how many instances a single rule may produce
// inside one expansion window.
const DefaultMaxOccurrences = 1000

// Normalize trims an optional "RRULE:" prefix and surrounding whitespace.
func Normalize(rule string) string {
	rule = strings.TrimSpace(rule)
	if len(rule) >= 6 && strings.EqualFold(rule[:6], "RRULE:") {
		rule = rule[6:]
	}
	return rule
}

// Validate reports whether rule is a parseable RRULE. The empty rule is valid.
func Validate(rule string) error {
	rule = Normalize(rule)
	if rule == "" {
		return nil
	}
	if _, err := rrule.StrToRRule(rule); err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, "Invalid recurrence rule", err)
	}
	return nil
}

// Occurrence is a single expanded instance.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

// Expand returns the instances of an event starting at start with the given
// duration whose span intersects [from, to). A non-recurring event yields at
// most itself. At most max instances are returned; max <= 0 uses
// DefaultMaxOccurrences.
func Expand(start time.Time, duration time.Duration, rule string, from, to time.Time, max int) ([]Occurrence, error) {
	if max <= 0 {
		max = DefaultMaxOccurrences
	}

	rule = Normalize(rule)
	if rule == "" {
		end := start.Add(duration)
		if start.Before(to) && end.After(from) {
			return []Occurrence{{Start: start, End: end}}, nil
		}
		return nil, nil
	}

	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, fmt.Errorf("parsing recurrence rule: %w", err)
	}
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)

	// Instances that began before the window may still overlap it.
	loc := start.Location()
	starts := set.Between(from.Add(-duration).In(loc), to.In(loc), true)

	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		e := s.Add(duration)
		if !s.Before(to) || !e.After(from) {
			continue
		}
		out = append(out, Occurrence{Start: s, End: e})
		if len(out) == max {
			break
		}
	}
	return out, nil
}
