// Package models contains the domain models for the application.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// CalendarKind discriminates the two calendar shapes stored in the calendars collection.
type CalendarKind string

const (
	CalendarPersonal CalendarKind = "personal"
	CalendarGroup    CalendarKind = "group"
)

// Calendar is either a personal calendar (owned by one user, possibly the
// user's home calendar) or a group calendar with a member set.
type Calendar struct {
	ID        string       `db:"id" json:"calendarId"`
	Kind      CalendarKind `db:"kind" json:"kind"`
	OwnerID   string       `db:"owner_id" json:"ownerId"`
	Name      string       `db:"name" json:"name"`
	IsHome    bool         `db:"is_home" json:"isHome"`
	Members   MemberSet    `db:"members" json:"members,omitempty"`
	Version   int64        `db:"version" json:"version"`
	UpdatedBy string       `db:"updated_by" json:"updatedBy"`
	CreatedAt time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time    `db:"updated_at" json:"updatedAt"`
}

// IsGroup reports whether the calendar is a group calendar.
func (c *Calendar) IsGroup() bool {
	return c.Kind == CalendarGroup
}

// HasMember reports whether userID may act as a member of the calendar.
// The owner is always a member; personal calendars have no other members.
func (c *Calendar) HasMember(userID string) bool {
	if userID == "" {
		return false
	}
	if c.OwnerID == userID {
		return true
	}
	return c.IsGroup() && c.Members.Contains(userID)
}

// Participants returns every user attached to the calendar, owner included.
func (c *Calendar) Participants() []string {
	if !c.IsGroup() {
		return []string{c.OwnerID}
	}
	set, _ := c.Members.With(c.OwnerID)
	return set
}

// MemberSet is a sorted, duplicate-free list of user IDs persisted as a JSON array.
type MemberSet []string

// NewMemberSet builds a normalized set from ids, dropping empties and duplicates.
func NewMemberSet(ids ...string) MemberSet {
	seen := make(map[string]bool, len(ids))
	out := make(MemberSet, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether id is in the set.
func (s MemberSet) Contains(id string) bool {
	i := sort.SearchStrings(s, id)
	return i < len(s) && s[i] == id
}

// With returns a copy of the set including id, and whether it was added.
func (s MemberSet) With(id string) (MemberSet, bool) {
	if s.Contains(id) {
		return append(MemberSet(nil), s...), false
	}
	return NewMemberSet(append(append([]string(nil), s...), id)...), true
}

// Without returns a copy of the set excluding id, and whether it was removed.
func (s MemberSet) Without(id string) (MemberSet, bool) {
	out := make(MemberSet, 0, len(s))
	removed := false
	for _, m := range s {
		if m == id {
			removed = true
			continue
		}
		out = append(out, m)
	}
	return out, removed
}

// Value implements driver.Valuer.
func (s MemberSet) Value() (driver.Value, error) {
	if s == nil {
		s = MemberSet{}
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *MemberSet) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = MemberSet{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scanning member set: unsupported type %T", src)
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return fmt.Errorf("scanning member set: %w", err)
	}
	*s = NewMemberSet(ids...)
	return nil
}
