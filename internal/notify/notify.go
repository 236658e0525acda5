// Package notify decides who hears about a calendar mutation and hands the
// result to a delivery transport. Delivery itself is best effort.
package notify

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/SarveshMina/CAD-gcw-backend/internal/storage/models"
)

// ChangeKind identifies the mutation being announced.
type ChangeKind string

const (
	MemberAdded     ChangeKind = "member.added"
	MemberRemoved   ChangeKind = "member.removed"
	EventCreated    ChangeKind = "event.created"
	EventUpdated    ChangeKind = "event.updated"
	EventDeleted    ChangeKind = "event.deleted"
	CalendarDeleted ChangeKind = "calendar.deleted"
)

// IsMembership reports whether the change altered a member set.
func (k ChangeKind) IsMembership() bool {
	return k == MemberAdded || k == MemberRemoved
}

// Change describes a committed mutation. Members is the calendar's member set
// as of the change; for a removal it no longer contains the target.
type Change struct {
	Kind         ChangeKind
	CalendarID   string
	CalendarKind models.CalendarKind
	OwnerID      string
	Members      []string
	ActorID      string
	TargetUserID string
	EventID      string
	Title        string
	At           time.Time
}

// DecideRecipients returns the sorted set of users to notify about c.
//
// Membership changes reach the target, every current member and the owner.
// Event and calendar changes on a group calendar reach every member except
// the actor. Changes to personal calendars reach nobody.
func DecideRecipients(c Change) []string {
	set := make(map[string]struct{})

	switch {
	case c.Kind.IsMembership():
		add(set, c.TargetUserID)
		add(set, c.OwnerID)
		for _, m := range c.Members {
			add(set, m)
		}
	case c.CalendarKind == models.CalendarGroup:
		add(set, c.OwnerID)
		for _, m := range c.Members {
			add(set, m)
		}
		delete(set, c.ActorID)
	}

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func add(set map[string]struct{}, id string) {
	if id != "" {
		set[id] = struct{}{}
	}
}

// Notification is the payload handed to a transport.
type Notification struct {
	Type         ChangeKind `json:"type"`
	CalendarID   string     `json:"calendarId"`
	EventID      string     `json:"eventId,omitempty"`
	ActorID      string     `json:"actorId"`
	TargetUserID string     `json:"targetUserId,omitempty"`
	Title        string     `json:"title,omitempty"`
	At           time.Time  `json:"at"`
}

// Transport delivers a notification to a set of users.
type Transport interface {
	Deliver(ctx context.Context, recipients []string, n Notification) error
}

// Publisher accepts committed changes.
type Publisher interface {
	Publish(ctx context.Context, c Change)
}

// Fanout is the Publisher that decides recipients and dispatches to a Transport.
type Fanout struct {
	transport Transport
	logger    *slog.Logger
}

// NewFanout creates a fanout. A nil transport discards every notification.
func NewFanout(transport Transport, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{transport: transport, logger: logger}
}

// Publish dispatches c to its recipients. Failures are logged and never
// returned: the mutation has already been committed.
func (f *Fanout) Publish(ctx context.Context, c Change) {
	if f == nil || f.transport == nil {
		return
	}
	recipients := DecideRecipients(c)
	if len(recipients) == 0 {
		return
	}
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}

	n := Notification{
		Type:         c.Kind,
		CalendarID:   c.CalendarID,
		EventID:      c.EventID,
		ActorID:      c.ActorID,
		TargetUserID: c.TargetUserID,
		Title:        c.Title,
		At:           c.At,
	}
	if err := f.transport.Deliver(ctx, recipients, n); err != nil {
		f.logger.Warn("notification delivery failed",
			"type", c.Kind, "calendar_id", c.CalendarID, "recipients", len(recipients), "error", err)
	}
}

// ChangeFor builds a change announcing a mutation on cal.
func ChangeFor(kind ChangeKind, cal *models.Calendar, actorID string) Change {
	return Change{
		Kind:         kind,
		CalendarID:   cal.ID,
		CalendarKind: cal.Kind,
		OwnerID:      cal.OwnerID,
		Members:      append([]string(nil), cal.Members...),
		ActorID:      actorID,
		At:           time.Now().UTC(),
	}
}
