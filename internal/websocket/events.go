package websocket

import (
	"context"
	"fmt"

	"github.com/SarveshMina/CAD-gcw-backend/internal/notify"
)

// Transport delivers calendar notifications to connected users. Users without
// an open connection miss the notification.
type Transport struct {
	hub *Hub
}

// NewTransport creates a notification transport backed by hub.
func NewTransport(hub *Hub) *Transport {
	return &Transport{hub: hub}
}

// Deliver implements notify.Transport.
func (t *Transport) Deliver(ctx context.Context, recipients []string, n notify.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := NewMessage(MessageType(n.Type), n).JSON()
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	return t.hub.Send(recipients, data)
}
