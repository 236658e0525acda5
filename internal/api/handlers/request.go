// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/SarveshMina/CAD-gcw-backend/internal/apperr"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

var errEmptyBody = apperr.InvalidInput("Request body is required")

// MessageResponse is the body of a mutation without a richer result.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func ok(message string) MessageResponse {
	return MessageResponse{Success: true, Message: message}
}

// Timestamp is a request time in ISO-8601 with an explicit offset. Both
// RFC 3339 and the minute form 2006-01-02T15:04Z07:00 are accepted.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04Z07:00"}

type timestampError struct {
	value string
}

func (e *timestampError) Error() string {
	return fmt.Sprintf("invalid timestamp %q: expected ISO-8601 with an explicit offset", e.value)
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return &timestampError{value: string(data)}
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return &timestampError{value: s}
}

// ptr returns the time, or nil when the field was absent.
func (t *Timestamp) ptr() *time.Time {
	if t == nil {
		return nil
	}
	v := t.Time
	return &v
}

// decodeJSON reads a JSON body into v. An empty body is invalid.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		var terr *timestampError
		if errors.As(err, &terr) {
			return apperr.InvalidInput("Invalid timestamp %q: expected ISO-8601 with an explicit offset", terr.value)
		}
		return apperr.InvalidInput("Invalid request body")
	}
	return nil
}

// decodeOptionalJSON is decodeJSON but treats an empty body as no fields.
func decodeOptionalJSON(r *http.Request, v any) error {
	err := decodeJSON(r, v)
	if errors.Is(err, errEmptyBody) {
		return nil
	}
	return err
}
