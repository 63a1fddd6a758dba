// Package cloudevent provides CloudEvents 1.0 types and an HTTP sender.
package cloudevent

import (
	"errors"
	"time"
)

// SpecVersion is the CloudEvents specification version produced here.
const SpecVersion = "1.0"

// CloudEvent is a structured-mode CloudEvents 1.0 envelope. Data is
// marshalled as JSON.
type CloudEvent struct {
	SpecVersion     string    `json:"specversion"`
	Type            string    `json:"type"`
	Source          string    `json:"source"`
	Subject         string    `json:"subject,omitempty"`
	ID              string    `json:"id"`
	Time            time.Time `json:"time"`
	DataContentType string    `json:"datacontenttype,omitempty"`
	Data            any       `json:"data,omitempty"`
}

// New creates a new CloudEvent stamped with the current UTC time.
func New(eventType, source, subject, id string, data any) *CloudEvent {
	e := &CloudEvent{
		SpecVersion: SpecVersion,
		Type:        eventType,
		Source:      source,
		Subject:     subject,
		ID:          id,
		Time:        time.Now().UTC(),
		Data:        data,
	}
	if data != nil {
		e.DataContentType = "application/json"
	}
	return e
}

// Validate checks the attributes CloudEvents requires on every event.
func (e *CloudEvent) Validate() error {
	var errs []error
	if e.SpecVersion != SpecVersion {
		errs = append(errs, errors.New("specversion must be "+SpecVersion))
	}
	if e.Type == "" {
		errs = append(errs, errors.New("type is required"))
	}
	if e.Source == "" {
		errs = append(errs, errors.New("source is required"))
	}
	if e.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	return errors.Join(errs...)
}
