// Package tlmt defines the anonymous usage telemetry boundary.
package tlmt

import "context"

type Event struct {
	Name string
	Data map[string]any
}

func NewEvent(name string, data map[string]any) *Event {
	return &Event{
		Name: name,
		Data: data,
	}
}

type Telemetry interface {
	Send(ctx context.Context, event *Event) error
	Close() error
}
