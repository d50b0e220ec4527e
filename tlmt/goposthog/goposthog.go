// Package goposthog sends telemetry events to a PostHog instance.
package goposthog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/posthog/posthog-go"

	"github.com/khushsoniamparo/Google-Extractor/tlmt"
)

type service struct {
	client     posthog.Client
	distinctID string
}

func New(apiKey, endpoint string) (tlmt.Telemetry, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing api key")
	}

	client, err := posthog.NewWithConfig(apiKey, posthog.Config{Endpoint: endpoint})
	if err != nil {
		return nil, fmt.Errorf("creating posthog client: %w", err)
	}

	return &service{
		client:     client,
		distinctID: uuid.New().String(),
	}, nil
}

func (s *service) Send(_ context.Context, event *tlmt.Event) error {
	properties := posthog.NewProperties()
	for k, v := range event.Data {
		properties.Set(k, v)
	}

	return s.client.Enqueue(posthog.Capture{
		DistinctId: s.distinctID,
		Event:      event.Name,
		Properties: properties,
	})
}

func (s *service) Close() error {
	return s.client.Close()
}
