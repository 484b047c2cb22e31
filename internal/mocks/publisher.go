package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) PublishWithHeaders(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	args := m.Called(ctx, routingKey, event, headers)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Emission is one recorded room broadcast.
type Emission struct {
	Room  string
	Event string
	Data  any
}

// RecordingBroadcaster records every room broadcast in order.
type RecordingBroadcaster struct {
	mu        sync.Mutex
	emissions []Emission
	Err       error
}

func (b *RecordingBroadcaster) Publish(_ context.Context, room, event string, data any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return b.Err
	}
	b.emissions = append(b.emissions, Emission{Room: room, Event: event, Data: data})
	return nil
}

// Emissions returns a copy of the recorded broadcasts.
func (b *RecordingBroadcaster) Emissions() []Emission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Emission(nil), b.emissions...)
}

// Rooms returns the rooms that received event, in order.
func (b *RecordingBroadcaster) Rooms(event string) []string {
	var rooms []string
	for _, e := range b.Emissions() {
		if e.Event == event {
			rooms = append(rooms, e.Room)
		}
	}
	return rooms
}
