package packet_test

import (
	"context"
	stderrors "errors"
	"sync"

	"codeberg.org/mutker/flightctl/internal/fanout"
	"codeberg.org/mutker/flightctl/internal/telemetry"
)

type memStore struct {
	mu        sync.Mutex
	records   []telemetry.Record
	events    []telemetry.Event
	failWrite bool
}

func (s *memStore) InsertTelemetry(_ context.Context, rec *telemetry.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWrite {
		return 0, stderrors.New("database is locked")
	}
	s.records = append(s.records, *rec)
	return int64(len(s.records)), nil
}

func (s *memStore) InsertEvent(_ context.Context, ev *telemetry.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWrite {
		return 0, stderrors.New("database is locked")
	}
	s.events = append(s.events, *ev)
	return int64(len(s.events)), nil
}

func (s *memStore) snapshot() ([]telemetry.Record, []telemetry.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]telemetry.Record(nil), s.records...), append([]telemetry.Event(nil), s.events...)
}

type published struct {
	flightID int64
	event    string
	data     any
}

type memPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *memPublisher) Publish(flightID int64, event string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{flightID: flightID, event: event, data: data})
}

func (p *memPublisher) Broadcast(event string, data any) {
	p.Publish(0, event, data)
}

func (p *memPublisher) count(event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, m := range p.msgs {
		if m.event == event {
			n++
		}
	}
	return n
}

type staticSession struct {
	id     int64
	active bool
}

func (s staticSession) CurrentFlight() (int64, bool) {
	return s.id, s.active
}

var _ fanout.Publisher = (*memPublisher)(nil)
