package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/printguard/internal/core/domain"
)

// Publisher delivers lifecycle events to an external sink.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// JobLog stores print outcomes.
type JobLog interface {
	Record(ctx context.Context, rec domain.JobRecord) error
}

// NoopPublisher discards events.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, domain.Event) error { return nil }

const publishTimeout = 2 * time.Second

func (s *Service) publish(ev domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn("Event publish failed", "kind", ev.Kind, "address", ev.Address, "error", err)
	}
}

func (s *Service) publishJob(kind domain.EventKind, address, jobID, detail string) {
	ev := domain.NewEvent(kind, address, detail)
	ev.JobID = jobID
	s.publish(ev)
}

var _ Publisher = NoopPublisher{}

// slogPublisher logs events instead of delivering them. Used when no broker is configured.
type slogPublisher struct {
	log *slog.Logger
}

func (p slogPublisher) Publish(_ context.Context, ev domain.Event) error {
	p.log.Debug("Event", "kind", ev.Kind, "address", ev.Address, "job_id", ev.JobID, "detail", ev.Detail)
	return nil
}
