package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"

	"prospect-engine/internal/config"
	"prospect-engine/internal/domain"
	"prospect-engine/internal/events"
)

type Store interface {
	Ping(ctx context.Context) error
	ListQualified(ctx context.Context, limit int) ([]domain.QualifiedCandidate, error)
	LastTick(ctx context.Context) (domain.TickReport, error)
	ListTicks(ctx context.Context, limit int) ([]domain.TickReport, error)
	GetSequence(ctx context.Context, id string) (domain.Sequence, error)
	SequenceEvents(ctx context.Context, sequenceID string) ([]domain.OutreachEvent, error)
}

type Ticker interface {
	RunTick(ctx context.Context) (domain.TickReport, error)
}

type Sequences interface {
	RecordEngagement(ctx context.Context, sequenceID string, step int, status domain.EventStatus, at time.Time) (domain.Sequence, error)
	Pause(ctx context.Context, sequenceID string) (domain.Sequence, error)
	Resume(ctx context.Context, sequenceID string) (domain.Sequence, error)
}

type Deps struct {
	Store     Store
	Ticker    Ticker
	Sequences Sequences
	Hub       *events.Hub
	Logger    *zap.Logger

	// Config is the running configuration; ConfigPath is where it was
	// loaded from.
	Config     config.Config
	ConfigPath string
}
