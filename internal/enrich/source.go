package enrich

import (
	"context"

	"prospect-engine/internal/domain"
)

// Source fetches one family of signals for a registrable domain. Fetch
// must honour ctx; the collector abandons it at its deadline either way.
type Source interface {
	Name() string
	Fetch(ctx context.Context, host string) (domain.Signals, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc struct {
	ID string
	Fn func(ctx context.Context, host string) (domain.Signals, error)
}

func (s SourceFunc) Name() string { return s.ID }

func (s SourceFunc) Fetch(ctx context.Context, host string) (domain.Signals, error) {
	return s.Fn(ctx, host)
}
