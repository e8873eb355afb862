package gate

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"prospect-engine/internal/domain"
)

type Evaluator struct {
	gates []Gate
	log   *zap.Logger
}

func NewEvaluator(gates []Gate, log *zap.Logger) *Evaluator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{gates: gates, log: log}
}

func (e *Evaluator) Gates() int { return len(e.gates) }

// Evaluate runs every gate concurrently and returns one result per gate in
// configuration order. A gate that errors or panics is scored 0 and marked
// failed; the others are unaffected.
func (e *Evaluator) Evaluate(ctx context.Context, cand domain.Candidate, b domain.EnrichmentBundle) []domain.GateResult {
	out := make([]domain.GateResult, len(e.gates))

	var g errgroup.Group
	for i, gt := range e.gates {
		i, gt := i, gt
		g.Go(func() error {
			res, err := runGate(gt, cand, b)
			if err != nil {
				e.log.Warn("gate evaluation failed",
					zap.String("candidate", cand.ID),
					zap.String("gate", gt.Name()),
					zap.Error(err))
				res = domain.GateResult{
					Gate:      gt.Name(),
					Threshold: res.Threshold,
					Error:     err.Error(),
				}
			}
			res.Gate = gt.Name()
			res.CandidateID = cand.ID
			out[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func runGate(gt Gate, cand domain.Candidate, b domain.EnrichmentBundle) (res domain.GateResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.GateError{Gate: gt.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	res, err = gt.Evaluate(cand, b)
	if err != nil {
		err = &domain.GateError{Gate: gt.Name(), Err: err}
	}
	return res, err
}

// Passed counts passing results.
func Passed(results []domain.GateResult) int {
	n := 0
	for _, r := range results {
		if r.Passed {
			n++
		}
	}
	return n
}

// MeetsQuorum reports whether at least k results passed.
func MeetsQuorum(results []domain.GateResult, k int) bool {
	return Passed(results) >= k
}
