// Package rotation selects which review platform a feedback message links to.
//
// Round-robin selection shares one counter across every worker so that
// consecutive deliveries alternate platforms regardless of which process
// sends them. Weighted random selection needs no shared state.
package rotation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"

	"reviewsms/internal/types"
)

// Strategy names accepted by ROTATION_STRATEGY.
const (
	StrategyRoundRobin = "round_robin"
	StrategyWeighted   = "weighted"
)

// Counter is an atomically advancing index shared by all selectors. Next
// stores (i+1) mod n and returns i.
type Counter interface {
	Next(ctx context.Context, n int) (int, error)
}

// MemoryCounter is a process-local Counter.
type MemoryCounter struct {
	v atomic.Uint64
}

var _ Counter = (*MemoryCounter)(nil)

func (c *MemoryCounter) Next(_ context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("rotation counter: target count must be positive, got %d", n)
	}
	i := c.v.Add(1) - 1
	return int(i % uint64(n)), nil
}

// Service picks targets from a fixed list.
type Service struct {
	targets  []types.Target
	counter  Counter
	strategy string
	logger   types.Logger
	intN     func(n int) int
}

var _ types.TargetSelector = (*Service)(nil)

// NewService creates a selector over targets. The list must not be empty.
func NewService(targets []types.Target, counter Counter, strategy string, logger types.Logger) (*Service, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("rotation: at least one target is required")
	}
	switch strategy {
	case "":
		strategy = StrategyRoundRobin
	case StrategyRoundRobin, StrategyWeighted:
	default:
		return nil, fmt.Errorf("rotation: unknown strategy %q", strategy)
	}
	if counter == nil {
		counter = &MemoryCounter{}
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Service{
		targets:  append([]types.Target(nil), targets...),
		counter:  counter,
		strategy: strategy,
		logger:   logger,
		intN:     rand.IntN,
	}, nil
}

// Targets returns a copy of the configured list.
func (s *Service) Targets() []types.Target {
	return append([]types.Target(nil), s.targets...)
}

// Select dispatches on the configured strategy.
func (s *Service) Select(ctx context.Context) types.Target {
	if s.strategy == StrategyWeighted {
		return s.WeightedRandomTarget()
	}
	return s.NextTarget(ctx)
}

// NextTarget returns targets[i mod N] for the next counter value. If the
// counter cannot be advanced the first target is returned.
func (s *Service) NextTarget(ctx context.Context) types.Target {
	i, err := s.counter.Next(ctx, len(s.targets))
	if err != nil {
		s.logger.Warn("rotation counter unavailable, using first target",
			"error", err,
			"target", s.targets[0].Name,
		)
		return s.targets[0]
	}
	return s.targets[i%len(s.targets)]
}

// WeightedRandomTarget picks a target with probability weight/totalWeight.
// Non-positive weights are never picked unless every weight is non-positive,
// in which case the first target is returned.
func (s *Service) WeightedRandomTarget() types.Target {
	total := 0
	for _, t := range s.targets {
		if t.Weight > 0 {
			total += t.Weight
		}
	}
	if total == 0 {
		return s.targets[0]
	}

	r := s.intN(total)
	for _, t := range s.targets {
		if t.Weight <= 0 {
			continue
		}
		if r < t.Weight {
			return t
		}
		r -= t.Weight
	}
	return s.targets[len(s.targets)-1]
}
