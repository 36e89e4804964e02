package verifier

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// CustomVerifier is satisfied by any caller-registered verification
// strategy beyond the four built-ins.
type CustomVerifier interface {
	Verifier
}

// Suite owns the registered verifiers for a running orchestrator. RunAll
// fans a batch of requests out concurrently through
// golang.org/x/sync/errgroup, one goroutine per request with no
// concurrency limit.
type Suite struct {
	mu      sync.RWMutex
	custom  map[Strategy]CustomVerifier
	command *CommandVerifier
	fs      *FileSystemVerifier
	network *NetworkVerifier
	state   *StateVerifier
}

// NewSuite returns a Suite with the four built-in strategies installed.
func NewSuite() *Suite {
	return &Suite{
		custom:  make(map[Strategy]CustomVerifier),
		command: NewCommandVerifier(),
		fs:      NewFileSystemVerifier(),
		network: NewNetworkVerifier(),
		state:   NewStateVerifier(),
	}
}

// RegisterCustom installs a custom verification strategy under its own
// Strategy name, replacing any previous registration for that name.
func (s *Suite) RegisterCustom(v CustomVerifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.custom[v.Strategy()] = v
}

// Command returns the built-in command verifier.
func (s *Suite) Command() *CommandVerifier { return s.command }

// FileSystem returns the built-in filesystem verifier.
func (s *Suite) FileSystem() *FileSystemVerifier { return s.fs }

// Network returns the built-in network verifier.
func (s *Suite) Network() *NetworkVerifier { return s.network }

// State returns the built-in state verifier.
func (s *Suite) State() *StateVerifier { return s.state }

// Custom returns the registered custom verifier for strategy, if any.
func (s *Suite) Custom(strategy Strategy) (CustomVerifier, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.custom[strategy]
	return v, ok
}

// Request is one verification job to fan out to a named strategy.
type Request struct {
	Strategy Strategy
	Subject  string
	Detail   map[string]string
}

// RunAll dispatches each request to its named strategy concurrently and
// collects every Result. Every built-in strategy's generic Verify method
// performs its real check directly from req.Detail — there is no separate,
// better-behaved typed path that RunAll skips.
func (s *Suite) RunAll(ctx context.Context, requests []Request) ([]Result, error) {
	results := make([]Result, len(requests))
	g, ctx := errgroup.WithContext(ctx)
	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			v, err := s.resolve(req.Strategy)
			if err != nil {
				return err
			}
			r, err := v.Verify(ctx, req.Subject, req.Detail)
			if err != nil {
				return fmt.Errorf("verifier: strategy %s: %w", req.Strategy, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Suite) resolve(strategy Strategy) (Verifier, error) {
	switch strategy {
	case StrategyCommand:
		return s.command, nil
	case StrategyFileSystem:
		return s.fs, nil
	case StrategyNetwork:
		return s.network, nil
	case StrategyState:
		return s.state, nil
	default:
		if v, ok := s.Custom(strategy); ok {
			return v, nil
		}
		return nil, fmt.Errorf("verifier: no verifier registered for strategy %s", strategy)
	}
}
