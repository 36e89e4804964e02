// Copyright 2025 Certen Protocol
//
// Package swarm implements the swarm coordinator (C7): an agent registry,
// a promise protocol gating dispatch, trust scoring driven by verification
// outcomes, and heartbeat-based liveness tracking.
package swarm

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// trustUpdateAlpha is the learning rate in the trust update formula:
// trust ← clamp(trust + α·(verified?+1:−1)·confidence, 0, 1).
const trustUpdateAlpha = 0.05

const defaultInitialTrust = 0.5

// AgentStatus is an agent's current liveness state.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "Online"
	AgentOffline AgentStatus = "Offline"
)

// Agent is one registered participant in the swarm.
type Agent struct {
	ID            uuid.UUID
	Name          string
	Trust         float64
	Status        AgentStatus
	LastHeartbeat time.Time
}

// Promise is an agent's commitment to execute a specific task — dispatch
// is refused without one, per the "no promise, no dispatch" rule.
type Promise struct {
	ID        uuid.UUID
	AgentID   uuid.UUID
	TaskID    uuid.UUID
	Accepted  bool
	CreatedAt time.Time
}

// Coordinator owns the agent registry and promise bookkeeping for a
// swarm. Grounded on the teacher's single-owner-store convention
// (sync.RWMutex-guarded maps, e.g. pkg/consensus/health_monitor.go).
type Coordinator struct {
	mu             sync.RWMutex
	agents         map[uuid.UUID]*Agent
	promises       map[uuid.UUID]*Promise
	heartbeatTTL   time.Duration
}

// NewCoordinator returns a Coordinator. heartbeatTTL <= 0 uses 30 seconds.
func NewCoordinator(heartbeatTTL time.Duration) *Coordinator {
	if heartbeatTTL <= 0 {
		heartbeatTTL = 30 * time.Second
	}
	return &Coordinator{
		agents:       make(map[uuid.UUID]*Agent),
		promises:     make(map[uuid.UUID]*Promise),
		heartbeatTTL: heartbeatTTL,
	}
}

// RegisterAgent adds a new agent at the default initial trust level.
func (c *Coordinator) RegisterAgent(name string) *Agent {
	a := &Agent{
		ID:            uuid.New(),
		Name:          name,
		Trust:         defaultInitialTrust,
		Status:        AgentOnline,
		LastHeartbeat: time.Now().UTC(),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents[a.ID] = a
	return a
}

// Agent returns a copy of the registered agent's current state.
func (c *Coordinator) Agent(id uuid.UUID) (Agent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.agents[id]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

// Heartbeat records liveness for agentID.
func (c *Coordinator) Heartbeat(agentID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.agents[agentID]
	if !ok {
		return fmt.Errorf("swarm: unknown agent %s", agentID)
	}
	a.LastHeartbeat = time.Now().UTC()
	a.Status = AgentOnline
	return nil
}

// SweepOffline marks every agent whose last heartbeat exceeds the
// coordinator's TTL as Offline, returning how many were newly marked.
func (c *Coordinator) SweepOffline() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().UTC().Add(-c.heartbeatTTL)
	n := 0
	for _, a := range c.agents {
		if a.Status == AgentOnline && a.LastHeartbeat.Before(cutoff) {
			a.Status = AgentOffline
			n++
		}
	}
	return n
}

// RequestPromise asks agentID to commit to taskID. accept is supplied by
// the caller (typically the result of dispatching an RPC to the agent);
// Dispatch refuses to proceed without an accepted Promise on file.
func (c *Coordinator) RequestPromise(agentID, taskID uuid.UUID, accept bool) (Promise, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.agents[agentID]; !ok {
		return Promise{}, fmt.Errorf("swarm: unknown agent %s", agentID)
	}
	p := &Promise{ID: uuid.New(), AgentID: agentID, TaskID: taskID, Accepted: accept, CreatedAt: time.Now().UTC()}
	c.promises[p.ID] = p
	return *p, nil
}

// Dispatch verifies a promise is on file and accepted for agentID/taskID
// before allowing a caller to proceed with sending work.
func (c *Coordinator) Dispatch(agentID, taskID uuid.UUID) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	declined := false
	for _, p := range c.promises {
		if p.AgentID != agentID || p.TaskID != taskID {
			continue
		}
		if !p.Accepted {
			declined = true
			continue
		}
		a, ok := c.agents[agentID]
		if !ok || a.Status != AgentOnline {
			return fmt.Errorf("swarm: agent %s is not online", agentID)
		}
		return nil
	}
	if declined {
		return fmt.Errorf("swarm: agent %s declined task %s", agentID, taskID)
	}
	return fmt.Errorf("swarm: no promise on file for agent %s, task %s", agentID, taskID)
}

// UpdateTrust applies the trust update formula for one verification
// outcome: trust <- clamp(trust + alpha*(verified?+1:-1)*confidence, 0, 1).
func (c *Coordinator) UpdateTrust(agentID uuid.UUID, verified bool, confidence float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.agents[agentID]
	if !ok {
		return fmt.Errorf("swarm: unknown agent %s", agentID)
	}
	sign := -1.0
	if verified {
		sign = 1.0
	}
	a.Trust = clamp(a.Trust+trustUpdateAlpha*sign*confidence, 0, 1)
	return nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// SelectForConsensus returns up to k online agents ranked by trust,
// highest first, for a consensus dispatch round.
func (c *Coordinator) SelectForConsensus(k int) []Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var online []Agent
	for _, a := range c.agents {
		if a.Status == AgentOnline {
			online = append(online, *a)
		}
	}
	sortByTrustDesc(online)
	if k > 0 && k < len(online) {
		online = online[:k]
	}
	return online
}

func sortByTrustDesc(agents []Agent) {
	for i := 1; i < len(agents); i++ {
		for j := i; j > 0 && agents[j].Trust > agents[j-1].Trust; j-- {
			agents[j], agents[j-1] = agents[j-1], agents[j]
		}
	}
}

// RequiredAgreement returns the number of agreeing responses a consensus
// dispatch to k agents needs: ceil(2k/3).
func RequiredAgreement(k int) int {
	return int(math.Ceil(float64(2*k) / 3.0))
}
