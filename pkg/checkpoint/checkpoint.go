// Package checkpoint implements the checkpoint manager (C2): capturing
// point-in-time StateSnapshots during execution and rolling an intent's
// observable state back to one of them on failure.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileState records what is known about a file at checkpoint time.
type FileState struct {
	Path     string    `json:"path"`
	Hash     string    `json:"hash"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Existed  bool      `json:"existed"`
}

// ProcessState records an observed process at checkpoint time.
type ProcessState struct {
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ConnectionState records an observed network connection at checkpoint time.
type ConnectionState struct {
	LocalAddr  string `json:"local_addr"`
	RemoteAddr string `json:"remote_addr"`
	Protocol   string `json:"protocol"`
	State      string `json:"state"`
}

// StateSnapshot is the full captured state at a point in execution.
type StateSnapshot struct {
	Variables   map[string]string          `json:"variables"`
	Files       map[string]FileState       `json:"files"`
	Processes   map[int]ProcessState       `json:"processes"`
	Connections []ConnectionState          `json:"connections"`
	Custom      map[string]json.RawMessage `json:"custom,omitempty"`
}

// NewStateSnapshot returns an empty, initialized snapshot.
func NewStateSnapshot() StateSnapshot {
	return StateSnapshot{
		Variables: make(map[string]string),
		Files:     make(map[string]FileState),
		Processes: make(map[int]ProcessState),
	}
}

// diffCount returns the number of differing entries between two snapshots across
// variables, files, processes, and connections — the |Δ| term used by
// Similarity.
func (a StateSnapshot) diffCount(b StateSnapshot) int {
	delta := 0
	delta += diffMapCount(a.Variables, b.Variables)
	delta += diffFileMapCount(a.Files, b.Files)
	delta += diffProcessMapCount(a.Processes, b.Processes)
	delta += diffConnectionsCount(a.Connections, b.Connections)
	return delta
}

func (a StateSnapshot) size() int {
	return len(a.Variables) + len(a.Files) + len(a.Processes) + len(a.Connections)
}

func diffMapCount(a, b map[string]string) int {
	n := 0
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			n++
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			n++
		}
	}
	return n
}

func diffFileMapCount(a, b map[string]FileState) int {
	n := 0
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv.Hash != v.Hash || bv.Existed != v.Existed {
			n++
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			n++
		}
	}
	return n
}

func diffProcessMapCount(a, b map[int]ProcessState) int {
	n := 0
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv.Status != v.Status {
			n++
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			n++
		}
	}
	return n
}

func diffConnectionsCount(a, b []ConnectionState) int {
	seen := make(map[ConnectionState]bool, len(b))
	for _, c := range b {
		seen[c] = true
	}
	n := 0
	for _, c := range a {
		if !seen[c] {
			n++
		}
	}
	aset := make(map[ConnectionState]bool, len(a))
	for _, c := range a {
		aset[c] = true
	}
	for _, c := range b {
		if !aset[c] {
			n++
		}
	}
	return n
}

// Similarity computes 1 − |Δ|/max(|A|,|B|) between two snapshots, the
// measure the verifier's StateVerifier reports as its confidence. Two empty snapshots are identical (similarity 1).
func Similarity(a, b StateSnapshot) float64 {
	maxSize := a.size()
	if b.size() > maxSize {
		maxSize = b.size()
	}
	if maxSize == 0 {
		return 1.0
	}
	return 1.0 - float64(a.diffCount(b))/float64(maxSize)
}

// Metadata carries provenance and bookkeeping about a checkpoint.
type Metadata struct {
	Creator          string            `json:"creator"`
	Reason           string            `json:"reason"`
	Tags             map[string]string `json:"tags,omitempty"`
	ParentCheckpoint *uuid.UUID        `json:"parent_checkpoint,omitempty"`
	SizeBytes        int               `json:"size_bytes"`
}

// Checkpoint is a single captured rollback point.
type Checkpoint struct {
	ID           uuid.UUID     `json:"id"`
	IntentID     uuid.UUID     `json:"intent_id"`
	StepID       *uuid.UUID    `json:"step_id,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
	State        StateSnapshot `json:"state"`
	Metadata     Metadata      `json:"metadata"`
	SafeRollback bool          `json:"safe_rollback"`
}

// RollbackHandler performs the side-effecting half of a rollback: restoring
// whatever external resource a checkpoint's StateSnapshot describes.
type RollbackHandler interface {
	Rollback(cp Checkpoint) error
	CanRollback(cp Checkpoint) bool
	Cleanup(cp Checkpoint) error
}

const defaultMaxCheckpoints = 50

// Manager owns the checkpoint history for a set of intents and the current
// live StateSnapshot each one is tracking against.
type Manager struct {
	mu              sync.RWMutex
	checkpoints     map[uuid.UUID]Checkpoint
	history         []uuid.UUID
	maxCheckpoints  int
	currentState    StateSnapshot
	rollbackHandler RollbackHandler
}

// NewManager creates a Manager. maxCheckpoints <= 0 uses the default of 50,
// matching the teacher's original retention window.
func NewManager(maxCheckpoints int, handler RollbackHandler) *Manager {
	if maxCheckpoints <= 0 {
		maxCheckpoints = defaultMaxCheckpoints
	}
	return &Manager{
		checkpoints:     make(map[uuid.UUID]Checkpoint),
		maxCheckpoints:  maxCheckpoints,
		currentState:    NewStateSnapshot(),
		rollbackHandler: handler,
	}
}

// CreateCheckpoint snapshots currentState into a new Checkpoint linked to
// the previous one in history, evicting the oldest entry once
// maxCheckpoints is exceeded.
func (m *Manager) CreateCheckpoint(intentID uuid.UUID, stepID *uuid.UUID, meta Metadata) (Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) > 0 {
		parent := m.history[len(m.history)-1]
		meta.ParentCheckpoint = &parent
	}

	stateCopy := cloneSnapshot(m.currentState)
	raw, err := json.Marshal(stateCopy)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: marshal state for size accounting: %w", err)
	}
	meta.SizeBytes = len(raw)

	cp := Checkpoint{
		ID:           uuid.New(),
		IntentID:     intentID,
		StepID:       stepID,
		Timestamp:    time.Now().UTC(),
		State:        stateCopy,
		Metadata:     meta,
		SafeRollback: true,
	}

	m.checkpoints[cp.ID] = cp
	m.history = append(m.history, cp.ID)
	if len(m.history) > m.maxCheckpoints {
		evicted := m.history[0]
		m.history = m.history[1:]
		delete(m.checkpoints, evicted)
	}
	return cp, nil
}

// Get returns the checkpoint with the given id.
func (m *Manager) Get(id uuid.UUID) (Checkpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[id]
	return cp, ok
}

// Last returns the most recently created checkpoint still retained.
func (m *Manager) Last() (Checkpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.history) == 0 {
		return Checkpoint{}, false
	}
	return m.checkpoints[m.history[len(m.history)-1]], true
}

// History returns checkpoint IDs oldest-first.
func (m *Manager) History() []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uuid.UUID, len(m.history))
	copy(out, m.history)
	return out
}

// RollbackTo restores currentState to the checkpoint identified by id,
// invoking the RollbackHandler (if set) to restore external resources, and
// drops every checkpoint created after it from history.
func (m *Manager) RollbackTo(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, ok := m.checkpoints[id]
	if !ok {
		return fmt.Errorf("checkpoint: %s not found", id)
	}
	if !cp.SafeRollback {
		return fmt.Errorf("checkpoint: %s is not marked safe for rollback", id)
	}

	if m.rollbackHandler != nil {
		if !m.rollbackHandler.CanRollback(cp) {
			return fmt.Errorf("checkpoint: rollback handler refuses checkpoint %s", id)
		}
		if err := m.rollbackHandler.Rollback(cp); err != nil {
			return fmt.Errorf("checkpoint: rollback handler failed for %s: %w", id, err)
		}
	}

	m.currentState = cloneSnapshot(cp.State)

	idx := -1
	for i, h := range m.history {
		if h == id {
			idx = i
			break
		}
	}
	if idx >= 0 {
		for _, h := range m.history[idx+1:] {
			delete(m.checkpoints, h)
		}
		m.history = m.history[:idx+1]
	}
	return nil
}

// RollbackToLast rolls back to the most recently created checkpoint.
func (m *Manager) RollbackToLast() error {
	last, ok := m.Last()
	if !ok {
		return fmt.Errorf("checkpoint: no checkpoints to roll back to")
	}
	return m.RollbackTo(last.ID)
}

// UpdateState applies updater to the current live state in place, under
// the manager's lock.
func (m *Manager) UpdateState(updater func(*StateSnapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	updater(&m.currentState)
}

// CurrentState returns a copy of the live state being tracked.
func (m *Manager) CurrentState() StateSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneSnapshot(m.currentState)
}

// Clear drops all checkpoints and history, resetting live state to empty.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints = make(map[uuid.UUID]Checkpoint)
	m.history = nil
	m.currentState = NewStateSnapshot()
}

// Export serializes every retained checkpoint plus history ordering to JSON.
func (m *Manager) Export() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc := struct {
		Checkpoints []Checkpoint `json:"checkpoints"`
		History     []uuid.UUID `json:"history"`
	}{History: append([]uuid.UUID(nil), m.history...)}
	for _, id := range m.history {
		doc.Checkpoints = append(doc.Checkpoints, m.checkpoints[id])
	}
	return json.Marshal(doc)
}

// Import replaces the manager's checkpoints and history with a previously
// Exported document.
func (m *Manager) Import(data []byte) error {
	var doc struct {
		Checkpoints []Checkpoint `json:"checkpoints"`
		History     []uuid.UUID `json:"history"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("checkpoint: import: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints = make(map[uuid.UUID]Checkpoint, len(doc.Checkpoints))
	for _, cp := range doc.Checkpoints {
		m.checkpoints[cp.ID] = cp
	}
	m.history = doc.History
	return nil
}

// ValidateCheckpoint checks that a checkpoint's declared parent (if any) is
// itself retained, catching history corruption from a bad Import.
func (m *Manager) ValidateCheckpoint(id uuid.UUID) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[id]
	if !ok {
		return fmt.Errorf("checkpoint: %s not found", id)
	}
	if cp.Metadata.ParentCheckpoint != nil {
		if _, ok := m.checkpoints[*cp.Metadata.ParentCheckpoint]; !ok {
			return fmt.Errorf("checkpoint: %s references missing parent %s", id, *cp.Metadata.ParentCheckpoint)
		}
	}
	return nil
}

func cloneSnapshot(s StateSnapshot) StateSnapshot {
	out := NewStateSnapshot()
	for k, v := range s.Variables {
		out.Variables[k] = v
	}
	for k, v := range s.Files {
		out.Files[k] = v
	}
	for k, v := range s.Processes {
		out.Processes[k] = v
	}
	out.Connections = append([]ConnectionState(nil), s.Connections...)
	if s.Custom != nil {
		out.Custom = make(map[string]json.RawMessage, len(s.Custom))
		for k, v := range s.Custom {
			out.Custom[k] = v
		}
	}
	return out
}
