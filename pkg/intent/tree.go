package intent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Relation is the type of edge connecting two intents in a Tree.
type Relation string

const (
	RelationParent     Relation = "Parent"
	RelationDependsOn  Relation = "DependsOn"
	RelationConflicts  Relation = "Conflicts"
	RelationComplements Relation = "Complements"
)

// node is the arena entry for one intent, carrying tree-local bookkeeping
// alongside the owned Intent. A Go substitute for petgraph::DiGraph's node
// weight: the Tree stores node values by index (the arena) and edges
// separately (the edge table), rather than relying on a graph library.
type node struct {
	intent         *Intent
	depth          int
	executionOrder int
}

// edge is one directed relation between two node indices in a Tree's arena.
type edge struct {
	from, to int
	relation Relation
}

// Tree is a single hierarchy of related intents, arena-indexed for O(1)
// node lookup and a flat edge table for relation queries.
type Tree struct {
	mu      sync.RWMutex
	nodes   []node
	index   map[uuid.UUID]int
	edges   []edge
	roots   map[int]bool
}

// NewTree returns an empty Tree.
func NewTree() *Tree {
	return &Tree{
		index: make(map[uuid.UUID]int),
		roots: make(map[int]bool),
	}
}

// AddIntent inserts in as a new arena node and returns its tree-local index.
// A freshly added intent starts out as a root until a Parent edge attaches
// it beneath another.
func (t *Tree) AddIntent(in *Intent) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := len(t.nodes)
	t.nodes = append(t.nodes, node{intent: in, depth: 0})
	t.index[in.ID] = idx
	t.roots[idx] = true
	return idx
}

func (t *Tree) indexOf(id uuid.UUID) (int, bool) {
	idx, ok := t.index[id]
	return idx, ok
}

// AddRelation records a typed edge from -> to. A Parent edge reparents `to`
// beneath `from`: `to` is removed from the root set and its depth becomes
// from's depth + 1.
func (t *Tree) AddRelation(from, to uuid.UUID, rel Relation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	fi, ok := t.indexOf(from)
	if !ok {
		return fmt.Errorf("intent: unknown intent %s", from)
	}
	ti, ok := t.indexOf(to)
	if !ok {
		return fmt.Errorf("intent: unknown intent %s", to)
	}
	t.edges = append(t.edges, edge{from: fi, to: ti, relation: rel})
	if rel == RelationParent {
		delete(t.roots, ti)
		t.nodes[ti].depth = t.nodes[fi].depth + 1
	}
	return nil
}

// GetChildren returns the intents directly beneath id via a Parent edge.
func (t *Tree) GetChildren(id uuid.UUID) []*Intent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.indexOf(id)
	if !ok {
		return nil
	}
	var out []*Intent
	for _, e := range t.edges {
		if e.relation == RelationParent && e.from == idx {
			out = append(out, t.nodes[e.to].intent)
		}
	}
	return out
}

// GetParent returns the intent that id is a Parent-child of, if any.
func (t *Tree) GetParent(id uuid.UUID) (*Intent, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.indexOf(id)
	if !ok {
		return nil, false
	}
	for _, e := range t.edges {
		if e.relation == RelationParent && e.to == idx {
			return t.nodes[e.from].intent, true
		}
	}
	return nil, false
}

// GetDependencies returns the intents id depends on (DependsOn, id -> dep).
func (t *Tree) GetDependencies(id uuid.UUID) []*Intent {
	return t.related(id, RelationDependsOn, true)
}

// GetDependents returns the intents that depend on id.
func (t *Tree) GetDependents(id uuid.UUID) []*Intent {
	return t.related(id, RelationDependsOn, false)
}

// FindConflicts returns the intents id conflicts with.
func (t *Tree) FindConflicts(id uuid.UUID) []*Intent {
	out := t.related(id, RelationConflicts, true)
	return append(out, t.related(id, RelationConflicts, false)...)
}

func (t *Tree) related(id uuid.UUID, rel Relation, asSource bool) []*Intent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.indexOf(id)
	if !ok {
		return nil
	}
	var out []*Intent
	for _, e := range t.edges {
		if e.relation != rel {
			continue
		}
		if asSource && e.from == idx {
			out = append(out, t.nodes[e.to].intent)
		}
		if !asSource && e.to == idx {
			out = append(out, t.nodes[e.from].intent)
		}
	}
	return out
}

// GetRoots returns the intents with no Parent edge pointing to them.
func (t *Tree) GetRoots() []*Intent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Intent, 0, len(t.roots))
	for idx := range t.roots {
		out = append(out, t.nodes[idx].intent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// GetLeaves returns intents with no outgoing Parent edge (no children).
func (t *Tree) GetLeaves() []*Intent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	hasChildren := make(map[int]bool)
	for _, e := range t.edges {
		if e.relation == RelationParent {
			hasChildren[e.from] = true
		}
	}
	var out []*Intent
	for i, n := range t.nodes {
		if !hasChildren[i] {
			out = append(out, n.intent)
		}
	}
	return out
}

// BFSTraverse visits intents breadth-first from id following Parent edges
// downward, calling visit for each.
func (t *Tree) BFSTraverse(id uuid.UUID, visit func(*Intent)) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	start, ok := t.indexOf(id)
	if !ok {
		return fmt.Errorf("intent: unknown intent %s", id)
	}
	queue := []int{start}
	seen := map[int]bool{start: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		visit(t.nodes[cur].intent)
		for _, e := range t.edges {
			if e.relation == RelationParent && e.from == cur && !seen[e.to] {
				seen[e.to] = true
				queue = append(queue, e.to)
			}
		}
	}
	return nil
}

// DFSTraverse visits intents depth-first from id following Parent edges
// downward, calling visit for each.
func (t *Tree) DFSTraverse(id uuid.UUID, visit func(*Intent)) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	start, ok := t.indexOf(id)
	if !ok {
		return fmt.Errorf("intent: unknown intent %s", id)
	}
	seen := map[int]bool{}
	var walk func(idx int)
	walk = func(idx int) {
		if seen[idx] {
			return
		}
		seen[idx] = true
		visit(t.nodes[idx].intent)
		for _, e := range t.edges {
			if e.relation == RelationParent && e.from == idx {
				walk(e.to)
			}
		}
	}
	walk(start)
	return nil
}

// DetermineExecutionOrder topologically sorts intents by DependsOn edges
// only (Conflicts/Parent/Complements do not constrain ordering), ties
// broken by declaration order for determinism, and stamps each node's
// executionOrder. It is an error if the DependsOn subgraph is cyclic.
func (t *Tree) DetermineExecutionOrder() ([]*Intent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.nodes)
	indegree := make([]int, n)
	adj := make([][]int, n)
	for _, e := range t.edges {
		if e.relation != RelationDependsOn {
			continue
		}
		// id depends on dep: dep must run before id, so the edge in the
		// ordering DAG runs dep -> id.
		adj[e.to] = append(adj[e.to], e.from)
		indegree[e.from]++
	}

	var ready []int
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	sort.Ints(ready)

	var order []*Intent
	visited := 0
	for len(ready) > 0 {
		sort.Ints(ready)
		cur := ready[0]
		ready = ready[1:]
		t.nodes[cur].executionOrder = visited
		order = append(order, t.nodes[cur].intent)
		visited++
		for _, next := range adj[cur] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if visited != n {
		return nil, fmt.Errorf("intent: circular dependencies detected")
	}
	return order, nil
}

// Validate reports a cyclic-dependency error if one exists. Conflicts
// edges are intentionally ignored here — resolving them is a planning-time
// concern handled separately (see ValidateConflicts), not part of the
// acyclicity check.
func (t *Tree) Validate() error {
	_, err := t.DetermineExecutionOrder()
	return err
}

// ValidateConflicts rejects a tree containing any unresolved Conflicts
// edge. Conflicts are not an ordering constraint: a plan containing one is
// simply invalid and must be fixed before execution, not reordered around.
func (t *Tree) ValidateConflicts() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.edges {
		if e.relation == RelationConflicts {
			a := t.nodes[e.from].intent
			b := t.nodes[e.to].intent
			return fmt.Errorf("intent: %s conflicts with %s", a.ID, b.ID)
		}
	}
	return nil
}

// Forest is a collection of independent Trees, tracking which tree owns
// which intent.
type Forest struct {
	mu           sync.RWMutex
	trees        []*Tree
	intentToTree map[uuid.UUID]int
}

// NewForest returns an empty Forest.
func NewForest() *Forest {
	return &Forest{intentToTree: make(map[uuid.UUID]int)}
}

// CreateTree adds a new empty Tree to the forest and returns its index.
func (f *Forest) CreateTree() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trees = append(f.trees, NewTree())
	return len(f.trees) - 1
}

// Tree returns the tree at treeIdx.
func (f *Forest) Tree(treeIdx int) (*Tree, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if treeIdx < 0 || treeIdx >= len(f.trees) {
		return nil, false
	}
	return f.trees[treeIdx], true
}

// AddIntent adds in to the tree at treeIdx and records ownership.
func (f *Forest) AddIntent(treeIdx int, in *Intent) error {
	tree, ok := f.Tree(treeIdx)
	if !ok {
		return fmt.Errorf("intent: unknown tree index %d", treeIdx)
	}
	tree.AddIntent(in)
	f.mu.Lock()
	f.intentToTree[in.ID] = treeIdx
	f.mu.Unlock()
	return nil
}

// TreeFor returns the tree owning id.
func (f *Forest) TreeFor(id uuid.UUID) (*Tree, bool) {
	f.mu.RLock()
	idx, ok := f.intentToTree[id]
	f.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return f.Tree(idx)
}

// TotalIntents returns the number of intents across every tree.
func (f *Forest) TotalIntents() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.intentToTree)
}

// AllRoots returns the root intents of every tree in the forest.
func (f *Forest) AllRoots() []*Intent {
	f.mu.RLock()
	trees := append([]*Tree(nil), f.trees...)
	f.mu.RUnlock()
	var out []*Intent
	for _, tr := range trees {
		out = append(out, tr.GetRoots()...)
	}
	return out
}

// FindConflictingTrees returns the indices of trees that contain at least
// one intent participating in a Conflicts edge.
func (f *Forest) FindConflictingTrees() []int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []int
	for i, tr := range f.trees {
		if tr.ValidateConflicts() != nil {
			out = append(out, i)
		}
	}
	return out
}
