package repository

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/okian/rhythmboard/internal/domain/model"
	"github.com/okian/rhythmboard/internal/domain/ranking"
)

// Treap-based, in-memory Store implementation.
//
// Each partition owns a treap ordered by ranking.Compare, so in-order
// traversal yields the leaderboard from best to worst and subtree sizes give
// ranks in O(log n). Priorities are random; the BST order alone carries the
// ranking.

type node struct {
	rec   model.ScoreRecord
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

func insert(n *node, rec model.ScoreRecord, prio uint64) *node {
	if n == nil {
		return &node{rec: rec, prio: prio, size: 1}
	}
	if ranking.Less(rec, n.rec) {
		n.left = insert(n.left, rec, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, rec, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, rec model.ScoreRecord) *node {
	if n == nil {
		return nil
	}
	c := ranking.Compare(rec, n.rec)
	switch {
	case c == 0:
		// Merge children by rotating highest priority up until leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, rec)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, rec)
		}
	case c < 0:
		n.left = deleteNode(n.left, rec)
	default:
		n.right = deleteNode(n.right, rec)
	}
	fix(n)
	return n
}

// splitAt cuts the treap into its first k nodes in order and the rest.
func splitAt(n *node, k int) (*node, *node) {
	if n == nil {
		return nil, nil
	}
	if nsize(n.left) >= k {
		l, r := splitAt(n.left, k)
		n.left = r
		fix(n)
		return l, n
	}
	l, r := splitAt(n.right, k-nsize(n.left)-1)
	n.right = l
	fix(n)
	return n, r
}

// preceding counts the nodes that rank strictly ahead of rec.
func preceding(n *node, rec model.ScoreRecord) int {
	count := 0
	for n != nil {
		if ranking.Less(n.rec, rec) {
			count += nsize(n.left) + 1
			n = n.right
		} else {
			n = n.left
		}
	}
	return count
}

// collectTopN appends up to limit records in rank order.
func collectTopN(n *node, limit int, out *[]model.ScoreRecord) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, n.rec)
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

// collectAll appends every record of n in rank order.
func collectAll(n *node, out *[]model.ScoreRecord) {
	if n == nil {
		return
	}
	collectAll(n.left, out)
	*out = append(*out, n.rec)
	collectAll(n.right, out)
}

// partitionTree holds one partition. Its mutex serializes writers of the
// partition; other partitions are unaffected.
type partitionTree struct {
	mu     sync.RWMutex
	root   *node
	byName map[string]model.ScoreRecord
}

func (t *partitionTree) replace(rec model.ScoreRecord, prio uint64) {
	if old, ok := t.byName[rec.PlayerName]; ok {
		t.root = deleteNode(t.root, old)
	}
	t.byName[rec.PlayerName] = rec
	t.root = insert(t.root, rec, prio)
}

// TreapStore is the in-memory Store backend.
type TreapStore struct {
	mu     sync.RWMutex
	parts  map[model.Partition]*partitionTree
	prio   func() uint64
	closed atomic.Bool
}

// NewTreapStore constructs a treap store with configuration options.
func NewTreapStore(opts ...Option) *TreapStore {
	s := &TreapStore{
		parts: make(map[model.Partition]*partitionTree),
		prio:  rand.Uint64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TreapStore) check(ctx context.Context, op string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return CtxErr(ctx, op)
}

// partition returns the tree for p. With create unset a missing partition
// yields nil.
func (s *TreapStore) partition(p model.Partition, create bool) *partitionTree {
	s.mu.RLock()
	t := s.parts[p]
	s.mu.RUnlock()
	if t != nil || !create {
		return t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t = s.parts[p]; t == nil {
		t = &partitionTree{byName: make(map[string]model.ScoreRecord)}
		s.parts[p] = t
	}
	return t
}

// Get implements Store.
func (s *TreapStore) Get(ctx context.Context, key model.Key) (model.ScoreRecord, error) {
	if err := s.check(ctx, "get"); err != nil {
		return model.ScoreRecord{}, err
	}
	t := s.partition(key.Partition, false)
	if t == nil {
		return model.ScoreRecord{}, ErrNotFound
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.byName[key.PlayerName]
	if !ok {
		return model.ScoreRecord{}, ErrNotFound
	}
	return rec, nil
}

// Put implements Store.
func (s *TreapStore) Put(ctx context.Context, rec model.ScoreRecord) error {
	if err := s.check(ctx, "put"); err != nil {
		return err
	}
	t := s.partition(rec.Partition(), true)
	t.mu.Lock()
	t.replace(rec, s.prio())
	t.mu.Unlock()
	return nil
}

// UpsertBest implements Store with O(log n) expected time.
func (s *TreapStore) UpsertBest(ctx context.Context, rec model.ScoreRecord) (bool, error) {
	if err := s.check(ctx, "upsert_best"); err != nil {
		return false, err
	}
	t := s.partition(rec.Partition(), true)
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.byName[rec.PlayerName]; ok && !ranking.StrictlyImproves(rec, old) {
		return false, nil
	}
	t.replace(rec, s.prio())
	return true, nil
}

// ScanTop implements Store.
func (s *TreapStore) ScanTop(ctx context.Context, p model.Partition, limit int) ([]model.ScoreRecord, error) {
	if err := s.check(ctx, "scan_top"); err != nil {
		return nil, err
	}
	out := []model.ScoreRecord{}
	t := s.partition(p, false)
	if t == nil || limit <= 0 {
		return out, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out = make([]model.ScoreRecord, 0, min(limit, nsize(t.root)))
	collectTopN(t.root, limit, &out)
	return out, nil
}

// CountPartition implements Store.
func (s *TreapStore) CountPartition(ctx context.Context, p model.Partition) (int, error) {
	if err := s.check(ctx, "count"); err != nil {
		return 0, err
	}
	t := s.partition(p, false)
	if t == nil {
		return 0, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return nsize(t.root), nil
}

// Prune implements Store. The tail past keep is detached in one split.
func (s *TreapStore) Prune(ctx context.Context, p model.Partition, keep int) (int, error) {
	if err := s.check(ctx, "prune"); err != nil {
		return 0, err
	}
	if keep < 0 {
		return 0, ErrInvalidLimit
	}
	t := s.partition(p, false)
	if t == nil {
		return 0, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if nsize(t.root) <= keep {
		return 0, nil
	}
	kept, tail := splitAt(t.root, keep)
	t.root = kept
	dropped := make([]model.ScoreRecord, 0, nsize(tail))
	collectAll(tail, &dropped)
	for _, rec := range dropped {
		delete(t.byName, rec.PlayerName)
	}
	return len(dropped), nil
}

// RankOf implements Store in O(log n).
func (s *TreapStore) RankOf(ctx context.Context, key model.Key) (int, int, error) {
	if err := s.check(ctx, "rank_of"); err != nil {
		return 0, 0, err
	}
	t := s.partition(key.Partition, false)
	if t == nil {
		return 0, 0, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := nsize(t.root)
	rec, ok := t.byName[key.PlayerName]
	if !ok {
		return 0, total, nil
	}
	return preceding(t.root, rec) + 1, total, nil
}

// Partitions implements Store.
func (s *TreapStore) Partitions(ctx context.Context) ([]model.Partition, error) {
	if err := s.check(ctx, "partitions"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	trees := make(map[model.Partition]*partitionTree, len(s.parts))
	for p, t := range s.parts {
		trees[p] = t
	}
	s.mu.RUnlock()

	out := make([]model.Partition, 0, len(trees))
	for p, t := range trees {
		t.mu.RLock()
		n := nsize(t.root)
		t.mu.RUnlock()
		if n > 0 {
			out = append(out, p)
		}
	}
	return out, nil
}

// Ping implements Store.
func (s *TreapStore) Ping(ctx context.Context) error {
	return s.check(ctx, "ping")
}

// Close implements Store. Data is discarded.
func (s *TreapStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	s.parts = make(map[model.Partition]*partitionTree)
	s.mu.Unlock()
	return nil
}
