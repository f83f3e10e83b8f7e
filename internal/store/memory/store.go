// Package memory is an in-process Store used by tests and replays.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/litup/indexer/internal/models"
	"github.com/litup/indexer/internal/store"
)

// Store keeps entities in maps. Transactions are overlays that are merged
// into their parent on success and dropped on failure.
type Store struct {
	mu     *sync.Mutex
	parent *Store

	posts     map[string]*models.Post
	purchases map[string]*models.Purchase
	state     *models.SyncState
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		mu:        &sync.Mutex{},
		posts:     make(map[string]*models.Post),
		purchases: make(map[string]*models.Purchase),
	}
}

func (s *Store) lock() func() {
	if s.parent != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// LoadPost returns a copy of the post, or nil if absent.
func (s *Store) LoadPost(ctx context.Context, id string) (*models.Post, error) {
	unlock := s.lock()
	post, ok := s.posts[id]
	unlock()
	if ok {
		return post.Clone(), nil
	}
	if s.parent != nil {
		return s.parent.LoadPost(ctx, id)
	}
	return nil, nil
}

// SavePost upserts the post.
func (s *Store) SavePost(_ context.Context, post *models.Post) error {
	defer s.lock()()
	s.posts[post.ID] = post.Clone()
	return nil
}

// LoadPurchase returns a copy of the purchase, or nil if absent.
func (s *Store) LoadPurchase(ctx context.Context, id string) (*models.Purchase, error) {
	unlock := s.lock()
	purchase, ok := s.purchases[id]
	unlock()
	if ok {
		return purchase.Clone(), nil
	}
	if s.parent != nil {
		return s.parent.LoadPurchase(ctx, id)
	}
	return nil, nil
}

// SavePurchase upserts the purchase.
func (s *Store) SavePurchase(_ context.Context, purchase *models.Purchase) error {
	defer s.lock()()
	s.purchases[purchase.ID] = purchase.Clone()
	return nil
}

// LoadState returns the cursor, or nil before the first block.
func (s *Store) LoadState(ctx context.Context) (*models.SyncState, error) {
	unlock := s.lock()
	state := s.state
	unlock()
	if state != nil {
		c := *state
		return &c, nil
	}
	if s.parent != nil {
		return s.parent.LoadState(ctx)
	}
	return nil, nil
}

// SaveState replaces the cursor.
func (s *Store) SaveState(_ context.Context, state *models.SyncState) error {
	defer s.lock()()
	c := *state
	s.state = &c
	return nil
}

// Atomic runs fn on an overlay and merges it into s when fn succeeds.
func (s *Store) Atomic(ctx context.Context, fn func(tx store.Store) error) error {
	tx := &Store{
		mu:        s.mu,
		parent:    s,
		posts:     make(map[string]*models.Post),
		purchases: make(map[string]*models.Purchase),
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.merge(tx)
	return nil
}

func (s *Store) merge(tx *Store) {
	defer s.lock()()
	for id, post := range tx.posts {
		s.posts[id] = post
	}
	for id, purchase := range tx.purchases {
		s.purchases[id] = purchase
	}
	if tx.state != nil {
		s.state = tx.state
	}
}

// Snapshot is the full committed content of a store, sorted by id.
type Snapshot struct {
	Posts     []*models.Post
	Purchases []*models.Purchase
}

// Snapshot returns copies of every stored entity.
func (s *Store) Snapshot() Snapshot {
	defer s.lock()()

	snap := Snapshot{
		Posts:     make([]*models.Post, 0, len(s.posts)),
		Purchases: make([]*models.Purchase, 0, len(s.purchases)),
	}
	for _, post := range s.posts {
		snap.Posts = append(snap.Posts, post.Clone())
	}
	for _, purchase := range s.purchases {
		snap.Purchases = append(snap.Purchases, purchase.Clone())
	}
	sort.Slice(snap.Posts, func(i, j int) bool { return snap.Posts[i].ID < snap.Posts[j].ID })
	sort.Slice(snap.Purchases, func(i, j int) bool { return snap.Purchases[i].ID < snap.Purchases[j].ID })
	return snap
}
