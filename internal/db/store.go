package db

import (
	"context"

	"gorm.io/gorm"

	"github.com/litup/indexer/internal/models"
	"github.com/litup/indexer/internal/store"
)

// Store persists entities in postgres. A Store created inside Atomic is
// bound to that transaction.
type Store struct {
	db        *gorm.DB
	posts     *PostRepository
	purchases *PurchaseRepository
	state     *StateRepository
}

var _ store.Store = (*Store)(nil)

// NewStore creates a store on db
func NewStore(db *gorm.DB) *Store {
	repo := NewRepository(db)
	return &Store{
		db:        db,
		posts:     NewPostRepository(repo),
		purchases: NewPurchaseRepository(repo),
		state:     NewStateRepository(repo),
	}
}

// Posts returns the post repository
func (s *Store) Posts() *PostRepository { return s.posts }

// Purchases returns the purchase repository
func (s *Store) Purchases() *PurchaseRepository { return s.purchases }

// State returns the state repository
func (s *Store) State() *StateRepository { return s.state }

func (s *Store) LoadPost(ctx context.Context, id string) (*models.Post, error) {
	return s.posts.GetByID(ctx, id)
}

func (s *Store) SavePost(ctx context.Context, post *models.Post) error {
	return s.posts.Upsert(ctx, post)
}

func (s *Store) SavePurchase(ctx context.Context, purchase *models.Purchase) error {
	return s.purchases.Upsert(ctx, purchase)
}

func (s *Store) LoadState(ctx context.Context) (*models.SyncState, error) {
	return s.state.Get(ctx)
}

func (s *Store) SaveState(ctx context.Context, state *models.SyncState) error {
	return s.state.Save(ctx, state)
}

// Atomic runs fn in a transaction. Nested calls use savepoints.
func (s *Store) Atomic(ctx context.Context, fn func(tx store.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
