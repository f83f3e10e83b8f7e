// Package store declares the entity store the projector writes to.
package store

import (
	"context"

	"github.com/litup/indexer/internal/models"
)

// Store loads and upserts read-model entities by id.
//
// LoadPost and LoadState return (nil, nil) when nothing is stored. Returned
// entities are copies; changes are only visible after a Save.
type Store interface {
	LoadPost(ctx context.Context, id string) (*models.Post, error)
	SavePost(ctx context.Context, post *models.Post) error
	SavePurchase(ctx context.Context, purchase *models.Purchase) error

	LoadState(ctx context.Context) (*models.SyncState, error)
	SaveState(ctx context.Context, state *models.SyncState) error

	// Atomic runs fn against a transactional view of the store. Writes made
	// through tx become visible only if fn returns nil. Calls may nest.
	Atomic(ctx context.Context, fn func(tx Store) error) error
}
