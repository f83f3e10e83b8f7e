package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/litup/indexer/internal/events"
	"github.com/litup/indexer/internal/metrics"
	"github.com/litup/indexer/internal/models"
	"github.com/litup/indexer/internal/store"
)

// ErrUnknownEvent is returned for event types the projector has no handler for.
var ErrUnknownEvent = errors.New("unknown event type")

// Change identifies one entity written by a handler.
type Change struct {
	Entity string
	ID     string
}

// Outcome describes the effect of one event.
type Outcome struct {
	Kind    events.Kind
	Meta    events.Meta
	Skipped bool
	Changes []Change
}

// Projector maps contract events onto Post and Purchase entities.
// It keeps no state of its own; every handler reads and writes the store it
// is given.
type Projector struct {
	logger *zap.Logger
}

// NewProjector creates a projector
func NewProjector(logger *zap.Logger) *Projector {
	return &Projector{logger: logger}
}

// Apply dispatches ev to its handler.
func (p *Projector) Apply(ctx context.Context, st store.Store, ev events.Event) (Outcome, error) {
	var (
		out Outcome
		err error
	)
	switch e := ev.(type) {
	case *events.PostCreated:
		out, err = p.HandlePostCreated(ctx, st, e)
	case *events.Purchased:
		out, err = p.HandlePurchased(ctx, st, e)
	case *events.PriceUpdated:
		out, err = p.HandlePriceUpdated(ctx, st, e)
	case *events.PostHidden:
		out, err = p.HandlePostHidden(ctx, st, e)
	default:
		return Outcome{}, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
	if err != nil {
		return Outcome{}, err
	}

	result := "applied"
	if out.Skipped {
		result = "skipped"
	}
	metrics.EventsTotal.WithLabelValues(string(out.Kind), result).Inc()
	return out, nil
}

// HandlePostCreated stores a new post. A repeated PostCreated for the same
// id overwrites the earlier entity.
func (p *Projector) HandlePostCreated(ctx context.Context, st store.Store, ev *events.PostCreated) (Outcome, error) {
	id, err := events.PostID(ev.PostID)
	if err != nil {
		return Outcome{}, err
	}
	price, err := toDecimal("price", ev.Price)
	if err != nil {
		return Outcome{}, err
	}
	maxSupply, err := toDecimal("maxSupply", ev.MaxSupply)
	if err != nil {
		return Outcome{}, err
	}

	post := &models.Post{
		ID:           id,
		Creator:      hexAddress(ev.Creator.Hex()),
		Price:        price,
		PreviewURI:   ev.PreviewURI,
		EncryptedURI: ev.EncryptedURI,
		MaxSupply:    maxSupply,
		Minted:       decimal.Zero,
		Hidden:       false,
		CreatedAt:    ev.BlockTimestamp,
	}
	if err := st.SavePost(ctx, post); err != nil {
		return Outcome{}, fmt.Errorf("save post %s: %w", id, err)
	}

	return p.applied(ev, Change{models.EntityPost, id}), nil
}

// HandlePurchased bumps the post's minted counter and records the purchase.
// Both writes commit together or not at all.
func (p *Projector) HandlePurchased(ctx context.Context, st store.Store, ev *events.Purchased) (Outcome, error) {
	id, err := events.PostID(ev.PostID)
	if err != nil {
		return Outcome{}, err
	}
	amount, err := toDecimal("amount", ev.Amount)
	if err != nil {
		return Outcome{}, err
	}
	totalPaid, err := toDecimal("totalPaid", ev.TotalPaid)
	if err != nil {
		return Outcome{}, err
	}
	pricePerUnit, err := toDecimal("pricePerUnit", ev.PricePerUnit)
	if err != nil {
		return Outcome{}, err
	}

	var out Outcome
	err = st.Atomic(ctx, func(tx store.Store) error {
		post, err := tx.LoadPost(ctx, id)
		if err != nil {
			return fmt.Errorf("load post %s: %w", id, err)
		}
		if post == nil {
			out = p.skipped(ev, id)
			return nil
		}

		post.Minted = post.Minted.Add(amount)
		if err := tx.SavePost(ctx, post); err != nil {
			return fmt.Errorf("save post %s: %w", id, err)
		}

		purchase := &models.Purchase{
			ID:           events.PurchaseID(ev.TxHash, ev.LogIndex),
			PostID:       id,
			Buyer:        hexAddress(ev.Buyer.Hex()),
			Amount:       amount,
			TotalPaid:    totalPaid,
			PricePerUnit: pricePerUnit,
			TxHash:       ev.TxHash,
			Timestamp:    ev.BlockTimestamp,
		}
		if err := tx.SavePurchase(ctx, purchase); err != nil {
			return fmt.Errorf("save purchase %s: %w", purchase.ID, err)
		}

		out = p.applied(ev, Change{models.EntityPost, id}, Change{models.EntityPurchase, purchase.ID})
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// HandlePriceUpdated sets the post's current price.
func (p *Projector) HandlePriceUpdated(ctx context.Context, st store.Store, ev *events.PriceUpdated) (Outcome, error) {
	price, err := toDecimal("price", ev.Price)
	if err != nil {
		return Outcome{}, err
	}
	return p.updatePost(ctx, st, ev, ev.PostID, func(post *models.Post) {
		post.Price = price
	})
}

// HandlePostHidden sets the post's visibility flag.
func (p *Projector) HandlePostHidden(ctx context.Context, st store.Store, ev *events.PostHidden) (Outcome, error) {
	return p.updatePost(ctx, st, ev, ev.PostID, func(post *models.Post) {
		post.Hidden = ev.Hidden
	})
}

func (p *Projector) updatePost(ctx context.Context, st store.Store, ev events.Event, postID *big.Int, mutate func(*models.Post)) (Outcome, error) {
	id, err := events.PostID(postID)
	if err != nil {
		return Outcome{}, err
	}

	post, err := st.LoadPost(ctx, id)
	if err != nil {
		return Outcome{}, fmt.Errorf("load post %s: %w", id, err)
	}
	if post == nil {
		return p.skipped(ev, id), nil
	}

	mutate(post)
	if err := st.SavePost(ctx, post); err != nil {
		return Outcome{}, fmt.Errorf("save post %s: %w", id, err)
	}
	return p.applied(ev, Change{models.EntityPost, id}), nil
}

func (p *Projector) applied(ev events.Event, changes ...Change) Outcome {
	return Outcome{Kind: ev.Kind(), Meta: ev.Metadata(), Changes: changes}
}

// skipped logs a reference to a post that was never created. This is
// expected during partial syncs and is not an error.
func (p *Projector) skipped(ev events.Event, postID string) Outcome {
	meta := ev.Metadata()
	p.logger.Debug("Post not found, event ignored",
		zap.String("event", string(ev.Kind())),
		zap.String("post_id", postID),
		zap.Uint64("block", meta.BlockNumber),
		zap.String("tx_hash", meta.TxHash),
		zap.Uint("log_index", meta.LogIndex))
	return Outcome{Kind: ev.Kind(), Meta: meta, Skipped: true}
}

func toDecimal(field string, v *big.Int) (decimal.Decimal, error) {
	if v == nil || v.Sign() < 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: %s = %v", events.ErrMalformed, field, v)
	}
	return decimal.NewFromBigInt(v, 0), nil
}

func hexAddress(s string) string {
	return strings.ToLower(s)
}
