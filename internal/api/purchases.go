package api

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/litup/indexer/internal/db"
	"github.com/litup/indexer/internal/models"
)

// PurchaseReader is the purchase query surface of the store.
type PurchaseReader interface {
	List(ctx context.Context, filter db.PurchaseFilter) ([]*models.Purchase, error)
	SumPaidToCreator(ctx context.Context, creator string) (*db.CreatorEarnings, error)
}

// PurchaseAPI provides the purchase and earnings methods
type PurchaseAPI struct {
	purchases PurchaseReader
}

// NewPurchaseAPI creates a new purchase API
func NewPurchaseAPI(purchases PurchaseReader) *PurchaseAPI {
	return &PurchaseAPI{purchases: purchases}
}

// GetPurchasesByBuyer handles litup.get_purchases_by_buyer, newest first
func (a *PurchaseAPI) GetPurchasesByBuyer(ctx *gin.Context, raw json.RawMessage) (interface{}, error) {
	p, err := decodeParams(raw)
	if err != nil {
		return nil, err
	}
	buyer, err := p.address("buyer")
	if err != nil {
		return nil, err
	}
	limit, err := p.limit()
	if err != nil {
		return nil, err
	}

	purchases, err := a.purchases.List(ctx.Request.Context(), db.PurchaseFilter{
		Buyer: buyer,
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}
	if purchases == nil {
		purchases = []*models.Purchase{}
	}
	return purchases, nil
}

// GetCreatorEarnings handles litup.get_creator_earnings
func (a *PurchaseAPI) GetCreatorEarnings(ctx *gin.Context, raw json.RawMessage) (interface{}, error) {
	p, err := decodeParams(raw)
	if err != nil {
		return nil, err
	}
	creator, err := p.address("creator")
	if err != nil {
		return nil, err
	}

	return a.purchases.SumPaidToCreator(ctx.Request.Context(), creator)
}
