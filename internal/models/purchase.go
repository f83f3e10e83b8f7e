package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Purchase records one Purchased log. It is never updated after creation.
type Purchase struct {
	ID           string          `gorm:"primaryKey;type:varchar(90);column:id" json:"id"`
	PostID       string          `gorm:"type:varchar(78);not null;index;column:post_id" json:"post"`
	Buyer        string          `gorm:"type:char(42);not null;index;column:buyer" json:"buyer"`
	Amount       decimal.Decimal `gorm:"type:numeric(78,0);not null;column:amount" json:"amount"`
	TotalPaid    decimal.Decimal `gorm:"type:numeric(78,0);not null;column:total_paid" json:"totalPaid"`
	PricePerUnit decimal.Decimal `gorm:"type:numeric(78,0);not null;column:price_per_unit" json:"pricePerUnit"`
	TxHash       string          `gorm:"type:char(66);not null;column:tx_hash" json:"txHash"`
	Timestamp    uint64          `gorm:"not null;index;column:timestamp" json:"timestamp,string"`

	Post *Post `gorm:"foreignKey:PostID;references:ID" json:"-"`
}

// TableName specifies the table name for Purchase
func (Purchase) TableName() string {
	return "litup_purchases"
}

type postRef struct {
	ID string `json:"id"`
}

// MarshalJSON nests the post reference as {"id": ...}.
func (p Purchase) MarshalJSON() ([]byte, error) {
	type purchase Purchase
	return json.Marshal(struct {
		purchase
		Post postRef `json:"post"`
	}{purchase(p), postRef{ID: p.PostID}})
}

// Clone returns a copy without the preloaded Post relation.
func (p *Purchase) Clone() *Purchase {
	if p == nil {
		return nil
	}
	c := *p
	c.Post = nil
	return &c
}
