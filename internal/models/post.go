package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Entity names used in change notifications and logs.
const (
	EntityPost     = "Post"
	EntityPurchase = "Purchase"
)

// Post is the read model of a piece of gated content registered on-chain.
// Only Price, Minted and Hidden change after creation. CreatedAt is the block
// timestamp of the PostCreated log, never the database clock.
type Post struct {
	ID           string          `gorm:"primaryKey;type:varchar(78);column:id" json:"id"`
	Creator      string          `gorm:"type:char(42);not null;index;column:creator" json:"creator"`
	Price        decimal.Decimal `gorm:"type:numeric(78,0);not null;column:price" json:"price"`
	PreviewURI   string          `gorm:"type:text;not null;column:preview_uri" json:"previewUri"`
	EncryptedURI string          `gorm:"type:text;not null;column:encrypted_uri" json:"encryptedUri"`
	MaxSupply    decimal.Decimal `gorm:"type:numeric(78,0);not null;column:max_supply" json:"maxSupply"`
	Minted       decimal.Decimal `gorm:"type:numeric(78,0);not null;index;column:minted" json:"minted"`
	Hidden       bool            `gorm:"not null;index;column:hidden" json:"hidden"`
	CreatedAt    uint64          `gorm:"not null;index;autoCreateTime:false;column:created_at" json:"createdAt,string"`
}

// TableName specifies the table name for Post
func (Post) TableName() string {
	return "litup_posts"
}

// Unlimited reports whether the post has no supply cap (maxSupply == 0).
func (p *Post) Unlimited() bool {
	return p.MaxSupply.IsZero()
}

// SoldOut reports whether a capped post has minted its full supply.
func (p *Post) SoldOut() bool {
	return !p.Unlimited() && p.Minted.GreaterThanOrEqual(p.MaxSupply)
}

// MarshalJSON renders the post with quoted integers and the derived soldOut flag.
func (p Post) MarshalJSON() ([]byte, error) {
	type post Post
	return json.Marshal(struct {
		post
		SoldOut bool `json:"soldOut"`
	}{post(p), p.SoldOut()})
}

// Clone returns a copy that shares no mutable state with p.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
