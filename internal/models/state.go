package models

import (
	"time"
)

// SyncStateID is the primary key of the single SyncState row.
const SyncStateID = 1

// SyncState is the indexer cursor: the last block whose events are fully
// projected. It is written in the same transaction as the block's entities.
type SyncState struct {
	ID        int       `gorm:"primaryKey;autoIncrement:false;column:id"`
	BlockNum  uint64    `gorm:"not null;column:block_num"`
	BlockHash string    `gorm:"type:char(66);not null;column:block_hash"`
	BlockTime uint64    `gorm:"not null;default:0;column:block_time"`
	UpdatedAt time.Time `gorm:"not null;column:updated_at"`
}

// TableName specifies the table name for SyncState
func (SyncState) TableName() string {
	return "litup_state"
}
