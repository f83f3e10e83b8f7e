package db

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/litup/indexer/internal/models"
)

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

var upsertByID = clause.OnConflict{
	Columns:   []clause.Column{{Name: "id"}},
	UpdateAll: true,
}

// PostOrder selects the sort order of post listings.
type PostOrder string

const (
	// OrderByMinted sorts by units sold, best selling first.
	OrderByMinted PostOrder = "minted"
	// OrderByCreated sorts by creation time, newest first.
	OrderByCreated PostOrder = "created"
)

// PostFilter narrows a post listing. Zero values match everything.
type PostFilter struct {
	Creator     string
	VisibleOnly bool
	Order       PostOrder
	Limit       int
	Offset      int
}

// PostRepository provides post-related database operations
type PostRepository struct {
	*Repository
}

// NewPostRepository creates a new post repository
func NewPostRepository(repo *Repository) *PostRepository {
	return &PostRepository{Repository: repo}
}

// GetByID retrieves a post by ID
func (r *PostRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&post).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &post, nil
}

// Upsert inserts the post or overwrites every column of the stored row
func (r *PostRepository) Upsert(ctx context.Context, post *models.Post) error {
	return r.db.WithContext(ctx).Clauses(upsertByID).Create(post).Error
}

// List returns posts matching filter
func (r *PostRepository) List(ctx context.Context, filter PostFilter) ([]*models.Post, error) {
	q := r.db.WithContext(ctx).Model(&models.Post{})
	if filter.Creator != "" {
		q = q.Where("creator = ?", filter.Creator)
	}
	if filter.VisibleOnly {
		q = q.Where("hidden = ?", false)
	}

	switch filter.Order {
	case OrderByMinted:
		q = q.Order("minted DESC").Order("created_at DESC")
	default:
		q = q.Order("created_at DESC")
	}
	q = q.Order("id DESC")

	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var posts []*models.Post
	if err := q.Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

// PurchaseFilter narrows a purchase listing. Zero values match everything.
type PurchaseFilter struct {
	Buyer  string
	PostID string
	Limit  int
	Offset int
}

// CreatorEarnings aggregates the purchases of every post of one creator.
type CreatorEarnings struct {
	Creator   string          `json:"creator"`
	TotalPaid decimal.Decimal `json:"total_paid"`
	Purchases int64           `json:"purchases"`
}

// PurchaseRepository provides purchase-related database operations
type PurchaseRepository struct {
	*Repository
}

// NewPurchaseRepository creates a new purchase repository
func NewPurchaseRepository(repo *Repository) *PurchaseRepository {
	return &PurchaseRepository{Repository: repo}
}

// Upsert inserts the purchase or overwrites the stored row
func (r *PurchaseRepository) Upsert(ctx context.Context, purchase *models.Purchase) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Clauses(upsertByID).Create(purchase).Error
}

// List returns purchases matching filter, newest first
func (r *PurchaseRepository) List(ctx context.Context, filter PurchaseFilter) ([]*models.Purchase, error) {
	q := r.db.WithContext(ctx).Model(&models.Purchase{})
	if filter.Buyer != "" {
		q = q.Where("buyer = ?", filter.Buyer)
	}
	if filter.PostID != "" {
		q = q.Where("post_id = ?", filter.PostID)
	}
	q = q.Order("timestamp DESC").Order("id DESC")

	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var purchases []*models.Purchase
	if err := q.Find(&purchases).Error; err != nil {
		return nil, err
	}
	return purchases, nil
}

// SumPaidToCreator totals what buyers paid for the creator's posts
func (r *PurchaseRepository) SumPaidToCreator(ctx context.Context, creator string) (*CreatorEarnings, error) {
	var row struct {
		TotalPaid decimal.Decimal
		Purchases int64
	}
	err := r.db.WithContext(ctx).
		Table(models.Purchase{}.TableName()+" AS pu").
		Select("COALESCE(SUM(pu.total_paid), 0) AS total_paid, COUNT(*) AS purchases").
		Joins("JOIN "+models.Post{}.TableName()+" AS po ON po.id = pu.post_id").
		Where("po.creator = ?", creator).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &CreatorEarnings{Creator: creator, TotalPaid: row.TotalPaid, Purchases: row.Purchases}, nil
}

// StateRepository provides access to the sync cursor
type StateRepository struct {
	*Repository
}

// NewStateRepository creates a new state repository
func NewStateRepository(repo *Repository) *StateRepository {
	return &StateRepository{Repository: repo}
}

// Get retrieves the cursor, or nil before the first block
func (r *StateRepository) Get(ctx context.Context) (*models.SyncState, error) {
	var state models.SyncState
	if err := r.db.WithContext(ctx).Where("id = ?", models.SyncStateID).First(&state).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

// Save writes the cursor
func (r *StateRepository) Save(ctx context.Context, state *models.SyncState) error {
	state.ID = models.SyncStateID
	return r.db.WithContext(ctx).Clauses(upsertByID).Create(state).Error
}
