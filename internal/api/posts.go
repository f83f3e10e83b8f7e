package api

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/litup/indexer/internal/cache"
	"github.com/litup/indexer/internal/db"
	"github.com/litup/indexer/internal/models"
	"github.com/litup/indexer/pkg/logging"
)

// PostReader is the post query surface of the store.
type PostReader interface {
	GetByID(ctx context.Context, id string) (*models.Post, error)
	List(ctx context.Context, filter db.PostFilter) ([]*models.Post, error)
}

// PostAPI provides the litup.*post* methods
type PostAPI struct {
	posts  PostReader
	cache  *cache.Cache
	logger *zap.Logger
}

// NewPostAPI creates a new post API. redisCache may be nil.
func NewPostAPI(posts PostReader, redisCache *cache.Cache) *PostAPI {
	return &PostAPI{
		posts:  posts,
		cache:  redisCache,
		logger: logging.WithComponent("post-api"),
	}
}

// GetPost handles litup.get_post
func (a *PostAPI) GetPost(ctx *gin.Context, raw json.RawMessage) (interface{}, error) {
	p, err := decodeParams(raw)
	if err != nil {
		return nil, err
	}
	id, err := p.postID("id")
	if err != nil {
		return nil, err
	}

	post, err := a.posts.GetByID(ctx.Request.Context(), id.String())
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, nil
	}
	return post, nil
}

// GetTopPosts handles litup.get_top_posts: visible posts, best selling first
func (a *PostAPI) GetTopPosts(ctx *gin.Context, raw json.RawMessage) (interface{}, error) {
	p, err := decodeParams(raw)
	if err != nil {
		return nil, err
	}
	limit, err := p.limit()
	if err != nil {
		return nil, err
	}

	reqCtx := ctx.Request.Context()
	cacheKey := cache.HashKey("top_posts", strconv.Itoa(limit))

	if a.cache != nil {
		var cached []*models.Post
		err := a.cache.GetJSON(reqCtx, cacheKey, &cached)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			a.logger.Warn("Failed to read top posts from cache", zap.Error(err))
		}
	}

	posts, err := a.posts.List(reqCtx, db.PostFilter{
		VisibleOnly: true,
		Order:       db.OrderByMinted,
		Limit:       limit,
	})
	if err != nil {
		return nil, err
	}
	if posts == nil {
		posts = []*models.Post{}
	}

	if a.cache != nil {
		if err := a.cache.SetJSON(reqCtx, cacheKey, posts, 0); err != nil {
			a.logger.Warn("Failed to cache top posts", zap.Error(err))
		}
	}
	return posts, nil
}

// GetPostsByCreator handles litup.get_posts_by_creator, newest first
func (a *PostAPI) GetPostsByCreator(ctx *gin.Context, raw json.RawMessage) (interface{}, error) {
	p, err := decodeParams(raw)
	if err != nil {
		return nil, err
	}
	creator, err := p.address("creator")
	if err != nil {
		return nil, err
	}
	limit, err := p.limit()
	if err != nil {
		return nil, err
	}

	posts, err := a.posts.List(ctx.Request.Context(), db.PostFilter{
		Creator: creator,
		Order:   db.OrderByCreated,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	if posts == nil {
		posts = []*models.Post{}
	}
	return posts, nil
}
