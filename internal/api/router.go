package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/litup/indexer/internal/cache"
	"github.com/litup/indexer/pkg/logging"
)

// Deps are the read-side dependencies of the API. Access and Cache may be nil.
type Deps struct {
	Posts     PostReader
	Purchases PurchaseReader
	State     StateReader
	Access    AccessChecker
	Cache     *cache.Cache

	// Deployment the access conditions point at. A zero Contract disables
	// litup.get_access_conditions.
	Contract  common.Address
	ChainName string
}

// Router sets up API routes
type Router struct {
	handler *JSONRPCHandler
	deps    Deps
	logger  *zap.Logger
}

// NewRouter creates a new API router
func NewRouter(deps Deps) *Router {
	router := &Router{
		handler: NewJSONRPCHandler(),
		deps:    deps,
		logger:  logging.WithComponent("api-router"),
	}

	router.registerMethods()

	return router
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	engine.POST("/", r.handler.Handle)
}

// registerMethods registers all API methods
func (r *Router) registerMethods() {
	r.handler.RegisterMethod("litup.db_head_state", r.dbHeadState)

	posts := NewPostAPI(r.deps.Posts, r.deps.Cache)
	r.handler.RegisterMethod("litup.get_post", posts.GetPost)
	r.handler.RegisterMethod("litup.get_top_posts", posts.GetTopPosts)
	r.handler.RegisterMethod("litup.get_posts_by_creator", posts.GetPostsByCreator)

	purchases := NewPurchaseAPI(r.deps.Purchases)
	r.handler.RegisterMethod("litup.get_purchases_by_buyer", purchases.GetPurchasesByBuyer)
	r.handler.RegisterMethod("litup.get_creator_earnings", purchases.GetCreatorEarnings)

	if r.deps.Access != nil {
		access := NewAccessAPI(r.deps.Access)
		r.handler.RegisterMethod("litup.has_access", access.HasAccess)
	} else {
		r.logger.Info("Contract access not configured, litup.has_access disabled")
	}

	if r.deps.Contract != (common.Address{}) {
		conditions := NewConditionsAPI(r.deps.Contract, r.deps.ChainName)
		r.handler.RegisterMethod("litup.get_access_conditions", conditions.GetAccessConditions)
	}

	r.logger.Info("API methods registered", zap.Int("count", r.handler.Methods()))
}

// healthHandler handles health check requests. A configured cache that
// stops answering degrades the status without failing the check.
func (r *Router) healthHandler(c *gin.Context) {
	body := gin.H{
		"status":  "OK",
		"service": "litup-api",
	}

	if r.deps.Cache != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()
		if err := r.deps.Cache.Health(ctx); err != nil {
			r.logger.Warn("Cache health check failed", zap.Error(err))
			body["status"] = "DEGRADED"
			body["cache"] = "unavailable"
		} else {
			body["cache"] = "OK"
		}
	}

	c.JSON(http.StatusOK, body)
}

// dbHeadState returns the last indexed block
func (r *Router) dbHeadState(c *gin.Context, params json.RawMessage) (interface{}, error) {
	state, err := r.deps.State.Get(c.Request.Context())
	if err != nil {
		return nil, err
	}
	if state == nil {
		return gin.H{
			"db_head_block": 0,
			"db_head_hash":  "",
			"db_head_time":  "",
		}, nil
	}
	return gin.H{
		"db_head_block": state.BlockNum,
		"db_head_hash":  state.BlockHash,
		"db_head_time":  time.Unix(int64(state.BlockTime), 0).UTC().Format(time.RFC3339),
	}, nil
}
