package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebook-lsp/internal/domain/conversation"
	"github.com/GriffinCanCode/notebook-lsp/internal/domain/session"
	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/notebook-lsp/internal/shared/types"
	"github.com/GriffinCanCode/notebook-lsp/internal/shared/utils"
)

const version = "0.3.0"

// Handlers contains all HTTP handlers
type Handlers struct {
	store    conversation.Store
	registry *session.Registry
	metrics  *monitoring.Metrics
	log      *logging.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(store conversation.Store, registry *session.Registry, metrics *monitoring.Metrics, log *logging.Logger) *Handlers {
	return &Handlers{
		store:    store,
		registry: registry,
		metrics:  metrics,
		log:      log.Named("http"),
	}
}

// Register mounts the HTTP routes.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.POST("/chats", h.CreateChat)
	r.GET("/chats", h.ListChats)
	r.GET("/chats/:id", h.GetChat)
	r.POST("/logs", h.StreamLogs)
}

// Root handles the liveness check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "notebook-lsp",
		"version": version,
	})
}

// Health reports live sessions and traffic counters
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"sessions":  h.registry.Count(),
		"metrics":   h.metrics.Snapshot(),
		"timestamp": time.Now().Unix(),
	})
}

// CreateChat starts a new conversation
func (h *Handlers) CreateChat(c *gin.Context) {
	var req types.CreateChatRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	if err := utils.ValidateTitle(req.Title); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chat, err := h.store.Create(c.Request.Context(), req.Title)
	if err != nil {
		h.log.Error("failed to create conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create conversation"})
		return
	}
	c.JSON(http.StatusCreated, chat)
}

// ListChats lists conversations, most recently updated first
func (h *Handlers) ListChats(c *gin.Context) {
	chats, err := h.store.List(c.Request.Context())
	if err != nil {
		h.log.Error("failed to list conversations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// GetChat returns a conversation with its messages
func (h *Handlers) GetChat(c *gin.Context) {
	chat, err := h.store.Read(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, chat)
	case errors.Is(err, conversation.ErrInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
	case errors.Is(err, conversation.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	default:
		h.log.Error("failed to read conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read conversation"})
	}
}
