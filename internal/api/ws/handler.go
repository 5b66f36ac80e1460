package ws

import (
	"errors"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebook-lsp/internal/domain/conversation"
	"github.com/GriffinCanCode/notebook-lsp/internal/domain/session"
	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/notebook-lsp/internal/shared/types"
)

// Options tunes the socket handlers.
type Options struct {
	// AllowedOrigins lists browser origins allowed to connect. Empty or "*"
	// allows any origin.
	AllowedOrigins []string
	// Editor requests (hover, completion) per second and burst per connection.
	RequestsPerSecond int
	Burst             int
}

// Handler serves the chat and editor-intelligence sockets of conversations.
type Handler struct {
	store    conversation.Store
	registry *session.Registry
	log      *logging.Logger
	metrics  *monitoring.Metrics
	opts     Options
	policy   *bluemonday.Policy
	upgrader websocket.Upgrader
}

// NewHandler creates a socket handler.
func NewHandler(store conversation.Store, registry *session.Registry, log *logging.Logger, metrics *monitoring.Metrics, opts Options) *Handler {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 2 * opts.RequestsPerSecond
	}
	h := &Handler{
		store:    store,
		registry: registry,
		log:      log.Named("ws"),
		metrics:  metrics,
		opts:     opts,
		policy:   bluemonday.UGCPolicy(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Register mounts the socket routes.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/ws/:id", h.Chat)
	r.GET("/ws/:id/lsp", h.LSP)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 || slices.Contains(h.opts.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(h.opts.AllowedOrigins, origin)
}

// conversation loads the conversation named by the route, answering with an
// HTTP error when it cannot.
func (h *Handler) conversation(c *gin.Context) (*types.Conversation, bool) {
	conv, err := h.store.Read(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		return conv, true
	case errors.Is(err, conversation.ErrInvalidID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
	case errors.Is(err, conversation.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
	default:
		h.log.Error("failed to read conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read conversation"})
	}
	return nil, false
}
