package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxLogEntries = 500

// UILogEntry represents a log entry from the browser
type UILogEntry struct {
	ID        string                 `json:"id"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context"`
	Timestamp string                 `json:"timestamp"`
}

// UILogStreamRequest is a batch of browser log entries, typically the
// editor's language client reporting what it sent and received.
type UILogStreamRequest struct {
	Source  string       `json:"source"`
	Entries []UILogEntry `json:"entries"`
}

// StreamLogs records browser log entries in the server log
func (h *Handlers) StreamLogs(c *gin.Context) {
	var req UILogStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid log request format"})
		return
	}
	if req.Source != "ui" && req.Source != "editor" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid log source"})
		return
	}
	if len(req.Entries) == 0 || len(req.Entries) > maxLogEntries {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected 1 to 500 log entries"})
		return
	}

	log := h.log.Named(req.Source)
	for _, entry := range req.Entries {
		fields := make([]zap.Field, 0, len(entry.Context)+2)
		fields = append(fields,
			zap.String("ui_log_id", entry.ID),
			zap.String("ui_timestamp", entry.Timestamp),
		)
		for key, value := range entry.Context {
			fields = append(fields, zap.Any(key, value))
		}

		switch entry.Level {
		case "error":
			log.Error(entry.Message, fields...)
		case "warn":
			log.Warn(entry.Message, fields...)
		case "debug", "verbose":
			log.Debug(entry.Message, fields...)
		default:
			log.Info(entry.Message, fields...)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"entries_processed": len(req.Entries),
		"timestamp":         time.Now().Unix(),
	})
}
