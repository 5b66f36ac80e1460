package types

// CreateChatRequest creates a conversation
type CreateChatRequest struct {
	Title string `json:"title"`
}

// ChatFrame is an inbound chat socket frame. ID is the client's temporary id.
type ChatFrame struct {
	ID         string      `json:"id"`
	Type       MessageType `json:"type"`
	Content    string      `json:"content"`
	ResponseID string      `json:"response_id,omitempty"`
}

// Ack confirms that a chat frame was stored under a permanent id
type Ack struct {
	Result string `json:"result"`
	TmpID  string `json:"tmpID"`
	ID     int    `json:"id"`
}

// ExecutionFrame streams one execution event to the chat socket
type ExecutionFrame struct {
	ID      int         `json:"id"`
	Result  string      `json:"result"`
	Type    string      `json:"type"`
	Content interface{} `json:"content"`
}

// ErrorFrame reports a rejected chat frame
type ErrorFrame struct {
	Result  string `json:"result"`
	TmpID   string `json:"tmpID,omitempty"`
	Message string `json:"message"`
}

// Chat socket result tags
const (
	ResultCreated       = "created"
	ResultCodeExecution = "code execution"
	ResultError         = "error"
)
