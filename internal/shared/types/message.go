package types

import "time"

// MessageType classifies a conversation entry
type MessageType string

const (
	MessageCode  MessageType = "code"
	MessageText  MessageType = "text"
	MessageQuery MessageType = "query"
	MessageLLM   MessageType = "llm"
)

// Valid reports whether t is one of the known message types
func (t MessageType) Valid() bool {
	switch t {
	case MessageCode, MessageText, MessageQuery, MessageLLM:
		return true
	}
	return false
}

// ExecutionStatus tracks a code message through the execution engine
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "pending"
	ExecutionStarted ExecutionStatus = "started"
	ExecutionDone    ExecutionStatus = "done"
)

// Output is one recorded execution event of a code message
type Output struct {
	Type    string      `json:"type"`
	Content interface{} `json:"content"`
}

// Message is a committed conversation entry. ID is assigned by the store
// on append and doubles as the cell id of code messages.
type Message struct {
	ID              int             `json:"id"`
	Type            MessageType     `json:"type"`
	Content         string          `json:"content"`
	CreatedAt       time.Time       `json:"created_at"`
	Output          []Output        `json:"output,omitempty"`
	ExecutionStatus ExecutionStatus `json:"execution_status,omitempty"`
}

// IsCode reports whether m materializes a notebook cell
func (m Message) IsCode() bool {
	return m.Type == MessageCode
}

// Conversation is a stored notebook history
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// CodeMessages returns the code entries in commit order
func (c *Conversation) CodeMessages() []Message {
	out := make([]Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if m.IsCode() {
			out = append(out, m)
		}
	}
	return out
}

// ConversationSummary is the listing view of a conversation
type ConversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Messages  int       `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}
