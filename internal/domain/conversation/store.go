package conversation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/notebook-lsp/internal/infrastructure/logging"
	"github.com/GriffinCanCode/notebook-lsp/internal/shared/id"
	"github.com/GriffinCanCode/notebook-lsp/internal/shared/types"
)

var (
	ErrNotFound  = errors.New("conversation not found")
	ErrInvalidID = errors.New("invalid conversation id")
	ErrNoMessage = errors.New("message not found")
)

// Store persists conversations and their ordered messages.
type Store interface {
	Create(ctx context.Context, title string) (*types.Conversation, error)
	Read(ctx context.Context, conv string) (*types.Conversation, error)
	Append(ctx context.Context, conv string, msg types.Message) (types.Message, error)
	Update(ctx context.Context, conv string, msgID int, fn func(*types.Message)) (types.Message, error)
	List(ctx context.Context) ([]types.ConversationSummary, error)
}

// FileStore keeps one JSON document per conversation under dir. Loaded
// conversations are cached; every mutation is written through atomically.
type FileStore struct {
	dir    string
	logger *logging.Logger

	mu    sync.Mutex
	cache map[string]*types.Conversation
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string, logger *logging.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{
		dir:    dir,
		logger: logger,
		cache:  make(map[string]*types.Conversation),
	}, nil
}

func (s *FileStore) path(conv string) string {
	return filepath.Join(s.dir, conv+".json")
}

// Create starts an empty conversation under a fresh id.
func (s *FileStore) Create(ctx context.Context, title string) (*types.Conversation, error) {
	now := time.Now().UTC()
	c := &types.Conversation{
		ID:        id.NewConversationID().String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []types.Message{},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(c); err != nil {
		return nil, err
	}
	s.cache[c.ID] = c

	s.logger.Info("conversation created", zap.String("conversation", c.ID))
	return clone(c), nil
}

// Read returns a copy of the conversation.
func (s *FileStore) Read(ctx context.Context, conv string) (*types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(conv)
	if err != nil {
		return nil, err
	}
	return clone(c), nil
}

// Append stores msg under the next message id and returns it.
func (s *FileStore) Append(ctx context.Context, conv string, msg types.Message) (types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(conv)
	if err != nil {
		return types.Message{}, err
	}

	msg.ID = len(c.Messages)
	if n := len(c.Messages); n > 0 && c.Messages[n-1].ID >= msg.ID {
		msg.ID = c.Messages[n-1].ID + 1
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.IsCode() && msg.ExecutionStatus == "" {
		msg.ExecutionStatus = types.ExecutionPending
	}

	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = msg.CreatedAt
	if err := s.write(c); err != nil {
		c.Messages = c.Messages[:len(c.Messages)-1]
		return types.Message{}, err
	}
	return msg, nil
}

// Update applies fn to one message and persists the result.
func (s *FileStore) Update(ctx context.Context, conv string, msgID int, fn func(*types.Message)) (types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(conv)
	if err != nil {
		return types.Message{}, err
	}

	for i := range c.Messages {
		if c.Messages[i].ID != msgID {
			continue
		}
		before := cloneMessage(c.Messages[i])
		fn(&c.Messages[i])
		c.Messages[i].ID = msgID
		c.UpdatedAt = time.Now().UTC()
		if err := s.write(c); err != nil {
			c.Messages[i] = before
			return types.Message{}, err
		}
		return cloneMessage(c.Messages[i]), nil
	}
	return types.Message{}, fmt.Errorf("%w: %d", ErrNoMessage, msgID)
}

// List returns summaries ordered by most recent update.
func (s *FileStore) List(ctx context.Context) ([]types.ConversationSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.ConversationSummary, 0, len(entries))
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".json")
		if e.IsDir() || !ok || !id.IsConversationID(name) {
			continue
		}
		c, err := s.load(name)
		if err != nil {
			s.logger.Warn("skipping unreadable conversation", zap.String("conversation", name), zap.Error(err))
			continue
		}
		out = append(out, types.ConversationSummary{
			ID:        c.ID,
			Title:     c.Title,
			Messages:  len(c.Messages),
			UpdatedAt: c.UpdatedAt,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// load returns the cached conversation, reading it from disk on first use.
// Callers hold s.mu.
func (s *FileStore) load(conv string) (*types.Conversation, error) {
	if !id.IsConversationID(conv) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, conv)
	}
	if c, ok := s.cache[conv]; ok {
		return c, nil
	}

	data, err := os.ReadFile(s.path(conv))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, conv)
	}
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}

	var c types.Conversation
	if err := sonic.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", conv, err)
	}
	if c.Messages == nil {
		c.Messages = []types.Message{}
	}
	s.cache[conv] = &c
	return &c, nil
}

// write replaces the conversation file via a temp file and rename.
func (s *FileStore) write(c *types.Conversation) error {
	data, err := sonic.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, c.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("write conversation: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write conversation: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write conversation: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(c.ID)); err != nil {
		return fmt.Errorf("write conversation: %w", err)
	}
	return nil
}

func clone(c *types.Conversation) *types.Conversation {
	out := *c
	out.Messages = make([]types.Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = cloneMessage(m)
	}
	return &out
}

func cloneMessage(m types.Message) types.Message {
	if m.Output != nil {
		m.Output = append([]types.Output(nil), m.Output...)
	}
	return m
}
