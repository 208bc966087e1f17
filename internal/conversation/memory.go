package conversation

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"

	"github.com/ashureev/voxcore/internal/domain"
)

type memoryConversation struct {
	history    *memory.ChatMessageHistory
	timestamps []time.Time
	entities   map[string]string
	lastActive time.Time
}

// MemoryStore keeps conversations in process using langchaingo chat histories.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*memoryConversation
	ttl           time.Duration
	maxMessages   int
	now           func() time.Time
}

// NewMemory returns an empty in-process store.
func NewMemory(ttl time.Duration, maxMessages int) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &MemoryStore{
		conversations: make(map[string]*memoryConversation),
		ttl:           ttl,
		maxMessages:   maxMessages,
		now:           time.Now,
	}
}

func (m *MemoryStore) conversation(userID string) *memoryConversation {
	c, ok := m.conversations[userID]
	if !ok {
		c = &memoryConversation{
			history:  memory.NewChatMessageHistory(),
			entities: make(map[string]string),
		}
		m.conversations[userID] = c
	}
	return c
}

func toChatMessage(role domain.Role, content string) llms.ChatMessage {
	switch role {
	case domain.RoleAssistant:
		return llms.AIChatMessage{Content: content}
	case domain.RoleSystem:
		return llms.SystemChatMessage{Content: content}
	default:
		return llms.HumanChatMessage{Content: content}
	}
}

func fromChatMessage(msg llms.ChatMessage) domain.Role {
	switch msg.GetType() {
	case llms.ChatMessageTypeAI:
		return domain.RoleAssistant
	case llms.ChatMessageTypeSystem:
		return domain.RoleSystem
	default:
		return domain.RoleUser
	}
}

// AddMessage appends to the user's chat history, dropping the oldest past the maximum.
func (m *MemoryStore) AddMessage(ctx context.Context, userID string, role domain.Role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.conversation(userID)
	now := m.now()
	if err := c.history.AddMessage(ctx, toChatMessage(role, content)); err != nil {
		return fmt.Errorf("failed to add message to memory: %w", err)
	}
	c.timestamps = append(c.timestamps, now)
	c.lastActive = now

	msgs, err := c.history.Messages(ctx)
	if err != nil {
		return fmt.Errorf("failed to read memory: %w", err)
	}
	if over := len(msgs) - m.maxMessages; over > 0 {
		if err := c.history.SetMessages(ctx, msgs[over:]); err != nil {
			return fmt.Errorf("failed to trim memory: %w", err)
		}
		c.timestamps = c.timestamps[over:]
	}
	return nil
}

// GetContext returns a copy of the most recent messages and entities.
func (m *MemoryStore) GetContext(ctx context.Context, userID string, limit int) (domain.ConversationContext, error) {
	out := domain.ConversationContext{Messages: []domain.Message{}, Entities: map[string]string{}}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[userID]
	if !ok {
		return out, nil
	}
	msgs, err := c.history.Messages(ctx)
	if err != nil {
		return out, fmt.Errorf("failed to get messages: %w", err)
	}
	start := max(len(msgs)-clampLimit(limit), 0)
	for i := start; i < len(msgs); i++ {
		out.Messages = append(out.Messages, domain.Message{
			Role:      fromChatMessage(msgs[i]),
			Content:   msgs[i].GetContent(),
			Timestamp: c.timestamps[i],
		})
	}
	maps.Copy(out.Entities, c.entities)
	return out, nil
}

// UpdateContext merges entities; empty values delete keys.
func (m *MemoryStore) UpdateContext(_ context.Context, userID string, entities map[string]string) error {
	if len(entities) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.conversation(userID)
	for k, v := range entities {
		if v == "" {
			delete(c.entities, k)
			continue
		}
		c.entities[k] = v
	}
	c.lastActive = m.now()
	return nil
}

// Prune drops conversations idle longer than the retention period.
func (m *MemoryStore) Prune(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.ttl)
	var removed int64
	for id, c := range m.conversations {
		if c.lastActive.Before(cutoff) {
			delete(m.conversations, id)
			removed++
		}
	}
	return removed, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
