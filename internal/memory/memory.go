// Package memory keeps a bounded per-session window of recent messages for prompt context.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/xiaot623/gogo/sqlagent/internal/domain"
)

// DefaultMaxHistory is the number of exchanges kept; the window holds twice as many messages.
const DefaultMaxHistory = 10

// HistoryStore loads persisted messages for hydration.
type HistoryStore interface {
	GetMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
}

// Entry is one remembered message.
type Entry struct {
	Role    domain.Role
	Content string
}

// PendingPlan is an analysis plan awaiting confirmation.
type PendingPlan struct {
	Token    string
	Question string
}

// Conversation is the window for one session. All methods are safe for concurrent use.
type Conversation struct {
	mu      sync.Mutex
	loaded  bool
	max     int
	entries []Entry
	plan    *PendingPlan
}

func (c *Conversation) add(role domain.Role, content string) {
	c.entries = append(c.entries, Entry{Role: role, Content: content})
	if over := len(c.entries) - c.max; over > 0 {
		c.entries = append([]Entry(nil), c.entries[over:]...)
	}
}

// AddUserMessage appends a user message, evicting the oldest when full.
func (c *Conversation) AddUserMessage(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(domain.RoleUser, content)
}

// AddAssistantMessage appends an assistant message, evicting the oldest when full.
func (c *Conversation) AddAssistantMessage(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.add(domain.RoleAssistant, content)
}

// Entries returns a copy of the window, oldest first.
func (c *Conversation) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// HistoryText renders the window as "User: ..." / "Assistant: ..." lines.
func (c *Conversation) HistoryText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		label := "User"
		if e.Role == domain.RoleAssistant {
			label = "Assistant"
		}
		lines = append(lines, label+": "+e.Content)
	}
	return strings.Join(lines, "\n")
}

// SetPendingPlan records the plan awaiting confirmation, replacing any earlier one.
func (c *Conversation) SetPendingPlan(p PendingPlan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plan = &p
}

// PendingPlan returns the plan awaiting confirmation, if any.
func (c *Conversation) PendingPlan() (PendingPlan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.plan == nil {
		return PendingPlan{}, false
	}
	return *c.plan, true
}

// ClearPendingPlan drops the pending plan.
func (c *Conversation) ClearPendingPlan() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plan = nil
}

// Manager owns one Conversation per session.
type Manager struct {
	store      HistoryStore
	maxHistory int

	mu            sync.Mutex
	conversations map[string]*Conversation
}

// NewManager creates a manager. store may be nil, in which case windows start empty.
func NewManager(store HistoryStore, maxHistory int) *Manager {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Manager{
		store:         store,
		maxHistory:    maxHistory,
		conversations: make(map[string]*Conversation),
	}
}

// Get returns the conversation for sessionID, hydrating it from the store on first access.
func (m *Manager) Get(ctx context.Context, sessionID string) *Conversation {
	m.mu.Lock()
	c, ok := m.conversations[sessionID]
	if !ok {
		c = &Conversation{max: 2 * m.maxHistory}
		m.conversations[sessionID] = c
	}
	m.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c
	}
	c.loaded = true
	if m.store == nil {
		return c
	}

	msgs, err := m.store.GetMessages(ctx, sessionID, 0)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to hydrate conversation memory")
		return c
	}
	if len(msgs) > c.max {
		msgs = msgs[len(msgs)-c.max:]
	}
	for _, msg := range msgs {
		c.entries = append(c.entries, Entry{Role: msg.Role, Content: msg.Content})
	}
	return c
}

// Clear drops the window for sessionID.
func (m *Manager) Clear(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, sessionID)
}

// ClearAll drops every window.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations = make(map[string]*Conversation)
}
