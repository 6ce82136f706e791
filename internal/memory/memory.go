package memory

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SummaryPlaceholder replaces the rolling summary when the summarizer is
// unreachable. Compaction still trims the window; only the digest degrades.
const SummaryPlaceholder = "Previous conversation context (summarization unavailable)"

type Message struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// Summarizer condenses a dropped prefix of the conversation into a short
// digest that keeps identifying details (test scores, country, course, budget).
type Summarizer interface {
	Summarize(ctx context.Context, messages []Message) (string, error)
}

type session struct {
	mu           sync.Mutex
	messages     []Message
	summary      string
	lastActivity time.Time
}

// Manager holds per-session conversation history with a sliding window.
// The map lock only guards session lookup; each session carries its own
// mutex, held across compaction so an append-then-compact is atomic for
// that session without stalling the others.
type Manager struct {
	mu         sync.RWMutex
	sessions   map[string]*session
	summarizer Summarizer
	maxPairs   int
	idle       time.Duration

	now func() time.Time
}

func NewManager(summarizer Summarizer, maxPairs int, idleTimeout time.Duration) *Manager {
	return &Manager{
		sessions:   make(map[string]*session),
		summarizer: summarizer,
		maxPairs:   maxPairs,
		idle:       idleTimeout,
		now:        time.Now,
	}
}

// ensure returns the session for id, creating it on first use, and bumps
// last activity. Both reads and writes count as activity.
func (m *Manager) ensure(id string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		s = &session{}
		m.sessions[id] = s
	}
	s.lastActivity = m.now()
	return s
}

// AddMessage appends a turn and applies the sliding window before returning.
func (m *Manager) AddMessage(ctx context.Context, id, role, content string) {
	s := m.ensure(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, Message{Role: role, Content: content, CreatedAt: m.now()})
	m.compact(ctx, id, s)
}

// compact enforces the window: if complete pair count exceeds maxPairs,
// the oldest turns are collapsed into a summary and only the most recent
// 2*maxPairs turns are retained. Caller holds s.mu.
func (m *Manager) compact(ctx context.Context, id string, s *session) {
	if countPairs(s.messages) <= m.maxPairs {
		return
	}

	keep := 2 * m.maxPairs
	if keep > len(s.messages) {
		keep = len(s.messages)
	}
	dropped := s.messages[:len(s.messages)-keep]
	recent := s.messages[len(s.messages)-keep:]

	if len(dropped) > 0 {
		summary, err := m.summarizer.Summarize(ctx, dropped)
		if err != nil {
			log.Printf("⚠️ Failed to summarize %d dropped turns for session %s: %v", len(dropped), id, err)
			summary = SummaryPlaceholder
		}
		// The new digest replaces the previous one outright. The summarizer
		// only sees the raw dropped turns, so detail older than the prior
		// window can be lost across repeated compactions. Known lossy
		// behavior, kept as is.
		s.summary = summary
		log.Printf("🗜 Compacted %d old turns for session %s", len(dropped), id)
	}

	s.messages = append([]Message(nil), recent...)
}

// countPairs counts complete user→assistant adjacencies in order. Trailing
// unpaired turns do not count.
func countPairs(msgs []Message) int {
	pairs := 0
	for i := 0; i+1 < len(msgs); i++ {
		if msgs[i].Role == RoleUser && msgs[i+1].Role == RoleAssistant {
			pairs++
		}
	}
	return pairs
}

// GetContext returns a fresh snapshot of the visible context: the rolling
// summary (if any) framed as a synthetic leading user turn, then every
// retained turn in order. Reading counts as session activity.
func (m *Manager) GetContext(id string) []Message {
	s := m.ensure(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0, len(s.messages)+1)
	if s.summary != "" {
		out = append(out, Message{
			Role:    RoleUser,
			Content: fmt.Sprintf("[Previous conversation summary: %s]", s.summary),
		})
	}
	out = append(out, s.messages...)
	return out
}

// Clear removes all state for id. Clearing an unknown session is a no-op.
func (m *Manager) Clear(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		delete(m.sessions, id)
		log.Printf("🧹 Cleared session %s", id)
	}
}

// CountActive reports the number of tracked sessions.
func (m *Manager) CountActive() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ExpireIdle removes sessions inactive longer than the idle timeout and
// returns how many were removed. Invoked from the periodic sweep.
func (m *Manager) ExpireIdle() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if now.Sub(s.lastActivity) > m.idle {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("🧹 Expired %d idle sessions", removed)
	}
	return removed
}
