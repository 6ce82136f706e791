package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ivy-counsellor/internal/fallback"
	"ivy-counsellor/internal/intent"
	"ivy-counsellor/internal/llm"
	"ivy-counsellor/internal/memory"
	"ivy-counsellor/internal/notify"
	"ivy-counsellor/internal/rag"
	"ivy-counsellor/internal/store"
)

const systemPrompt = `You are IVY AI Counsellor, a helpful study abroad advisor for IVY Overseas.
Answer only using the provided context. Be warm, clear and specific.
If context is insufficient, say so honestly and offer to connect with a human counsellor.
Always end answers about visas or admissions with: Would you like to speak with one of our expert counsellors for personalised guidance?`

const (
	answerTokens   = 1024
	extractTimeout = 30 * time.Second
)

// Reply is the outcome of one inbound message.
type Reply struct {
	SessionID    string
	Answer       string
	RAGScore     float64
	FallbackType string
}

// Service ties the conversation pipeline together: memory, retrieval,
// answer generation, the fallback path and the intent/notification cadence.
type Service struct {
	sessions  *memory.Manager
	retriever rag.Retriever
	client    llm.Client
	fallback  *fallback.Responder
	extractor *intent.Extractor
	notifier  *notify.Notifier
	repo      store.Repository

	directThreshold float64
	cadence         int

	mu      sync.Mutex
	inbound map[string]int
	// async extraction completion hook, used by tests
	extractDone func(sessionID string)
}

func NewService(
	sessions *memory.Manager,
	retriever rag.Retriever,
	client llm.Client,
	fb *fallback.Responder,
	extractor *intent.Extractor,
	notifier *notify.Notifier,
	repo store.Repository,
	directThreshold float64,
	cadence int,
) *Service {
	if cadence < 1 {
		cadence = 1
	}
	return &Service{
		sessions:        sessions,
		retriever:       retriever,
		client:          client,
		fallback:        fb,
		extractor:       extractor,
		notifier:        notifier,
		repo:            repo,
		directThreshold: directThreshold,
		cadence:         cadence,
		inbound:         make(map[string]int),
	}
}

// Respond handles one inbound user message end to end. A blank session id
// starts a fresh session.
func (s *Service) Respond(ctx context.Context, sessionID, message string) (Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, fmt.Errorf("message cannot be empty")
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s.sessions.AddMessage(ctx, sessionID, memory.RoleUser, message)

	answer, ragScore, fallbackType := s.answer(ctx, sessionID, message)

	s.sessions.AddMessage(ctx, sessionID, memory.RoleAssistant, answer)

	if err := s.repo.SaveConversation(ctx, &store.Conversation{
		SessionID:    sessionID,
		UserMessage:  message,
		AIResponse:   answer,
		RAGScore:     ragScore,
		FallbackType: fallbackType,
	}); err != nil {
		log.Printf("❌ Failed to log conversation for session %s: %v", sessionID, err)
	}

	if s.bumpInbound(sessionID)%s.cadence == 0 {
		// Extraction is expensive and must not delay the reply; it runs
		// detached from the request context.
		go s.runExtraction(sessionID)
	}

	return Reply{
		SessionID:    sessionID,
		Answer:       answer,
		RAGScore:     ragScore,
		FallbackType: fallbackType,
	}, nil
}

// answer routes between the direct RAG path and the fallback path. Any
// retrieval or generation failure degrades into the fallback response; the
// user never sees an internal error.
func (s *Service) answer(ctx context.Context, sessionID, message string) (answer string, ragScore float64, fallbackType string) {
	passages, err := s.retriever.Search(ctx, message)
	if err != nil {
		log.Printf("⚠️ Retrieval failed for session %s: %v", sessionID, err)
	}
	best := 0.0
	if len(passages) > 0 {
		best = passages[0].Score
	}

	if err != nil || best < s.directThreshold {
		msg, fbType := s.fallback.Respond(ctx, message, best, sessionID)
		return msg, best, fbType
	}

	reply, err := s.generate(ctx, sessionID, passages)
	if err != nil {
		log.Printf("⚠️ Answer generation failed for session %s: %v", sessionID, err)
		msg, fbType := s.fallback.Respond(ctx, message, best, sessionID)
		return msg, best, fbType
	}
	return reply, best, ""
}

func (s *Service) generate(ctx context.Context, sessionID string, passages []rag.Passage) (string, error) {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nContext:\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "[Context %d (relevance: %.2f)]\n%s\n\n", i+1, p.Score, p.Text)
	}

	msgs := []llm.Message{{Role: "system", Content: b.String()}}
	for _, m := range s.sessions.GetContext(sessionID) {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}

	resp, err := s.client.Generate(ctx, msgs, answerTokens)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func (s *Service) bumpInbound(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbound[sessionID]++
	return s.inbound[sessionID]
}

func (s *Service) runExtraction(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), extractTimeout)
	defer cancel()

	if result := s.extractor.Run(ctx, sessionID); result != nil {
		log.Printf("🎯 Intent for session %s: %s (score %d)", sessionID, result.IntentLevel, result.LeadScore)
		s.notifier.MaybeNotify(ctx, sessionID, result)
	}
	if s.extractDone != nil {
		s.extractDone(sessionID)
	}
}

// ClearSession drops conversation state and the cadence counter for a key.
func (s *Service) ClearSession(sessionID string) {
	s.sessions.Clear(sessionID)
	s.mu.Lock()
	delete(s.inbound, sessionID)
	s.mu.Unlock()
}

// ActiveSessions reports how many sessions the memory currently tracks.
func (s *Service) ActiveSessions() int {
	return s.sessions.CountActive()
}
