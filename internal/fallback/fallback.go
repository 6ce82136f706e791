package fallback

import (
	"context"
	"log"
	"strings"

	"ivy-counsellor/internal/llm"
	"ivy-counsellor/internal/store"
)

// Fallback template tags, recorded with every logged miss.
const (
	TypePartial  = "PARTIAL"
	TypeGap      = "GAP"
	TypeOffTopic = "OFF_TOPIC"
	TypeEscalate = "ESCALATE"
)

const (
	classOnTopic   = "study_abroad"
	classOffTopic  = "off_topic"
	classSensitive = "sensitive"
)

var templates = map[string]string{
	TypePartial: "Based on available information, here's what I found. " +
		"For the most accurate details, our counsellors can help. " +
		"Can I arrange a free call?",
	TypeGap: "Great question! I don't have that detail right now. " +
		"Our specialist counsellor would know this. " +
		"Shall I connect you? It's completely free.",
	TypeOffTopic: "That's a bit outside my area! I'm IVY's study abroad " +
		"assistant. Can I help you with universities, visas, " +
		"scholarships or IELTS instead?",
	TypeEscalate: "This situation needs personalised attention from our team. " +
		"Can I have a counsellor call you directly? " +
		"Please share your name and number.",
}

const classifyPrompt = `Classify this user message into exactly one category. Reply with only one word.
Categories: study_abroad | off_topic | sensitive

User message:
`

const (
	classifyTokens = 20
	classifyMaxLen = 500
	defaultPartial = 0.50
)

// Responder picks a canned response for low-confidence retrieval and logs
// the miss for the weekly gap report.
type Responder struct {
	client           llm.Client
	repo             store.Repository
	partialThreshold float64
}

func New(client llm.Client, repo store.Repository, partialThreshold float64) *Responder {
	if partialThreshold <= 0 {
		partialThreshold = defaultPartial
	}
	return &Responder{client: client, repo: repo, partialThreshold: partialThreshold}
}

// Respond classifies the query, selects the template and unconditionally
// appends an unanswered-query record. The record is written even for
// off-topic and sensitive queries so the gap report sees the full miss
// picture. It returns the template text and the tag it was logged under.
func (r *Responder) Respond(ctx context.Context, query string, bestScore float64, sessionID string) (string, string) {
	var fallbackType string
	switch r.classify(ctx, query) {
	case classOffTopic:
		fallbackType = TypeOffTopic
	case classSensitive:
		fallbackType = TypeEscalate
	default:
		if bestScore >= r.partialThreshold {
			fallbackType = TypePartial
		} else {
			fallbackType = TypeGap
		}
	}

	if err := r.repo.LogUnanswered(ctx, &store.UnansweredQuery{
		QueryText:       query,
		SimilarityScore: bestScore,
		FallbackType:    fallbackType,
		SessionID:       sessionID,
	}); err != nil {
		log.Printf("❌ Failed to log unanswered query: %v", err)
	}

	return templates[fallbackType], fallbackType
}

// classify asks for a one-word category. Any failure falls open to the
// on-topic classification so a classifier outage never escalates.
func (r *Responder) classify(ctx context.Context, query string) string {
	if len(query) > classifyMaxLen {
		query = query[:classifyMaxLen]
	}
	resp, err := r.client.Generate(ctx, []llm.Message{
		{Role: "user", Content: classifyPrompt + query},
	}, classifyTokens)
	if err != nil {
		log.Printf("⚠️ Fallback classification failed: %v", err)
		return classOnTopic
	}

	text := strings.ToLower(strings.TrimSpace(resp.Content))
	if strings.Contains(text, "off_topic") || strings.Contains(text, "off topic") {
		return classOffTopic
	}
	if strings.Contains(text, "sensitive") {
		return classSensitive
	}
	return classOnTopic
}
