package store

import (
	"context"
	"time"
)

// Lead is the durable profile extracted for one chat session. One row per
// session; extraction upserts, the notification gate stamps NotifiedAt.
type Lead struct {
	SessionID           string
	Name                string
	Phone               string
	Email               string
	TargetCourse        string
	TargetCountry       string
	TargetIntake        string
	BudgetINR           int64
	IELTSScore          string
	Percentage          string
	LeadScore           int
	IntentLevel         string
	ConversationSummary string
	RecommendedAction   string
	NotifiedAt          *time.Time
	CreatedAt           time.Time
}

// UnansweredQuery is an append-only record of a retrieval miss. The weekly
// gap report consumes PENDING rows and flips them to NOTIFIED.
type UnansweredQuery struct {
	ID              int64
	QueryText       string
	SimilarityScore float64
	FallbackType    string
	SessionID       string
	Status          string
	CreatedAt       time.Time
}

// Conversation is one user/assistant exchange kept for the admin audit view.
type Conversation struct {
	SessionID    string
	UserMessage  string
	AIResponse   string
	IntentLevel  string
	LeadScore    int
	RAGScore     float64
	FallbackType string
	Platform     string
	CreatedAt    time.Time
}

// Document is one knowledge-base PDF registered with the vector index.
// Ingestion is external; this registry is what the gap report measures
// coverage against.
type Document struct {
	ID       int64
	Filename string
	Topic    string
	Chunks   int
	AddedAt  time.Time
}

const (
	UnansweredPending  = "PENDING"
	UnansweredNotified = "NOTIFIED"
)

// Repository is the durable storage boundary: leads are upserted by session
// key, unanswered queries are append-only, conversations are an audit log.
type Repository interface {
	UpsertLead(ctx context.Context, lead *Lead) error
	GetLead(ctx context.Context, sessionID string) (*Lead, error)
	SetLeadNotified(ctx context.Context, sessionID string, at time.Time) error
	ListLeads(ctx context.Context, minScore int) ([]*Lead, error)

	LogUnanswered(ctx context.Context, q *UnansweredQuery) error
	ListPendingUnanswered(ctx context.Context, since time.Time) ([]*UnansweredQuery, error)
	MarkUnansweredNotified(ctx context.Context, ids []int64) error

	SaveConversation(ctx context.Context, c *Conversation) error

	AddDocument(ctx context.Context, d *Document) error
	ListDocuments(ctx context.Context) ([]*Document, error)

	Ping(ctx context.Context) error
	Close() error
}
