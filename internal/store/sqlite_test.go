package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertLeadReplacesProfile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertLead(ctx, &Lead{SessionID: "s1", Name: "Priya", LeadScore: 40, IntentLevel: "RESEARCHING"}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertLead(ctx, &Lead{SessionID: "s1", Name: "Priya Sharma", Phone: "9876543210", LeadScore: 75, IntentLevel: "HOT_LEAD"}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	leads, err := s.ListLeads(ctx, 0)
	if err != nil {
		t.Fatalf("list leads: %v", err)
	}
	if len(leads) != 1 {
		t.Fatalf("expected 1 lead row, got %d", len(leads))
	}
	got := leads[0]
	if got.Name != "Priya Sharma" || got.Phone != "9876543210" || got.LeadScore != 75 {
		t.Errorf("lead not updated: %+v", got)
	}
}

func TestUpsertKeepsNotifiedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertLead(ctx, &Lead{SessionID: "s1", LeadScore: 70}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	stamp := time.Now().Add(-10 * time.Minute).Truncate(time.Second)
	if err := s.SetLeadNotified(ctx, "s1", stamp); err != nil {
		t.Fatalf("set notified: %v", err)
	}

	// A later profile upsert carries no notified_at; the stamp must survive.
	if err := s.UpsertLead(ctx, &Lead{SessionID: "s1", LeadScore: 85}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	lead, err := s.GetLead(ctx, "s1")
	if err != nil {
		t.Fatalf("get lead: %v", err)
	}
	if lead == nil || lead.NotifiedAt == nil {
		t.Fatal("notified_at was cleared by the upsert")
	}
	if !lead.NotifiedAt.Equal(stamp) {
		t.Errorf("notified_at = %v, want %v", lead.NotifiedAt, stamp)
	}
	if lead.LeadScore != 85 {
		t.Errorf("lead score = %d, want 85", lead.LeadScore)
	}
}

func TestGetLeadMissing(t *testing.T) {
	s := newTestStore(t)
	lead, err := s.GetLead(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get lead: %v", err)
	}
	if lead != nil {
		t.Errorf("expected nil for an unknown session, got %+v", lead)
	}
}

func TestListLeadsMinScore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, score := range []int{20, 55, 90} {
		lead := &Lead{SessionID: string(rune('a' + i)), LeadScore: score}
		if err := s.UpsertLead(ctx, lead); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	leads, err := s.ListLeads(ctx, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(leads) != 2 {
		t.Fatalf("expected 2 leads at min score 50, got %d", len(leads))
	}
	if leads[0].LeadScore != 90 {
		t.Errorf("leads not ordered best first: %d", leads[0].LeadScore)
	}
}

func TestUnansweredLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, q := range []string{"visa fees for iceland", "scholarships in norway"} {
		if err := s.LogUnanswered(ctx, &UnansweredQuery{QueryText: q, SimilarityScore: 0.4, FallbackType: "GAP", SessionID: "s1"}); err != nil {
			t.Fatalf("log unanswered: %v", err)
		}
	}

	since := time.Now().Add(-time.Hour)
	pending, err := s.ListPendingUnanswered(ctx, since)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}

	var norway int64
	for _, q := range pending {
		if q.QueryText == "scholarships in norway" {
			norway = q.ID
		}
	}
	if err := s.MarkUnansweredNotified(ctx, []int64{norway}); err != nil {
		t.Fatalf("mark notified: %v", err)
	}

	pending, err = s.ListPendingUnanswered(ctx, since)
	if err != nil {
		t.Fatalf("list pending again: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending after mark, got %d", len(pending))
	}
	if pending[0].QueryText != "visa fees for iceland" {
		t.Errorf("wrong record left pending: %q", pending[0].QueryText)
	}
}

func TestMarkUnansweredNotifiedEmpty(t *testing.T) {
	s := newTestStore(t)
	if err := s.MarkUnansweredNotified(context.Background(), nil); err != nil {
		t.Fatalf("empty mark should be a no-op, got %v", err)
	}
}

func TestDocumentRegistry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AddDocument(ctx, &Document{Filename: "australia_visa.pdf", Topic: "Australia Visa", Chunks: 40}); err != nil {
		t.Fatalf("add document: %v", err)
	}
	// Re-registering the same file after a re-ingest updates it in place.
	if err := s.AddDocument(ctx, &Document{Filename: "australia_visa.pdf", Topic: "Australia Visa", Chunks: 55}); err != nil {
		t.Fatalf("re-add document: %v", err)
	}

	docs, err := s.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if docs[0].Chunks != 55 {
		t.Errorf("chunks = %d, want 55", docs[0].Chunks)
	}
}

func TestSaveConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.SaveConversation(ctx, &Conversation{
		SessionID:   "s1",
		UserMessage: "hello",
		AIResponse:  "hi there",
		RAGScore:    0.82,
	})
	if err != nil {
		t.Fatalf("save conversation: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations WHERE session_id = 's1'`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 conversation row, got %d", count)
	}
}
