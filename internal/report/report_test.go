package report

import (
	"context"
	"strings"
	"testing"
	"time"

	"ivy-counsellor/internal/notify"
	"ivy-counsellor/internal/store"
)

type fakeRepo struct {
	pending   []*store.UnansweredQuery
	listErr   error
	markedIDs []int64
}

func (r *fakeRepo) UpsertLead(ctx context.Context, lead *store.Lead) error { return nil }
func (r *fakeRepo) GetLead(ctx context.Context, sessionID string) (*store.Lead, error) {
	return nil, nil
}
func (r *fakeRepo) SetLeadNotified(ctx context.Context, sessionID string, at time.Time) error {
	return nil
}
func (r *fakeRepo) ListLeads(ctx context.Context, minScore int) ([]*store.Lead, error) {
	return nil, nil
}
func (r *fakeRepo) LogUnanswered(ctx context.Context, q *store.UnansweredQuery) error { return nil }
func (r *fakeRepo) ListPendingUnanswered(ctx context.Context, since time.Time) ([]*store.UnansweredQuery, error) {
	return r.pending, r.listErr
}
func (r *fakeRepo) MarkUnansweredNotified(ctx context.Context, ids []int64) error {
	r.markedIDs = append(r.markedIDs, ids...)
	return nil
}
func (r *fakeRepo) SaveConversation(ctx context.Context, c *store.Conversation) error { return nil }
func (r *fakeRepo) AddDocument(ctx context.Context, d *store.Document) error          { return nil }
func (r *fakeRepo) ListDocuments(ctx context.Context) ([]*store.Document, error) {
	return nil, nil
}
func (r *fakeRepo) Ping(ctx context.Context) error                                    { return nil }
func (r *fakeRepo) Close() error                                                      { return nil }

type captureChannel struct {
	sent []notify.Alert
	err  error
}

func (c *captureChannel) Name() string { return "capture" }
func (c *captureChannel) Send(ctx context.Context, a notify.Alert) error {
	c.sent = append(c.sent, a)
	return c.err
}

func TestAssignTopic(t *testing.T) {
	cases := []struct {
		query string
		want  string
	}{
		{"What IELTS band do I need for Melbourne?", "IELTS / PTE"},
		{"How much is the blocked account for Germany?", "Germany Visa"},
		{"Are there scholarships for MS in Canada?", "Scholarships"},
		{"My dog ate my homework", "Other"},
		{"SOP format for masters??", "SOP / LOR"},
		{"tuition FEE for oxford", "Tuition Fees"},
	}
	for _, tc := range cases {
		if got := AssignTopic(tc.query); got != tc.want {
			t.Errorf("AssignTopic(%q) = %q, want %q", tc.query, got, tc.want)
		}
	}
}

func TestNormalise(t *testing.T) {
	got := Normalise("  What's   the IELTS score?! ")
	want := "what s the ielts score"
	if got != want {
		t.Errorf("Normalise = %q, want %q", got, want)
	}
}

func queriesFor(topicText string, n int) []*store.UnansweredQuery {
	var out []*store.UnansweredQuery
	for i := 0; i < n; i++ {
		out = append(out, &store.UnansweredQuery{
			ID:              int64(100*n + i),
			QueryText:       topicText + strings.Repeat(" more", i),
			SimilarityScore: 0.4,
			FallbackType:    "GAP",
		})
	}
	return out
}

func TestRankTopics(t *testing.T) {
	groups := GroupQueries(append(queriesFor("ielts score needed", 5), queriesFor("scholarship options", 2)...))
	ranked := RankTopics(groups)

	if len(ranked) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(ranked))
	}
	if ranked[0].Name != "IELTS / PTE" || ranked[0].Count != 5 {
		t.Errorf("top topic = %s (%d), want IELTS / PTE (5)", ranked[0].Name, ranked[0].Count)
	}
	if ranked[0].FallbackTypes["GAP"] != 5 {
		t.Errorf("GAP count = %d, want 5", ranked[0].FallbackTypes["GAP"])
	}
	if len(ranked[0].Samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(ranked[0].Samples))
	}
	// Shortest first when trimming to three.
	if ranked[0].Samples[0] != "ielts score needed" {
		t.Errorf("first sample = %q, want shortest query", ranked[0].Samples[0])
	}
	if ranked[0].AvgScore < 0.39 || ranked[0].AvgScore > 0.41 {
		t.Errorf("avg score = %f, want 0.4", ranked[0].AvgScore)
	}
}

func TestRankTopicsKeepsTopTen(t *testing.T) {
	groups := make(map[string][]*store.UnansweredQuery)
	for i := 0; i < 12; i++ {
		name := string(rune('A' + i))
		groups[name] = queriesFor("query "+name, i+1)
	}
	ranked := RankTopics(groups)
	if len(ranked) != 10 {
		t.Fatalf("expected 10 topics, got %d", len(ranked))
	}
	if ranked[0].Count != 12 {
		t.Errorf("top count = %d, want 12", ranked[0].Count)
	}
}

func TestRunSendsReportAndMarks(t *testing.T) {
	repo := &fakeRepo{pending: append(queriesFor("canada study permit", 3), queriesFor("part time work hours", 1)...)}
	ch := &captureChannel{}
	g := NewGenerator(repo, ch)
	g.now = func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) }

	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(ch.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(ch.sent))
	}
	subject := ch.sent[0].Subject
	if !strings.Contains(subject, "10 Mar 2025") || !strings.Contains(subject, "2 Topics") {
		t.Errorf("unexpected subject: %q", subject)
	}
	if !strings.Contains(ch.sent[0].HTML, "Canada Visa") {
		t.Errorf("HTML missing top topic: %s", ch.sent[0].HTML)
	}
	if len(repo.markedIDs) != 4 {
		t.Errorf("marked %d queries, want 4", len(repo.markedIDs))
	}
}

func TestRunSkipsWhenNothingPending(t *testing.T) {
	repo := &fakeRepo{}
	ch := &captureChannel{}
	g := NewGenerator(repo, ch)

	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(ch.sent) != 0 {
		t.Errorf("expected no email, got %d", len(ch.sent))
	}
	if len(repo.markedIDs) != 0 {
		t.Errorf("expected no marks, got %d", len(repo.markedIDs))
	}
}
