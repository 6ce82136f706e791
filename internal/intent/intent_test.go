package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"ivy-counsellor/internal/llm"
	"ivy-counsellor/internal/memory"
)

type fakeClient struct {
	content string
	err     error
	lastReq []llm.Message
}

func (f *fakeClient) Generate(_ context.Context, msgs []llm.Message, _ int) (llm.Response, error) {
	f.lastReq = msgs
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Content: f.content}, nil
}

type noopSummarizer struct{}

func (noopSummarizer) Summarize(context.Context, []memory.Message) (string, error) {
	return "digest", nil
}

func newSessions() *memory.Manager {
	return memory.NewManager(noopSummarizer{}, 10, 30*time.Minute)
}

func TestTierForBoundaries(t *testing.T) {
	cases := []struct {
		score int
		want  Level
	}{
		{0, LevelBrowsing},
		{30, LevelBrowsing},
		{31, LevelResearching},
		{45, LevelResearching},
		{50, LevelResearching},
		{51, LevelConsidering},
		{55, LevelConsidering},
		{60, LevelConsidering},
		{61, LevelHotLead},
		{85, LevelHotLead},
		{100, LevelHotLead},
	}
	for _, c := range cases {
		if got := TierFor(c.score); got != c.want {
			t.Errorf("TierFor(%d) = %s, want %s", c.score, got, c.want)
		}
	}
}

func TestRunEmptySessionReturnsNil(t *testing.T) {
	e := New(newSessions(), &fakeClient{content: "{}"})
	if r := e.Run(context.Background(), "empty"); r != nil {
		t.Fatalf("expected nil for session with no turns, got %+v", r)
	}
}

func TestRunParsesMarkdownWrappedPayload(t *testing.T) {
	fc := &fakeClient{content: "```json\n" + `{
		"intent_level": "HOT_LEAD",
		"lead_score": 75,
		"extracted_profile": {
			"name": "Priya",
			"phone": "9876543210",
			"email": null,
			"target_course": "MS Computer Science",
			"target_country": "Canada",
			"target_intake": "Fall 2026",
			"budget_inr": 2500000,
			"ielts_score": 7.5,
			"percentage": null
		},
		"conversation_summary": "Priya wants an MS in Canada.",
		"recommended_action": "Call within 24 hours."
	}` + "\n```"}

	sessions := newSessions()
	sessions.AddMessage(context.Background(), "s1", memory.RoleUser, "I want to study in Canada")
	sessions.AddMessage(context.Background(), "s1", memory.RoleAssistant, "Great choice!")

	r := New(sessions, fc).Run(context.Background(), "s1")
	if r == nil {
		t.Fatal("expected a result")
	}
	if r.IntentLevel != LevelHotLead || r.LeadScore != 75 {
		t.Fatalf("got %s/%d, want HOT_LEAD/75", r.IntentLevel, r.LeadScore)
	}
	if r.Profile.Name != "Priya" || r.Profile.Phone != "9876543210" {
		t.Fatalf("profile contact wrong: %+v", r.Profile)
	}
	if r.Profile.BudgetINR != 2500000 {
		t.Fatalf("budget = %d, want 2500000", r.Profile.BudgetINR)
	}
	// Numeric IELTS score coerced to text.
	if r.Profile.IELTSScore != "7.5" {
		t.Fatalf("ielts = %q, want 7.5", r.Profile.IELTSScore)
	}
	if r.Profile.Email != "" || r.Profile.Percentage != "" {
		t.Fatalf("null fields should stay empty: %+v", r.Profile)
	}
}

func TestRunTierForcedConsistentWithScore(t *testing.T) {
	// Model claims HOT_LEAD but the score says otherwise.
	fc := &fakeClient{content: `{"intent_level":"HOT_LEAD","lead_score":20,"extracted_profile":{},"conversation_summary":"","recommended_action":""}`}
	sessions := newSessions()
	sessions.AddMessage(context.Background(), "s1", memory.RoleUser, "hi")

	r := New(sessions, fc).Run(context.Background(), "s1")
	if r == nil {
		t.Fatal("expected a result")
	}
	if r.IntentLevel != LevelBrowsing {
		t.Fatalf("tier = %s, want BROWSING for score 20", r.IntentLevel)
	}
}

func TestRunClampsScore(t *testing.T) {
	fc := &fakeClient{content: `{"intent_level":"HOT_LEAD","lead_score":140,"extracted_profile":{},"conversation_summary":"","recommended_action":""}`}
	sessions := newSessions()
	sessions.AddMessage(context.Background(), "s1", memory.RoleUser, "hi")

	r := New(sessions, fc).Run(context.Background(), "s1")
	if r == nil {
		t.Fatal("expected a result")
	}
	if r.LeadScore != 100 {
		t.Fatalf("score = %d, want clamped to 100", r.LeadScore)
	}
}

func TestRunFailuresYieldNil(t *testing.T) {
	sessions := newSessions()
	sessions.AddMessage(context.Background(), "s1", memory.RoleUser, "hi")

	if r := New(sessions, &fakeClient{err: errors.New("timeout")}).Run(context.Background(), "s1"); r != nil {
		t.Fatalf("call failure should yield nil, got %+v", r)
	}
	if r := New(sessions, &fakeClient{content: "sorry, I cannot help"}).Run(context.Background(), "s1"); r != nil {
		t.Fatalf("non-JSON payload should yield nil, got %+v", r)
	}
	if r := New(sessions, &fakeClient{content: `{"lead_score": "broken`}).Run(context.Background(), "s1"); r != nil {
		t.Fatalf("malformed JSON should yield nil, got %+v", r)
	}
}

func TestBuildTranscriptBounds(t *testing.T) {
	var msgs []memory.Message
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	for i := 0; i < 30; i++ {
		msgs = append(msgs, memory.Message{Role: memory.RoleUser, Content: string(long)})
	}

	tr := buildTranscript(msgs)
	lines := 0
	for _, c := range tr {
		if c == '\n' {
			lines++
		}
	}
	if lines != transcriptTurns {
		t.Fatalf("transcript has %d turns, want %d", lines, transcriptTurns)
	}
	// Each line: "user: " + 300 chars + newline.
	wantLine := len("user: ") + turnChars + 1
	if len(tr) != transcriptTurns*wantLine {
		t.Fatalf("transcript length = %d, want %d", len(tr), transcriptTurns*wantLine)
	}
}
