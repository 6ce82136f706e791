package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ivy-counsellor/internal/intent"
	"ivy-counsellor/internal/store"
)

type fakeRepo struct {
	mu       sync.Mutex
	leads    map[string]*store.Lead
	upserts  int
	stamps   int
	getErr   error
	upsertEr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{leads: make(map[string]*store.Lead)}
}

func (f *fakeRepo) UpsertLead(_ context.Context, lead *store.Lead) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertEr != nil {
		return f.upsertEr
	}
	f.upserts++
	prev := f.leads[lead.SessionID]
	cp := *lead
	if cp.NotifiedAt == nil && prev != nil {
		cp.NotifiedAt = prev.NotifiedAt
	}
	f.leads[lead.SessionID] = &cp
	return nil
}

func (f *fakeRepo) GetLead(_ context.Context, sessionID string) (*store.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	lead, ok := f.leads[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *lead
	return &cp, nil
}

func (f *fakeRepo) SetLeadNotified(_ context.Context, sessionID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stamps++
	if lead, ok := f.leads[sessionID]; ok {
		t := at
		lead.NotifiedAt = &t
	}
	return nil
}

func (f *fakeRepo) ListLeads(context.Context, int) ([]*store.Lead, error) { return nil, nil }
func (f *fakeRepo) LogUnanswered(context.Context, *store.UnansweredQuery) error {
	return nil
}
func (f *fakeRepo) ListPendingUnanswered(context.Context, time.Time) ([]*store.UnansweredQuery, error) {
	return nil, nil
}
func (f *fakeRepo) MarkUnansweredNotified(context.Context, []int64) error { return nil }
func (f *fakeRepo) SaveConversation(context.Context, *store.Conversation) error {
	return nil
}
func (f *fakeRepo) AddDocument(context.Context, *store.Document) error { return nil }
func (f *fakeRepo) ListDocuments(context.Context) ([]*store.Document, error) {
	return nil, nil
}
func (f *fakeRepo) Ping(context.Context) error { return nil }
func (f *fakeRepo) Close() error               { return nil }

type fakeChannel struct {
	mu    sync.Mutex
	name  string
	sends int
	err   error
}

func (f *fakeChannel) Name() string { return f.name }
func (f *fakeChannel) Send(context.Context, Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	return f.err
}

func (f *fakeChannel) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

func hotResult(score int) *intent.Result {
	return &intent.Result{
		IntentLevel:         intent.TierFor(score),
		LeadScore:           score,
		Profile:             intent.Profile{Name: "Priya", Phone: "9876543210"},
		ConversationSummary: "wants Canada MS",
		RecommendedAction:   "call now",
	}
}

func TestBelowThresholdNoSideEffects(t *testing.T) {
	repo := newFakeRepo()
	ch := &fakeChannel{name: "whatsapp"}
	n := New(repo, []Channel{ch}, 60, 30*time.Minute)

	n.MaybeNotify(context.Background(), "s1", hotResult(59))

	if repo.upserts != 0 || ch.sent() != 0 || repo.stamps != 0 {
		t.Fatalf("score below threshold caused side effects: upserts=%d sends=%d stamps=%d",
			repo.upserts, ch.sent(), repo.stamps)
	}
}

func TestQualifyingScoreDispatchesOnce(t *testing.T) {
	repo := newFakeRepo()
	wa := &fakeChannel{name: "whatsapp"}
	em := &fakeChannel{name: "email"}
	n := New(repo, []Channel{wa, em}, 60, 30*time.Minute)

	n.MaybeNotify(context.Background(), "s1", hotResult(61))

	if wa.sent() != 1 || em.sent() != 1 {
		t.Fatalf("sends = %d/%d, want 1/1", wa.sent(), em.sent())
	}
	if repo.upserts != 1 || repo.stamps != 1 {
		t.Fatalf("upserts=%d stamps=%d, want 1/1", repo.upserts, repo.stamps)
	}
	lead := repo.leads["s1"]
	if lead == nil || lead.NotifiedAt == nil {
		t.Fatal("lead not stamped after dispatch")
	}
}

func TestCooldownSuppressesDispatchButUpdatesProfile(t *testing.T) {
	repo := newFakeRepo()
	ch := &fakeChannel{name: "whatsapp"}
	n := New(repo, []Channel{ch}, 60, 30*time.Minute)

	base := time.Now()
	n.now = func() time.Time { return base }
	n.MaybeNotify(context.Background(), "s1", hotResult(61))

	n.now = func() time.Time { return base.Add(10 * time.Minute) }
	n.MaybeNotify(context.Background(), "s1", hotResult(90))

	if ch.sent() != 1 {
		t.Fatalf("sends = %d, want 1 (second alert in cooldown)", ch.sent())
	}
	if repo.upserts != 2 {
		t.Fatalf("upserts = %d, want 2 (profile updated despite cooldown)", repo.upserts)
	}
	if repo.leads["s1"].LeadScore != 90 {
		t.Fatalf("profile score = %d, want latest 90", repo.leads["s1"].LeadScore)
	}

	// After the cooldown elapses a qualifying score dispatches again.
	n.now = func() time.Time { return base.Add(31 * time.Minute) }
	n.MaybeNotify(context.Background(), "s1", hotResult(80))
	if ch.sent() != 2 {
		t.Fatalf("sends = %d, want 2 after cooldown elapsed", ch.sent())
	}
}

func TestChannelFailuresAreIndependent(t *testing.T) {
	repo := newFakeRepo()
	broken := &fakeChannel{name: "whatsapp", err: errors.New("api down")}
	ok := &fakeChannel{name: "email"}
	n := New(repo, []Channel{broken, ok}, 60, 30*time.Minute)

	n.MaybeNotify(context.Background(), "s1", hotResult(70))

	if ok.sent() != 1 {
		t.Fatalf("healthy channel not attempted: sends=%d", ok.sent())
	}
	if repo.upserts != 1 {
		t.Fatal("channel failure rolled back the profile upsert")
	}
	// Stamp still advances after an attempted dispatch.
	if repo.stamps != 1 {
		t.Fatalf("stamps = %d, want 1", repo.stamps)
	}
}

func TestNilResultIgnored(t *testing.T) {
	repo := newFakeRepo()
	n := New(repo, nil, 60, 30*time.Minute)
	n.MaybeNotify(context.Background(), "s1", nil)
	if repo.upserts != 0 {
		t.Fatal("nil result should be a no-op")
	}
}

func TestNormalizeNumber(t *testing.T) {
	cases := map[string]string{
		"+91 98765 43210": "919876543210",
		"9876543210":      "919876543210",
		"919876543210":    "919876543210",
		"+14155552671":    "14155552671",
	}
	for in, want := range cases {
		if got := normalizeNumber(in); got != want {
			t.Errorf("normalizeNumber(%q) = %q, want %q", in, got, want)
		}
	}
}
