package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"ivy-counsellor/internal/intent"
	"ivy-counsellor/internal/store"
)

// Alert is one hot-lead notification rendered for every channel: plain
// text for chat channels, HTML for email.
type Alert struct {
	SessionID string
	Subject   string
	Text      string
	HTML      string
}

// Channel delivers an alert to one human-facing destination. Channels are
// independent; one failing must not affect the others.
type Channel interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// DispatchResult is the typed outcome of one channel attempt.
type DispatchResult struct {
	Channel string
	Err     error
}

// Notifier gates alert side effects behind a score threshold and a
// per-lead cooldown. It runs on the conversation hot path and therefore
// never surfaces an error to its caller.
type Notifier struct {
	repo      store.Repository
	channels  []Channel
	threshold int
	cooldown  time.Duration

	now func() time.Time
}

func New(repo store.Repository, channels []Channel, hotThreshold int, cooldown time.Duration) *Notifier {
	return &Notifier{
		repo:      repo,
		channels:  channels,
		threshold: hotThreshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// MaybeNotify persists the extraction result and, when the score clears
// the threshold and the lead is out of cooldown, dispatches every
// configured channel concurrently. The profile upsert happens regardless
// of dispatch so the admin view always shows the latest extraction.
func (n *Notifier) MaybeNotify(ctx context.Context, sessionID string, result *intent.Result) {
	if result == nil || result.LeadScore < n.threshold {
		return
	}

	if err := n.repo.UpsertLead(ctx, leadFromResult(sessionID, result)); err != nil {
		log.Printf("❌ Failed to upsert lead for session %s: %v", sessionID, err)
		return
	}

	if n.inCooldown(ctx, sessionID) {
		log.Printf("⏭️ Lead %s still in cooldown, alert suppressed (score %d)", sessionID, result.LeadScore)
		return
	}

	results := n.dispatch(ctx, buildAlert(sessionID, result))
	for _, r := range results {
		if r.Err != nil {
			log.Printf("❌ %s alert failed for session %s: %v", r.Channel, sessionID, r.Err)
		} else {
			log.Printf("📣 %s alert sent for session %s (score %d)", r.Channel, sessionID, result.LeadScore)
		}
	}

	// The stamp moves after attempting dispatch regardless of per-channel
	// outcomes; a flaky channel must not cause an alert storm.
	if err := n.repo.SetLeadNotified(ctx, sessionID, n.now()); err != nil {
		log.Printf("❌ Failed to stamp notified_at for session %s: %v", sessionID, err)
	}
}

func (n *Notifier) inCooldown(ctx context.Context, sessionID string) bool {
	lead, err := n.repo.GetLead(ctx, sessionID)
	if err != nil {
		log.Printf("⚠️ Cooldown check failed for session %s: %v", sessionID, err)
		return false
	}
	if lead == nil || lead.NotifiedAt == nil {
		return false
	}
	return n.now().Sub(*lead.NotifiedAt) < n.cooldown
}

// dispatch fans out to every channel and aggregates per-channel results.
func (n *Notifier) dispatch(ctx context.Context, a Alert) []DispatchResult {
	results := make([]DispatchResult, len(n.channels))
	var wg sync.WaitGroup
	for i, ch := range n.channels {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			results[i] = DispatchResult{Channel: ch.Name(), Err: ch.Send(ctx, a)}
		}(i, ch)
	}
	wg.Wait()
	return results
}

func leadFromResult(sessionID string, r *intent.Result) *store.Lead {
	return &store.Lead{
		SessionID:           sessionID,
		Name:                r.Profile.Name,
		Phone:               r.Profile.Phone,
		Email:               r.Profile.Email,
		TargetCourse:        r.Profile.TargetCourse,
		TargetCountry:       r.Profile.TargetCountry,
		TargetIntake:        r.Profile.TargetIntake,
		BudgetINR:           r.Profile.BudgetINR,
		IELTSScore:          r.Profile.IELTSScore,
		Percentage:          r.Profile.Percentage,
		LeadScore:           r.LeadScore,
		IntentLevel:         string(r.IntentLevel),
		ConversationSummary: r.ConversationSummary,
		RecommendedAction:   r.RecommendedAction,
	}
}

func buildAlert(sessionID string, r *intent.Result) Alert {
	return Alert{
		SessionID: sessionID,
		Subject:   "HOT LEAD - IVY AI Counsellor",
		Text:      textBody(sessionID, r),
		HTML:      htmlBody(sessionID, r),
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func textBody(sessionID string, r *intent.Result) string {
	p := r.Profile
	name := p.Name
	if name == "" {
		name = "Unknown"
	}
	phone := p.Phone
	if phone == "" {
		phone = "Not provided"
	}
	budget := "-"
	if p.BudgetINR > 0 {
		budget = fmt.Sprintf("%d", p.BudgetINR)
	}
	return fmt.Sprintf(
		"HOT LEAD ALERT - IVY AI Counsellor\n\n"+
			"Name: %s\nPhone: %s\n"+
			"Course: %s | Country: %s\n"+
			"Intake: %s | Budget: %s\n"+
			"IELTS: %s | Percentage: %s\n"+
			"Lead Score: %d/100\n\n"+
			"Summary: %s\nAction: %s\nSession: %s",
		name, phone,
		orDash(p.TargetCourse), orDash(p.TargetCountry),
		orDash(p.TargetIntake), budget,
		orDash(p.IELTSScore), orDash(p.Percentage),
		r.LeadScore,
		r.ConversationSummary, r.RecommendedAction, sessionID,
	)
}

func htmlBody(sessionID string, r *intent.Result) string {
	p := r.Profile
	budget := "-"
	if p.BudgetINR > 0 {
		budget = fmt.Sprintf("%d", p.BudgetINR)
	}
	rows := [][2]string{
		{"Name", orDash(p.Name)},
		{"Phone", orDash(p.Phone)},
		{"Email", orDash(p.Email)},
		{"Course", orDash(p.TargetCourse)},
		{"Country", orDash(p.TargetCountry)},
		{"Intake", orDash(p.TargetIntake)},
		{"Budget (INR)", budget},
		{"IELTS", orDash(p.IELTSScore)},
		{"Percentage", orDash(p.Percentage)},
		{"Lead Score", fmt.Sprintf("%d", r.LeadScore)},
		{"Intent", string(r.IntentLevel)},
	}
	trs := ""
	for _, row := range rows {
		trs += fmt.Sprintf("<tr><td style='padding:6px;border:1px solid #ccc'>%s</td><td style='padding:6px;border:1px solid #ccc'>%s</td></tr>", row[0], row[1])
	}
	return fmt.Sprintf(`
	<div style="font-family:sans-serif; max-width:600px;">
	  <h2 style="color:#1B5E20">HOT LEAD ALERT - IVY AI Counsellor</h2>
	  <p><strong>Session:</strong> %s</p>
	  <table style="border-collapse:collapse;">%s</table>
	  <p><strong>Summary:</strong> %s</p>
	  <p><strong>Recommended action:</strong> %s</p>
	  <p style="color:#1B5E20; margin-top:24px;">IVY Overseas</p>
	</div>`, sessionID, trs, r.ConversationSummary, r.RecommendedAction)
}
