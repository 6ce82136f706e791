package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"ivy-counsellor/internal/llm"
	"ivy-counsellor/internal/memory"
)

// Level is the intent tier of a conversation, ordered from idle curiosity
// to an actionable lead.
type Level string

const (
	LevelBrowsing    Level = "BROWSING"
	LevelResearching Level = "RESEARCHING"
	LevelConsidering Level = "CONSIDERING"
	LevelHotLead     Level = "HOT_LEAD"
)

// Profile holds the contact and target attributes extracted from free text.
// Every field is optional; empty means the conversation never revealed it.
type Profile struct {
	Name          string
	Phone         string
	Email         string
	TargetCourse  string
	TargetCountry string
	TargetIntake  string
	BudgetINR     int64
	IELTSScore    string
	Percentage    string
}

// Result is one extraction outcome over a session's visible context.
type Result struct {
	IntentLevel         Level
	LeadScore           int
	Profile             Profile
	ConversationSummary string
	RecommendedAction   string
}

const (
	transcriptTurns = 20
	turnChars       = 300
	extractTokens   = 600
)

const extractPrompt = `You are analyzing a study-abroad counselling conversation. Extract intent and profile. Reply with valid JSON only, no markdown.

Scoring signals (add to lead_score):
+10 IELTS or PTE score mentioned
+10 percentage or GPA mentioned
+10 budget or lakhs mentioned
+5 specific country mentioned
+5 specific course mentioned
+15 specific intake (e.g. Fall 2025)
+10 urgency: urgent, this month, asap
+20 asks about IVY Overseas services
+25 asks to book counselling session
+25 shares 10-digit phone number

Intent levels by score: 0-30 BROWSING, 31-50 RESEARCHING, 51-60 CONSIDERING, 61-100 HOT_LEAD.

Output JSON exactly:
{
  "intent_level": "BROWSING|RESEARCHING|CONSIDERING|HOT_LEAD",
  "lead_score": 0,
  "extracted_profile": {
    "name": null,
    "phone": null,
    "email": null,
    "target_course": null,
    "target_country": null,
    "target_intake": null,
    "budget_inr": null,
    "ielts_score": null,
    "percentage": null
  },
  "conversation_summary": "2 sentence summary",
  "recommended_action": "what counsellor should do"
}`

// Extractor derives a structured lead profile and score from a session's
// conversation. It is expensive and meant to run on a cadence decided by
// the caller, not on every message.
type Extractor struct {
	sessions *memory.Manager
	client   llm.Client
}

func New(sessions *memory.Manager, client llm.Client) *Extractor {
	return &Extractor{sessions: sessions, client: client}
}

// Run extracts intent and profile for the session. It returns nil when
// there is nothing to extract or when the extraction call or its payload
// is unusable; failures never reach the caller.
func (e *Extractor) Run(ctx context.Context, sessionID string) *Result {
	msgs := e.sessions.GetContext(sessionID)
	if len(msgs) == 0 {
		return nil
	}

	resp, err := e.client.Generate(ctx, []llm.Message{
		{Role: "user", Content: extractPrompt + "\n\nConversation:\n" + buildTranscript(msgs)},
	}, extractTokens)
	if err != nil {
		log.Printf("⚠️ Intent extraction failed for session %s: %v", sessionID, err)
		return nil
	}

	result, err := parsePayload(resp.Content)
	if err != nil {
		log.Printf("⚠️ Failed to parse intent payload for session %s: %v", sessionID, err)
		return nil
	}
	return result
}

// buildTranscript bounds the request: most recent turns only, each capped
// to a fixed character length.
func buildTranscript(msgs []memory.Message) string {
	if len(msgs) > transcriptTurns {
		msgs = msgs[len(msgs)-transcriptTurns:]
	}
	var b strings.Builder
	for _, m := range msgs {
		content := m.Content
		if len(content) > turnChars {
			content = content[:turnChars]
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.String()
}

type wirePayload struct {
	IntentLevel         string      `json:"intent_level"`
	LeadScore           json.Number `json:"lead_score"`
	ExtractedProfile    wireProfile `json:"extracted_profile"`
	ConversationSummary string      `json:"conversation_summary"`
	RecommendedAction   string      `json:"recommended_action"`
}

type wireProfile struct {
	Name          interface{} `json:"name"`
	Phone         interface{} `json:"phone"`
	Email         interface{} `json:"email"`
	TargetCourse  interface{} `json:"target_course"`
	TargetCountry interface{} `json:"target_country"`
	TargetIntake  interface{} `json:"target_intake"`
	BudgetINR     interface{} `json:"budget_inr"`
	IELTSScore    interface{} `json:"ielts_score"`
	Percentage    interface{} `json:"percentage"`
}

// parsePayload isolates the JSON object in the completion output (models
// wrap it in markdown fences at times) and decodes it.
func parsePayload(content string) (*Result, error) {
	jsonStart := strings.Index(content, "{")
	jsonEnd := strings.LastIndex(content, "}")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		return nil, fmt.Errorf("no JSON found in extraction response")
	}

	var payload wirePayload
	if err := json.Unmarshal([]byte(content[jsonStart:jsonEnd+1]), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse extraction JSON: %w", err)
	}

	score := 0
	if v, err := payload.LeadScore.Int64(); err == nil {
		score = int(v)
	} else if f, err := payload.LeadScore.Float64(); err == nil {
		score = int(f)
	}
	score = clamp(score, 0, 100)

	return &Result{
		// The decoded tier is advisory; the score is authoritative so the
		// two can never disagree.
		IntentLevel: TierFor(score),
		LeadScore:   score,
		Profile: Profile{
			Name:          asString(payload.ExtractedProfile.Name),
			Phone:         asString(payload.ExtractedProfile.Phone),
			Email:         asString(payload.ExtractedProfile.Email),
			TargetCourse:  asString(payload.ExtractedProfile.TargetCourse),
			TargetCountry: asString(payload.ExtractedProfile.TargetCountry),
			TargetIntake:  asString(payload.ExtractedProfile.TargetIntake),
			BudgetINR:     asInt64(payload.ExtractedProfile.BudgetINR),
			IELTSScore:    asString(payload.ExtractedProfile.IELTSScore),
			Percentage:    asString(payload.ExtractedProfile.Percentage),
		},
		ConversationSummary: payload.ConversationSummary,
		RecommendedAction:   payload.RecommendedAction,
	}, nil
}

// TierFor maps a lead score onto its intent tier. The mapping is monotonic
// non-decreasing in the score.
func TierFor(score int) Level {
	switch {
	case score <= 30:
		return LevelBrowsing
	case score <= 50:
		return LevelResearching
	case score <= 60:
		return LevelConsidering
	default:
		return LevelHotLead
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// asString tolerates models emitting numbers where text was asked for.
func asString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
