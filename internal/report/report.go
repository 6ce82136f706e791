package report

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"time"

	"ivy-counsellor/internal/notify"
	"ivy-counsellor/internal/store"
)

const reportDays = 7

// topicClusters maps a report topic onto the keywords that pull a query
// into it. First match wins, scanned in a fixed order.
var topicClusters = []struct {
	Topic    string
	Keywords []string
}{
	{"IELTS / PTE", []string{"ielts", "pte", "english test", "band score", "listening", "speaking", "writing score"}},
	{"Australia Visa", []string{"australia", "subclass 500", "oshc", "aus visa", "australian"}},
	{"Canada Visa", []string{"canada", "ircc", "study permit", "canadian"}},
	{"UK Visa", []string{"uk", "united kingdom", "tier 4", "cas number", "british"}},
	{"USA Visa", []string{"usa", "united states", "f-1", "f1 visa", "sevis", "american"}},
	{"Germany Visa", []string{"germany", "german", "blocked account", "aps"}},
	{"Scholarships", []string{"scholarship", "grant", "funding", "bursary", "stipend", "fellowship"}},
	{"SOP / LOR", []string{"sop", "statement of purpose", "lor", "recommendation", "personal statement"}},
	{"University Ranking", []string{"ranking", "qs rank", "top university", "best university", "university list"}},
	{"Tuition Fees", []string{"fee", "tuition", "cost", "afford", "expensive", "budget", "lakhs"}},
	{"Post Study Work", []string{"post study", "work visa", "pr", "permanent resident", "after studies", "485"}},
	{"Accommodation", []string{"accommodation", "housing", "hostel", "rent", "staying", "where to live"}},
	{"Part Time Work", []string{"part time", "work while", "hours", "earn", "job during"}},
	{"Application", []string{"application", "apply", "deadline", "portal", "ucas", "common app"}},
	{"GPA / Percentage", []string{"gpa", "percentage", "marks", "grade", "aggregate", "cgpa"}},
}

const otherTopic = "Other"

// Topic is one ranked cluster of unanswered queries in the weekly report.
type Topic struct {
	Name          string
	Count         int
	FallbackTypes map[string]int
	Samples       []string
	AvgScore      float64
	QueryIDs      []int64
}

// Generator builds the weekly knowledge-gap report from logged retrieval
// misses and mails it to the admin.
type Generator struct {
	repo  store.Repository
	email notify.Channel
	now   func() time.Time
}

func NewGenerator(repo store.Repository, email notify.Channel) *Generator {
	return &Generator{repo: repo, email: email, now: time.Now}
}

// Run fetches the pending misses from the last week, groups and ranks
// them, sends the report and marks the covered records notified so the
// next run skips them.
func (g *Generator) Run(ctx context.Context) error {
	since := g.now().AddDate(0, 0, -reportDays)
	queries, err := g.repo.ListPendingUnanswered(ctx, since)
	if err != nil {
		return fmt.Errorf("fetch unanswered queries: %w", err)
	}
	if len(queries) == 0 {
		log.Printf("📊 Gap report: no unanswered queries in the last %d days, skipping", reportDays)
		return nil
	}

	topics := RankTopics(GroupQueries(queries))
	subject, html := buildEmail(topics, len(queries), g.now())

	if g.email == nil {
		return fmt.Errorf("gap report email channel not configured")
	}
	if err := g.email.Send(ctx, notify.Alert{Subject: subject, HTML: html, Text: subject}); err != nil {
		return fmt.Errorf("send gap report: %w", err)
	}

	var covered []int64
	for _, t := range topics {
		covered = append(covered, t.QueryIDs...)
	}
	if err := g.repo.MarkUnansweredNotified(ctx, covered); err != nil {
		return fmt.Errorf("mark queries notified: %w", err)
	}

	log.Printf("📊 Gap report sent: %d queries across %d topics", len(queries), len(topics))
	return nil
}

var punctRe = regexp.MustCompile(`[^\w\s]`)
var spaceRe = regexp.MustCompile(`\s+`)

// Normalise lowercases a query, strips punctuation and collapses runs of
// whitespace so keyword matching is stable.
func Normalise(text string) string {
	text = strings.ToLower(text)
	text = punctRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
}

// AssignTopic buckets a query into the first matching cluster, or Other.
func AssignTopic(query string) string {
	q := Normalise(query)
	for _, c := range topicClusters {
		for _, kw := range c.Keywords {
			if strings.Contains(q, kw) {
				return c.Topic
			}
		}
	}
	return otherTopic
}

// GroupQueries buckets miss records by topic cluster.
func GroupQueries(queries []*store.UnansweredQuery) map[string][]*store.UnansweredQuery {
	groups := make(map[string][]*store.UnansweredQuery)
	for _, q := range queries {
		topic := AssignTopic(q.QueryText)
		groups[topic] = append(groups[topic], q)
	}
	return groups
}

// RankTopics orders clusters by frequency and keeps the top 10, each with
// its three shortest (most specific) sample queries and average match
// score.
func RankTopics(groups map[string][]*store.UnansweredQuery) []Topic {
	ranked := make([]Topic, 0, len(groups))
	for name, queries := range groups {
		t := Topic{Name: name, Count: len(queries), FallbackTypes: make(map[string]int)}
		var scoreSum float64
		samples := make([]string, 0, len(queries))
		for _, q := range queries {
			ft := q.FallbackType
			if ft == "" {
				ft = "UNKNOWN"
			}
			t.FallbackTypes[ft]++
			scoreSum += q.SimilarityScore
			samples = append(samples, q.QueryText)
			t.QueryIDs = append(t.QueryIDs, q.ID)
		}
		t.AvgScore = scoreSum / float64(len(queries))
		sort.Slice(samples, func(i, j int) bool { return len(samples[i]) < len(samples[j]) })
		if len(samples) > 3 {
			samples = samples[:3]
		}
		t.Samples = samples
		ranked = append(ranked, t)
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Count > ranked[j].Count })
	if len(ranked) > 10 {
		ranked = ranked[:10]
	}
	return ranked
}

func buildEmail(topics []Topic, total int, at time.Time) (subject, html string) {
	date := at.Format("02 Jan 2006")
	subject = fmt.Sprintf("IVY AI Weekly Gap Report — %s — %d Topics Need PDF Updates", date, len(topics))

	var rows strings.Builder
	for i, t := range topics {
		var samples strings.Builder
		for _, s := range t.Samples {
			if len(s) > 120 {
				s = s[:120]
			}
			fmt.Fprintf(&samples, "<li style='margin:3px 0;color:#616161;font-size:12px'>%s</li>", s)
		}
		var tags strings.Builder
		for ft, cnt := range t.FallbackTypes {
			fmt.Fprintf(&tags, "<span style='padding:2px 8px;border-radius:10px;font-size:10px;font-weight:700;margin:2px;background:#F5F5F5;color:#616161'>%s ×%d</span>", ft, cnt)
		}
		fmt.Fprintf(&rows, `
		<tr>
		  <td style="padding:14px 12px;text-align:center;font-weight:700;border-bottom:1px solid #E0E0E0">#%d</td>
		  <td style="padding:14px 12px;border-bottom:1px solid #E0E0E0">
		    <div style="font-weight:700;font-size:14px">%s</div>
		    <ul style="margin:6px 0 4px 16px;padding:0">%s</ul>
		    <div style="margin-top:6px">%s</div>
		  </td>
		  <td style="padding:14px 12px;text-align:center;border-bottom:1px solid #E0E0E0;font-weight:800">%d</td>
		  <td style="padding:14px 12px;text-align:center;border-bottom:1px solid #E0E0E0;color:#616161">%.2f</td>
		</tr>`, i+1, t.Name, samples.String(), tags.String(), t.Count, t.AvgScore)
	}

	html = fmt.Sprintf(`
	<div style="font-family:sans-serif;max-width:700px">
	  <h2 style="color:#1B5E20">IVY AI Weekly Gap Report</h2>
	  <p style="color:#616161">%s · %d unanswered queries in the last %d days</p>
	  <table style="border-collapse:collapse;width:100%%">
	    <tr style="background:#1B5E20;color:#FFFFFF">
	      <th style="padding:10px">Rank</th>
	      <th style="padding:10px;text-align:left">Topic</th>
	      <th style="padding:10px">Asked</th>
	      <th style="padding:10px">Avg Match</th>
	    </tr>%s
	  </table>
	  <p style="color:#1B5E20;margin-top:24px">IVY Overseas</p>
	</div>`, date, total, reportDays, rows.String())
	return subject, html
}
