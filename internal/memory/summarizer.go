package memory

import (
	"context"
	"fmt"
	"strings"

	"ivy-counsellor/internal/llm"
)

const summaryMaxTokens = 200

const summaryPrompt = `Summarize this conversation in 3 sentences, preserving key student details like scores, country interest, course preferences, and budget.

Conversation:
%s

Summary:`

// LLMSummarizer produces conversation digests through the completion client.
type LLMSummarizer struct {
	client llm.Client
}

func NewLLMSummarizer(client llm.Client) *LLMSummarizer {
	return &LLMSummarizer{client: client}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, messages []Message) (string, error) {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(strings.ToUpper(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}

	resp, err := s.client.Generate(ctx, []llm.Message{
		{Role: "user", Content: fmt.Sprintf(summaryPrompt, b.String())},
	}, summaryMaxTokens)
	if err != nil {
		return "", fmt.Errorf("summarize conversation: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}
