package llm

import "context"

type Message struct {
	Role    string
	Content string
}

type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client is the single entry point for every external completion call:
// answering, summarization, intent extraction and fallback classification.
// maxTokens bounds the response size; 0 means provider default.
type Client interface {
	Generate(ctx context.Context, messages []Message, maxTokens int) (Response, error)
}
