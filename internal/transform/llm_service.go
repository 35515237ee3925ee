package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MimeLyc/chunked-sql-translator/internal/llm"
)

// ChatClient is the part of llm.Client the service needs.
type ChatClient interface {
	ChatCompletion(ctx context.Context, messages []llm.Message, opts *llm.ChatCompletionOptions) (*llm.ChatResponse, error)
}

// LLMService implements Service over an OpenAI-compatible chat endpoint.
type LLMService struct {
	client ChatClient
}

func NewLLMService(client ChatClient) *LLMService {
	return &LLMService{client: client}
}

func (s *LLMService) Transform(ctx context.Context, req Request) (*Result, error) {
	opts := llm.NewChatCompletionOptions().
		WithSystemPrompt(req.Instruction).
		WithJSONMode(true)

	resp, err := s.client.ChatCompletion(ctx, []llm.Message{{Role: "user", Content: req.Text}}, opts)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	text, err := ParseAnswer(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	return &Result{Text: text}, nil
}

// ParseAnswer extracts the text field from a model answer. The answer may be
// wrapped in a fenced code block; a non-JSON answer is taken verbatim.
func ParseAnswer(content string) (string, error) {
	body := stripFence(strings.TrimSpace(content))
	if body == "" {
		return "", nil
	}
	if !strings.HasPrefix(body, "{") {
		return body, nil
	}

	var answer map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &answer); err != nil {
		return "", fmt.Errorf("decode answer: %w", err)
	}
	for _, field := range []string{"text", "sql", "prompt"} {
		raw, ok := answer[field]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return "", fmt.Errorf("answer field %q is not a string: %w", field, err)
		}
		return text, nil
	}
	return "", fmt.Errorf("answer has no text field")
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		return ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
