// Package drafting turns an assessor's rough notes into a structured issue
// draft using an LLM. The result is a suggestion only; nothing is persisted
// until the user saves the issue.
package drafting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"a11y_platform/assessment_hub/wcag"

	"github.com/sashabaranov/go-openai"
)

type DraftRequest struct {
	ProjectName string `json:"project_name"`
	PageUrl     string `json:"page_url"`
	Selector    string `json:"selector"`
	CodeSnippet string `json:"code_snippet"`
	Notes       string `json:"notes"`
}

type IssueDraft struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Severity      string   `json:"severity"`
	CriteriaCodes []string `json:"criteria_codes"`
}

type Drafter interface {
	DraftIssue(ctx context.Context, req DraftRequest) (IssueDraft, error)
}

const systemPrompt = "You are an accessibility expert helping write defect reports for a WCAG audit. " +
	"Given an assessor's notes, respond with a single JSON object containing the fields " +
	`"title" (short summary), "description" (detailed explanation with remediation advice), ` +
	`"severity" ("1" critical, "2" high, "3" medium, "4" low), and "criteria_codes" ` +
	"(array of WCAG success criterion numbers such as \"1.4.3\"). Respond with JSON only."

func userPrompt(req DraftRequest) string {
	var b strings.Builder
	if req.ProjectName != "" {
		fmt.Fprintf(&b, "Project: %v\n", req.ProjectName)
	}
	if req.PageUrl != "" {
		fmt.Fprintf(&b, "Page: %v\n", req.PageUrl)
	}
	if req.Selector != "" {
		fmt.Fprintf(&b, "Element: %v\n", req.Selector)
	}
	if req.CodeSnippet != "" {
		fmt.Fprintf(&b, "Markup:\n%v\n", req.CodeSnippet)
	}
	fmt.Fprintf(&b, "Notes: %v", req.Notes)
	return b.String()
}

// parseDraft tolerates models wrapping the JSON in a markdown code fence.
func parseDraft(content string) (IssueDraft, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var draft IssueDraft
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &draft); err != nil {
		return IssueDraft{}, fmt.Errorf("error parsing issue draft from model response: %w", err)
	}

	switch draft.Severity {
	case "1", "2", "3", "4":
	default:
		draft.Severity = "3"
	}

	codes := make([]string, 0, len(draft.CriteriaCodes))
	for _, code := range draft.CriteriaCodes {
		if wcag.ValidCode(code) {
			codes = append(codes, code)
		}
	}
	draft.CriteriaCodes = codes

	return draft, nil
}

type OpenAIDrafter struct {
	client *openai.Client
	model  string
}

func NewOpenAIDrafter(apiKey, model string) *OpenAIDrafter {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIDrafter{client: openai.NewClient(apiKey), model: model}
}

func (d *OpenAIDrafter) DraftIssue(ctx context.Context, req DraftRequest) (IssueDraft, error) {
	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(req)},
		},
	})
	if err != nil {
		return IssueDraft{}, fmt.Errorf("error requesting issue draft: %w", err)
	}

	if len(resp.Choices) == 0 {
		return IssueDraft{}, fmt.Errorf("no completion returned for issue draft")
	}

	return parseDraft(resp.Choices[0].Message.Content)
}

// NewDrafter returns nil when no provider is configured; callers treat a nil
// drafter as the feature being unavailable.
func NewDrafter(provider, apiKey, model string) (Drafter, error) {
	switch strings.ToLower(provider) {
	case "":
		return nil, nil
	case "openai":
		if apiKey == "" {
			return nil, fmt.Errorf("API key required for OpenAI")
		}
		return NewOpenAIDrafter(apiKey, model), nil
	default:
		return nil, fmt.Errorf("unsupported drafting provider: %s", provider)
	}
}
