package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"call-audit-go/internal/config"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/types"
)

// Checker is the checker name recorded on LLM-produced reports.
const Checker = "llm"

const checkPrompt = `You are a call-center compliance auditor.

Review the numbered utterances of one call below and list every statement
that breaks common contact-center compliance policy: guaranteed outcomes,
abusive or insulting language, pressure tactics, requests for passwords,
PINs or full card numbers, and dismissive treatment of the customer.

Return ONLY JSON in this exact shape, with no commentary and no markdown:
{
  "violations": [
    {"rule_id": "", "description": "", "severity": "low|medium|high", "matched": "", "utterance": 0}
  ],
  "summary": ""
}

"matched" must be copied verbatim from the utterance and "utterance" is its
number. If the call is clean, return an empty violations list.

UTTERANCES:
%s`

type llmViolation struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Matched     string `json:"matched"`
	Utterance   int    `json:"utterance"`
}

type llmResult struct {
	Violations []llmViolation `json:"violations"`
	Summary    string         `json:"summary"`
}

// LLMChecker asks a chat-completion model for rule violations. It is an
// alternative to the rules engine and produces the same report shape.
type LLMChecker struct {
	client  openai.Client
	model   string
	timeout time.Duration
	backoff func() backoff.BackOff
}

func NewLLMChecker(cfg config.LLMConfig) *LLMChecker {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// retries are driven by backoff below
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &LLMChecker{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		timeout: timeout,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 2 * timeout
			return b
		},
	}
}

func buildPrompt(t types.Transcript) string {
	var sb strings.Builder
	for i, u := range t.Utterances {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i, u.Speaker, u.Text)
	}
	return fmt.Sprintf(checkPrompt, sb.String())
}

// Check runs prompt -> LLM -> parse with retry. Client errors are not retried.
func (c *LLMChecker) Check(ctx context.Context, t types.Transcript) (types.ViolationReport, error) {
	log := logger.New().WithField("component", "llm-checker")

	if len(t.Utterances) == 0 {
		return types.ViolationReport{Checker: Checker, Violations: []types.Violation{}, Summary: "no violations found"}, nil
	}

	params := openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(buildPrompt(t))},
		Temperature: openai.Float(0),
	}

	var parsed llmResult
	var lastErr error
	op := func() error {
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.client.Chat.Completions.New(cctx, params)
		if err != nil {
			lastErr = err
			var apiErr *openai.Error
			if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != 429 {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			log.WithError(err).Warn("llm request failed")
			return err
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("llm returned no choices")
			return lastErr
		}
		content := resp.Choices[0].Message.Content
		log.Debug("llm raw:\n" + content)

		raw := extractJSON(content)
		if raw == "" {
			lastErr = errors.New("no JSON found in LLM output")
			return lastErr
		}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			lastErr = fmt.Errorf("unmarshal LLM output: %w", err)
			return lastErr
		}
		lastErr = nil
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(c.backoff(), ctx)); err != nil {
		if ctx.Err() != nil {
			return types.ViolationReport{}, fmt.Errorf("%w: %v", types.ErrCancelled, ctx.Err())
		}
		if lastErr == nil {
			lastErr = err
		}
		return types.ViolationReport{}, fmt.Errorf("llm check failed: %w", lastErr)
	}

	rep := toReport(parsed, t)
	log.WithField("violations", rep.Count()).Info("llm check complete")
	return rep, nil
}

// toReport maps model output onto transcript locations. Entries pointing at a
// missing utterance are dropped.
func toReport(r llmResult, t types.Transcript) types.ViolationReport {
	out := types.ViolationReport{Checker: Checker, Violations: []types.Violation{}, Summary: r.Summary}
	for _, v := range r.Violations {
		if v.Utterance < 0 || v.Utterance >= len(t.Utterances) || v.RuleID == "" {
			continue
		}
		u := t.Utterances[v.Utterance]
		offset := strings.Index(strings.ToLower(u.Text), strings.ToLower(v.Matched))
		if offset < 0 || v.Matched == "" {
			offset = 0
		}
		sev := strings.ToLower(v.Severity)
		if sev == "" {
			sev = "medium"
		}
		vi := types.Violation{
			RuleID:      v.RuleID,
			Description: v.Description,
			Severity:    sev,
			Matched:     v.Matched,
			Location:    types.Location{Utterance: v.Utterance, Offset: offset},
			Speaker:     u.Speaker,
		}
		if u.StartTime != nil {
			st := *u.StartTime
			vi.StartTime = &st
		}
		out.Violations = append(out.Violations, vi)
	}
	if out.Summary == "" {
		if len(out.Violations) == 0 {
			out.Summary = "no violations found"
		} else {
			out.Summary = fmt.Sprintf("%d violations reported by model", len(out.Violations))
		}
	}
	return out
}

// extractJSON finds the first balanced JSON object in a string and returns it.
// A surrounding markdown fence is dropped; backticks inside the object are
// kept.
func extractJSON(s string) string {
	if s == "" {
		return ""
	}
	s = strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(strings.TrimPrefix(s, "```json"), "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}
