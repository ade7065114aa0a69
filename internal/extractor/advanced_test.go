package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"call-audit-go/internal/config"
	"call-audit-go/internal/types"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\": {\"b\": 2}}\n```", `{"a": {"b": 2}}`},
		{"prose around", `Sure! Here it is: {"summary":"ok"} hope that helps`, `{"summary":"ok"}`},
		{"brace inside string", `{"matched":"use code }{ now","x":1}`, `{"matched":"use code }{ now","x":1}`},
		{"backticks in values", "```json\n{\"matched\":\"run `rm` now\"}\n```", "{\"matched\":\"run `rm` now\"}"},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"unbalanced", `{"a":1`, ""},
		{"none", "no json here", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.in); got != tt.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func f64(v float64) *float64 { return &v }

var callTranscript = types.Transcript{Utterances: []types.Utterance{
	{Speaker: "agent", Text: "Thanks for calling, how can I help?", StartTime: f64(0.5)},
	{Speaker: "agent", Text: "I guarantee you will double your money.", StartTime: f64(4.0)},
}}

func chatServer(t *testing.T, status int, content string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 0,
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestChecker(url string) *LLMChecker {
	c := NewLLMChecker(config.LLMConfig{BaseURL: url + "/v1/", APIKey: "test-key", Model: "test-model", Timeout: 2 * time.Second})
	c.backoff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 2)
	}
	return c
}

func TestLLMCheckerParsesViolations(t *testing.T) {
	var calls atomic.Int32
	content := "```json\n" + `{"violations":[
		{"rule_id":"guaranteed-outcome","description":"promises returns","severity":"HIGH","matched":"guarantee you","utterance":1},
		{"rule_id":"ghost","matched":"x","utterance":7}
	],"summary":"one promise of returns"}` + "\n```"
	srv := chatServer(t, http.StatusOK, content, &calls)

	rep, err := newTestChecker(srv.URL).Check(context.Background(), callTranscript)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if rep.Checker != Checker || rep.Count() != 1 {
		t.Fatalf("report = %+v", rep)
	}
	v := rep.Violations[0]
	if v.RuleID != "guaranteed-outcome" || v.Severity != "high" || v.Location.Utterance != 1 || v.Location.Offset != 2 {
		t.Errorf("violation = %+v", v)
	}
	if v.StartTime == nil || *v.StartTime != 4.0 || v.Speaker != "agent" {
		t.Errorf("violation lost utterance metadata: %+v", v)
	}
	if rep.Summary != "one promise of returns" {
		t.Errorf("summary = %q", rep.Summary)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestLLMCheckerClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, http.StatusBadRequest, "", &calls)

	_, err := newTestChecker(srv.URL).Check(context.Background(), callTranscript)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestLLMCheckerRetriesUnparseableOutput(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, http.StatusOK, "I cannot answer that.", &calls)

	_, err := newTestChecker(srv.URL).Check(context.Background(), callTranscript)
	if err == nil || !strings.Contains(err.Error(), "no JSON") {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestLLMCheckerCancelled(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, http.StatusOK, `{"violations":[]}`, &calls)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestChecker(srv.URL).Check(ctx, callTranscript)
	if !errors.Is(err, types.ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}

func TestLLMCheckerEmptyTranscript(t *testing.T) {
	rep, err := NewLLMChecker(config.LLMConfig{APIKey: "k", Model: "m"}).Check(context.Background(), types.Transcript{})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Violations == nil || rep.Count() != 0 {
		t.Errorf("report = %+v", rep)
	}
}
