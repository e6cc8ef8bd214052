package compress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/randalmurphal/llmflow/provider"
	"github.com/randalmurphal/llmflow/tokens"
)

const testModel = "test-model"

// byteCounter counts one token per byte, keeping test arithmetic exact.
func testAccountant() *tokens.Accountant {
	acct := tokens.NewAccountant()
	acct.Register(testModel, tokens.ExactFunc(func(text string) int { return len(text) }))
	return acct
}

// fixedSummarizer returns a constant short summary.
type fixedSummarizer struct {
	summary string
	calls   int
	err     error
}

func (s *fixedSummarizer) Summarize(_ context.Context, _ string, _ int) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.summary, nil
}

func makeHistory(n, contentLen int) []provider.Message {
	history := make([]provider.Message, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range history {
		role := provider.RoleUser
		if i%2 == 1 {
			role = provider.RoleAssistant
		}
		history[i] = provider.Message{
			Role:      role,
			Content:   strings.Repeat("x", contentLen),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return history
}

func TestCompress_UnderBudgetIsNoOp(t *testing.T) {
	sum := &fixedSummarizer{summary: "summary"}
	e := NewEngine(testAccountant(), sum)
	history := makeHistory(6, 10)

	res, err := e.Compress(context.Background(), history, 100000, testModel)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if res.Reduced {
		t.Error("under-budget history must not be reduced")
	}
	if len(res.Messages) != len(history) {
		t.Errorf("expected %d messages unchanged, got %d", len(history), len(res.Messages))
	}
	if sum.calls != 0 {
		t.Errorf("summarizer must not be called, got %d calls", sum.calls)
	}
}

func TestCompress_ReducesToBudget(t *testing.T) {
	sum := &fixedSummarizer{summary: "short summary"}
	e := NewEngine(testAccountant(), sum)
	history := makeHistory(30, 100)
	// total: 10 + 30*(15+100) = 3460 tokens under the byte counter

	res, err := e.Compress(context.Background(), history, 2000, testModel)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if !res.Reduced {
		t.Fatal("expected a reduction")
	}
	if res.TokenCount > 2000 {
		t.Errorf("result %d tokens exceeds budget 2000", res.TokenCount)
	}

	// Last 5 exchanges (10 messages) retained verbatim.
	recent := res.Messages[len(res.Messages)-10:]
	for i, m := range recent {
		orig := history[len(history)-10+i]
		if m.Content != orig.Content || m.Role != orig.Role {
			t.Errorf("recent message %d not verbatim", i)
		}
	}

	// The older segment collapsed into summary messages.
	foundSummary := false
	for _, m := range res.Messages {
		if m.IsSummary {
			foundSummary = true
			if m.Content != "short summary" {
				t.Errorf("unexpected summary content %q", m.Content)
			}
		}
	}
	if !foundSummary {
		t.Error("expected a synthetic summary message")
	}
}

func TestCompress_Idempotent(t *testing.T) {
	sum := &fixedSummarizer{summary: "short summary"}
	e := NewEngine(testAccountant(), sum)
	history := makeHistory(30, 100)

	first, err := e.Compress(context.Background(), history, 2000, testModel)
	if err != nil {
		t.Fatalf("first Compress: %v", err)
	}
	second, err := e.Compress(context.Background(), first.Messages, 2000, testModel)
	if err != nil {
		t.Fatalf("second Compress: %v", err)
	}
	if second.Reduced {
		t.Error("compressing an already-compressed history must be a no-op")
	}
	if len(second.Messages) != len(first.Messages) {
		t.Errorf("expected %d messages, got %d", len(first.Messages), len(second.Messages))
	}
}

func TestCompress_BudgetTooSmall(t *testing.T) {
	sum := &fixedSummarizer{summary: "s"}
	e := NewEngine(testAccountant(), sum)
	history := makeHistory(30, 100)
	// Recent window alone: 10 + 10*(15+100) = 1160 tokens.

	_, err := e.Compress(context.Background(), history, 500, testModel)
	if !errors.Is(err, ErrBudgetTooSmall) {
		t.Errorf("expected ErrBudgetTooSmall, got %v", err)
	}
	if sum.calls != 0 {
		t.Errorf("summarizer must not run when the recent window cannot fit, got %d calls", sum.calls)
	}
}

func TestCompress_SystemMessagesRetained(t *testing.T) {
	sum := &fixedSummarizer{summary: "short summary"}
	e := NewEngine(testAccountant(), sum)

	history := makeHistory(30, 100)
	system := provider.Message{
		Role:      provider.RoleSystem,
		Content:   "you are a helpful assistant",
		Timestamp: time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	history = append([]provider.Message{system}, history...)

	res, err := e.Compress(context.Background(), history, 2000, testModel)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	found := false
	for _, m := range res.Messages {
		if m.Role == provider.RoleSystem && m.Content == system.Content {
			found = true
		}
	}
	if !found {
		t.Error("system message must survive compression verbatim")
	}
}

func TestCompress_SummarizerError(t *testing.T) {
	wantErr := fmt.Errorf("summarizer offline")
	sum := &fixedSummarizer{err: wantErr}
	e := NewEngine(testAccountant(), sum)
	history := makeHistory(30, 100)

	_, err := e.Compress(context.Background(), history, 2000, testModel)
	if !errors.Is(err, wantErr) {
		t.Errorf("expected summarizer error to propagate, got %v", err)
	}
}

func TestCompress_UnknownModel(t *testing.T) {
	e := NewEngine(testAccountant(), &fixedSummarizer{summary: "s"})

	_, err := e.Compress(context.Background(), makeHistory(4, 10), 100, "other-model")
	if !errors.Is(err, tokens.ErrUnknownModel) {
		t.Errorf("expected ErrUnknownModel, got %v", err)
	}
}

func TestCompress_InputNotMutated(t *testing.T) {
	sum := &fixedSummarizer{summary: "short summary"}
	e := NewEngine(testAccountant(), sum)
	history := makeHistory(30, 100)
	originals := make([]provider.Message, len(history))
	copy(originals, history)

	if _, err := e.Compress(context.Background(), history, 2000, testModel); err != nil {
		t.Fatalf("Compress: %v", err)
	}
	for i := range history {
		if history[i] != originals[i] {
			t.Fatalf("input message %d was mutated", i)
		}
	}
}

func TestPrune(t *testing.T) {
	history := makeHistory(20, 50)
	history[0].Content = "please help me configure the frobnicator for production use"

	res := Prune(history, 3)
	if res.Dropped != 14 {
		t.Errorf("expected 14 dropped, got %d", res.Dropped)
	}
	if len(res.Messages) != 7 { // 1 summary + 6 recent
		t.Fatalf("expected 7 messages, got %d", len(res.Messages))
	}
	if !res.Messages[0].IsSummary {
		t.Error("first message must be the synthetic summary")
	}
	if !strings.Contains(res.Messages[0].Content, "14 earlier messages omitted") {
		t.Errorf("summary line missing count: %q", res.Messages[0].Content)
	}
	if strings.Contains(res.Messages[0].Content, "\n") {
		t.Error("prune summary must be a single line")
	}

	// Last 3 exchanges verbatim.
	for i := 0; i < 6; i++ {
		if res.Messages[1+i] != history[14+i] {
			t.Errorf("recent message %d not retained verbatim", i)
		}
	}
}

func TestPrune_ShortHistoryUntouched(t *testing.T) {
	history := makeHistory(4, 10)
	res := Prune(history, 5)
	if res.Dropped != 0 {
		t.Errorf("expected nothing dropped, got %d", res.Dropped)
	}
	if len(res.Messages) != 4 {
		t.Errorf("expected history unchanged, got %d messages", len(res.Messages))
	}
}

func TestSmartCut(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		maxLen int
	}{
		{"short text unchanged", "hello", 10},
		{"word boundary", strings.Repeat("word ", 40), 50},
		{"no boundary hard cut", strings.Repeat("x", 200), 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := smartCut(tt.text, tt.maxLen)
			if len([]rune(got)) > tt.maxLen {
				t.Errorf("result %d runes exceeds max %d", len([]rune(got)), tt.maxLen)
			}
		})
	}
}
