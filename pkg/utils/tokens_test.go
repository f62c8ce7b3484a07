package utils

import (
	"strings"
	"testing"
)

func TestNewTokenCounter(t *testing.T) {
	for _, model := range []string{"gpt-5-mini", "gpt-4", "claude-sonnet-4", "ollama/llama3", ""} {
		t.Run(model, func(t *testing.T) {
			counter, err := NewTokenCounter(model)
			if err != nil || counter == nil {
				t.Fatalf("NewTokenCounter(%q) failed: %v", model, err)
			}
		})
	}
}

func TestCountTokens(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4")
	if err != nil {
		t.Fatalf("Failed to create token counter: %v", err)
	}

	tests := []struct {
		text      string
		minTokens int
		maxTokens int
	}{
		{"", 0, 0},
		{"Hello", 1, 2},
		{"Hello world", 2, 3},
		{strings.Repeat("word ", 100), 90, 110},
	}
	for _, tt := range tests {
		if got := counter.CountTokens(tt.text); got < tt.minTokens || got > tt.maxTokens {
			t.Errorf("CountTokens(%q) = %d, want between %d and %d", tt.text, got, tt.minTokens, tt.maxTokens)
		}
	}
}

func TestCountTokensSimple(t *testing.T) {
	if tokens := CountTokensSimple("Hello world"); tokens < 2 || tokens > 3 {
		t.Errorf("CountTokensSimple(\"Hello world\") = %d, want between 2 and 3", tokens)
	}
}

func TestTruncateToTokens(t *testing.T) {
	counter, err := NewTokenCounter("gpt-5-mini")
	if err != nil {
		t.Fatalf("Failed to create token counter: %v", err)
	}

	short := "fits easily"
	if got := counter.TruncateToTokens(short, 50); got != short {
		t.Errorf("short text should be unchanged, got %q", got)
	}

	long := strings.Repeat("printer paper jam ", 200)
	got := counter.TruncateToTokens(long, 20)
	if !strings.HasSuffix(got, "[truncated]") {
		t.Errorf("expected truncation marker, got %q", got)
	}
	if body := strings.TrimSuffix(got, "\n[truncated]"); counter.CountTokens(body) > 20 {
		t.Errorf("truncated body has %d tokens, want <= 20", counter.CountTokens(body))
	}
	if counter.TruncateToTokens(long, 0) != "" {
		t.Error("zero budget should return empty text")
	}
}
