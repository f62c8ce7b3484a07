package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"deadline", context.DeadlineExceeded, ErrorTypeTransient},
		{"status 429", errors.New("POST /v1/responses: status code: 429 Too Many Requests"), ErrorTypeRateLimit},
		{"status 401", errors.New("status code: 401 unauthorized"), ErrorTypeAuth},
		{"status 503", errors.New("HTTP 503 service unavailable"), ErrorTypeTransient},
		{"status 400", errors.New("status: 400 bad request"), ErrorTypeBadPrompt},
		{"connection refused", errors.New("dial tcp 127.0.0.1:11434: connection refused"), ErrorTypeTransient},
		{"eof", errors.New("unexpected EOF"), ErrorTypeTransient},
		{"quota", errors.New("You exceeded your current quota"), ErrorTypeRateLimit},
		{"missing model", errors.New(`model "llama9" not found, try pulling it first`), ErrorTypeBadPrompt},
		{"unknown", errors.New("something odd"), ErrorTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Type != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.err, got.Type, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("classified error should wrap the original")
			}
		})
	}
}

func TestClassifyKeepsExisting(t *testing.T) {
	orig := NewError(ErrorTypeEmptyResponse, "empty")
	wrapped := fmt.Errorf("gatherer: %w", orig)
	if got := Classify(wrapped); got != orig {
		t.Errorf("expected the already classified error to be returned")
	}
	if Classify(nil) != nil {
		t.Errorf("Classify(nil) should be nil")
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
	if IsRetryable(context.Canceled) {
		t.Error("cancellation should never be retried")
	}
	if !IsRetryable(errors.New("connection reset by peer")) {
		t.Error("connection reset should be retryable")
	}
	if IsRetryable(NewError(ErrorTypeAuth, "bad key")) {
		t.Error("auth errors should not be retryable")
	}
	unavailable := NewServiceUnavailableError(errors.New("503"), 3)
	if IsRetryable(unavailable) {
		t.Error("service unavailable is terminal for the retry loop")
	}
	if !IsServiceUnavailable(fmt.Errorf("wrap: %w", unavailable)) {
		t.Error("IsServiceUnavailable should see through wrapping")
	}
}

func TestErrorTypeString(t *testing.T) {
	if ErrorTypeRateLimit.String() != "rate_limit" || ErrorType(99).String() != "invalid" {
		t.Error("unexpected ErrorType strings")
	}
	if TypeOf(errors.New("plain")) != ErrorTypeUnknown {
		t.Error("unclassified errors are unknown")
	}
}

func TestSanitizePrompt(t *testing.T) {
	short := "short prompt"
	if SanitizePrompt(short, 500) != short {
		t.Error("short prompts are returned unchanged")
	}
	long := strings.Repeat("a", 300) + strings.Repeat("b", 300)
	got := SanitizePrompt(long, 200)
	if !strings.Contains(got, "[600 chars, hash:") {
		t.Errorf("expected length and hash marker, got %q", got)
	}
	if !strings.HasPrefix(got, strings.Repeat("a", 100)) || !strings.HasSuffix(got, strings.Repeat("b", 100)) {
		t.Errorf("expected head and tail to be kept")
	}
}
