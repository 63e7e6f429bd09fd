// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"testing"
	"time"

	ensembleerrors "github.com/tombee/ensemble/pkg/errors"
)

// scriptedProvider fails failCount times with failErr, then succeeds.
type scriptedProvider struct {
	failCount int
	failErr   error
	attempts  int
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	s.attempts++
	if s.attempts <= s.failCount {
		return nil, s.failErr
	}
	return &CompletionResponse{Content: "success"}, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

// timeoutError is a net.Error that timed out.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func newTestRetry(p Provider, maxRetries int) *RetryableProvider {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = maxRetries
	r := NewRetryableProvider(p, cfg)
	r.sleep = noSleep
	return r
}

func TestRetryableProvider_SuccessFirstAttempt(t *testing.T) {
	p := &scriptedProvider{}
	resp, err := newTestRetry(p, 3).Complete(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Content != "success" {
		t.Errorf("expected content 'success', got %q", resp.Content)
	}
	if p.attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", p.attempts)
	}
}

func TestRetryableProvider_SuccessAfterRetries(t *testing.T) {
	p := &scriptedProvider{failCount: 2, failErr: &ensembleerrors.ProviderError{Provider: "anthropic", StatusCode: http.StatusServiceUnavailable, Message: "overloaded"}}
	resp, err := newTestRetry(p, 3).Complete(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Content != "success" || p.attempts != 3 {
		t.Errorf("expected success on attempt 3, got %q after %d", resp.Content, p.attempts)
	}
}

func TestRetryableProvider_Exhausted(t *testing.T) {
	cause := &ensembleerrors.ProviderError{Provider: "anthropic", StatusCode: 529, Message: "overloaded"}
	p := &scriptedProvider{failCount: 10, failErr: cause}
	_, err := newTestRetry(p, 2).Complete(context.Background(), CompletionRequest{})
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Fatalf("expected ErrMaxRetriesExceeded, got %v", err)
	}
	var provErr *ensembleerrors.ProviderError
	if !errors.As(err, &provErr) {
		t.Errorf("expected provider error to remain in the chain")
	}
	if p.attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", p.attempts)
	}
}

func TestRetryableProvider_NonRetryable(t *testing.T) {
	cause := &ensembleerrors.ProviderError{Provider: "anthropic", StatusCode: 401, Message: "bad key"}
	p := &scriptedProvider{failCount: 10, failErr: cause}
	_, err := newTestRetry(p, 3).Complete(context.Background(), CompletionRequest{})
	if !errors.Is(err, cause) {
		t.Fatalf("expected original error, got %v", err)
	}
	if p.attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", p.attempts)
	}
}

func TestRetryableProvider_CancelledWhileWaiting(t *testing.T) {
	p := &scriptedProvider{failCount: 10, failErr: &ensembleerrors.ProviderError{StatusCode: 500, Message: "boom"}}
	r := NewRetryableProvider(p, DefaultRetryConfig())
	ctx, cancel := context.WithCancel(context.Background())
	r.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	_, err := r.Complete(ctx, CompletionRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffCapped(t *testing.T) {
	r := NewRetryableProvider(&scriptedProvider{}, RetryConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     300 * time.Millisecond,
		Multiplier:   2,
	})
	if got := r.backoff(1); got != 100*time.Millisecond {
		t.Errorf("attempt 1: got %v", got)
	}
	if got := r.backoff(2); got != 200*time.Millisecond {
		t.Errorf("attempt 2: got %v", got)
	}
	if got := r.backoff(5); got != 300*time.Millisecond {
		t.Errorf("attempt 5: got %v", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"provider 500", &ensembleerrors.ProviderError{StatusCode: 500}, true},
		{"provider 429", &ensembleerrors.ProviderError{StatusCode: 429}, true},
		{"provider 400", &ensembleerrors.ProviderError{StatusCode: 400}, false},
		{"provider 529", &ensembleerrors.ProviderError{StatusCode: 529}, true},
		{"provider 403", &ensembleerrors.ProviderError{StatusCode: 403}, false},
		{"dropped connection", &ensembleerrors.ProviderError{Provider: "anthropic", Cause: io.EOF}, true},
		{"truncated body", &ensembleerrors.ProviderError{StatusCode: 200, Cause: io.ErrUnexpectedEOF}, true},
		{"connection reset", &ensembleerrors.ProviderError{Cause: fmt.Errorf("read: %w", syscall.ECONNRESET)}, true},
		{"network timeout", &ensembleerrors.ProviderError{Cause: timeoutError{}}, true},
		{"bad request body", &ensembleerrors.ProviderError{Cause: errors.New("marshal")}, false},
		{"plain", errors.New("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryableProvider_RetriesDroppedConnection(t *testing.T) {
	cause := &ensembleerrors.ProviderError{Provider: "anthropic", Message: "request failed: EOF", Cause: io.EOF}
	p := &scriptedProvider{failCount: 1, failErr: cause}
	resp, err := newTestRetry(p, 3).Complete(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Content != "success" || p.attempts != 2 {
		t.Errorf("expected success on attempt 2, got %q after %d", resp.Content, p.attempts)
	}
}
