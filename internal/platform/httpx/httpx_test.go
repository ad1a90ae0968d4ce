package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

type statusErr struct{ code int }

func (e *statusErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) HTTPStatusCode() int { return e.code }

func TestStatusCodeUnwraps(t *testing.T) {
	err := fmt.Errorf("outer: %w", &statusErr{code: 429})
	if got := StatusCode(err); got != 429 {
		t.Fatalf("StatusCode: want=429 got=%d", got)
	}
	if got := StatusCode(errors.New("plain")); got != 0 {
		t.Fatalf("StatusCode(plain): want=0 got=%d", got)
	}
}

func TestIsRetryableError(t *testing.T) {
	if !IsRetryableError(&statusErr{code: 503}) {
		t.Fatalf("503 should be retryable")
	}
	if IsRetryableError(&statusErr{code: 400}) {
		t.Fatalf("400 should not be retryable")
	}
	if IsRetryableError(context.Canceled) {
		t.Fatalf("caller cancellation should not be retryable")
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(fmt.Errorf("wrap: %w", context.DeadlineExceeded)) {
		t.Fatalf("deadline exceeded should be a timeout")
	}
	if !IsTimeout(&statusErr{code: http.StatusGatewayTimeout}) {
		t.Fatalf("504 should be a timeout")
	}
	if IsTimeout(context.Canceled) {
		t.Fatalf("cancel is not a timeout")
	}
}

func TestRetryAfterDuration(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "30")
	if got := RetryAfterDuration(resp, time.Second, 10*time.Second); got != 10*time.Second {
		t.Fatalf("RetryAfterDuration capped: want=10s got=%s", got)
	}
	if got := RetryAfterDuration(nil, 2*time.Second, 0); got != 2*time.Second {
		t.Fatalf("RetryAfterDuration fallback: want=2s got=%s", got)
	}
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep: want context.Canceled got=%v", err)
	}
}
