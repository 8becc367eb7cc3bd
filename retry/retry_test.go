package retry

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"
)

// statusError mimics an upstream HTTP error for classification tests.
type statusError struct {
	code       int
	retryAfter time.Duration
}

func (e *statusError) Error() string { return fmt.Sprintf("upstream status %d", e.code) }

func (e *statusError) Temporary() bool {
	return e.code == 429 || e.code >= 500
}

func (e *statusError) RetryAfter() (time.Duration, bool) {
	if e.retryAfter > 0 {
		return e.retryAfter, true
	}
	return 0, false
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "500", err: &statusError{code: 500}, want: true},
		{name: "502", err: &statusError{code: 502}, want: true},
		{name: "503", err: &statusError{code: 503}, want: true},
		{name: "429", err: &statusError{code: 429}, want: true},
		{name: "404", err: &statusError{code: 404}, want: false},
		{name: "401", err: &statusError{code: 401}, want: false},
		{name: "network timeout", err: timeoutError{}, want: true},
		{name: "connection reset", err: syscall.ECONNRESET, want: true},
		{name: "connection refused", err: syscall.ECONNREFUSED, want: true},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: true},
		{name: "caller cancellation", err: context.Canceled, want: false},
		{name: "plain error", err: errors.New("malformed response"), want: false},
		{name: "wrapped 503", err: fmt.Errorf("call failed: %w", &statusError{code: 503}), want: true},
		{name: "permanent-wrapped 503", err: Permanent(&statusError{code: 503}), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Transient(tt.err); got != tt.want {
				t.Errorf("Transient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPolicy_Do_SucceedsFirstAttempt(t *testing.T) {
	p := NewPolicy()
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPolicy_Do_RetriesTransient(t *testing.T) {
	p := NewPolicy(WithInitialDelay(time.Millisecond), WithMaxDelay(5*time.Millisecond))
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &statusError{code: 503}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestPolicy_Do_PermanentFailsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "4xx status", err: &statusError{code: 404}},
		{name: "malformed response", err: errors.New("unexpected end of JSON input")},
		{name: "explicitly permanent", err: Permanent(&statusError{code: 500})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPolicy(WithInitialDelay(time.Millisecond))
			calls := 0
			err := p.Do(context.Background(), func(context.Context) error {
				calls++
				return tt.err
			})
			if err == nil {
				t.Fatal("Do() error = nil, want error")
			}
			if calls != 1 {
				t.Errorf("calls = %d, want 1", calls)
			}
			var exhausted *ExhaustedError
			if errors.As(err, &exhausted) {
				t.Errorf("Do() error = %v, permanent failure must not report exhaustion", err)
			}
		})
	}
}

// A third transient failure yields ExhaustedError, not a fourth attempt.
func TestPolicy_Do_Exhaustion(t *testing.T) {
	p := NewPolicy(WithInitialDelay(time.Millisecond), WithMaxDelay(5*time.Millisecond))
	calls := 0
	cause := &statusError{code: 503}
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return cause
	})

	if calls != 3 {
		t.Fatalf("calls = %d, want exactly 3", calls)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Do() error = %v, want *ExhaustedError", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", exhausted.Attempts)
	}
	if !errors.Is(err, cause) {
		t.Errorf("ExhaustedError does not wrap the last cause %v", cause)
	}
}

// Delay sequence for initial=100ms, max=1s is ~100ms, ~200ms (±20% jitter),
// never exceeding max.
func TestPolicy_Do_DelaySequence(t *testing.T) {
	p := NewPolicy(WithInitialDelay(100*time.Millisecond), WithMaxDelay(time.Second))
	var stamps []time.Time
	_ = p.Do(context.Background(), func(context.Context) error {
		stamps = append(stamps, time.Now())
		return &statusError{code: 503}
	})

	if len(stamps) != 3 {
		t.Fatalf("attempts = %d, want 3", len(stamps))
	}
	gaps := []time.Duration{stamps[1].Sub(stamps[0]), stamps[2].Sub(stamps[1])}
	bounds := []struct{ low, high time.Duration }{
		{80 * time.Millisecond, 200 * time.Millisecond},
		{160 * time.Millisecond, 400 * time.Millisecond},
	}
	for i, gap := range gaps {
		if gap < bounds[i].low || gap > bounds[i].high {
			t.Errorf("delay #%d = %s, want within [%s, %s]", i+1, gap, bounds[i].low, bounds[i].high)
		}
		if gap > time.Second+200*time.Millisecond {
			t.Errorf("delay #%d = %s exceeds max delay", i+1, gap)
		}
	}
}

// A 429 Retry-After overrides the computed backoff with the server value.
func TestPolicy_Do_RetryAfterOverride(t *testing.T) {
	p := NewPolicy(WithInitialDelay(time.Millisecond), WithMaxDelay(5*time.Millisecond))
	var stamps []time.Time
	_ = p.Do(context.Background(), func(context.Context) error {
		stamps = append(stamps, time.Now())
		return &statusError{code: 429, retryAfter: 150 * time.Millisecond}
	})

	if len(stamps) < 2 {
		t.Fatalf("attempts = %d, want at least 2", len(stamps))
	}
	if gap := stamps[1].Sub(stamps[0]); gap < 150*time.Millisecond {
		t.Errorf("delay after 429 = %s, want >= server-mandated 150ms", gap)
	}
}

func TestPolicy_Do_ContextCancelledBetweenAttempts(t *testing.T) {
	p := NewPolicy(WithInitialDelay(time.Minute))
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(context.Context) error {
			calls++
			return &statusError{code: 503}
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Do() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do() still sleeping after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryAfterFrom(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		want   time.Duration
		wantOK bool
	}{
		{
			name:   "carries retry-after",
			err:    &statusError{code: 429, retryAfter: 5 * time.Second},
			want:   5 * time.Second,
			wantOK: true,
		},
		{
			name:   "wrapped retry-after",
			err:    fmt.Errorf("call failed: %w", &statusError{code: 429, retryAfter: time.Second}),
			want:   time.Second,
			wantOK: true,
		},
		{
			name: "no header",
			err:  &statusError{code: 429},
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RetryAfterFrom(tt.err)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("RetryAfterFrom() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
