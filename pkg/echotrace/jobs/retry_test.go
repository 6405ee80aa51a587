package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fastPolicy keeps backoff delays negligible for tests.
var fastPolicy = Policy{
	InitialDelay: time.Millisecond,
	Factor:       2,
	MaxDelay:     5 * time.Millisecond,
	MaxAttempts:  5,
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"locked database", errors.New("database is locked"), true},
		{"busy", errors.New("sqlite: database busy"), true},
		{"timeout", errors.New("dial tcp: i/o timeout"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"plain failure", errors.New("no such table"), false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestWithRetryRecoversFromTransientFailures(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastPolicy, func() error {
		calls++
		if calls <= 2 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 invocations, got %d", calls)
	}
}

func TestWithRetryFailsFastOnNonTransient(t *testing.T) {
	calls := 0
	wantErr := errors.New("no such table: fingerprints")
	err := WithRetry(context.Background(), fastPolicy, func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Expected the original error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected a single invocation, got %d", calls)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastPolicy, func() error {
		calls++
		return errors.New("database is locked")
	})
	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if calls != fastPolicy.MaxAttempts {
		t.Errorf("Expected %d invocations, got %d", fastPolicy.MaxAttempts, calls)
	}
}

// TestWithRetryBackoffSchedule records the delay of every backoff sleep and
// checks the sequence doubles from the initial delay and flattens at the cap.
func TestWithRetryBackoffSchedule(t *testing.T) {
	var delays []time.Duration
	orig := backoffSleep
	backoffSleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	defer func() { backoffSleep = orig }()

	p := Policy{
		InitialDelay: 100 * time.Millisecond,
		Factor:       2,
		MaxDelay:     500 * time.Millisecond,
		MaxAttempts:  6,
	}
	err := WithRetry(context.Background(), p, func() error {
		return errors.New("database is locked")
	})
	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond,
		500 * time.Millisecond,
	}
	if len(delays) != len(want) {
		t.Fatalf("Expected %d sleeps, got %d: %v", len(want), len(delays), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("Sleep %d: expected %v, got %v", i, want[i], delays[i])
		}
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] < delays[i-1] {
			t.Errorf("Delays must be non-decreasing, got %v then %v", delays[i-1], delays[i])
		}
	}
	for _, d := range delays {
		if d > p.MaxDelay {
			t.Errorf("Delay %v exceeds the %v cap", d, p.MaxDelay)
		}
	}
}

func TestWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := fastPolicy
	p.InitialDelay = time.Minute // force a long backoff wait

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- WithRetry(ctx, p, func() error {
			calls++
			return errors.New("database is locked")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected error after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("WithRetry did not return after cancellation")
	}
	if calls != 1 {
		t.Errorf("Expected 1 invocation before cancellation, got %d", calls)
	}
}

func TestPolicyDefaults(t *testing.T) {
	p := Policy{}.withDefaults()
	if p != DefaultPolicy {
		t.Errorf("Expected zero policy to match defaults, got %+v", p)
	}

	custom := Policy{InitialDelay: time.Millisecond}.withDefaults()
	if custom.InitialDelay != time.Millisecond {
		t.Errorf("Expected explicit delay preserved, got %v", custom.InitialDelay)
	}
	if custom.MaxAttempts != DefaultPolicy.MaxAttempts {
		t.Errorf("Expected default max attempts, got %d", custom.MaxAttempts)
	}
}
