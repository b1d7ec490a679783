package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), Policy{MaxAttempts: 3}, func(context.Context) (string, error) {
		calls++
		return "ok", nil
	}, nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" {
		t.Errorf("expected 'ok', got %q", v)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesCallFailures(t *testing.T) {
	calls := 0
	var observed []int
	p := Policy{
		MaxAttempts: 3,
		OnRetry:     func(attempt int, err error) { observed = append(observed, attempt) },
	}

	v, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("connection reset")
		}
		return 42, nil
	}, nil)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Errorf("expected 42, got %d", v)
	}
	if len(observed) != 2 {
		t.Errorf("expected 2 retry notifications, got %v", observed)
	}
}

func TestDo_ValidationFailureIsRetried(t *testing.T) {
	calls := 0
	validate := func(s string) error {
		if s != "good" {
			return errors.New("not good")
		}
		return nil
	}

	v, err := Do(context.Background(), Policy{MaxAttempts: 2}, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "bad", nil
		}
		return "good", nil
	}, validate)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "good" {
		t.Errorf("expected 'good', got %q", v)
	}
}

func TestDo_ExhaustedWithInvalidPayload(t *testing.T) {
	_, err := Do(context.Background(), Policy{MaxAttempts: 2}, func(context.Context) (string, error) {
		return "garbage", nil
	}, func(string) error { return errors.New("unparseable") })

	if !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", err)
	}
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestDo_ExhaustedWithCallFailure(t *testing.T) {
	cause := errors.New("503")
	_, err := Do(context.Background(), Policy{MaxAttempts: 2}, func(context.Context) (string, error) {
		return "", cause
	}, nil)

	if !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
	if errors.Is(err, ErrInvalidPayload) {
		t.Error("call failures must not be reported as invalid payloads")
	}
}

func TestDo_ZeroAttemptsMeansOne(t *testing.T) {
	calls := 0
	_, _ = Do(context.Background(), Policy{}, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	}, nil)

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Do(ctx, Policy{MaxAttempts: 5, Backoff: time.Hour}, func(context.Context) (int, error) {
		return 0, errors.New("fail")
	}, nil)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
