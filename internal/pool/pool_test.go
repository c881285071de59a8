package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestMapPreservesOrder(t *testing.T) {
	inputs := make([]int, 40)
	for i := range inputs {
		inputs[i] = i
	}

	for _, limit := range []int{1, len(inputs) / 2, len(inputs), 0, 100} {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			out, err := Map(context.Background(), inputs, limit, func(_ context.Context, i int, v int) (int, error) {
				// Finish in scrambled order.
				time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
				return v * 10, nil
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(out) != len(inputs) {
				t.Fatalf("len(out) = %d, want %d", len(out), len(inputs))
			}
			for i, v := range out {
				if v != inputs[i]*10 {
					t.Errorf("out[%d] = %d, want %d (limit %d)", i, v, inputs[i]*10, limit)
				}
			}
		})
	}
}

func TestMapRespectsLimit(t *testing.T) {
	inputs := make([]struct{}, 25)
	const limit = 3
	var inFlight, peak atomic.Int32

	_, err := Map(context.Background(), inputs, limit, func(_ context.Context, _ int, _ struct{}) (bool, error) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return true, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := peak.Load(); got > limit {
		t.Errorf("peak in-flight = %d, want <= %d", got, limit)
	}
}

func TestMapEmpty(t *testing.T) {
	out, err := Map(context.Background(), []string(nil), 4, func(context.Context, int, string) (string, error) {
		t.Error("transform should not run")
		return "", nil
	})
	if err != nil || len(out) != 0 {
		t.Errorf("got %v, %v", out, err)
	}
}

func TestMapSentinelFailuresDoNotAbort(t *testing.T) {
	inputs := []string{"a", "fail", "c"}
	out, err := Map(context.Background(), inputs, 2, func(_ context.Context, _ int, s string) (*string, error) {
		if s == "fail" {
			return nil, nil
		}
		return &s, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0] == nil || *out[0] != "a" || out[1] != nil || out[2] == nil || *out[2] != "c" {
		t.Errorf("unexpected output %v", out)
	}
}

func TestMapPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Map(context.Background(), []int{1, 2, 3}, 1, func(_ context.Context, _ int, v int) (int, error) {
		if v == 2 {
			return 0, boom
		}
		return v, nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestMapRecoversPanic(t *testing.T) {
	_, err := Map(context.Background(), []int{1, 2}, 2, func(_ context.Context, _ int, v int) (int, error) {
		if v == 2 {
			panic("bad element")
		}
		return v, nil
	})
	if err == nil || !strings.Contains(err.Error(), "bad element") {
		t.Errorf("expected recovered panic, got %v", err)
	}
}

func TestMapCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int32
	_, err := Map(ctx, []int{1, 2, 3}, 1, func(context.Context, int, int) (int, error) {
		calls.Add(1)
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no calls after cancel, got %d", calls.Load())
	}
}
