package resilience

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func TestFallbackGroup_Names(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(1, "primary", FallbackConfig{})
	fg.AddFallback("secondary", 2)
	fg.AddFallback("tertiary", 3)

	if got, want := fg.Names(), []string{"primary", "secondary", "tertiary"}; !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestExecute_PrimarySuccess(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(10, "ten", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("twenty", 20)

	result, name, err := Execute(fg, func(v int) (int, error) { return v * 2, nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 20 || name != "ten" {
		t.Fatalf("Execute = %d from %q, want 20 from ten", result, name)
	}
}

func TestExecute_Failover(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(10, "ten", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("twenty", 20)

	result, name, err := Execute(fg, func(v int) (string, error) {
		if v == 10 {
			return "", errTest
		}
		return "from-twenty", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "from-twenty" || name != "twenty" {
		t.Fatalf("Execute = %q from %q, want from-twenty from twenty", result, name)
	}
}

func TestExecute_AllFailKeepsCauses(t *testing.T) {
	t.Parallel()
	errOther := errors.New("other")
	fg := NewFallbackGroup(10, "ten", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("twenty", 20)

	_, _, err := Execute(fg, func(v int) (string, error) {
		if v == 10 {
			return "", errTest
		}
		return "", errOther
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) || !errors.Is(err, errOther) {
		t.Errorf("err = %v, want both causes preserved", err)
	}
}

func TestExecute_SkipsOpenEntry(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: time.Hour,
		},
	})
	fg.AddFallback("secondary", "secondary")

	for range 2 {
		_, _, _ = Execute(fg, func(v string) (string, error) {
			if v == "primary" {
				return "", errTest
			}
			return v, nil
		})
	}

	var calls []string
	_, name, err := Execute(fg, func(v string) (string, error) {
		calls = append(calls, v)
		return v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "secondary" || !slices.Equal(calls, []string{"secondary"}) {
		t.Fatalf("served by %q after calls %v, want only secondary", name, calls)
	}
}
