package jobstate

import (
	"errors"
	"testing"
)

func TestEnsureTransitionAllowed(t *testing.T) {
	cases := []struct {
		from, to Status
		wantErr  bool
	}{
		{Received, Preprocessed, false},
		{Received, Routed, true},
		{Preprocessed, Routed, false},
		{Routed, Planned, false},
		{Planned, Executing, false},
		{Executing, Verified, false},
		{Verified, Acted, false},
		{Verified, NeedsReview, false},
		{Verified, Succeeded, true},
		{Acted, Succeeded, false},
		{Acted, NeedsReview, false},
		{NeedsReview, Executing, false},
		{NeedsReview, Succeeded, true},
		{Succeeded, Executing, true},
		{Failed, Received, true},
		{Cancelled, Preprocessed, true},
	}
	for _, c := range cases {
		err := EnsureTransitionAllowed(c.from, c.to)
		if c.wantErr && err == nil {
			t.Errorf("%s -> %s: expected error, got nil", c.from, c.to)
		}
		if !c.wantErr && err != nil {
			t.Errorf("%s -> %s: unexpected error: %v", c.from, c.to, err)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{Succeeded, Failed, Cancelled} {
		if !s.Terminal() {
			t.Errorf("%s: expected terminal", s)
		}
	}
	for _, s := range []Status{Received, Preprocessed, Routed, Planned, Executing, Verified, Acted, NeedsReview} {
		if s.Terminal() {
			t.Errorf("%s: expected non-terminal", s)
		}
	}
}

func TestOrderMonotone(t *testing.T) {
	seq := []Status{Received, Preprocessed, Routed, Planned, Executing, Verified, Acted}
	for i := 1; i < len(seq); i++ {
		if Order(seq[i]) <= Order(seq[i-1]) {
			t.Errorf("expected Order(%s) > Order(%s)", seq[i], seq[i-1])
		}
	}
}

func TestInvalidTransitionError(t *testing.T) {
	err := EnsureTransitionAllowed(Succeeded, Executing)
	if err == nil {
		t.Fatal("expected error")
	}
	var it *InvalidTransition
	if !errors.As(err, &it) {
		t.Fatalf("expected *InvalidTransition, got %T", err)
	}
	if it.From != Succeeded || it.To != Executing {
		t.Errorf("unexpected fields: %+v", it)
	}
}
