package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestParseDecision(t *testing.T) {
	tests := []struct {
		answer string
		want   Decision
	}{
		{"y", DecisionRetry},
		{"Y\n", DecisionRetry},
		{"", DecisionRetry},
		{"\n", DecisionRetry},
		{"yi", DecisionRetryIgnoring},
		{" YI \r\n", DecisionRetryIgnoring},
		{"n", DecisionAbandon},
		{"no", DecisionAbandon},
		{"yes", DecisionAbandon},
	}

	for _, tt := range tests {
		if got := ParseDecision(tt.answer); got != tt.want {
			t.Errorf("ParseDecision(%q) = %v, want %v", tt.answer, got, tt.want)
		}
	}
}

func TestDecision_String(t *testing.T) {
	if DecisionRetry.String() != "retry" || DecisionRetryIgnoring.String() != "retry_ignore_fails" || DecisionAbandon.String() != "abandon" {
		t.Error("unexpected decision labels")
	}
}

func TestAbandonDecider(t *testing.T) {
	d, err := AbandonDecider{}.Decide(context.Background(), Failure{})
	if err != nil || d != DecisionAbandon {
		t.Errorf("Decide() = %v, %v", d, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (AbandonDecider{}).Decide(ctx, Failure{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Decide() on cancelled ctx error = %v", err)
	}
}

func TestPromptDecider_ReadsAnswers(t *testing.T) {
	out := &bytes.Buffer{}
	p := NewPromptDecider(strings.NewReader("yi\nn\n"), out)
	failure := Failure{StatusCode: 403, Body: "Forbidden"}

	first, err := p.Decide(context.Background(), failure)
	if err != nil || first != DecisionRetryIgnoring {
		t.Errorf("first Decide() = %v, %v", first, err)
	}
	second, err := p.Decide(context.Background(), failure)
	if err != nil || second != DecisionAbandon {
		t.Errorf("second Decide() = %v, %v", second, err)
	}

	if !strings.Contains(out.String(), "Reattempt request?") || !strings.Contains(out.String(), "403") {
		t.Errorf("prompt output = %q", out.String())
	}
}

func TestPromptDecider_ClosedInputAbandons(t *testing.T) {
	p := NewPromptDecider(strings.NewReader(""), io.Discard)

	d, err := p.Decide(context.Background(), Failure{})
	if err != nil || d != DecisionAbandon {
		t.Errorf("Decide() = %v, %v, want abandon", d, err)
	}
}

func TestPromptDecider_Cancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	p := NewPromptDecider(pr, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	d, err := p.Decide(ctx, Failure{})
	if !errors.Is(err, context.DeadlineExceeded) || d != DecisionAbandon {
		t.Fatalf("Decide() = %v, %v, want abandon with deadline error", d, err)
	}

	// the pending read answers the next prompt
	go pw.Write([]byte("y\n"))
	d, err = p.Decide(context.Background(), Failure{})
	if err != nil || d != DecisionRetry {
		t.Errorf("Decide() after cancel = %v, %v, want retry", d, err)
	}
}
