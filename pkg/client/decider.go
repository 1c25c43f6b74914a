package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Decision is the operator's answer after a request exhausted its retries.
type Decision int

const (
	// DecisionAbandon drops the request; its response becomes absent.
	DecisionAbandon Decision = iota

	// DecisionRetry runs another bounded retry cycle.
	DecisionRetry

	// DecisionRetryIgnoring runs one more cycle and returns whatever it gets.
	DecisionRetryIgnoring
)

func (d Decision) String() string {
	switch d {
	case DecisionRetry:
		return "retry"
	case DecisionRetryIgnoring:
		return "retry_ignore_fails"
	default:
		return "abandon"
	}
}

// Decider is consulted, blocking, when a request runs out of retries.
// An error means the decision itself was interrupted.
type Decider interface {
	Decide(ctx context.Context, failure Failure) (Decision, error)
}

// DeciderFunc adapts a function to the Decider interface.
type DeciderFunc func(ctx context.Context, failure Failure) (Decision, error)

// Decide calls f.
func (f DeciderFunc) Decide(ctx context.Context, failure Failure) (Decision, error) {
	return f(ctx, failure)
}

// AbandonDecider gives up immediately. It is the default for unattended runs.
type AbandonDecider struct{}

// Decide always abandons.
func (AbandonDecider) Decide(ctx context.Context, _ Failure) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return DecisionAbandon, err
	}
	return DecisionAbandon, nil
}

// ParseDecision maps an operator answer to a Decision.
// "y" or an empty line retries, "yi" retries and ignores further failures,
// anything else abandons.
func ParseDecision(answer string) Decision {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "":
		return DecisionRetry
	case "yi":
		return DecisionRetryIgnoring
	default:
		return DecisionAbandon
	}
}

type promptLine struct {
	text string
	err  error
}

// PromptDecider asks the operator on a terminal.
type PromptDecider struct {
	in  *bufio.Reader
	out io.Writer

	mu      sync.Mutex
	pending chan promptLine
}

// NewPromptDecider reads answers from in and writes prompts to out.
func NewPromptDecider(in io.Reader, out io.Writer) *PromptDecider {
	return &PromptDecider{in: bufio.NewReader(in), out: out}
}

// Decide prints the failure and waits for one line of input or ctx.
// A read left outstanding by a cancelled prompt answers the next one.
func (p *PromptDecider) Decide(ctx context.Context, failure Failure) (Decision, error) {
	fmt.Fprintf(p.out, "%s\nReattempt request? (Y/n, yi to retry and ignore further failures): ", failure.Summary())

	p.mu.Lock()
	ch := p.pending
	if ch == nil {
		ch = make(chan promptLine, 1)
		p.pending = ch
		go func() {
			text, err := p.in.ReadString('\n')
			ch <- promptLine{text: text, err: err}
		}()
	}
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return DecisionAbandon, ctx.Err()
	case line := <-ch:
		p.mu.Lock()
		p.pending = nil
		p.mu.Unlock()

		// closed input must not read as an empty "retry" answer
		if line.err != nil && strings.TrimSpace(line.text) == "" {
			return DecisionAbandon, nil
		}
		return ParseDecision(line.text), nil
	}
}
