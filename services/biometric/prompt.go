// Package biometricsvc provides stand-ins for the platform biometric sensor.
package biometricsvc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-authgate/core/authgate"
)

// ErrCancelled is returned when the user dismisses the prompt.
var ErrCancelled = errors.New("biometric prompt cancelled")

// PromptBridge asks the user to confirm on a terminal, the way a sensor prompt would.
//
// A prompt cancelled through its context leaves the read pending on `in`; the line
// it eventually reads answers the next prompt. Callers sharing `in` must not read
// from it while such a prompt is pending.
type PromptBridge struct {
	in  *bufio.Reader
	out io.Writer

	mu      sync.Mutex
	pending chan answer
}

var _ authgate.BiometricBridge = (*PromptBridge)(nil)

func NewPromptBridge(in io.Reader, out io.Writer) *PromptBridge {
	return &PromptBridge{in: bufio.NewReader(in), out: out}
}

type answer struct {
	line string
	err  error
}

// Authenticate succeeds on "y"/"yes", fails on "n"/"no", and treats an empty line as cancel.
func (b *PromptBridge) Authenticate(ctx context.Context, prompt string) (bool, error) {
	if _, err := fmt.Fprintf(b.out, "%s [touch sensor: y/n] ", prompt); err != nil {
		return false, errors.Wrap(err, "writing prompt")
	}

	a, err := b.read(ctx)
	if err != nil {
		return false, err
	}
	if a.err != nil && (a.err != io.EOF || a.line == "") {
		return false, errors.Wrap(a.err, "reading answer")
	}

	switch strings.ToLower(strings.TrimSpace(a.line)) {
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	default:
		return false, ErrCancelled
	}
}

func (b *PromptBridge) read(ctx context.Context) (answer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := b.pending
	b.pending = nil
	if ch == nil {
		if ctx.Done() == nil {
			line, err := b.in.ReadString('\n')
			return answer{line, err}, nil
		}
		ch = make(chan answer, 1)
		go func() {
			line, err := b.in.ReadString('\n')
			ch <- answer{line, err}
		}()
	}

	select {
	case <-ctx.Done():
		b.pending = ch
		return answer{}, ctx.Err()
	case a := <-ch:
		return a, nil
	}
}

// Fixed always answers the same; useful for headless runs.
type Fixed bool

func (f Fixed) Authenticate(context.Context, string) (bool, error) {
	return bool(f), nil
}
