package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// ErrCancelled is returned when the user aborts a prompt.
var ErrCancelled = errors.New("prompt cancelled")

// Prompter asks a human a question and returns the answer.
type Prompter interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Func adapts a function to the Prompter interface.
type Func func(ctx context.Context, question string) (string, error)

// Ask calls f.
func (f Func) Ask(ctx context.Context, question string) (string, error) {
	return f(ctx, question)
}

// LinePrompter writes the question and reads one line. A single reader
// goroutine owns the input; a line typed after a cancelled Ask is delivered
// to the next Ask.
type LinePrompter struct {
	in  *bufio.Reader
	out io.Writer

	once  sync.Once
	lines chan lineResult
}

// NewLinePrompter creates a LinePrompter over in and out.
func NewLinePrompter(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{in: bufio.NewReader(in), out: out, lines: make(chan lineResult)}
}

type lineResult struct {
	line string
	err  error
}

// read feeds lines until the input fails, then closes the channel after
// sending the error.
func (p *LinePrompter) read() {
	defer close(p.lines)
	for {
		line, err := p.in.ReadString('\n')
		if errors.Is(err, io.EOF) && line != "" {
			err = nil
		}
		p.lines <- lineResult{line: line, err: err}
		if err != nil {
			return
		}
	}
}

// Ask writes the question and waits for a line or for ctx to be done.
// A final line without a newline is accepted.
func (p *LinePrompter) Ask(ctx context.Context, question string) (string, error) {
	if _, err := fmt.Fprint(p.out, question); err != nil {
		return "", fmt.Errorf("failed to write prompt: %w", err)
	}
	p.once.Do(func() { go p.read() })

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res, ok := <-p.lines:
		if !ok || errors.Is(res.err, io.EOF) {
			return "", ErrCancelled
		}
		if res.err != nil {
			return "", fmt.Errorf("failed to read answer: %w", res.err)
		}
		return strings.TrimRight(res.line, "\r\n"), nil
	}
}

// New returns an interactive TUI prompter when in is a terminal and a line
// prompter otherwise.
func New(in *os.File, out *os.File) Prompter {
	if isatty.IsTerminal(in.Fd()) && isatty.IsTerminal(out.Fd()) {
		return NewTUIPrompter(in, out)
	}
	return NewLinePrompter(in, out)
}

// IsAffirmative reports whether answer is "y" or "yes", ignoring case and
// surrounding whitespace.
func IsAffirmative(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// Confirm asks question and reports whether the answer was affirmative. A
// cancelled prompt counts as "no".
func Confirm(ctx context.Context, p Prompter, question string) (bool, error) {
	answer, err := p.Ask(ctx, question)
	if errors.Is(err, ErrCancelled) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return IsAffirmative(answer), nil
}
