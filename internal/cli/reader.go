package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
)

// ErrInputCancelled is returned when input is canceled by context.
var ErrInputCancelled = errors.New("input canceled")

// NonBlockingReader provides context-aware input reading that can be interrupted.
type NonBlockingReader struct {
	reader      *bufio.Reader
	readingLock sync.Mutex
}

// NewNonBlockingReader creates a new non-blocking reader.
func NewNonBlockingReader(reader io.Reader) *NonBlockingReader {
	if reader == nil {
		panic("reader cannot be nil")
	}
	return &NonBlockingReader{reader: bufio.NewReader(reader)}
}

// ReadString reads a string until delimiter, respecting context cancellation.
func (r *NonBlockingReader) ReadString(ctx context.Context, delim byte) (string, error) {
	type result struct {
		err   error
		value string
	}
	resultCh := make(chan result, 1)

	go func() {
		r.readingLock.Lock()
		defer r.readingLock.Unlock()

		value, err := r.reader.ReadString(delim)
		resultCh <- result{value: value, err: err}
	}()

	// The read goroutine outlives a canceled context until input arrives.
	select {
	case <-ctx.Done():
		return "", ErrInputCancelled
	case res := <-resultCh:
		return res.value, res.err
	}
}

// ReadLine reads a line, respecting context cancellation.
func (r *NonBlockingReader) ReadLine(ctx context.Context) (string, error) {
	line, err := r.ReadString(ctx, '\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Choose prompts until the answer is one of options, compared case
// insensitively, and returns the matching option.
func (r *NonBlockingReader) Choose(ctx context.Context, w io.Writer, prompt string, options ...string) (string, error) {
	label := fmt.Sprintf("%s [%s]", prompt, strings.Join(options, "/"))
	for {
		if _, err := fmt.Fprint(w, FormatPrompt(label)); err != nil {
			return "", err
		}
		answer, err := r.ReadLine(ctx)
		if err != nil {
			return "", err
		}
		if i := slices.IndexFunc(options, func(o string) bool { return strings.EqualFold(o, answer) }); i >= 0 {
			return options[i], nil
		}
		if _, err := fmt.Fprintln(w, FormatWarning("Please answer one of: "+strings.Join(options, ", "))); err != nil {
			return "", err
		}
	}
}
