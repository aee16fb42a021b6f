package cli

import (
	"bufio"
	"context"
	"io"
	"time"
)

func (s *session) runContext() (context.Context, context.CancelFunc) {
	timeout := s.cfg.APIRequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return context.WithTimeout(context.Background(), timeout)
}

// newLineScanner reads lines with a generous buffer so long pasted
// questions do not get truncated.
func newLineScanner(in io.Reader) func() (string, bool) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return func() (string, bool) {
		if !scanner.Scan() {
			return "", false
		}
		return scanner.Text(), true
	}
}
