package engine

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// logPrefixer adds "{op} " to each output line
type logPrefixer struct {
	writer io.Writer
	prefix []byte
}

func newLogPrefixer(writer io.Writer, op string) *logPrefixer {
	return &logPrefixer{writer: writer, prefix: []byte("{" + op + "} ")}
}

func (p *logPrefixer) Write(data []byte) (int, error) {
	reader := bufio.NewReader(bytes.NewReader(data))
	var written int
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return written, err
		}
		if len(line) > 0 {
			if _, werr := p.writer.Write(append(append([]byte{}, p.prefix...), line...)); werr != nil {
				return written, werr
			}
			written += len(line)
		}
		if err == io.EOF {
			return written, nil
		}
	}
}

// tailCapture keeps the last lines of command output
type tailCapture struct {
	maxLines int
	lines    []string
	mu       sync.Mutex
}

func (c *tailCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for line := range bytes.SplitSeq(p, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		if len(c.lines) >= c.maxLines {
			c.lines = c.lines[1:]
		}
		c.lines = append(c.lines, string(line))
	}
	return len(p), nil
}

func (c *tailCapture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.lines, "\n")
}

// CommandError is a failed command with the tail of its output
type CommandError struct {
	Op   string
	Err  error
	Tail string
}

func (e *CommandError) Error() string {
	if e.Tail == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed: %v\n\n%s", e.Op, e.Err, e.Tail)
}

func (e *CommandError) Unwrap() error { return e.Err }

// appendWriter appends to a file reopened on every write, the file may be removed in between
type appendWriter struct {
	path string
	mu   sync.Mutex
}

func (w *appendWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) //nolint:gosec // project log
	if err != nil {
		return 0, err
	}
	n, err := f.Write(p)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}
