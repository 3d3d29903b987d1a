package executor

import (
	"strings"
	"sync"
)

// maxLineLen bounds a single captured line so a check that prints one huge
// line cannot blow the memory bound the tail exists to provide.
const maxLineLen = 4096

// tailBuffer is an io.Writer that keeps only the last N lines written.
// Safe for concurrent writes (stdout and stderr share one buffer).
type tailBuffer struct {
	mu       sync.Mutex
	maxLines int
	lines    []string
	partial  strings.Builder
}

func newTailBuffer(maxLines int) *tailBuffer {
	return &tailBuffer{maxLines: maxLines}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, b := range p {
		if b == '\n' {
			t.pushLine(t.partial.String())
			t.partial.Reset()
			continue
		}
		if t.partial.Len() < maxLineLen {
			t.partial.WriteByte(b)
		}
	}
	return len(p), nil
}

func (t *tailBuffer) pushLine(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.maxLines {
		t.lines = t.lines[len(t.lines)-t.maxLines:]
	}
}

// Lines returns the captured tail, including any unterminated final line.
func (t *tailBuffer) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, len(t.lines))
	copy(out, t.lines)
	if t.partial.Len() > 0 {
		out = append(out, t.partial.String())
		if len(out) > t.maxLines {
			out = out[len(out)-t.maxLines:]
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
