package proc

import (
	"io"
	"sync"
)

// tailBuffer keeps the last limit bytes written to it. Used to retain a
// diagnostic tail of a child's stderr without unbounded growth.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// drain copies r into t until EOF. Run in its own goroutine.
func (t *tailBuffer) drain(r io.Reader) {
	_, _ = io.Copy(t, r)
}
