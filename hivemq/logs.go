package hivemq

import (
	"io"
	"regexp"
	"sync"

	"github.com/smallnest/ringbuffer"
	"github.com/testcontainers/testcontainers-go"

	"github.com/hivemq/hivemq-testcontainer-go/internal/logger"
)

// defaultLogTailSize bounds the container output kept for Logs().
const defaultLogTailSize = 64 * 1024

// logLatch is released once a log line matches its pattern.
type logLatch struct {
	pattern *regexp.Regexp
	done    chan struct{}
	once    sync.Once
}

func (l *logLatch) release() {
	l.once.Do(func() { close(l.done) })
}

// logConsumer receives container output. It echoes it unless silenced, keeps
// a bounded tail and releases latches whose pattern matches.
type logConsumer struct {
	mu      sync.Mutex
	out     io.Writer
	silent  bool
	tail    *ringbuffer.RingBuffer
	tailCap int
	latches map[*logLatch]struct{}
	log     logger.Logger
}

var _ testcontainers.LogConsumer = (*logConsumer)(nil)

func newLogConsumer(out io.Writer, silent bool, tailSize int, log logger.Logger) *logConsumer {
	if tailSize <= 0 {
		tailSize = defaultLogTailSize
	}
	if out == nil {
		out = io.Discard
	}
	return &logConsumer{
		out:     out,
		silent:  silent,
		tail:    ringbuffer.New(tailSize),
		tailCap: tailSize,
		latches: make(map[*logLatch]struct{}),
		log:     log,
	}
}

// Accept implements testcontainers.LogConsumer.
func (c *logConsumer) Accept(l testcontainers.Log) {
	c.consume(l.Content)
}

func (c *logConsumer) consume(content []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.silent {
		_, _ = c.out.Write(content)
	}
	c.appendTail(content)

	if len(c.latches) == 0 {
		return
	}
	line := string(content)
	for latch := range c.latches {
		if latch.pattern.MatchString(line) {
			c.log.Debug("container output matched pattern",
				logger.String("pattern", latch.pattern.String()))
			latch.release()
		}
	}
}

// appendTail writes p to the ring buffer, dropping the oldest bytes first.
// Caller holds c.mu.
func (c *logConsumer) appendTail(p []byte) {
	if len(p) > c.tailCap {
		p = p[len(p)-c.tailCap:]
	}
	if free := c.tail.Free(); free < len(p) {
		discard := make([]byte, len(p)-free)
		_, _ = c.tail.Read(discard)
	}
	_, _ = c.tail.Write(p)
}

// snapshot returns the retained tail without consuming it.
func (c *logConsumer) snapshot() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.tail.Length()
	if n == 0 {
		return ""
	}
	buf := make([]byte, n)
	read, _ := c.tail.Read(buf)
	buf = buf[:read]
	_, _ = c.tail.Write(buf)
	return string(buf)
}

// setSilent toggles echoing of container output.
func (c *logConsumer) setSilent(silent bool) {
	c.mu.Lock()
	c.silent = silent
	c.mu.Unlock()
}

// await registers a latch for pattern. The returned channel closes on the
// first matching output; cancel must be called to unregister it.
func (c *logConsumer) await(pattern *regexp.Regexp) (done <-chan struct{}, cancel func()) {
	latch := &logLatch{pattern: pattern, done: make(chan struct{})}

	c.mu.Lock()
	c.latches[latch] = struct{}{}
	c.mu.Unlock()

	return latch.done, func() {
		c.mu.Lock()
		delete(c.latches, latch)
		c.mu.Unlock()
	}
}
