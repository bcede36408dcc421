/*
Package loggingtest implements a logger that records its entries, for
tests that assert on what components log.
*/
package loggingtest

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var ErrWaitTimeout = errors.New("timeout")

type subscription struct {
	exp  string
	n    int
	done chan struct{}
}

// TestLogger implements logging.Logger and records the entries. Entries
// are also written to the application log, unless muted.
type TestLogger struct {
	mu      sync.Mutex
	entries []string
	subs    []*subscription
	muted   bool
	closed  bool
}

func New() *TestLogger {
	return &TestLogger{}
}

func (tl *TestLogger) save(level log.Level, e string) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.muted || tl.closed {
		return
	}

	log.StandardLogger().Log(level, e)
	tl.entries = append(tl.entries, e)

	remaining := tl.subs[:0]
	for _, s := range tl.subs {
		if strings.Contains(e, s.exp) {
			s.n--
		}

		if s.n <= 0 {
			close(s.done)
			continue
		}

		remaining = append(remaining, s)
	}

	tl.subs = remaining
}

func (tl *TestLogger) count(exp string) int {
	var n int
	for _, e := range tl.entries {
		if strings.Contains(e, exp) {
			n++
		}
	}

	return n
}

// Count returns the number of recorded entries containing exp.
func (tl *TestLogger) Count(exp string) int {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.count(exp)
}

// WaitForN waits until n entries containing exp were recorded, counting
// the ones recorded before the call.
func (tl *TestLogger) WaitForN(exp string, n int, to time.Duration) error {
	tl.mu.Lock()
	s := &subscription{exp: exp, n: n - tl.count(exp), done: make(chan struct{})}
	if s.n <= 0 {
		tl.mu.Unlock()
		return nil
	}

	tl.subs = append(tl.subs, s)
	tl.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-time.After(to):
		return ErrWaitTimeout
	}
}

func (tl *TestLogger) WaitFor(exp string, to time.Duration) error {
	return tl.WaitForN(exp, 1, to)
}

// Reset drops the recorded entries and the pending waits.
func (tl *TestLogger) Reset() {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.entries = nil
	tl.subs = nil
}

// Mute stops recording until Unmute is called.
func (tl *TestLogger) Mute() {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.muted = true
}

func (tl *TestLogger) Unmute() {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.muted = false
}

// Close stops recording.
func (tl *TestLogger) Close() {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.closed = true
}

func (tl *TestLogger) Error(a ...any)            { tl.save(log.ErrorLevel, fmt.Sprint(a...)) }
func (tl *TestLogger) Errorf(f string, a ...any) { tl.save(log.ErrorLevel, fmt.Sprintf(f, a...)) }
func (tl *TestLogger) Warn(a ...any)             { tl.save(log.WarnLevel, fmt.Sprint(a...)) }
func (tl *TestLogger) Warnf(f string, a ...any)  { tl.save(log.WarnLevel, fmt.Sprintf(f, a...)) }
func (tl *TestLogger) Info(a ...any)             { tl.save(log.InfoLevel, fmt.Sprint(a...)) }
func (tl *TestLogger) Infof(f string, a ...any)  { tl.save(log.InfoLevel, fmt.Sprintf(f, a...)) }
func (tl *TestLogger) Debug(a ...any)            { tl.save(log.DebugLevel, fmt.Sprint(a...)) }
func (tl *TestLogger) Debugf(f string, a ...any) { tl.save(log.DebugLevel, fmt.Sprintf(f, a...)) }
