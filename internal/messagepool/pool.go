// Package messagepool serves send content from a newline-delimited file.
// The file is reloaded automatically when it changes on disk.
package messagepool

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"rotor/pkg/logx"
)

// DefaultMessage is used when the pool file is missing or empty.
const DefaultMessage = "Hello!"

type Pool struct {
	path string
	log  logx.Logger

	mu       sync.RWMutex
	messages []string
}

func New(path string, log logx.Logger) *Pool {
	p := &Pool{path: path, log: log}
	p.reload()
	return p
}

// Pick returns one random message from the pool. Literal "\n" sequences
// are expanded to real line breaks.
func (p *Pool) Pick() string {
	p.mu.RLock()
	msgs := p.messages
	p.mu.RUnlock()
	if len(msgs) == 0 {
		return DefaultMessage
	}
	m := msgs[rand.IntN(len(msgs))]
	return strings.ReplaceAll(m, `\n`, "\n")
}

// Len reports the number of loaded messages.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.messages)
}

func (p *Pool) reload() {
	b, err := os.ReadFile(p.path)
	if err != nil {
		if !p.log.IsZero() {
			p.log.Warn("message pool unavailable; using default message",
				logx.String("path", p.path), logx.Err(err))
		}
		p.mu.Lock()
		p.messages = nil
		p.mu.Unlock()
		return
	}

	var msgs []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		msgs = append(msgs, line)
	}

	p.mu.Lock()
	p.messages = msgs
	p.mu.Unlock()
	if !p.log.IsZero() {
		p.log.Debug("message pool loaded", logx.String("path", p.path), logx.Int("messages", len(msgs)))
	}
}

// Watch reloads the pool when the file changes, until ctx is canceled.
func (p *Pool) Watch(ctx context.Context) error {
	dir := filepath.Dir(p.path)
	file := filepath.Base(p.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}

	// debounce to avoid partial writes
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, p.reload)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Name == filepath.Join(dir, file) {
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce()
				}
			}
		case <-w.Errors:
			// keep watching
		}
	}
}
