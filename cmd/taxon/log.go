package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lthms/taxon/internal/taxonomy"
)

// toast is a short-lived notification shown in the explorer's status line.
type toast struct {
	Level taxonomy.Level
	Msg   string
	At    time.Time
}

// toastBuffer stores the last N notifications. It implements
// taxonomy.Notifier.
type toastBuffer struct {
	mu    sync.RWMutex
	items []toast
	cap   int
	count int // total toasts ever written (for change detection)
	now   func() time.Time
}

func newToastBuffer(cap int) *toastBuffer {
	return &toastBuffer{
		items: make([]toast, 0, cap),
		cap:   cap,
		now:   time.Now,
	}
}

func (b *toastBuffer) Notify(level taxonomy.Level, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := toast{Level: level, Msg: msg, At: b.now()}
	if len(b.items) < b.cap {
		b.items = append(b.items, t)
	} else {
		b.items = append(b.items[1:], t)
	}
	b.count++
}

// Items returns a copy of the buffered toasts, oldest first.
func (b *toastBuffer) Items() []toast {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]toast, len(b.items))
	copy(out, b.items)
	return out
}

func (b *toastBuffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Current returns the newest toast if it is younger than ttl.
func (b *toastBuffer) Current(ttl time.Duration) (toast, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.items) == 0 {
		return toast{}, false
	}
	t := b.items[len(b.items)-1]
	if b.now().Sub(t.At) >= ttl {
		return toast{}, false
	}
	return t, true
}

// printNotifier writes notifications of the non-interactive commands to w.
// Errors are skipped: they come back as the command's error.
type printNotifier struct {
	w io.Writer
}

func (p printNotifier) Notify(level taxonomy.Level, msg string) {
	if level == taxonomy.LevelError {
		return
	}
	fmt.Fprintln(p.w, msg)
}
