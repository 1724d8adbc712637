// Package actionlog keeps the latest actions of every user in memory.
//
// Nothing is persisted. A restart starts every history from scratch.
package actionlog

import (
	"sync"
	"time"
)

// DefaultSize is how many entries a user keeps before the oldest is dropped.
const DefaultSize = 50

type Entry struct {
	At      time.Time
	Kind    string
	Summary string
}

// Log holds a fixed size ring of entries per user.
type Log struct {
	mu    sync.Mutex
	size  int
	rings map[int64]*ring
}

type ring struct {
	entries []Entry
	next    int
}

func New(size int) *Log {
	if size <= 0 {
		size = DefaultSize
	}
	return &Log{size: size, rings: make(map[int64]*ring)}
}

// Record appends an entry, overwriting the oldest one once the ring is full.
func (l *Log) Record(userID int64, kind, summary string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rings[userID]
	if !ok {
		r = &ring{entries: make([]Entry, 0, l.size)}
		l.rings[userID] = r
	}
	e := Entry{At: at, Kind: kind, Summary: summary}
	if len(r.entries) < l.size {
		r.entries = append(r.entries, e)
		return
	}
	r.entries[r.next] = e
	r.next = (r.next + 1) % l.size
}

// Recent returns up to limit entries, newest first. A limit of zero or
// less returns everything kept.
func (l *Log) Recent(userID int64, limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rings[userID]
	if !ok {
		return nil
	}
	n := len(r.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	newest := (r.next - 1 + n) % n
	for i := 0; i < limit; i++ {
		out = append(out, r.entries[(newest-i+n)%n])
	}
	return out
}

