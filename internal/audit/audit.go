// Package audit keeps bounded per-prefix request logs and fans entries out
// to live subscribers.
package audit

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/koltyakov/passage/internal/domain"
)

// MaxEntriesPerPrefix bounds each prefix's log; the oldest entry is evicted
// when a new one arrives at capacity.
const MaxEntriesPerPrefix = 100

// Event pairs a recorded entry with the prefix it belongs to.
type Event struct {
	Prefix string            `json:"prefix"`
	Entry  domain.AuditEntry `json:"entry"`
}

// Log stores audit entries newest-first per route prefix.
type Log struct {
	mu       sync.Mutex
	byPrefix map[string][]domain.AuditEntry
	subs     map[chan Event]struct{}
}

func NewLog() *Log {
	return &Log{
		byPrefix: make(map[string][]domain.AuditEntry),
		subs:     make(map[chan Event]struct{}),
	}
}

// Record prepends entry to the prefix's log, evicting the oldest entry past
// the cap, and notifies subscribers without blocking: a slow subscriber
// misses events rather than stalling request handling.
func (l *Log) Record(prefix string, entry domain.AuditEntry) {
	l.mu.Lock()
	entries := l.byPrefix[prefix]
	entries = append([]domain.AuditEntry{entry}, entries...)
	if len(entries) > MaxEntriesPerPrefix {
		entries = entries[:MaxEntriesPerPrefix]
	}
	l.byPrefix[prefix] = entries

	ev := Event{Prefix: prefix, Entry: entry}
	for ch := range l.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	l.mu.Unlock()
}

// Entries returns a copy of the prefix's log, newest first.
func (l *Log) Entries(prefix string) []domain.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := l.byPrefix[prefix]
	out := make([]domain.AuditEntry, len(entries))
	copy(out, entries)
	return out
}

// Prefixes returns the prefixes that have recorded entries, sorted.
func (l *Log) Prefixes() []string {
	l.mu.Lock()
	out := make([]string, 0, len(l.byPrefix))
	for p := range l.byPrefix {
		out = append(out, p)
	}
	l.mu.Unlock()
	sort.Strings(out)
	return out
}

// Clear drops the log for prefix, or all logs when prefix is empty.
func (l *Log) Clear(prefix string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prefix == "" {
		l.byPrefix = make(map[string][]domain.AuditEntry)
		return
	}
	delete(l.byPrefix, prefix)
}

// Subscribe registers a buffered channel receiving every recorded event.
// The caller must Unsubscribe when done.
func (l *Log) Subscribe() chan Event {
	ch := make(chan Event, 32)
	l.mu.Lock()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()
	return ch
}

func (l *Log) Unsubscribe(ch chan Event) {
	l.mu.Lock()
	delete(l.subs, ch)
	l.mu.Unlock()
	close(ch)
}

// Diff compares the client's original headers with the outbound set and
// reports what the proxy added or modified. Comparison is case-insensitive
// on header names; multi-valued headers are flattened first.
func Diff(original, outbound http.Header) domain.HeaderDiff {
	orig := FlattenHeaders(original)
	out := FlattenHeaders(outbound)

	origLower := make(map[string]string, len(orig))
	for k, v := range orig {
		origLower[strings.ToLower(k)] = v
	}

	added := make(map[string]string)
	modified := make(map[string]string)
	for k, v := range out {
		prev, existed := origLower[strings.ToLower(k)]
		switch {
		case !existed:
			added[k] = v
		case prev != v:
			modified[k] = v
		}
	}

	return domain.HeaderDiff{
		Original: orig,
		Proxy:    out,
		Added:    added,
		Modified: modified,
	}
}

// FlattenHeaders joins multi-valued headers with ", " into a flat map.
func FlattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, values := range h {
		out[k] = strings.Join(values, ", ")
	}
	return out
}
