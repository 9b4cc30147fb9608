// Package audit implements the append-only audit log: every entry
// mirrored to disk on append, listed back chronologically. Entry ids
// are uuids; a separate sequence number, recovered on load, preserves
// chronological order across restarts without trusting file mtimes.
package audit

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"breachmap/internal/domain"
	"breachmap/internal/persist"
)

// entry pairs a domain.AuditEntry with the monotonic sequence number
// used to recover chronological order on restart without trusting file
// mtimes.
type entry struct {
	domain.AuditEntry
	Seq int `json:"seq"`
}

type snapshot struct {
	Entries []entry `json:"entries"`
}

// Log is the append-only audit trail.
type Log struct {
	mu      sync.Mutex
	entries []entry
	nextSeq int
	writer  *persist.AtomicWriter
}

// New returns a Log. If path is non-empty its prior entries are restored
// from disk and nextSeq is recovered as one past the highest seen
// sequence number.
func New(path string) (*Log, error) {
	l := &Log{}
	if path == "" {
		return l, nil
	}

	w, err := persist.NewAtomicWriter(path)
	if err != nil {
		return nil, err
	}
	l.writer = w

	var snap snapshot
	ok, err := persist.ReadJSON(path, &snap)
	if err != nil {
		return l, err
	}
	if ok {
		l.entries = snap.Entries
		for _, e := range snap.Entries {
			if e.Seq >= l.nextSeq {
				l.nextSeq = e.Seq + 1
			}
		}
	}
	return l, nil
}

// Append records one entry and mirrors the full log to disk, returning
// the new entry.
func (l *Log) Append(verb, actor, target, status, detail string) (domain.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := entry{
		AuditEntry: domain.AuditEntry{
			ID:        uuid.NewString(),
			Timestamp: time.Now(),
			Verb:      verb,
			Actor:     actor,
			Target:    target,
			Status:    status,
			Detail:    detail,
		},
		Seq: l.nextSeq,
	}
	l.nextSeq++
	l.entries = append(l.entries, e)

	if l.writer != nil {
		if err := l.writer.WriteJSON(snapshot{Entries: l.entries}); err != nil {
			return domain.AuditEntry{}, fmt.Errorf("audit: failed to mirror log to disk: %w", err)
		}
	}
	return e.AuditEntry, nil
}

// Filter narrows a List call. A zero-value Filter matches everything.
type Filter struct {
	Verb   string
	Actor  string
	Target string
}

func (f Filter) matches(e domain.AuditEntry) bool {
	if f.Verb != "" && f.Verb != e.Verb {
		return false
	}
	if f.Actor != "" && f.Actor != e.Actor {
		return false
	}
	if f.Target != "" && f.Target != e.Target {
		return false
	}
	return true
}

// List returns every entry matching filter, in chronological order.
func (l *Log) List(filter Filter) []domain.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	sorted := make([]entry, len(l.entries))
	copy(sorted, l.entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	out := make([]domain.AuditEntry, 0, len(sorted))
	for _, e := range sorted {
		if filter.matches(e.AuditEntry) {
			out = append(out, e.AuditEntry)
		}
	}
	return out
}

// Purge truncates the log. Only an explicit admin operation may do this;
// restarts never truncate.
func (l *Log) Purge() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.nextSeq = 0
	if l.writer == nil {
		return nil
	}
	return l.writer.WriteJSON(snapshot{})
}
