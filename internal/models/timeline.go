package models

import (
	"encoding/json"
	"time"
)

// TimelineEntry records a single status change.
type TimelineEntry struct {
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
	Note      string    `json:"note"`
	ActorID   string    `json:"actor_id"`
	ActorRole string    `json:"actor_role"`
}

// Timeline is an append-only log of status changes. Entries can be added but
// never edited or removed; callers only ever receive copies.
type Timeline struct {
	entries   []TimelineEntry
	committed int
}

// RestoreTimeline rebuilds a timeline from persisted entries. All of them are
// considered committed.
func RestoreTimeline(entries []TimelineEntry) Timeline {
	cp := make([]TimelineEntry, len(entries))
	copy(cp, entries)
	return Timeline{entries: cp, committed: len(cp)}
}

func (t *Timeline) Append(e TimelineEntry) {
	t.entries = append(t.entries, e)
}

func (t Timeline) Len() int {
	return len(t.entries)
}

// Entries returns a copy of all entries in order.
func (t Timeline) Entries() []TimelineEntry {
	cp := make([]TimelineEntry, len(t.entries))
	copy(cp, t.entries)
	return cp
}

// Last returns the most recent entry.
func (t Timeline) Last() (TimelineEntry, bool) {
	if len(t.entries) == 0 {
		return TimelineEntry{}, false
	}
	return t.entries[len(t.entries)-1], true
}

// Pending returns entries appended since the timeline was last committed.
func (t Timeline) Pending() []TimelineEntry {
	if t.committed >= len(t.entries) {
		return nil
	}
	cp := make([]TimelineEntry, len(t.entries)-t.committed)
	copy(cp, t.entries[t.committed:])
	return cp
}

// MarkCommitted records that every current entry has been persisted.
func (t *Timeline) MarkCommitted() {
	t.committed = len(t.entries)
}

func (t Timeline) MarshalJSON() ([]byte, error) {
	if t.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.entries)
}

func (t *Timeline) UnmarshalJSON(data []byte) error {
	var entries []TimelineEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*t = RestoreTimeline(entries)
	return nil
}
