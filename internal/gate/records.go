package gate

import (
	"container/list"
	"time"
)

type state int

const (
	stateEvaluating state = iota + 1
	stateGranted
	stateDenied
)

func (s state) String() string {
	switch s {
	case stateEvaluating:
		return "evaluating"
	case stateGranted:
		return "granted"
	case stateDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// record is the access decision for one (path, session) pair. A record in
// the evaluating state owns done, which is closed once state and decidedAt
// are final.
type record struct {
	key       string
	state     state
	decidedAt time.Time
	cause     error
	done      chan struct{}
	element   *list.Element
}

func (r *record) settled() bool { return r.state != stateEvaluating }

// recordTable is a bounded LRU of access records. It is not safe for
// concurrent use; the Gate serializes access.
type recordTable struct {
	max       int
	items     map[string]*record
	evictList *list.List
	evictions int64
}

func newRecordTable(max int) *recordTable {
	return &recordTable{
		max:       max,
		items:     make(map[string]*record),
		evictList: list.New(),
	}
}

// get returns the record for key and marks it recently used.
func (t *recordTable) get(key string) *record {
	r, ok := t.items[key]
	if !ok {
		return nil
	}
	t.evictList.MoveToFront(r.element)
	return r
}

// put stores r, replacing any record with the same key, then evicts the
// least recently used settled records while over capacity.
func (t *recordTable) put(r *record) {
	if old, ok := t.items[r.key]; ok {
		t.evictList.Remove(old.element)
	}
	r.element = t.evictList.PushFront(r)
	t.items[r.key] = r

	for e := t.evictList.Back(); e != nil && t.max > 0 && len(t.items) > t.max; {
		prev := e.Prev()
		victim := e.Value.(*record)
		if victim.settled() {
			t.removeRecord(victim)
			t.evictions++
		}
		e = prev
	}
}

func (t *recordTable) removeRecord(r *record) {
	t.evictList.Remove(r.element)
	delete(t.items, r.key)
}

// sweep drops settled records whose window has passed and returns how many
// were removed.
func (t *recordTable) sweep(now time.Time, window time.Duration) int {
	removed := 0
	for e := t.evictList.Back(); e != nil; {
		prev := e.Prev()
		r := e.Value.(*record)
		if r.settled() && now.Sub(r.decidedAt) >= window {
			t.removeRecord(r)
			removed++
		}
		e = prev
	}
	return removed
}

func (t *recordTable) len() int { return len(t.items) }
