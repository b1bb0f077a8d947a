package poll

import "github.com/hello-sally/jobwatch/internal/job"

type dedupeKey struct {
	item job.ID
	kind job.Kind
}

// Deduper remembers which (item, outcome) pairs a session has already
// surfaced. It lives and dies with one session and is not safe for
// concurrent use; the controller guards it with its own lock.
type Deduper struct {
	seen map[dedupeKey]struct{}
}

func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[dedupeKey]struct{})}
}

// ShouldNotify records ev and reports whether this is the first time its
// (ItemID, Kind) pair has been seen.
func (d *Deduper) ShouldNotify(ev job.TransitionEvent) bool {
	k := dedupeKey{item: ev.ItemID, kind: ev.Kind}
	if _, ok := d.seen[k]; ok {
		return false
	}
	d.seen[k] = struct{}{}
	return true
}

// Len returns how many distinct pairs have been recorded.
func (d *Deduper) Len() int { return len(d.seen) }
