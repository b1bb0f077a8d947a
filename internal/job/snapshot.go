package job

import (
	"bytes"
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
)

// ID identifies an item or a report. The job service sends integers, but
// the engine treats ids as opaque, so strings are accepted too.
type ID string

func (id ID) String() string { return string(id) }

// LessID orders numeric ids numerically and everything else lexically
// after them.
func LessID(a, b ID) bool {
	x, errA := strconv.ParseInt(string(a), 10, 64)
	y, errB := strconv.ParseInt(string(b), 10, 64)
	switch {
	case errA == nil && errB == nil:
		return x < y
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

func (id ID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("job: null id")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("job: id must be a number or string: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Item is one unit of asynchronous work.
type Item struct {
	ID     ID     `json:"id"`
	Status Status `json:"status"`
	Label  string `json:"label,omitempty"`
}

// Snapshot is the set of items observed at one instant. Items keep the
// order they arrived in; Get is keyed by id.
type Snapshot struct {
	order []ID
	items map[ID]Item
}

// NewSnapshot builds a snapshot from items in payload order. When an id
// repeats, the last occurrence wins but the first position is kept.
func NewSnapshot(items ...Item) Snapshot {
	s := Snapshot{items: make(map[ID]Item, len(items))}
	for _, it := range items {
		if _, seen := s.items[it.ID]; !seen {
			s.order = append(s.order, it.ID)
		}
		s.items[it.ID] = it
	}
	return s
}

func (s Snapshot) Len() int { return len(s.order) }

func (s Snapshot) Get(id ID) (Item, bool) {
	it, ok := s.items[id]
	return it, ok
}

// Items returns a copy of the items in iteration order.
func (s Snapshot) Items() []Item {
	out := make([]Item, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out
}

// Count returns how many items are in the given status.
func (s Snapshot) Count(st Status) int {
	n := 0
	for _, it := range s.items {
		if it.Status == st {
			n++
		}
	}
	return n
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Items())
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*s = NewSnapshot(items...)
	return nil
}
