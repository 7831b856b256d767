package buffer

import "slotdb/pkg/storage/page"

// FrameStat is the view of a frame a Replacer gets to choose from.
type FrameStat struct {
	Index      int
	PageID     page.PageID
	PinCount   int32
	LastAccess uint64
}

// Replacer picks the frame to evict once every frame holds a page.
// It must never return a pinned frame; ok is false when no frame qualifies.
type Replacer interface {
	Victim(frames []FrameStat) (frameID int, ok bool)
}

// LRUReplacer evicts the unpinned frame with the oldest access. Ties go to
// the lowest frame index.
type LRUReplacer struct{}

// NewLRUReplacer returns the default policy.
func NewLRUReplacer() *LRUReplacer {
	return &LRUReplacer{}
}

// Victim implements Replacer.
func (l *LRUReplacer) Victim(frames []FrameStat) (int, bool) {
	victim := -1
	var oldest uint64
	for _, f := range frames {
		if f.PinCount != 0 {
			continue
		}
		if victim == -1 || f.LastAccess < oldest {
			victim = f.Index
			oldest = f.LastAccess
		}
	}
	return victim, victim != -1
}

// MRUReplacer evicts the most recently used unpinned frame, which suits
// repeated sequential scans larger than the pool.
type MRUReplacer struct{}

func NewMRUReplacer() *MRUReplacer {
	return &MRUReplacer{}
}

func (m *MRUReplacer) Victim(frames []FrameStat) (int, bool) {
	victim := -1
	var newest uint64
	for _, f := range frames {
		if f.PinCount != 0 {
			continue
		}
		if victim == -1 || f.LastAccess > newest {
			victim = f.Index
			newest = f.LastAccess
		}
	}
	return victim, victim != -1
}

// NewReplacer maps a configured policy name to a Replacer.
func NewReplacer(name string) (Replacer, bool) {
	switch name {
	case "", "lru":
		return NewLRUReplacer(), true
	case "mru":
		return NewMRUReplacer(), true
	default:
		return nil, false
	}
}
