package heap

import "slotdb/pkg/storage/page"

// freeSpaceMap tracks FreeSpace() of every page in the file. Page ids are
// dense, so the map is a slice indexed by id.
type freeSpaceMap struct {
	free []int
}

// grow registers pages the map has not seen yet as empty pages.
func (m *freeSpaceMap) grow(pageCount int) {
	for len(m.free) < pageCount {
		m.free = append(m.free, page.DataSize)
	}
}

func (m *freeSpaceMap) set(id page.PageID, n int) {
	m.grow(int(id) + 1)
	m.free[id] = n
}

func (m *freeSpaceMap) get(id page.PageID) (int, bool) {
	if id < 0 || int(id) >= len(m.free) {
		return 0, false
	}
	return m.free[id], true
}

// find returns the lowest page id with at least need bytes free.
func (m *freeSpaceMap) find(need int) (page.PageID, bool) {
	for id, n := range m.free {
		if n >= need {
			return page.PageID(id), true
		}
	}
	return page.InvalidPageID, false
}
