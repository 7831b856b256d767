package heap

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotdb/pkg/buffer"
	"slotdb/pkg/dberr"
	"slotdb/pkg/storage/disk"
	"slotdb/pkg/storage/page"
)

func openHeap(t *testing.T, path string, poolSize int) (*HeapFile, func()) {
	t.Helper()
	dm, err := disk.NewDiskManager(path)
	require.NoError(t, err)
	bpm, err := buffer.NewBufferPoolManager(dm, poolSize)
	require.NoError(t, err)
	h, err := New(bpm)
	require.NoError(t, err)

	closed := false
	closeFn := func() {
		if closed {
			return
		}
		closed = true
		require.NoError(t, bpm.Close())
		require.NoError(t, dm.Close())
	}
	t.Cleanup(closeFn)
	return h, closeFn
}

func rec(n int, fill byte) []byte {
	return bytes.Repeat([]byte{fill}, n)
}

func TestInsertFillsLowestPageFirst(t *testing.T) {
	h, _ := openHeap(t, filepath.Join(t.TempDir(), "heap.db"), 4)

	// each 1000-byte record costs 1009 bytes, four fit in one page
	var rids []page.RecordID
	for i := 0; i < 5; i++ {
		rid, err := h.Insert(rec(1000, byte('a'+i)))
		require.NoError(t, err)
		rids = append(rids, rid)
	}
	for i := 0; i < 4; i++ {
		assert.Equal(t, page.RecordID{PageID: 0, SlotID: page.SlotID(i)}, rids[i])
	}
	assert.Equal(t, page.RecordID{PageID: 1, SlotID: 0}, rids[4])
	assert.Equal(t, 2, h.PageCount())

	free, ok := h.FreeSpace(0)
	require.True(t, ok)
	assert.Equal(t, page.DataSize-4*1009, free)

	// freeing a record on page 0 makes it the first choice again
	require.NoError(t, h.Delete(rids[1]))
	rid, err := h.Insert(rec(1000, 'z'))
	require.NoError(t, err)
	assert.Equal(t, page.RecordID{PageID: 0, SlotID: 4}, rid)
}

func TestGetDeleteUpdate(t *testing.T) {
	h, _ := openHeap(t, filepath.Join(t.TempDir(), "heap.db"), 2)

	alpha, err := h.Insert([]byte("alpha"))
	require.NoError(t, err)
	beta, err := h.Insert([]byte("beta"))
	require.NoError(t, err)

	got, err := h.Get(alpha)
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(got))

	moved, err := h.Update(alpha, []byte("alpha, second edition"))
	require.NoError(t, err)
	assert.NotEqual(t, alpha, moved)
	_, err = h.Get(alpha)
	assert.ErrorIs(t, err, dberr.ErrInvalidSlot)
	got, err = h.Get(moved)
	require.NoError(t, err)
	assert.Equal(t, "alpha, second edition", string(got))

	got, err = h.Get(beta)
	require.NoError(t, err)
	assert.Equal(t, "beta", string(got))

	require.NoError(t, h.Delete(beta))
	assert.ErrorIs(t, h.Delete(beta), dberr.ErrInvalidSlot)
	_, err = h.Update(beta, []byte("ghost"))
	assert.ErrorIs(t, err, dberr.ErrInvalidSlot)
}

func TestInvalidRecordIDs(t *testing.T) {
	h, _ := openHeap(t, filepath.Join(t.TempDir(), "heap.db"), 2)
	_, err := h.Insert([]byte("only"))
	require.NoError(t, err)

	for _, rid := range []page.RecordID{
		{PageID: 9, SlotID: 0},
		{PageID: -1, SlotID: 0},
	} {
		_, err := h.Get(rid)
		assert.ErrorIs(t, err, dberr.ErrInvalidRecordID, rid.String())
		assert.ErrorIs(t, h.Delete(rid), dberr.ErrInvalidRecordID)
	}

	_, err = h.Get(page.RecordID{PageID: 0, SlotID: 5})
	assert.ErrorIs(t, err, dberr.ErrInvalidSlot)
	assert.NotErrorIs(t, err, dberr.ErrInvalidRecordID)

	_, err = h.InsertInto(3, []byte("nowhere"))
	assert.ErrorIs(t, err, dberr.ErrInvalidRecordID)
}

func TestRecordSizeLimits(t *testing.T) {
	h, _ := openHeap(t, filepath.Join(t.TempDir(), "heap.db"), 2)

	_, err := h.Insert(rec(page.MaxRecordSize+1, 'x'))
	assert.ErrorIs(t, err, dberr.ErrRecordTooLarge)
	assert.ErrorIs(t, err, dberr.ErrInsufficientSpace)
	assert.Equal(t, 0, h.PageCount())

	_, err = h.Insert([]byte("small"))
	require.NoError(t, err)
	rid, err := h.Insert(rec(page.MaxRecordSize, 'x'))
	require.NoError(t, err)
	assert.Equal(t, page.RecordID{PageID: 1, SlotID: 0}, rid)

	free, _ := h.FreeSpace(1)
	assert.Equal(t, 0, free)
}

func TestInsertIntoFullPage(t *testing.T) {
	h, _ := openHeap(t, filepath.Join(t.TempDir(), "heap.db"), 2)
	id, err := h.Allocate()
	require.NoError(t, err)
	assert.Equal(t, page.PageID(0), id)

	_, err = h.InsertInto(id, rec(page.MaxRecordSize, 'x'))
	require.NoError(t, err)
	_, err = h.InsertInto(id, []byte("no room"))
	assert.ErrorIs(t, err, dberr.ErrInsufficientSpace)
}

func TestScanVisitsLiveRecordsInOrder(t *testing.T) {
	h, _ := openHeap(t, filepath.Join(t.TempDir(), "heap.db"), 1)

	var rids []page.RecordID
	for i := 0; i < 10; i++ {
		rid, err := h.Insert(rec(900, byte('0'+i)))
		require.NoError(t, err)
		rids = append(rids, rid)
	}
	require.NoError(t, h.Delete(rids[2]))
	require.NoError(t, h.Delete(rids[7]))

	var seen []page.RecordID
	require.NoError(t, h.Scan(func(rid page.RecordID, r []byte) error {
		seen = append(seen, rid)
		assert.Len(t, r, 900)
		return nil
	}))
	want := append(append([]page.RecordID{}, rids[:2]...), rids[3:7]...)
	want = append(want, rids[8:]...)
	assert.Equal(t, want, seen)

	stop := fmt.Errorf("stop")
	count := 0
	err := h.Scan(func(page.RecordID, []byte) error {
		count++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, count)
}

func TestFreeSpaceMapRebuiltOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.db")
	h, closeHeap := openHeap(t, path, 2)

	var rids []page.RecordID
	for i := 0; i < 6; i++ {
		rid, err := h.Insert(rec(700, byte('a'+i)))
		require.NoError(t, err)
		rids = append(rids, rid)
	}
	require.NoError(t, h.Delete(rids[0]))
	want := map[page.PageID]int{}
	for id := 0; id < h.PageCount(); id++ {
		n, ok := h.FreeSpace(page.PageID(id))
		require.True(t, ok)
		want[page.PageID(id)] = n
	}
	closeHeap()

	h2, _ := openHeap(t, path, 2)
	for id, n := range want {
		got, ok := h2.FreeSpace(id)
		require.True(t, ok)
		assert.Equal(t, n, got, "page %d", id)
	}
	for _, rid := range rids[1:] {
		r, err := h2.Get(rid)
		require.NoError(t, err)
		assert.Len(t, r, 700)
	}
	_, err := h2.Get(rids[0])
	assert.ErrorIs(t, err, dberr.ErrInvalidSlot)
}

// failingReads refuses to load one page from disk.
type failingReads struct {
	*disk.DiskManagerImpl
	failPage page.PageID
}

func (f *failingReads) ReadPage(pageID page.PageID, p *page.Page) error {
	if pageID == f.failPage {
		return fmt.Errorf("%w: cannot read page %d", dberr.ErrIO, pageID)
	}
	return f.DiskManagerImpl.ReadPage(pageID, p)
}

func TestUpdateRollsBackWhenOldRecordCannotBeDeleted(t *testing.T) {
	dm, err := disk.NewDiskManager(filepath.Join(t.TempDir(), "heap.db"))
	require.NoError(t, err)
	fd := &failingReads{DiskManagerImpl: dm, failPage: page.InvalidPageID}
	bpm, err := buffer.NewBufferPoolManager(fd, 1)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, bpm.Close())
		require.NoError(t, dm.Close())
	})
	h, err := New(bpm)
	require.NoError(t, err)

	rid, err := h.Insert(rec(page.MaxRecordSize-100, 'o'))
	require.NoError(t, err)

	// the new version lands on page 1, which evicts page 0; deleting the
	// old version then has to read page 0 back
	fd.failPage = 0
	newRID, err := h.Update(rid, rec(200, 'n'))
	assert.ErrorIs(t, err, dberr.ErrIO)
	assert.Equal(t, page.InvalidPageID, newRID.PageID)
	fd.failPage = page.InvalidPageID

	var live []page.RecordID
	require.NoError(t, h.Scan(func(r page.RecordID, _ []byte) error {
		live = append(live, r)
		return nil
	}))
	assert.Equal(t, []page.RecordID{rid}, live)

	got, err := h.Get(rid)
	require.NoError(t, err)
	assert.Len(t, got, page.MaxRecordSize-100)
}
