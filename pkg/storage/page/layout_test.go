package page

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotdb/pkg/dberr"
)

func TestHeaderLayout(t *testing.T) {
	assert.Equal(t, 21, HeaderSize)
	assert.Equal(t, PageSize-21, DataSize)

	p := New(7)
	p.SetLSN(42)
	_, err := p.InsertRecord([]byte("abc"))
	require.NoError(t, err)

	buf := make([]byte, PageSize)
	require.NoError(t, p.Serialize(buf))

	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(buf[OffsetPageID:]))
	assert.Equal(t, byte(1), buf[OffsetDirty])
	assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(buf[OffsetLSN:]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(buf[OffsetFreeSpaceOffset:]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(buf[OffsetSlotCount:]))
	assert.Equal(t, "abc", string(buf[HeaderSize:HeaderSize+3]))

	// the only slot sits flush against the end of the page
	slot := buf[PageSize-SlotSize:]
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(slot[SlotOffsetField:]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(slot[SlotLengthField:]))
	assert.Equal(t, byte(1), slot[SlotValidField])
}

func TestSlotDirectoryAnchoredAtPageEnd(t *testing.T) {
	p := New(0)
	for _, r := range []string{"a", "bb", "ccc"} {
		_, err := p.InsertRecord([]byte(r))
		require.NoError(t, err)
	}
	buf := make([]byte, PageSize)
	require.NoError(t, p.Serialize(buf))

	dir := PageSize - 3*SlotSize
	for i, want := range []uint32{1, 2, 3} {
		got := binary.LittleEndian.Uint32(buf[dir+i*SlotSize+SlotLengthField:])
		assert.Equal(t, want, got, "slot %d", i)
	}
}

func TestRoundTripAfterInsertsAndDeletes(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	p := New(3)
	p.SetLSN(99)

	var ids []SlotID
	for i := 0; i < 60; i++ {
		rec := make([]byte, 1+rng.Intn(40))
		rng.Read(rec)
		id, err := p.InsertRecord(rec)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		if rng.Intn(3) == 0 {
			require.NoError(t, p.DeleteRecord(id))
		}
	}

	buf := make([]byte, PageSize)
	require.NoError(t, p.Serialize(buf))
	q := &Page{}
	require.NoError(t, q.Deserialize(buf))

	assert.Equal(t, p.ID(), q.ID())
	assert.Equal(t, p.IsDirty(), q.IsDirty())
	assert.Equal(t, p.LSN(), q.LSN())
	assert.Equal(t, p.FreeSpaceOffset(), q.FreeSpaceOffset())
	assert.Equal(t, p.SlotCount(), q.SlotCount())
	assert.Equal(t, p.FreeSpace(), q.FreeSpace())

	for _, id := range ids {
		ps, _ := p.Slot(id)
		qs, _ := q.Slot(id)
		assert.Equal(t, ps.Valid, qs.Valid)
		if !ps.Valid {
			continue
		}
		assert.Equal(t, ps.Offset, qs.Offset)
		assert.Equal(t, ps.Length, qs.Length)
		want, err := p.GetRecord(id)
		require.NoError(t, err)
		got, err := q.GetRecord(id)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	again := make([]byte, PageSize)
	require.NoError(t, q.Serialize(again))
	assert.Equal(t, buf, again)
}

func TestSerializeRejectsShortBuffer(t *testing.T) {
	p := New(0)
	assert.Error(t, p.Serialize(make([]byte, PageSize-1)))
}

func TestDeserializeRejectsCorruptImages(t *testing.T) {
	good := func() []byte {
		p := New(1)
		_, err := p.InsertRecord([]byte("hello"))
		require.NoError(t, err)
		buf := make([]byte, PageSize)
		require.NoError(t, p.Serialize(buf))
		return buf
	}

	tests := []struct {
		name   string
		mangle func(b []byte) []byte
	}{
		{"short image", func(b []byte) []byte { return b[:100] }},
		{"negative slot count", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[OffsetSlotCount:], 0xFFFFFFFF)
			return b
		}},
		{"slot count beyond page", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[OffsetSlotCount:], uint32(DataSize/SlotSize+1))
			return b
		}},
		{"free space offset overlaps directory", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[OffsetFreeSpaceOffset:], uint32(DataSize))
			return b
		}},
		{"slot past record data", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[PageSize-SlotSize+SlotLengthField:], 50)
			return b
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(InvalidPageID)
			err := p.Deserialize(tt.mangle(good()))
			assert.ErrorIs(t, err, dberr.ErrCorruptPage)
			assert.Equal(t, InvalidPageID, p.ID(), "failed deserialize must leave the page untouched")
		})
	}
}

func TestDeserializeZeroImageIsEmptyPage(t *testing.T) {
	p := New(5)
	_, err := p.InsertRecord([]byte("stale"))
	require.NoError(t, err)

	require.NoError(t, p.Deserialize(make([]byte, PageSize)))
	assert.Equal(t, PageID(0), p.ID())
	assert.Equal(t, 0, p.SlotCount())
	assert.Equal(t, DataSize, p.FreeSpace())
}
