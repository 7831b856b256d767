// Package heap stores unordered records in the pages of a buffer pool and
// addresses them by RecordID.
package heap

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"slotdb/pkg/buffer"
	"slotdb/pkg/dberr"
	"slotdb/pkg/storage/page"
)

// HeapFile places records in the lowest page that has room for them. It owns
// no pages itself; every access goes through the buffer pool.
type HeapFile struct {
	bpm *buffer.BufferPoolManager
	fsm freeSpaceMap
	log *zap.Logger
}

type Option func(*HeapFile)

func WithLogger(l *zap.Logger) Option {
	return func(h *HeapFile) {
		if l != nil {
			h.log = l
		}
	}
}

// New builds the free-space map by visiting every page once.
func New(bpm *buffer.BufferPoolManager, opts ...Option) (*HeapFile, error) {
	h := &HeapFile{bpm: bpm, log: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}

	for i := 0; i < bpm.PageCount(); i++ {
		id := page.PageID(i)
		err := bpm.WithPage(id, false, func(p *page.Page) error {
			h.fsm.set(id, p.FreeSpace())
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("heap file: scan page %d: %w", id, err)
		}
	}
	h.log.Info("heap file opened", zap.Int("pages", bpm.PageCount()))
	return h, nil
}

// Allocate appends an empty page and returns its id.
func (h *HeapFile) Allocate() (page.PageID, error) {
	g, err := h.bpm.FetchNew()
	if err != nil {
		// the page may exist on disk even though no frame was free
		h.fsm.grow(h.bpm.PageCount())
		return page.InvalidPageID, err
	}
	id := g.ID()
	h.fsm.set(id, page.DataSize)
	h.log.Debug("heap page allocated", zap.Int32("page_id", int32(id)))
	return id, g.Release()
}

// Insert stores rec and returns where it went.
func (h *HeapFile) Insert(rec []byte) (page.RecordID, error) {
	if len(rec) > page.MaxRecordSize {
		return invalidRID, fmt.Errorf("%w: %d bytes, limit %d", dberr.ErrRecordTooLarge, len(rec), page.MaxRecordSize)
	}

	// 1. Lowest page with room for the record and its slot
	h.fsm.grow(h.bpm.PageCount())
	id, ok := h.fsm.find(len(rec) + page.SlotSize)
	// 2. Otherwise a new page at the end of the file
	if !ok {
		var err error
		if id, err = h.Allocate(); err != nil {
			return invalidRID, fmt.Errorf("insert: %w", err)
		}
	}
	return h.InsertInto(id, rec)
}

// InsertInto stores rec in a specific page.
func (h *HeapFile) InsertInto(id page.PageID, rec []byte) (page.RecordID, error) {
	if err := h.checkPage(id); err != nil {
		return invalidRID, err
	}

	var slot page.SlotID
	err := h.modify(id, func(p *page.Page) error {
		var err error
		slot, err = p.InsertRecord(rec)
		return err
	})
	if err != nil {
		return invalidRID, fmt.Errorf("insert into page %d: %w", id, err)
	}
	return page.RecordID{PageID: id, SlotID: slot}, nil
}

// Get returns a copy of the record at rid.
func (h *HeapFile) Get(rid page.RecordID) ([]byte, error) {
	if err := h.checkPage(rid.PageID); err != nil {
		return nil, err
	}

	var rec []byte
	err := h.bpm.WithPage(rid.PageID, false, func(p *page.Page) error {
		var err error
		rec, err = p.GetRecord(rid.SlotID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rid, err)
	}
	return rec, nil
}

// Delete tombstones rid. Its slot id is never handed out again.
func (h *HeapFile) Delete(rid page.RecordID) error {
	if err := h.checkPage(rid.PageID); err != nil {
		return err
	}
	if err := h.modify(rid.PageID, func(p *page.Page) error {
		return p.DeleteRecord(rid.SlotID)
	}); err != nil {
		return fmt.Errorf("delete %s: %w", rid, err)
	}
	return nil
}

// Update replaces the record at rid. The new version is written before the
// old one is deleted, and removed again if that delete fails, so a failed
// update leaves exactly the old record. The record may move; callers must use
// the returned id.
func (h *HeapFile) Update(rid page.RecordID, rec []byte) (page.RecordID, error) {
	if _, err := h.Get(rid); err != nil {
		return invalidRID, err
	}
	newRID, err := h.Insert(rec)
	if err != nil {
		return invalidRID, fmt.Errorf("update %s: %w", rid, err)
	}
	if err := h.Delete(rid); err != nil {
		if undoErr := h.Delete(newRID); undoErr != nil {
			// both copies are live now; report where the new one is
			h.log.Error("update rollback failed",
				zap.Stringer("rid", rid), zap.Stringer("new_rid", newRID), zap.Error(undoErr))
			return newRID, errors.Join(fmt.Errorf("update %s: %w", rid, err), undoErr)
		}
		return invalidRID, fmt.Errorf("update %s: %w", rid, err)
	}
	h.log.Debug("record updated", zap.Stringer("from", rid), zap.Stringer("to", newRID))
	return newRID, nil
}

// Scan calls fn for every live record in page and slot order. A page is
// unpinned before fn sees its records.
func (h *HeapFile) Scan(fn func(rid page.RecordID, rec []byte) error) error {
	type entry struct {
		slot page.SlotID
		rec  []byte
	}

	for i := 0; i < h.bpm.PageCount(); i++ {
		id := page.PageID(i)
		var entries []entry
		err := h.bpm.WithPage(id, false, func(p *page.Page) error {
			for s := 0; s < p.SlotCount(); s++ {
				slot := page.SlotID(s)
				if sl, _ := p.Slot(slot); !sl.Valid {
					continue
				}
				rec, err := p.GetRecord(slot)
				if err != nil {
					return err
				}
				entries = append(entries, entry{slot: slot, rec: rec})
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("scan page %d: %w", id, err)
		}

		for _, e := range entries {
			if err := fn(page.RecordID{PageID: id, SlotID: e.slot}, e.rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// FreeSpace reports the free bytes of page id as last seen by the heap.
func (h *HeapFile) FreeSpace(id page.PageID) (int, bool) {
	h.fsm.grow(h.bpm.PageCount())
	return h.fsm.get(id)
}

func (h *HeapFile) PageCount() int {
	return h.bpm.PageCount()
}

var invalidRID = page.RecordID{PageID: page.InvalidPageID, SlotID: -1}

func (h *HeapFile) checkPage(id page.PageID) error {
	if id < 0 || int(id) >= h.bpm.PageCount() {
		return fmt.Errorf("%w: page %d, file has %d pages", dberr.ErrInvalidRecordID, id, h.bpm.PageCount())
	}
	return nil
}

// modify runs fn on a pinned page and marks it dirty when fn succeeds.
func (h *HeapFile) modify(id page.PageID, fn func(p *page.Page) error) (err error) {
	g, err := h.bpm.Fetch(id, false)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := g.Release(); err == nil {
			err = relErr
		}
	}()

	p := g.Page()
	if err := fn(p); err != nil {
		return err
	}
	g.MarkDirty()
	h.fsm.set(id, p.FreeSpace())
	return nil
}
