package buffer

import (
	"fmt"

	"slotdb/pkg/dberr"
	"slotdb/pkg/storage/page"
)

// PageGuard holds one pin on a page and gives it back exactly once.
//
//	g, err := bpm.Fetch(id, true)
//	if err != nil {
//		return err
//	}
//	defer g.Release()
type PageGuard struct {
	bpm   *BufferPoolManager
	page  *page.Page
	id    page.PageID
	dirty bool
}

// Fetch fixes pageID and wraps the pin in a guard.
func (b *BufferPoolManager) Fetch(pageID page.PageID, forWrite bool) (*PageGuard, error) {
	p, err := b.FixPage(pageID, forWrite)
	if err != nil {
		return nil, err
	}
	return &PageGuard{bpm: b, page: p, id: pageID}, nil
}

// FetchNew allocates a page and returns it guarded.
func (b *BufferPoolManager) FetchNew() (*PageGuard, error) {
	p, err := b.NewPage()
	if err != nil {
		return nil, err
	}
	return &PageGuard{bpm: b, page: p, id: p.ID()}, nil
}

// WithPage runs fn on pageID while it is pinned. The pin is released on
// every path; the page is marked dirty when forWrite is set and fn succeeds.
func (b *BufferPoolManager) WithPage(pageID page.PageID, forWrite bool, fn func(p *page.Page) error) (err error) {
	g, err := b.Fetch(pageID, forWrite)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := g.Release(); err == nil {
			err = relErr
		}
	}()

	if err := fn(g.page); err != nil {
		return err
	}
	if forWrite {
		g.MarkDirty()
	}
	return nil
}

// Page returns the guarded page, or nil once the guard is released.
func (g *PageGuard) Page() *page.Page {
	return g.page
}

// ID is the page id the guard was created for.
func (g *PageGuard) ID() page.PageID {
	return g.id
}

// MarkDirty makes Release report the page as modified.
func (g *PageGuard) MarkDirty() {
	g.dirty = true
}

// Released reports whether Release has run.
func (g *PageGuard) Released() bool {
	return g.page == nil
}

// Release unpins the page. Only the first call has an effect.
func (g *PageGuard) Release() error {
	if g.page == nil {
		return nil
	}
	p := g.page
	g.page = nil
	return g.bpm.UnfixPage(p, g.dirty)
}

// Checked returns the page, or ErrGuardReleased once the guard is released.
func (g *PageGuard) Checked() (*page.Page, error) {
	if g.page == nil {
		return nil, fmt.Errorf("%w: page %d", dberr.ErrGuardReleased, g.id)
	}
	return g.page, nil
}
