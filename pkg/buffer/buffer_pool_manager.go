package buffer

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"slotdb/pkg/dberr"
	"slotdb/pkg/storage/disk"
	"slotdb/pkg/storage/page"
)

// frame holds one resident page and its cache metadata. The frame, not the
// page, owns the page id: callers may change a page's header but never the
// frame's identity. An empty frame has pageID InvalidPageID and a nil page.
type frame struct {
	pageID     page.PageID
	page       *page.Page
	pinCount   int32
	dirty      bool
	lastAccess uint64
}

func emptyFrame() frame {
	return frame{pageID: page.InvalidPageID}
}

func (f *frame) empty() bool {
	return f.page == nil
}

// needsWrite is true when the frame was marked dirty or the page itself
// recorded a mutation.
func (f *frame) needsWrite() bool {
	return f.page != nil && (f.dirty || f.page.IsDirty())
}

// BufferPoolManager caches a fixed number of pages in frames and hands them
// out under a pin/unpin protocol. It is not safe for concurrent use.
type BufferPoolManager struct {
	diskManager disk.DiskManager
	frames      []frame
	pageTable   map[page.PageID]int // PageID -> frame index
	replacer    Replacer
	clock       uint64
	stats       []FrameStat
	log         *zap.Logger
	metrics     *Metrics
}

// Option configures a BufferPoolManager.
type Option func(*BufferPoolManager)

// WithReplacer sets the eviction policy. The default is LRU.
func WithReplacer(r Replacer) Option {
	return func(b *BufferPoolManager) {
		if r != nil {
			b.replacer = r
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(b *BufferPoolManager) {
		if l != nil {
			b.log = l
		}
	}
}

// WithMetrics records pool activity in m.
func WithMetrics(m *Metrics) Option {
	return func(b *BufferPoolManager) {
		b.metrics = m
	}
}

// NewBufferPoolManager builds a pool of poolSize frames on top of
// diskManager. The pool does not take ownership of diskManager.
func NewBufferPoolManager(diskManager disk.DiskManager, poolSize int, opts ...Option) (*BufferPoolManager, error) {
	if diskManager == nil {
		return nil, errors.New("buffer pool: disk manager is nil")
	}
	if poolSize < 1 {
		return nil, fmt.Errorf("buffer pool: pool size must be positive, got %d", poolSize)
	}

	bpm := &BufferPoolManager{
		diskManager: diskManager,
		frames:      make([]frame, poolSize),
		pageTable:   make(map[page.PageID]int, poolSize),
		replacer:    NewLRUReplacer(),
		stats:       make([]FrameStat, poolSize),
		log:         zap.NewNop(),
	}
	for i := range bpm.frames {
		bpm.frames[i] = emptyFrame()
	}
	for _, opt := range opts {
		opt(bpm)
	}
	bpm.log.Info("buffer pool initialized", zap.Int("pool_size", poolSize))
	return bpm, nil
}

// FixPage pins pageID and returns its in-memory page, loading it from disk
// on a miss. Every successful call must be matched by one UnfixPage.
func (b *BufferPoolManager) FixPage(pageID page.PageID, forWrite bool) (*page.Page, error) {
	// 1. Cache hit: one more pin on the resident frame
	if frameID, ok := b.pageTable[pageID]; ok {
		f := &b.frames[frameID]
		if f.pinCount == 0 {
			b.metrics.pinned(1)
		}
		f.pinCount++
		if forWrite {
			f.dirty = true
		}
		b.touch(f)
		b.metrics.hit()
		b.log.Debug("page hit",
			zap.Int32("page_id", int32(pageID)),
			zap.Int("frame", frameID),
			zap.Int32("pin_count", f.pinCount))
		return f.page, nil
	}

	// 2. Cache miss: the page must exist before anything is evicted for it
	b.metrics.miss()
	if pageID < 0 || int(pageID) >= b.diskManager.PageCount() {
		return nil, fmt.Errorf("fix page %d: %w: file has %d pages", pageID, dberr.ErrIO, b.diskManager.PageCount())
	}

	// 3. Find a frame, writing back a dirty victim if needed
	frameID, err := b.claimFrame()
	if err != nil {
		return nil, fmt.Errorf("fix page %d: %w", pageID, err)
	}

	// 4. Load into a fresh page object so old handles never alias the new one
	p := page.New(pageID)
	if err := b.diskManager.ReadPage(pageID, p); err != nil {
		b.log.Error("failed to load page", zap.Int32("page_id", int32(pageID)), zap.Error(err))
		return nil, fmt.Errorf("fix page %d: %w", pageID, err)
	}
	b.metrics.diskRead()
	if p.ID() != pageID {
		b.log.Warn("page header id mismatch",
			zap.Int32("page_id", int32(pageID)),
			zap.Int32("header_id", int32(p.ID())))
		p.SetID(pageID)
	}
	// the stored dirty byte describes whoever wrote the image, not this load
	p.SetDirty(false)

	// 5. Register the frame
	f := &b.frames[frameID]
	*f = frame{pageID: pageID, page: p, pinCount: 1, dirty: forWrite}
	b.touch(f)
	b.pageTable[pageID] = frameID
	b.metrics.pinned(1)
	b.log.Debug("page loaded", zap.Int32("page_id", int32(pageID)), zap.Int("frame", frameID))
	return p, nil
}

// UnfixPage drops one pin on p. markDirty records that the caller changed
// the page. p is matched by identity, so a handle whose header id was
// rewritten still releases its own frame.
func (b *BufferPoolManager) UnfixPage(p *page.Page, markDirty bool) error {
	if p == nil {
		return fmt.Errorf("%w: unfix of nil page", dberr.ErrProtocolMisuse)
	}

	// 1. Find the frame holding exactly this object
	frameID, ok := b.frameOf(p)
	if !ok {
		if _, resident := b.pageTable[p.ID()]; resident {
			b.log.Warn("unfix through stale page handle", zap.Int32("page_id", int32(p.ID())))
			return fmt.Errorf("%w: page %d", dberr.ErrStaleHandle, p.ID())
		}
		b.log.Warn("unfix of page not in buffer pool", zap.Int32("page_id", int32(p.ID())))
		return fmt.Errorf("%w: page %d", dberr.ErrPageNotResident, p.ID())
	}

	// 2. Drop the pin
	f := &b.frames[frameID]
	if f.pinCount == 0 {
		b.log.Warn("unfix of unpinned page", zap.Int32("page_id", int32(f.pageID)))
		return fmt.Errorf("%w: page %d", dberr.ErrPinCountZero, f.pageID)
	}

	f.pinCount--
	if markDirty {
		f.dirty = true
	}
	b.touch(f)
	if f.pinCount == 0 {
		b.metrics.pinned(-1)
	}
	b.log.Debug("page unfixed",
		zap.Int32("page_id", int32(f.pageID)),
		zap.Int32("pin_count", f.pinCount),
		zap.Bool("dirty", f.needsWrite()))
	return nil
}

// frameOf returns the frame whose page is p. The page table is tried first;
// the scan only runs when p's header id no longer matches its frame.
func (b *BufferPoolManager) frameOf(p *page.Page) (int, bool) {
	if frameID, ok := b.pageTable[p.ID()]; ok && b.frames[frameID].page == p {
		return frameID, true
	}
	for i := range b.frames {
		if b.frames[i].page == p {
			return i, true
		}
	}
	return -1, false
}

// NewPage appends an empty page to the file and returns it pinned. The page
// stays allocated on disk even when no frame can be found for it.
func (b *BufferPoolManager) NewPage() (*page.Page, error) {
	pageID, err := b.diskManager.AllocatePage()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	b.metrics.diskWrite()
	return b.FixPage(pageID, false)
}

// FlushPage writes pageID back if it is resident, unpinned and dirty.
// A pinned dirty page is refused with ErrPinnedDirty.
func (b *BufferPoolManager) FlushPage(pageID page.PageID) error {
	frameID, ok := b.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d", dberr.ErrPageNotResident, pageID)
	}
	f := &b.frames[frameID]
	if !f.needsWrite() {
		return nil
	}
	if f.pinCount > 0 {
		return fmt.Errorf("%w: page %d has %d pins", dberr.ErrPinnedDirty, pageID, f.pinCount)
	}
	return b.writeBack(f)
}

// FlushAllPages writes every unpinned dirty frame to disk and syncs the
// file. Dirty frames that are still pinned are not written; they are
// reported in the returned error, which wraps dberr.ErrPinnedDirty.
func (b *BufferPoolManager) FlushAllPages() error {
	var errs []error
	var pinned []page.PageID

	// 1. Write every unpinned dirty frame, remember the pinned ones
	for i := range b.frames {
		f := &b.frames[i]
		if !f.needsWrite() {
			continue
		}
		if f.pinCount > 0 {
			pinned = append(pinned, f.pageID)
			continue
		}
		if err := b.writeBack(f); err != nil {
			errs = append(errs, err)
		}
	}

	// 2. Make the writes durable
	if err := b.diskManager.Sync(); err != nil {
		errs = append(errs, err)
	}
	// 3. Outstanding writers are reported, never dropped silently
	if len(pinned) > 0 {
		b.log.Warn("dirty pages still pinned at flush", zap.Any("page_ids", pinned))
		errs = append(errs, fmt.Errorf("%w: pages %v", dberr.ErrPinnedDirty, pinned))
	}
	return errors.Join(errs...)
}

// Close flushes the pool. The disk manager is left open for its owner.
func (b *BufferPoolManager) Close() error {
	return b.FlushAllPages()
}

// claimFrame returns an empty frame, evicting a victim when the pool is
// full.
func (b *BufferPoolManager) claimFrame() (int, error) {
	// 1. Empty frames first, lowest index
	for i := range b.frames {
		if b.frames[i].empty() {
			return i, nil
		}
	}

	// 2. Ask the replacer for an unpinned victim
	for i := range b.frames {
		f := &b.frames[i]
		b.stats[i] = FrameStat{Index: i, PageID: f.pageID, PinCount: f.pinCount, LastAccess: f.lastAccess}
	}
	frameID, ok := b.replacer.Victim(b.stats)
	if !ok {
		b.log.Warn("buffer pool exhausted", zap.Int("pool_size", len(b.frames)))
		return -1, fmt.Errorf("%w: %d frames", dberr.ErrPoolExhausted, len(b.frames))
	}
	if frameID < 0 || frameID >= len(b.frames) || b.frames[frameID].pinCount != 0 {
		return -1, fmt.Errorf("%w: replacer chose unusable frame %d", dberr.ErrProtocolMisuse, frameID)
	}

	// 3. Write it back if dirty; on failure the victim stays resident
	victim := &b.frames[frameID]
	victimID := victim.pageID
	if victim.needsWrite() {
		if err := b.writeBack(victim); err != nil {
			return -1, err
		}
	}
	delete(b.pageTable, victimID)
	*victim = emptyFrame()
	b.metrics.eviction()
	b.log.Debug("evicted page", zap.Int32("page_id", int32(victimID)), zap.Int("frame", frameID))
	return frameID, nil
}

// writeBack stores the frame's page at the frame's page id. The on-disk image
// always carries that id and a clear dirty byte.
func (b *BufferPoolManager) writeBack(f *frame) error {
	pageID := f.pageID
	if f.page.ID() != pageID {
		b.log.Warn("page header id rewritten while resident, restoring",
			zap.Int32("page_id", int32(pageID)),
			zap.Int32("header_id", int32(f.page.ID())))
		f.page.SetID(pageID)
	}
	f.page.SetDirty(false)
	if err := b.diskManager.WritePage(pageID, f.page); err != nil {
		f.page.SetDirty(true)
		b.log.Error("write back failed", zap.Int32("page_id", int32(pageID)), zap.Error(err))
		return fmt.Errorf("write back page %d: %w", pageID, err)
	}
	f.dirty = false
	b.metrics.writeback()
	b.log.Debug("wrote back page", zap.Int32("page_id", int32(pageID)))
	return nil
}

// touch advances the logical clock and stamps f with it.
func (b *BufferPoolManager) touch(f *frame) {
	b.clock++
	f.lastAccess = b.clock
}

// PinCount reports the pin count of a resident page.
func (b *BufferPoolManager) PinCount(pageID page.PageID) (int32, bool) {
	frameID, ok := b.pageTable[pageID]
	if !ok {
		return 0, false
	}
	return b.frames[frameID].pinCount, true
}

// IsResident reports whether pageID currently occupies a frame.
func (b *BufferPoolManager) IsResident(pageID page.PageID) bool {
	_, ok := b.pageTable[pageID]
	return ok
}

// PoolSize is the number of frames, fixed at construction.
func (b *BufferPoolManager) PoolSize() int {
	return len(b.frames)
}

// PageCount is the number of pages in the backing file.
func (b *BufferPoolManager) PageCount() int {
	return b.diskManager.PageCount()
}

// Stats is a snapshot of the pool occupancy.
type Stats struct {
	PoolSize  int
	Resident  int
	Pinned    int
	Dirty     int
	PageCount int
}

// Stats counts resident, pinned and dirty frames.
func (b *BufferPoolManager) Stats() Stats {
	s := Stats{PoolSize: len(b.frames), PageCount: b.diskManager.PageCount()}
	for i := range b.frames {
		f := &b.frames[i]
		if f.empty() {
			continue
		}
		s.Resident++
		if f.pinCount > 0 {
			s.Pinned++
		}
		if f.needsWrite() {
			s.Dirty++
		}
	}
	return s
}
