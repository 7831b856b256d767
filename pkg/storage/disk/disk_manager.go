package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"slotdb/pkg/dberr"
	"slotdb/pkg/storage/page"
)

// DiskManager moves whole pages between memory and the backing file.
type DiskManager interface {
	ReadPage(pageID page.PageID, p *page.Page) error
	WritePage(pageID page.PageID, p *page.Page) error
	AllocatePage() (page.PageID, error)
	PageCount() int
	Sync() error
	Close() error
}

// DiskManagerImpl stores pages contiguously in a single file, page i at
// offset i*PageSize. It owns the file handle and the page count.
type DiskManagerImpl struct {
	dbFile     *os.File
	fileName   string
	numPages   int
	syncWrites bool
	log        *zap.Logger
	buf        [page.PageSize]byte
}

// Option configures a DiskManagerImpl.
type Option func(*DiskManagerImpl)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(d *DiskManagerImpl) {
		if l != nil {
			d.log = l
		}
	}
}

// WithSyncWrites makes every WritePage wait for fdatasync.
func WithSyncWrites(sync bool) Option {
	return func(d *DiskManagerImpl) {
		d.syncWrites = sync
	}
}

// NewDiskManager opens dbFileName, creating it and its directory when
// missing, and recovers the page count from the file size.
func NewDiskManager(dbFileName string, opts ...Option) (*DiskManagerImpl, error) {
	d := &DiskManagerImpl{
		fileName: dbFileName,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	// 1. Create the directory and the file when missing
	dir := filepath.Dir(dbFileName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create directory %s: %v", dberr.ErrIO, dir, err)
	}

	file, err := os.OpenFile(dbFileName, os.O_RDWR|os.O_CREATE, 0o664)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", dberr.ErrIO, dbFileName, err)
	}

	// 2. One process owns the file at a time
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: lock %s: %v", dberr.ErrIO, dbFileName, err)
	}

	// 3. The page count follows from the file size
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", dberr.ErrIO, dbFileName, err)
	}
	if info.Size()%page.PageSize != 0 {
		file.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes, not a multiple of %d",
			dberr.ErrCorruptFile, dbFileName, info.Size(), page.PageSize)
	}

	d.dbFile = file
	d.numPages = int(info.Size() / page.PageSize)
	d.log.Info("opened database file",
		zap.String("path", dbFileName),
		zap.Int("pages", d.numPages),
		zap.Bool("sync_writes", d.syncWrites))
	return d, nil
}

// PageCount is the number of whole pages in the file.
func (d *DiskManagerImpl) PageCount() int {
	return d.numPages
}

// FileName is the path the manager was opened with.
func (d *DiskManagerImpl) FileName() string {
	return d.fileName
}

// ReadPage loads page pageID from the file into p.
func (d *DiskManagerImpl) ReadPage(pageID page.PageID, p *page.Page) error {
	if d.dbFile == nil {
		return fmt.Errorf("%w: disk manager is closed", dberr.ErrIO)
	}
	if pageID < 0 || int(pageID) >= d.numPages {
		return fmt.Errorf("%w: read page %d outside file of %d pages", dberr.ErrIO, pageID, d.numPages)
	}

	n, err := d.dbFile.ReadAt(d.buf[:], offsetOf(pageID))
	if n < page.PageSize {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		d.log.Error("short page read", zap.Int32("page_id", int32(pageID)), zap.Int("bytes", n), zap.Error(err))
		return fmt.Errorf("%w: read page %d: got %d of %d bytes: %v", dberr.ErrIO, pageID, n, page.PageSize, err)
	}

	return p.Deserialize(d.buf[:])
}

// WritePage overwrites page pageID, or appends it when pageID equals the
// current page count.
func (d *DiskManagerImpl) WritePage(pageID page.PageID, p *page.Page) error {
	if d.dbFile == nil {
		return fmt.Errorf("%w: disk manager is closed", dberr.ErrIO)
	}
	if pageID < 0 || int(pageID) > d.numPages {
		return fmt.Errorf("%w: write page %d beyond end of file (%d pages)", dberr.ErrIO, pageID, d.numPages)
	}

	if err := p.Serialize(d.buf[:]); err != nil {
		return fmt.Errorf("%w: %v", dberr.ErrIO, err)
	}
	if _, err := d.dbFile.WriteAt(d.buf[:], offsetOf(pageID)); err != nil {
		d.log.Error("page write failed", zap.Int32("page_id", int32(pageID)), zap.Error(err))
		return fmt.Errorf("%w: write page %d: %v", dberr.ErrIO, pageID, err)
	}
	// durability per write is opt-in; Sync covers the rest
	if d.syncWrites {
		if err := unix.Fdatasync(int(d.dbFile.Fd())); err != nil {
			return fmt.Errorf("%w: fdatasync after page %d: %v", dberr.ErrIO, pageID, err)
		}
	}

	if int(pageID) == d.numPages {
		d.numPages++
	}
	return nil
}

// AllocatePage appends an empty page and returns its id.
func (d *DiskManagerImpl) AllocatePage() (page.PageID, error) {
	id := page.PageID(d.numPages)
	if err := d.WritePage(id, page.New(id)); err != nil {
		return page.InvalidPageID, err
	}
	d.log.Debug("allocated page", zap.Int32("page_id", int32(id)))
	return id, nil
}

// Sync flushes the file to stable storage.
func (d *DiskManagerImpl) Sync() error {
	if d.dbFile == nil {
		return nil
	}
	if err := d.dbFile.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %v", dberr.ErrIO, d.fileName, err)
	}
	return nil
}

// Close syncs, unlocks and closes the file. Calling it twice is harmless.
func (d *DiskManagerImpl) Close() error {
	if d.dbFile == nil {
		return nil
	}
	syncErr := d.Sync()
	_ = unix.Flock(int(d.dbFile.Fd()), unix.LOCK_UN)
	closeErr := d.dbFile.Close()
	d.dbFile = nil
	if closeErr != nil {
		closeErr = fmt.Errorf("%w: close %s: %v", dberr.ErrIO, d.fileName, closeErr)
	}
	d.log.Info("closed database file", zap.String("path", d.fileName), zap.Int("pages", d.numPages))
	return errors.Join(syncErr, closeErr)
}

func offsetOf(pageID page.PageID) int64 {
	return int64(pageID) * page.PageSize
}
