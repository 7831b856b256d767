package db

import (
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"slotdb/pkg/buffer"
	"slotdb/pkg/config"
	"slotdb/pkg/dberr"
	"slotdb/pkg/heap"
	"slotdb/pkg/storage/disk"
	"slotdb/pkg/storage/page"
)

// Engine owns one backing file and the layers stacked on it.
type Engine struct {
	DiskManager disk.DiskManager
	BPM         *buffer.BufferPoolManager
	Heap        *heap.HeapFile
	log         *zap.Logger
}

// Open wires disk manager, buffer pool and heap file from cfg. log and reg
// may be nil.
func Open(cfg config.Config, log *zap.Logger, reg prometheus.Registerer) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	dm, err := disk.NewDiskManager(cfg.Storage.DataFile,
		disk.WithLogger(log.Named("disk")),
		disk.WithSyncWrites(cfg.Storage.SyncWrites))
	if err != nil {
		return nil, err
	}

	replacer, _ := buffer.NewReplacer(cfg.Storage.Replacer)
	opts := []buffer.Option{
		buffer.WithReplacer(replacer),
		buffer.WithLogger(log.Named("buffer")),
	}
	if reg != nil {
		opts = append(opts, buffer.WithMetrics(buffer.NewMetrics(reg)))
	}
	bpm, err := buffer.NewBufferPoolManager(dm, cfg.Storage.PoolSize, opts...)
	if err != nil {
		return nil, errors.Join(err, dm.Close())
	}

	hf, err := heap.New(bpm, heap.WithLogger(log.Named("heap")))
	if err != nil {
		return nil, errors.Join(err, bpm.Close(), dm.Close())
	}

	log.Info("engine opened",
		zap.String("data_file", cfg.Storage.DataFile),
		zap.Int("pages", dm.PageCount()),
		zap.Int("pool_size", cfg.Storage.PoolSize),
		zap.String("replacer", cfg.Storage.Replacer))
	return &Engine{DiskManager: dm, BPM: bpm, Heap: hf, log: log}, nil
}

// Close flushes the pool and releases the file. A flush error does not keep
// the file open.
func (e *Engine) Close() error {
	flushErr := e.BPM.Close()
	if flushErr != nil {
		e.log.Error("flush on close failed", zap.Error(flushErr))
	}
	return errors.Join(flushErr, e.DiskManager.Close())
}

func (e *Engine) Allocate() (page.PageID, error) {
	return e.Heap.Allocate()
}

func (e *Engine) Insert(rec []byte) (page.RecordID, error) {
	return e.Heap.Insert(rec)
}

func (e *Engine) InsertInto(id page.PageID, rec []byte) (page.RecordID, error) {
	return e.Heap.InsertInto(id, rec)
}

func (e *Engine) Get(rid page.RecordID) ([]byte, error) {
	return e.Heap.Get(rid)
}

func (e *Engine) Delete(rid page.RecordID) error {
	return e.Heap.Delete(rid)
}

func (e *Engine) Update(rid page.RecordID, rec []byte) (page.RecordID, error) {
	return e.Heap.Update(rid, rec)
}

// ScanAll returns every live record formatted as "(page,slot) data".
func (e *Engine) ScanAll() ([]string, error) {
	var rows []string
	err := e.Heap.Scan(func(rid page.RecordID, rec []byte) error {
		rows = append(rows, fmt.Sprintf("%s %s", rid, rec))
		return nil
	})
	return rows, err
}

// DescribePage writes the header and slot directory of page id to w.
func (e *Engine) DescribePage(id page.PageID, w io.Writer) error {
	if id < 0 || int(id) >= e.BPM.PageCount() {
		return fmt.Errorf("%w: page %d, file has %d pages", dberr.ErrInvalidRecordID, id, e.BPM.PageCount())
	}
	return e.BPM.WithPage(id, false, func(p *page.Page) error {
		p.Describe(w)
		return nil
	})
}

func (e *Engine) Flush() error {
	return e.BPM.FlushAllPages()
}

func (e *Engine) Stats() buffer.Stats {
	return e.BPM.Stats()
}
