// Package spillwriter implements the per-index spill-run writer: it drains a
// queue of sorted sort-buffers for one index and appends each one as a run
// to a temp file in the length-prefixed wire format Phase 2's merger reads
// back.
package spillwriter

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/ncw/directio"

	"bulkimport/internal/idset"
	"bulkimport/internal/sortbuffer"
	"bulkimport/internal/storage"
)

// blockSize mirrors internal/storage.Writer's own alignment so this package
// can reconstruct the physical byte offset a Write call lands at without
// internal/storage needing to expose it.
var blockSize = len(directio.AlignedBlock(directio.BlockSize))

// RunIndex locates one flushed run within a writer's temp file: Offset is
// the physical, block-aligned file offset the run's data starts at; Length
// is the logical, unpadded byte length of the run, the exact span Phase 2
// must read forward from Offset before hitting the next run's padding gap.
type RunIndex struct {
	Offset int64
	Length int64
}

// Record is one decoded (key, indexID) entry from a run: the coalesced
// insert and delete posting lists accumulated across one buffer's flush.
type Record struct {
	IndexID uint32
	Key     []byte
	Insert  *idset.Set
	Delete  *idset.Set
}

// Writer drains one index's intake queue and spills its sorted buffers to a
// single temp file as a sequence of runs.
type Writer struct {
	indexID       uint32
	limit         int
	maintainCount bool

	path       string
	file       *storage.Writer
	physOffset int64
	runs       []RunIndex

	queue chan *sortbuffer.Buffer
}

// New creates the spill file at path and the writer that will drain buffers
// for indexID into it. limit and maintainCount are the index's posting-list
// parameters, used to coalesce duplicate keys within each flushed buffer.
func New(path string, indexID uint32, limit int, maintainCount bool, queueDepth int) (*Writer, error) {
	f, err := storage.NewWriter(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
	if err != nil {
		return nil, fmt.Errorf("spillwriter: creating %s: %w", path, err)
	}
	return &Writer{
		indexID:       indexID,
		limit:         limit,
		maintainCount: maintainCount,
		path:          path,
		file:          f,
		queue:         make(chan *sortbuffer.Buffer, queueDepth),
	}, nil
}

// IndexID returns the index this writer spills for.
func (w *Writer) IndexID() uint32 { return w.indexID }

// Path returns the temp file's path, for the merger to open and for
// best-effort cleanup on failure.
func (w *Writer) Path() string { return w.path }

// Enqueue hands a sorted buffer to the writer, blocking until there is room
// on the intake queue or ctx is cancelled. Pushing a poison buffer signals
// end-of-stream.
func (w *Writer) Enqueue(ctx context.Context, buf *sortbuffer.Buffer) error {
	select {
	case w.queue <- buf:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the intake queue until a poison buffer arrives, spilling every
// sorted buffer it receives as one run, then closes the file. It returns the
// completed run index, ready for Phase 2.
func (w *Writer) Run(ctx context.Context, release func(*sortbuffer.Buffer)) ([]RunIndex, error) {
	for {
		var buf *sortbuffer.Buffer
		select {
		case buf = <-w.queue:
		case <-ctx.Done():
			_ = w.file.Close()
			return nil, ctx.Err()
		}

		if buf.IsPoison() {
			if err := w.file.Close(); err != nil {
				return nil, fmt.Errorf("spillwriter: closing %s: %w", w.path, err)
			}
			return w.runs, nil
		}

		if err := w.spill(buf); err != nil {
			_ = w.file.Close()
			return nil, err
		}
		if release != nil {
			release(buf)
		}
	}
}

// spill coalesces buf's sorted records by key into insert/delete posting
// lists and appends the resulting run to the file.
func (w *Writer) spill(buf *sortbuffer.Buffer) error {
	var data []byte
	var curKey []byte
	var curInsert, curDelete *idset.Set

	flush := func() {
		if curInsert == nil {
			return
		}
		data = appendRecord(data, w.indexID, curKey, curInsert, curDelete)
	}

	for {
		rec, ok := buf.Next()
		if !ok {
			break
		}
		if curKey == nil || !bytes.Equal(curKey, rec.Key) {
			flush()
			curKey = append([]byte(nil), rec.Key...)
			curInsert = idset.New(w.limit, w.maintainCount)
			curDelete = idset.New(w.limit, w.maintainCount)
		}
		switch rec.Op {
		case sortbuffer.Insert:
			curInsert.Add(rec.EntryID)
		case sortbuffer.Delete:
			curDelete.Add(rec.EntryID)
		}
	}
	flush()

	if len(data) == 0 {
		return nil
	}
	return w.writeRun(data)
}

func (w *Writer) writeRun(data []byte) error {
	offset := w.physOffset
	blocks, err := w.file.Write(data)
	if err != nil {
		return fmt.Errorf("spillwriter: writing run to %s: %w", w.path, err)
	}
	w.physOffset += int64(blocks) * int64(blockSize)
	w.runs = append(w.runs, RunIndex{Offset: offset, Length: int64(len(data))})
	return nil
}

// appendRecord encodes one coalesced (indexID, key, insert, delete) record
// in the run-file wire format and appends it to data.
func appendRecord(data []byte, indexID uint32, key []byte, insert, del *idset.Set) []byte {
	hdr := make([]byte, 8)
	binary.BigEndian.PutUint32(hdr[0:4], indexID)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(key)))
	data = append(data, hdr...)
	data = append(data, key...)
	data = append(data, insert.Serialize()...)
	data = append(data, del.Serialize()...)
	return data
}

// DecodeRecord reads one record from buf in the run-file wire format,
// returning the record and the number of bytes consumed. Phase 2's merger
// uses this to walk a run it has read into memory.
func DecodeRecord(buf []byte, limit int, maintainCount bool) (Record, int, error) {
	if len(buf) < 8 {
		return Record{}, 0, io.ErrUnexpectedEOF
	}
	indexID := binary.BigEndian.Uint32(buf[0:4])
	keyLen := int(binary.BigEndian.Uint32(buf[4:8]))
	off := 8
	if len(buf) < off+keyLen {
		return Record{}, 0, io.ErrUnexpectedEOF
	}
	key := buf[off : off+keyLen]
	off += keyLen

	insert, n, err := idset.Deserialize(buf[off:], limit, maintainCount)
	if err != nil {
		return Record{}, 0, err
	}
	off += n

	del, n, err := idset.Deserialize(buf[off:], limit, maintainCount)
	if err != nil {
		return Record{}, 0, err
	}
	off += n

	return Record{IndexID: indexID, Key: key, Insert: insert, Delete: del}, off, nil
}
