package sstable

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/ncw/directio"

	"bulkimport/internal/skiplist"
)

// SSTable is an on-disk, immutable snapshot of one refstore index memtable's
// entries at the moment it was flushed. It is a best-effort artifact: an
// import never reads an SSTable back, since an import is not resumable
// across a crash. Flushing still exercises the teacher's on-disk format so
// that an index's memtable can be released and its arena reused once a
// posting list has grown large enough to merit spilling.
type SSTable struct {
	latch    atomic.Int32
	id       uint64
	filename string
	file     *os.File
	level    uint64
	size     int64
}

type TableFormat int32

const (
	// FormatV1 encodes each record as
	// keyLen(u32) | key | trailer(u64) | valLen(u32) | value.
	FormatV1 TableFormat = 1
)

type footer struct {
	format TableFormat
}

// New drains it into a freshly created file at filename and returns the
// resulting SSTable.
func New(filename string, id, level uint64, it *skiplist.Iterator) (*SSTable, error) {
	file, err := directio.OpenFile(filename, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to open new sstable: %w", err)
	}

	if err := writeAll(file, it); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write sstable: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	return &SSTable{
		id:       id,
		filename: filename,
		file:     file,
		level:    level,
		size:     stat.Size(),
	}, nil
}

func writeAll(w io.Writer, it *skiplist.Iterator) error {
	for kv := it.First(); kv != nil; kv = it.Next() {
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], uint32(len(kv.K.LogicalKey)))
		if _, err := w.Write(header[:]); err != nil {
			return err
		}
		if _, err := w.Write(kv.K.LogicalKey); err != nil {
			return err
		}

		var trailer [8]byte
		binary.BigEndian.PutUint64(trailer[:], uint64(kv.K.Trailer))
		if _, err := w.Write(trailer[:]); err != nil {
			return err
		}

		binary.BigEndian.PutUint32(header[:], uint32(len(kv.V)))
		if _, err := w.Write(header[:]); err != nil {
			return err
		}
		if len(kv.V) > 0 {
			if _, err := w.Write(kv.V); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *SSTable) Level() uint64 {
	return s.level
}

// Read returns a reader over the raw file and a close func the caller must
// invoke when done. The latch lets Close wait out any in-flight readers
// before it is safe to delete the backing file.
func (s *SSTable) Read() (reader io.ReadSeeker, closeFn func()) {
	s.latch.Add(1)
	return s.file, func() {
		s.latch.Add(-1)
	}
}

func (s *SSTable) Close() error {
	return s.file.Close()
}
