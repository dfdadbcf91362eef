package wal

import (
	"encoding/binary"
	"os"

	"bulkimport/internal/storage"
)

// WAL (write-ahead log) records every write applied to a refstore index's
// memtable before it lands in the skiplist. Because a bulk import never
// resumes across a crash, the log is write-only: nothing in this package
// reads it back. Its purpose mirrors the original's — one log per memtable,
// closed and discarded once the memtable is flushed — scoped down to what
// an import actually needs from it.
type WAL struct {
	w *storage.Writer
}

// New opens path for append-only, block-aligned writes.
func New(path string) (*WAL, error) {
	w, err := storage.NewWriter(path, os.O_CREATE|os.O_RDWR|os.O_APPEND)
	if err != nil {
		return nil, err
	}
	return &WAL{w: w}, nil
}

// Append writes one record: a 4-byte big-endian length prefix followed by
// the record bytes.
func (w *WAL) Append(data []byte) error {
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err := w.w.Write(buf)
	return err
}

// Close closes the underlying file. directio writes are unbuffered, so
// there is nothing to flush first.
func (w *WAL) Close() error {
	return w.w.Close()
}
