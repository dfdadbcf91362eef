package runmerge

import (
	"fmt"
	"io"
	"os"

	"github.com/ncw/directio"

	"bulkimport/internal/spillwriter"
)

// blockSize mirrors internal/storage.Writer's own alignment so a run's
// physical, block-aligned offset can be read back with an aligned buffer.
var blockSize = len(directio.AlignedBlock(directio.BlockSize))

// Cursor walks one run's decoded records in the order spillwriter wrote
// them (already sorted by key, then indexID, within the run). The whole run
// is decoded eagerly: a run is bounded by one Phase 1 buffer's capacity, so
// holding it in memory is no larger than a single sort buffer.
type Cursor struct {
	records []spillwriter.Record
	idx     int
}

// OpenRunCursor reads one run's bytes from f, starting at its block-aligned
// physical offset and reading forward exactly its logical length, then
// decodes every record in it. f is not closed; callers share one open file
// handle across every run cursor for the same spill file. Exported so
// internal/namingmerge's specialized merge can reuse the same run reader.
func OpenRunCursor(f *os.File, run spillwriter.RunIndex, limit int, maintainCount bool) (*Cursor, error) {
	if _, err := f.Seek(run.Offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("runmerge: seeking to run at %d: %w", run.Offset, err)
	}

	physLen := int(run.Length)
	if rem := physLen % blockSize; rem != 0 {
		physLen += blockSize - rem
	}
	buf := directio.AlignedBlock(physLen)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("runmerge: reading run at %d: %w", run.Offset, err)
	}
	data := buf[:run.Length]

	var records []spillwriter.Record
	for off := 0; off < len(data); {
		rec, n, err := spillwriter.DecodeRecord(data[off:], limit, maintainCount)
		if err != nil {
			return nil, fmt.Errorf("runmerge: decoding run at %d: %w", run.Offset, err)
		}
		records = append(records, rec)
		off += n
	}

	return &Cursor{records: records}, nil
}

// HasNext reports whether Peek would return a record.
func (c *Cursor) HasNext() bool { return c.idx < len(c.records) }

// Peek returns the current record without advancing.
func (c *Cursor) Peek() spillwriter.Record { return c.records[c.idx] }

// Advance moves past the current record.
func (c *Cursor) Advance() { c.idx++ }
