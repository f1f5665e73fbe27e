package diag

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// Record is one decoded log entry.
type Record struct {
	Stamp  uint64
	Kind   Kind
	Source string
	Data   []byte
}

func (r Record) String() string {
	if r.Kind == KindBytes {
		return fmt.Sprintf("[%d] %s: % x", r.Stamp, r.Source, r.Data)
	}
	return fmt.Sprintf("[%d] %s: %s", r.Stamp, r.Source, r.Data)
}

// Reader iterates over the records of a log in the order they were written.
type Reader struct {
	r io.Reader
}

// NewReader reads records from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next record, or io.EOF at the end of the log.
func (r *Reader) Next() (Record, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Record{}, fmt.Errorf("diag: truncated header: %w", err)
		}
		return Record{}, err
	}
	kind, sourceLength, dataLength, stamp := decodeHeader(header[:])
	if kind == KindInvalid {
		return Record{}, fmt.Errorf("diag: invalid record header")
	}
	body := make([]byte, int(sourceLength)+int(dataLength))
	if _, err := io.ReadFull(r.r, body); err != nil {
		return Record{}, fmt.Errorf("diag: truncated record: %w", err)
	}
	return Record{
		Stamp:  stamp,
		Kind:   kind,
		Source: string(body[:sourceLength]),
		Data:   body[sourceLength:],
	}, nil
}

// Each calls fn for every record until fn returns an error.
func (r *Reader) Each(fn func(Record) error) error {
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// ReadAll decodes every record in data.
func ReadAll(r io.Reader) ([]Record, error) {
	var out []Record
	err := NewReader(r).Each(func(rec Record) error {
		out = append(out, rec)
		return nil
	})
	return out, err
}

// ReadFile decodes every record of a log file.
func ReadFile(filename string) ([]Record, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("diag: %w", err)
	}
	defer f.Close()
	return ReadAll(f)
}

// Sources returns the distinct record sources in first-seen order.
func Sources(records []Record) []string {
	seen := make(map[string]bool)
	var out []string
	for _, rec := range records {
		if !seen[rec.Source] {
			seen[rec.Source] = true
			out = append(out, rec.Source)
		}
	}
	return out
}
