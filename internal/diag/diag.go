// Package diag is the diagnostic channel of the interrupt core: an append
// only binary record log that may be written from interrupt context.
//
// Each record is laid out as
//   - 2 bytes kind (0 = invalid, 1 = bytes, 2 = string)
//   - 2 bytes source length
//   - 4 bytes message length
//   - 8 bytes stamp
//   - source bytes
//   - message bytes
//
// Writers reserve space by atomically advancing the log offset, so a record
// is never interleaved with another and writing never blocks.
package diag

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type Kind uint16

const (
	KindInvalid Kind = iota
	KindBytes
	KindString
)

const headerSize = 16

// Clock stamps records. The kernel stamps with its timer tick count.
type Clock func() uint64

// WallClock stamps records with the host time in nanoseconds.
func WallClock() uint64 { return uint64(time.Now().UnixNano()) }

// Sink is where records end up.
type Sink interface {
	io.WriterAt
	io.Closer
}

// Log is a diagnostic log. The zero value discards everything.
type Log struct {
	sink   atomic.Pointer[sinkHolder]
	offset atomic.Uint64
	clock  atomic.Pointer[Clock]
	errs   atomic.Uint64
}

type sinkHolder struct {
	w Sink
}

// New returns a log writing to w.
func New(w Sink) *Log {
	l := &Log{}
	l.Open(w)
	return l
}

// OpenFile truncates filename and returns a log writing to it.
func OpenFile(filename string) (*Log, error) {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("diag: %w", err)
	}
	return New(f), nil
}

// Open starts writing to w from offset zero.
func (l *Log) Open(w Sink) {
	l.offset.Store(0)
	l.sink.Store(&sinkHolder{w: w})
}

// SetClock replaces the stamp source.
func (l *Log) SetClock(c Clock) {
	l.clock.Store(&c)
}

// Close detaches and closes the sink.
func (l *Log) Close() error {
	h := l.sink.Swap(nil)
	if h == nil {
		return nil
	}
	return h.w.Close()
}

// Size returns the number of bytes written so far.
func (l *Log) Size() int64 { return int64(l.offset.Load()) }

// Failures returns the number of records the sink rejected.
func (l *Log) Failures() uint64 { return l.errs.Load() }

func (l *Log) stamp() uint64 {
	if c := l.clock.Load(); c != nil {
		return (*c)()
	}
	return WallClock()
}

func encodeHeader(kind Kind, source string, data []byte, stamp uint64) []byte {
	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint16(header[0:2], uint16(kind))
	binary.LittleEndian.PutUint16(header[2:4], uint16(len(source)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))
	binary.LittleEndian.PutUint64(header[8:16], stamp)
	return header
}

func decodeHeader(header []byte) (kind Kind, sourceLength uint16, dataLength uint32, stamp uint64) {
	kind = Kind(binary.LittleEndian.Uint16(header[0:2]))
	sourceLength = binary.LittleEndian.Uint16(header[2:4])
	dataLength = binary.LittleEndian.Uint32(header[4:8])
	stamp = binary.LittleEndian.Uint64(header[8:16])
	return
}

func (l *Log) write(kind Kind, source string, data []byte) {
	if l == nil {
		return
	}
	h := l.sink.Load()
	if h == nil {
		return
	}
	record := encodeHeader(kind, source, data, l.stamp())
	record = append(record, source...)
	record = append(record, data...)

	size := uint64(len(record))
	off := l.offset.Add(size) - size
	if _, err := h.w.WriteAt(record, int64(off)); err != nil {
		// The channel must not fail the caller; count and move on.
		l.errs.Add(1)
	}
}

func (l *Log) WriteBytes(source string, data []byte) { l.write(KindBytes, source, data) }

func (l *Log) Write(source, message string) { l.write(KindString, source, []byte(message)) }

func (l *Log) Writef(source, format string, args ...any) {
	l.write(KindString, source, fmt.Appendf(nil, format, args...))
}

// Writer writes records under a fixed source name.
type Writer interface {
	WriteBytes(data []byte)
	Write(message string)
	Writef(format string, args ...any)
}

type sourceWriter struct {
	log    *Log
	source string
}

func (w *sourceWriter) WriteBytes(data []byte) { w.log.WriteBytes(w.source, data) }
func (w *sourceWriter) Write(message string)   { w.log.Write(w.source, message) }
func (w *sourceWriter) Writef(format string, args ...any) {
	w.log.Writef(w.source, format, args...)
}

// WithSource returns a Writer for source. A nil log yields a Writer that
// discards.
func (l *Log) WithSource(source string) Writer {
	return &sourceWriter{log: l, source: source}
}

type chunk struct {
	off  int64
	data []byte
}

// Buffer is an in-memory Sink. Writes may arrive out of order.
type Buffer struct {
	chunks sync.Map
	size   atomic.Int64
}

func (b *Buffer) WriteAt(p []byte, off int64) (int, error) {
	b.chunks.Store(off, chunk{off: off, data: append([]byte(nil), p...)})
	end := off + int64(len(p))
	for {
		cur := b.size.Load()
		if cur >= end || b.size.CompareAndSwap(cur, end) {
			break
		}
	}
	return len(p), nil
}

func (b *Buffer) Close() error { return nil }

// Bytes assembles the chunks written so far.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, b.size.Load())
	b.chunks.Range(func(_, value any) bool {
		c := value.(chunk)
		copy(out[c.off:], c.data)
		return true
	})
	return out
}
