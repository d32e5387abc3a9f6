package esm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// TagSize is the length of a sub-record tag.
const TagSize = 4

// headerSize is tag + uint32 payload length.
const headerSize = TagSize + 4

// Writer builds a stream of tagged sub-records: a 4-byte tag, the payload
// length as uint32 LE, then the payload. Records nest: Start opens one and
// End patches its length.
type Writer struct {
	buf  *bytes.Buffer
	open []int // offsets of the size fields of open records
}

// NewWriter creates a writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: bytes.NewBuffer(make([]byte, 0, capacity))}
}

func (w *Writer) writeTag(tag string) {
	var t [TagSize]byte
	copy(t[:], tag)
	w.buf.Write(t[:])
}

// Start opens a record or sub-record with the given tag.
func (w *Writer) Start(tag string) {
	w.writeTag(tag)
	w.open = append(w.open, w.buf.Len())
	w.WriteUint32(0)
}

// End closes the innermost open record.
func (w *Writer) End() {
	n := len(w.open)
	if n == 0 {
		return
	}
	at := w.open[n-1]
	w.open = w.open[:n-1]
	size := w.buf.Len() - at - 4
	binary.LittleEndian.PutUint32(w.buf.Bytes()[at:], uint32(size))
}

// WriteHNString writes a sub-record holding a string without terminator.
func (w *Writer) WriteHNString(tag, s string) {
	w.writeTag(tag)
	w.WriteUint32(uint32(len(s)))
	w.buf.WriteString(s)
}

// WriteHNT writes a sub-record holding fixed-size data in little endian.
func (w *Writer) WriteHNT(tag string, data any) error {
	size := binary.Size(data)
	if size < 0 {
		return fmt.Errorf("WriteHNT %s: %T is not fixed-size", tag, data)
	}
	w.writeTag(tag)
	w.WriteUint32(uint32(size))
	return binary.Write(w.buf, binary.LittleEndian, data)
}

// WriteByte writes a single byte.
func (w *Writer) WriteByte(b byte) error {
	return w.buf.WriteByte(b)
}

// WriteInt writes an int32 (4 bytes, LE).
func (w *Writer) WriteInt(val int32) {
	w.WriteUint32(uint32(val))
}

// WriteUint32 writes a uint32 (4 bytes, LE).
func (w *Writer) WriteUint32(val uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], val)
	w.buf.Write(tmp[:])
}

// WriteFloat writes a float32 (4 bytes, LE).
func (w *Writer) WriteFloat(val float32) {
	w.WriteUint32(math.Float32bits(val))
}

// WriteVec3 writes three float32s.
func (w *Writer) WriteVec3(v mgl32.Vec3) {
	for _, f := range v {
		w.WriteFloat(f)
	}
}

// WriteBytes writes raw bytes.
func (w *Writer) WriteBytes(data []byte) {
	_, _ = w.buf.Write(data)
}

// Bytes returns the accumulated stream. Open records have a zero length.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Len returns the current length of the stream.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// Reset clears the buffer for reuse.
func (w *Writer) Reset() {
	w.buf.Reset()
	w.open = w.open[:0]
}

// WriteTo writes the stream to dst.
func (w *Writer) WriteTo(dst io.Writer) (int64, error) {
	n, err := dst.Write(w.buf.Bytes())
	return int64(n), err
}
