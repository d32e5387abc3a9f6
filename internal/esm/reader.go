package esm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

var (
	// ErrUnexpectedSubrecord is returned when the next sub-record carries a
	// different tag than the caller asked for.
	ErrUnexpectedSubrecord = errors.New("unexpected subrecord")
	// ErrShortRecord is returned when the stream ends inside a header or
	// payload, or a payload has the wrong size for its type.
	ErrShortRecord = errors.New("short record")
)

// Reader walks a stream written by Writer. Tagged reads (IsNextSub, GetH*)
// consume whole sub-records; raw reads (ReadInt, ReadFloat, ...) consume the
// bytes of a payload.
type Reader struct {
	data []byte
	pos  int

	// last sub-record header read, for RetSubName
	subName  string
	subStart int
	subSize  int
}

// NewReader creates a reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// HasMoreSubs reports whether another sub-record header can follow.
func (r *Reader) HasMoreSubs() bool {
	return r.Remaining() > 0
}

// SubName returns the tag of the last sub-record header read.
func (r *Reader) SubName() string {
	return r.subName
}

// GetSubName reads the next sub-record header.
func (r *Reader) GetSubName() error {
	if r.pos+headerSize > len(r.data) {
		return fmt.Errorf("sub-record header at %d: %w", r.pos, ErrShortRecord)
	}
	r.subStart = r.pos
	r.subName = string(r.data[r.pos : r.pos+TagSize])
	r.subSize = int(binary.LittleEndian.Uint32(r.data[r.pos+TagSize:]))
	r.pos += headerSize
	if r.pos+r.subSize > len(r.data) {
		return fmt.Errorf("sub-record %s: %d bytes, %d left: %w", r.subName, r.subSize, len(r.data)-r.pos, ErrShortRecord)
	}
	return nil
}

// RetSubName steps back over the last header read, so the next read sees
// the same sub-record again.
func (r *Reader) RetSubName() {
	r.pos = r.subStart
}

// IsNextSub reports whether the next sub-record has the given tag. On a
// match its header is consumed; otherwise the position is unchanged.
func (r *Reader) IsNextSub(tag string) bool {
	if !r.HasMoreSubs() {
		return false
	}
	if err := r.GetSubName(); err != nil {
		r.RetSubName()
		return false
	}
	if r.subName != tag {
		r.RetSubName()
		return false
	}
	return true
}

// GetSubNameIs reads the next header and checks its tag.
func (r *Reader) GetSubNameIs(tag string) error {
	if err := r.GetSubName(); err != nil {
		return err
	}
	if r.subName != tag {
		r.RetSubName()
		return fmt.Errorf("want %s, got %s: %w", tag, r.subName, ErrUnexpectedSubrecord)
	}
	return nil
}

// GetSubData returns the payload of the sub-record whose header was just
// read. The slice aliases the stream.
func (r *Reader) GetSubData() []byte {
	b := r.data[r.pos : r.pos+r.subSize]
	r.pos += r.subSize
	return b
}

// SkipSub skips the payload of the sub-record whose header was just read.
func (r *Reader) SkipSub() {
	r.pos += r.subSize
}

// GetHString reads a string sub-record with the given tag.
func (r *Reader) GetHString(tag string) (string, error) {
	if err := r.GetSubNameIs(tag); err != nil {
		return "", err
	}
	return string(r.GetSubData()), nil
}

// GetHNT reads a fixed-size sub-record with the given tag into data, which
// must be a pointer.
func (r *Reader) GetHNT(tag string, data any) error {
	if err := r.GetSubNameIs(tag); err != nil {
		return err
	}
	if want := binary.Size(data); want != r.subSize {
		r.RetSubName()
		return fmt.Errorf("sub-record %s: %d bytes, want %d: %w", tag, r.subSize, want, ErrShortRecord)
	}
	return binary.Read(bytes.NewReader(r.GetSubData()), binary.LittleEndian, data)
}

// Enter reads a record with the given tag and returns a reader over its body.
func (r *Reader) Enter(tag string) (*Reader, error) {
	if err := r.GetSubNameIs(tag); err != nil {
		return nil, err
	}
	return NewReader(r.GetSubData()), nil
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("ReadByte at %d: %w", r.pos, ErrShortRecord)
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// ReadUint32 reads a uint32 (4 bytes, LE).
func (r *Reader) ReadUint32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("ReadUint32 at %d: %w", r.pos, ErrShortRecord)
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadInt reads an int32 (4 bytes, LE).
func (r *Reader) ReadInt() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadFloat reads a float32 (4 bytes, LE).
func (r *Reader) ReadFloat() (float32, error) {
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

// ReadVec3 reads three float32s.
func (r *Reader) ReadVec3() (mgl32.Vec3, error) {
	var v mgl32.Vec3
	for i := range v {
		f, err := r.ReadFloat()
		if err != nil {
			return mgl32.Vec3{}, err
		}
		v[i] = f
	}
	return v, nil
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Position returns the current read position.
func (r *Reader) Position() int {
	return r.pos
}
