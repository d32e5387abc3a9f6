package navigator

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/udisondev/navtile/internal/esm"
	"github.com/udisondev/navtile/internal/geo"
	"github.com/udisondev/navtile/internal/world"
)

// stateFormat is bumped on incompatible changes to the NAVS layout.
const stateFormat uint32 = 1

// Record and sub-record tags of the saved state.
const (
	tagState     = "NAVS"
	tagFormat    = "FORM"
	tagCell      = "CELL"
	tagShift     = "SHFT"
	tagName      = "NAME"
	tagObject    = "OBID"
	tagShape     = "SHAP"
	tagTransform = "XFRM"
)

var (
	// ErrStateFormat is returned when loading state of an unknown format.
	ErrStateFormat = errors.New("unsupported state format")
	// ErrCorruptState wraps every failure to decode a state stream. It is
	// not returned for entries that decode but are rejected as geometry.
	ErrCorruptState = errors.New("corrupt navigator state")
)

type cellHeader struct {
	X, Y int32
	Size int32
}

// transformData is position xyz then rotation w, x, y, z.
type transformData [7]float32

func encodeTransform(tr geo.Transform) transformData {
	p, q := tr.Position, tr.Rotation
	return transformData{p[0], p[1], p[2], q.W, q.V[0], q.V[1], q.V[2]}
}

func (d transformData) transform() geo.Transform {
	return geo.Transform{
		Position: mgl32.Vec3{d[0], d[1], d[2]},
		Rotation: mgl32.Quat{W: d[3], V: mgl32.Vec3{d[4], d[5], d[6]}},
	}
}

type savedObject struct {
	id    world.ObjectID
	shape geo.Shape
	tr    geo.Transform
}

// MarshalState encodes the loaded geometry as a NAVS record. Built tiles
// are not part of it; they are rebuilt after a restore.
func (n *Navigator) MarshalState() ([]byte, error) {
	cells := n.tracker.Cells()
	objects := n.tracker.Objects()

	w := esm.NewWriter(64 + 32*len(cells) + 64*len(objects))
	w.Start(tagState)
	if err := w.WriteHNT(tagFormat, stateFormat); err != nil {
		return nil, err
	}
	for _, c := range cells {
		if err := w.WriteHNT(tagCell, cellHeader{X: c.Key.X, Y: c.Key.Y, Size: int32(c.Size)}); err != nil {
			return nil, err
		}
		if err := w.WriteHNT(tagShift, [3]float32(c.Shift)); err != nil {
			return nil, err
		}
		w.WriteHNString(tagName, c.Name)
	}
	for _, o := range objects {
		if err := w.WriteHNT(tagObject, uint32(o.Object)); err != nil {
			return nil, err
		}
		if err := writeShape(w, o.Shape); err != nil {
			return nil, fmt.Errorf("object %d: %w", o.Object, err)
		}
		if err := w.WriteHNT(tagTransform, encodeTransform(o.Transform)); err != nil {
			return nil, err
		}
	}
	w.End()
	return w.Bytes(), nil
}

// SaveState writes MarshalState's output to dst.
func (n *Navigator) SaveState(dst io.Writer) error {
	data, err := n.MarshalState()
	if err != nil {
		return fmt.Errorf("encoding navigator state: %w", err)
	}
	if _, err := dst.Write(data); err != nil {
		return fmt.Errorf("writing navigator state: %w", err)
	}
	return nil
}

// LoadState reads a stream written by SaveState.
func (n *Navigator) LoadState(src io.Reader) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("reading navigator state: %w", err)
	}
	return n.UnmarshalState(data)
}

// UnmarshalState replaces all loaded geometry with the decoded state and
// schedules the affected tiles. The stream is decoded completely before
// anything is replaced, so a malformed stream leaves the navigator as it
// was. Entries rejected as invalid geometry are skipped and reported
// together.
func (n *Navigator) UnmarshalState(data []byte) error {
	cells, objects, err := decodeState(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptState, err)
	}

	n.tracker.Reset()
	var errs []error
	for _, c := range cells {
		if _, err := n.tracker.AddCell(c.Key, c.Name, c.Size, c.Shift); err != nil {
			errs = append(errs, err)
		}
	}
	for _, o := range objects {
		if _, err := n.tracker.AddObject(o.id, o.shape, o.tr); err != nil {
			errs = append(errs, err)
		}
	}
	marked := n.dispatch(nil)
	slog.Info("navigator state loaded",
		"cells", len(cells),
		"objects", len(objects),
		"rejected", len(errs),
		"tiles", marked)
	return errors.Join(errs...)
}

func decodeState(data []byte) ([]world.CellInfo, []savedObject, error) {
	body, err := esm.NewReader(data).Enter(tagState)
	if err != nil {
		return nil, nil, err
	}
	var form uint32
	if err := body.GetHNT(tagFormat, &form); err != nil {
		return nil, nil, err
	}
	if form != stateFormat {
		return nil, nil, fmt.Errorf("format %d: %w", form, ErrStateFormat)
	}

	var (
		cells   []world.CellInfo
		objects []savedObject
	)
	for body.HasMoreSubs() {
		switch {
		case body.IsNextSub(tagCell):
			body.RetSubName()
			c, err := readCell(body)
			if err != nil {
				return nil, nil, err
			}
			cells = append(cells, c)
		case body.IsNextSub(tagObject):
			body.RetSubName()
			o, err := readObject(body)
			if err != nil {
				return nil, nil, err
			}
			objects = append(objects, o)
		default:
			if err := body.GetSubName(); err != nil {
				return nil, nil, err
			}
			return nil, nil, fmt.Errorf("%s in %s: %w", body.SubName(), tagState, esm.ErrUnexpectedSubrecord)
		}
	}
	return cells, objects, nil
}

func readCell(r *esm.Reader) (world.CellInfo, error) {
	var (
		h     cellHeader
		shift [3]float32
	)
	if err := r.GetHNT(tagCell, &h); err != nil {
		return world.CellInfo{}, err
	}
	if err := r.GetHNT(tagShift, &shift); err != nil {
		return world.CellInfo{}, err
	}
	name, err := r.GetHString(tagName)
	if err != nil {
		return world.CellInfo{}, err
	}
	return world.CellInfo{
		Key:   world.CellKey{X: h.X, Y: h.Y},
		Name:  name,
		Size:  int(h.Size),
		Shift: mgl32.Vec3(shift),
	}, nil
}

func readObject(r *esm.Reader) (savedObject, error) {
	var id uint32
	if err := r.GetHNT(tagObject, &id); err != nil {
		return savedObject{}, err
	}
	shape, err := readShape(r)
	if err != nil {
		return savedObject{}, fmt.Errorf("object %d: %w", id, err)
	}
	var td transformData
	if err := r.GetHNT(tagTransform, &td); err != nil {
		return savedObject{}, fmt.Errorf("object %d: %w", id, err)
	}
	return savedObject{id: world.ObjectID(id), shape: shape, tr: td.transform()}, nil
}

func writeShape(w *esm.Writer, shape geo.Shape) error {
	w.Start(tagShape)
	defer w.End()

	switch s := shape.(type) {
	case geo.Box:
		_ = w.WriteByte(byte(geo.ShapeBox))
		w.WriteVec3(s.HalfExtents)
	case geo.Sphere:
		_ = w.WriteByte(byte(geo.ShapeSphere))
		w.WriteFloat(s.Radius)
	case geo.Capsule:
		_ = w.WriteByte(byte(geo.ShapeCapsule))
		w.WriteFloat(s.Radius)
		w.WriteFloat(s.HalfHeight)
	case geo.TriangleMesh:
		_ = w.WriteByte(byte(geo.ShapeTriangleMesh))
		w.WriteUint32(uint32(len(s.Vertices)))
		for _, v := range s.Vertices {
			w.WriteVec3(v)
		}
		w.WriteUint32(uint32(len(s.Indices)))
		for _, i := range s.Indices {
			w.WriteInt(i)
		}
	default:
		return fmt.Errorf("shape %T cannot be saved", shape)
	}
	return nil
}

func readShape(r *esm.Reader) (geo.Shape, error) {
	p, err := r.Enter(tagShape)
	if err != nil {
		return nil, err
	}
	kind, err := p.ReadByte()
	if err != nil {
		return nil, err
	}
	switch geo.ShapeKind(kind) {
	case geo.ShapeBox:
		h, err := p.ReadVec3()
		if err != nil {
			return nil, err
		}
		return geo.Box{HalfExtents: h}, nil
	case geo.ShapeSphere:
		radius, err := p.ReadFloat()
		if err != nil {
			return nil, err
		}
		return geo.Sphere{Radius: radius}, nil
	case geo.ShapeCapsule:
		radius, err := p.ReadFloat()
		if err != nil {
			return nil, err
		}
		half, err := p.ReadFloat()
		if err != nil {
			return nil, err
		}
		return geo.Capsule{Radius: radius, HalfHeight: half}, nil
	case geo.ShapeTriangleMesh:
		return readTriangleMesh(p)
	}
	return nil, fmt.Errorf("shape kind %d: %w", kind, esm.ErrUnexpectedSubrecord)
}

func readTriangleMesh(p *esm.Reader) (geo.Shape, error) {
	nv, err := p.ReadUint32()
	if err != nil {
		return nil, err
	}
	if int(nv)*12 > p.Remaining() {
		return nil, fmt.Errorf("%d vertices: %w", nv, esm.ErrShortRecord)
	}
	m := geo.TriangleMesh{Vertices: make([]mgl32.Vec3, nv)}
	for i := range m.Vertices {
		if m.Vertices[i], err = p.ReadVec3(); err != nil {
			return nil, err
		}
	}
	ni, err := p.ReadUint32()
	if err != nil {
		return nil, err
	}
	if int(ni)*4 > p.Remaining() {
		return nil, fmt.Errorf("%d indices: %w", ni, esm.ErrShortRecord)
	}
	m.Indices = make([]int32, ni)
	for i := range m.Indices {
		if m.Indices[i], err = p.ReadInt(); err != nil {
			return nil, err
		}
	}
	return m, nil
}
