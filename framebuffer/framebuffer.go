// Package framebuffer implements the sparse 2D map buffer of already-read
// frames: frames keep their placement rectangle,
// support intersection and boundary queries, and back the label
// reindexing the frame stitcher relies on.
package framebuffer

import (
	"fmt"

	"github.com/airbusgeo/pyramidscan/tiff"
	"github.com/airbusgeo/pyramidscan/unionfind"
)

// Axis selects X or Y for the min/max coordinate queries.
type Axis int

const (
	AxisX Axis = iota
	AxisY
)

// ErrOverlap is returned by AddFrame when DisableOverlap is set and the
// new frame's rectangle intersects an already-stored frame.
var ErrOverlap = fmt.Errorf("framebuffer: frame overlaps an existing frame")

// ErrNonMatrixLabel is returned when a caller asks to read label data
// from a buffer whose element kind can't represent labels (float, or
// an integer wider than 32 bits).
var ErrNonMatrixLabel = fmt.Errorf("framebuffer: label matrix must be an integer type of at most 32 bits")

// ErrNegativeLabel is returned when a signed label matrix contains a
// negative value; labels must be non-negative, 0 reserved for background.
var ErrNegativeLabel = fmt.Errorf("framebuffer: label value is negative")

// AddOption configures AddFrame.
type AddOption func(*addConfig)

type addConfig struct {
	crop           *tiff.Rect
	disableOverlap bool
}

// CropTo restricts the stored pixels of the new frame to rect (in the
// same coordinate space as the frame's own placement rectangle);
// rect must be fully inside the frame's rectangle.
func CropTo(rect tiff.Rect) AddOption {
	return func(c *addConfig) { c.crop = &rect }
}

// DisableOverlap makes AddFrame fail with ErrOverlap if the new frame's
// rectangle intersects any frame already stored in the buffer.
func DisableOverlap() AddOption {
	return func(c *addConfig) { c.disableOverlap = true }
}

// Buffer is a collection of frames with their placement rectangles. All
// frames stored in one Buffer must share the same element kind and
// channel count.
type Buffer struct {
	kind     tiff.ElementKind
	channels int
	frames   []*tiff.PixelBuffer
}

// New returns an empty Buffer that will accept frames of the given
// element kind and channel count.
func New(kind tiff.ElementKind, channels int) *Buffer {
	return &Buffer{kind: kind, channels: channels}
}

// AddFrame inserts pb, placed at pb.Rect, into the buffer.
func (b *Buffer) AddFrame(pb *tiff.PixelBuffer, opts ...AddOption) error {
	if pb.Kind != b.kind || pb.Channels != b.channels {
		return fmt.Errorf("framebuffer: frame kind/channels mismatch buffer")
	}
	cfg := addConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.disableOverlap {
		for _, f := range b.frames {
			if rectsIntersect(f.Rect, pb.Rect) {
				return ErrOverlap
			}
		}
	}
	stored := pb
	if cfg.crop != nil {
		cropped, err := cropPixelBuffer(pb, *cfg.crop)
		if err != nil {
			return err
		}
		stored = cropped
	}
	b.frames = append(b.frames, stored)
	return nil
}

func cropPixelBuffer(pb *tiff.PixelBuffer, crop tiff.Rect) (*tiff.PixelBuffer, error) {
	r := pb.Rect
	if crop.X < r.X || crop.Y < r.Y || crop.X+crop.Width > r.X+r.Width || crop.Y+crop.Height > r.Y+r.Height {
		return nil, fmt.Errorf("framebuffer: crop rect %+v is not inside frame rect %+v", crop, r)
	}
	out := &tiff.PixelBuffer{
		Rect:           crop,
		Channels:       pb.Channels,
		Kind:           pb.Kind,
		BytesPerSample: pb.BytesPerSample,
		Pix:            make([]byte, crop.Width*crop.Height*uint64(pb.Channels)*uint64(pb.BytesPerSample)),
	}
	stride := int(pb.BytesPerSample) * pb.Channels
	for y := uint64(0); y < crop.Height; y++ {
		srcRow := (crop.Y - r.Y + y) * r.Width
		dstRow := y * crop.Width
		srcOff := (srcRow + (crop.X - r.X)) * uint64(stride)
		dstOff := dstRow * uint64(stride)
		copy(out.Pix[dstOff:dstOff+crop.Width*uint64(stride)], pb.Pix[srcOff:srcOff+crop.Width*uint64(stride)])
	}
	return out, nil
}

func rectsIntersect(a, b tiff.Rect) bool {
	return a.X < b.X+b.Width && b.X < a.X+a.Width && a.Y < b.Y+b.Height && b.Y < a.Y+a.Height
}

func rectIntersection(a, b tiff.Rect) (tiff.Rect, bool) {
	left, top := maxU64(a.X, b.X), maxU64(a.Y, b.Y)
	right, bottom := minU64(a.X+a.Width, b.X+b.Width), minU64(a.Y+a.Height, b.Y+b.Height)
	if right <= left || bottom <= top {
		return tiff.Rect{}, false
	}
	return tiff.Rect{X: left, Y: top, Width: right - left, Height: bottom - top}, true
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// AllPositions returns the placement rectangle of every stored frame.
func (b *Buffer) AllPositions() []tiff.Rect {
	out := make([]tiff.Rect, len(b.frames))
	for i, f := range b.frames {
		out[i] = f.Rect
	}
	return out
}

// AllIntersecting returns every frame whose rectangle intersects rect.
func (b *Buffer) AllIntersecting(rect tiff.Rect) []*tiff.PixelBuffer {
	var out []*tiff.PixelBuffer
	for _, f := range b.frames {
		if rectsIntersect(f.Rect, rect) {
			out = append(out, f)
		}
	}
	return out
}

// AllWithMinCoordinate returns every frame whose rectangle's minimum
// coordinate along axis equals v.
func (b *Buffer) AllWithMinCoordinate(axis Axis, v uint64) []*tiff.PixelBuffer {
	var out []*tiff.PixelBuffer
	for _, f := range b.frames {
		coord := f.Rect.X
		if axis == AxisY {
			coord = f.Rect.Y
		}
		if coord == v {
			out = append(out, f)
		}
	}
	return out
}

// AllWithMaxCoordinate returns every frame whose rectangle's maximum
// (exclusive) coordinate along axis equals v.
func (b *Buffer) AllWithMaxCoordinate(axis Axis, v uint64) []*tiff.PixelBuffer {
	var out []*tiff.PixelBuffer
	for _, f := range b.frames {
		coord := f.Rect.X + f.Rect.Width
		if axis == AxisY {
			coord = f.Rect.Y + f.Rect.Height
		}
		if coord == v {
			out = append(out, f)
		}
	}
	return out
}

// ReadMatrix returns a newly allocated buffer covering rect, filled from
// the union of frames overlapping it; pixels not covered by any frame
// are zero.
func (b *Buffer) ReadMatrix(rect tiff.Rect) *tiff.PixelBuffer {
	out := &tiff.PixelBuffer{
		Rect:           rect,
		Channels:       b.channels,
		Kind:           b.kind,
		BytesPerSample: bytesPerSampleForKind(b.kind),
		Pix:            make([]byte, rect.Width*rect.Height*uint64(b.channels)*uint64(bytesPerSampleForKind(b.kind))),
	}
	stride := b.channels * out.BytesPerSample
	for _, f := range b.frames {
		inter, ok := rectIntersection(f.Rect, rect)
		if !ok {
			continue
		}
		for y := inter.Y; y < inter.Y+inter.Height; y++ {
			srcRow := (y - f.Rect.Y) * f.Rect.Width
			dstRow := (y - rect.Y) * rect.Width
			srcOff := (srcRow + (inter.X - f.Rect.X)) * uint64(stride)
			dstOff := (dstRow + (inter.X - rect.X)) * uint64(stride)
			n := inter.Width * uint64(stride)
			copy(out.Pix[dstOff:dstOff+n], f.Pix[srcOff:srcOff+n])
		}
	}
	return out
}

func bytesPerSampleForKind(k tiff.ElementKind) int {
	switch k {
	case tiff.ElemUint8, tiff.ElemInt8:
		return 1
	case tiff.ElemUint16, tiff.ElemInt16:
		return 2
	case tiff.ElemUint32, tiff.ElemInt32, tiff.ElemFloat32:
		return 4
	default:
		return 8
	}
}

// InternalBoundary returns the set of 1-pixel-wide rectangles lying
// along the border between the union of subset and the rest of the
// plane covered by frames in the buffer. When includeOuter is set, the
// outermost frontier (the edge of a subset frame that touches no other
// frame at all) is also included.
func (b *Buffer) InternalBoundary(subset []*tiff.PixelBuffer, includeOuter bool) []tiff.Rect {
	inSubset := make(map[*tiff.PixelBuffer]bool, len(subset))
	for _, f := range subset {
		inSubset[f] = true
	}

	var out []tiff.Rect
	for _, f := range subset {
		r := f.Rect

		// left edge: no probe exists once r.X==0 (nothing can be placed
		// at a negative coordinate), so that's always outer frontier.
		if r.X == 0 {
			if includeOuter {
				out = append(out, tiff.Rect{X: r.X, Y: r.Y, Width: 1, Height: r.Height})
			}
		} else {
			probe := tiff.Rect{X: r.X - 1, Y: r.Y, Width: 1, Height: r.Height}
			if b.edgeKind(probe, inSubset, includeOuter) {
				out = append(out, tiff.Rect{X: r.X, Y: r.Y, Width: 1, Height: r.Height})
			}
		}

		// right edge
		probe := tiff.Rect{X: r.X + r.Width, Y: r.Y, Width: 1, Height: r.Height}
		if b.edgeKind(probe, inSubset, includeOuter) {
			out = append(out, tiff.Rect{X: r.X + r.Width - 1, Y: r.Y, Width: 1, Height: r.Height})
		}

		// top edge
		if r.Y == 0 {
			if includeOuter {
				out = append(out, tiff.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: 1})
			}
		} else {
			probe := tiff.Rect{X: r.X, Y: r.Y - 1, Width: r.Width, Height: 1}
			if b.edgeKind(probe, inSubset, includeOuter) {
				out = append(out, tiff.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: 1})
			}
		}

		// bottom edge
		probe = tiff.Rect{X: r.X, Y: r.Y + r.Height, Width: r.Width, Height: 1}
		if b.edgeKind(probe, inSubset, includeOuter) {
			out = append(out, tiff.Rect{X: r.X, Y: r.Y + r.Height - 1, Width: r.Width, Height: 1})
		}
	}
	return out
}

// edgeKind reports whether the strip just outside a subset frame's edge
// should be reported as boundary. A strip occupied by a frame not in
// subset is always boundary. A strip touching no frame at all is the
// outer frontier, reported as boundary only when includeOuter is set.
func (b *Buffer) edgeKind(probe tiff.Rect, inSubset map[*tiff.PixelBuffer]bool, includeOuter bool) bool {
	if probe.Width == 0 || probe.Height == 0 {
		return false
	}
	anyNeighbor := false
	for _, f := range b.frames {
		if !rectsIntersect(f.Rect, probe) {
			continue
		}
		anyNeighbor = true
		if !inSubset[f] {
			return true
		}
	}
	return !anyNeighbor && includeOuter
}

// ReadLabelsReindexedByObjectPairs returns the int32 labels of rect's
// pixels, read from frames (typically AllIntersecting(rect)) and passed
// through uf.QuickReindex. compact currently has no effect on the
// returned values; it is reserved for callers that want a compacted
// label space in the future.
func ReadLabelsReindexedByObjectPairs(frames []*tiff.PixelBuffer, rect tiff.Rect, uf *unionfind.Set, compact bool) ([]int32, error) {
	_ = compact
	out := make([]int32, rect.Width*rect.Height)
	for _, f := range frames {
		kind := f.Kind
		if kind != tiff.ElemInt32 && kind != tiff.ElemUint32 && kind != tiff.ElemInt16 && kind != tiff.ElemUint16 && kind != tiff.ElemInt8 && kind != tiff.ElemUint8 {
			return nil, ErrNonMatrixLabel
		}
		inter, ok := rectIntersection(f.Rect, rect)
		if !ok {
			continue
		}
		for y := inter.Y; y < inter.Y+inter.Height; y++ {
			for x := inter.X; x < inter.X+inter.Width; x++ {
				label, err := readLabel(f, x, y)
				if err != nil {
					return nil, err
				}
				dstIdx := (y-rect.Y)*rect.Width + (x - rect.X)
				out[dstIdx] = uf.QuickReindex(label)
			}
		}
	}
	return out, nil
}

func readLabel(f *tiff.PixelBuffer, x, y uint64) (int32, error) {
	localX, localY := x-f.Rect.X, y-f.Rect.Y
	off := (localY*f.Rect.Width + localX) * uint64(f.Channels) * uint64(f.BytesPerSample)
	signed := f.Kind == tiff.ElemInt8 || f.Kind == tiff.ElemInt16 || f.Kind == tiff.ElemInt32

	var v int64
	switch f.BytesPerSample {
	case 1:
		if signed {
			v = int64(int8(f.Pix[off]))
		} else {
			v = int64(f.Pix[off])
		}
	case 2:
		bits := uint16(f.Pix[off]) | uint16(f.Pix[off+1])<<8
		if signed {
			v = int64(int16(bits))
		} else {
			v = int64(bits)
		}
	case 4:
		bits := uint32(f.Pix[off]) | uint32(f.Pix[off+1])<<8 | uint32(f.Pix[off+2])<<16 | uint32(f.Pix[off+3])<<24
		if signed {
			v = int64(int32(bits))
		} else {
			v = int64(bits)
		}
	default:
		return 0, ErrNonMatrixLabel
	}
	if v < 0 {
		return 0, ErrNegativeLabel
	}
	return int32(v), nil
}
