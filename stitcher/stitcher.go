// Package stitcher implements the frame-object stitcher: it links
// labelled object fragments across adjacent frame
// boundaries via a union-find over labels, then classifies objects in
// the most recently produced frame as "completed" or "partial" and
// crops a returned large-area frame down to the completed ones.
package stitcher

import (
	"fmt"

	"github.com/airbusgeo/pyramidscan/framebuffer"
	"github.com/airbusgeo/pyramidscan/scan"
	"github.com/airbusgeo/pyramidscan/tiff"
	"github.com/airbusgeo/pyramidscan/unionfind"
)

// NoLabel is the sentinel carried in an adjacent-labels sequence where no
// neighboring frame exists to supply a real label.
const NoLabel int32 = -1

// maxAreaPixels bounds the pixel count of a joint "large area" request;
// beyond this the implementation's integer indexing can no longer be
// trusted.
const maxAreaPixels = 1 << 34

// Side identifies one of a frame's four edges.
type Side int

const (
	Left Side = iota
	Right
	Top
	Bottom
)

// BoundaryMode selects how the joint pass computes the boundary set.
type BoundaryMode int

const (
	// Skip restricts intersecting frames to the large area before
	// computing the boundary, which causes objects larger than the
	// large area to be classified as boundary (and so dropped).
	Skip BoundaryMode = iota
	// RetainLastPart computes the boundary from intersecting frames at
	// full extent, then intersects the resulting boundary with the
	// large area, keeping objects that extend outside it as long as
	// they touch the last frame.
	RetainLastPart
)

// Expansion is the pixel amount to grow the last frame's rectangle in
// each direction before computing the large area.
type Expansion struct {
	Left, Right, Up, Down uint64
}

// ExpansionFor converts a scan.Expansion direction (towards already
// processed neighbors) into concrete pixel amounts, expanding by one
// full frame in the recommended directions and not at all in the
// others — there is nothing to retrieve from frames not yet produced.
func ExpansionFor(dir scan.Expansion, frameW, frameH uint64) Expansion {
	e := Expansion{}
	switch dir {
	case scan.LeftUp:
		e.Left, e.Up = frameW, frameH
	case scan.LeftDown:
		e.Left, e.Down = frameW, frameH
	case scan.RightUp:
		e.Right, e.Up = frameW, frameH
	case scan.RightDown:
		e.Right, e.Down = frameW, frameH
	}
	return e
}

// Correlate links the just-added frame to its already-placed neighbors:
// for each side, it collapses the frame's own label sequence and its
// neighbors' opposite-side label sequence into runs, and unions the
// labels of any overlapping pair of runs that are both non-background
// and the neighbor side isn't the NoLabel sentinel.
func Correlate(buf *framebuffer.Buffer, frame *tiff.PixelBuffer, pairs *unionfind.Set) error {
	for _, side := range []Side{Left, Right, Top, Bottom} {
		own, err := sideLabels(frame, side)
		if err != nil {
			return err
		}
		adj := adjacentSideLabels(buf, frame, side)
		correlateSequences(own, adj, pairs)
	}
	return nil
}

// sideLabels reads the one-pixel-wide strip of labels along side,
// ordered consistently with adjacentSideLabels's sentinel sequence.
func sideLabels(frame *tiff.PixelBuffer, side Side) ([]int32, error) {
	r := frame.Rect
	var strip tiff.Rect
	switch side {
	case Left:
		strip = tiff.Rect{X: r.X, Y: r.Y, Width: 1, Height: r.Height}
	case Right:
		strip = tiff.Rect{X: r.X + r.Width - 1, Y: r.Y, Width: 1, Height: r.Height}
	case Top:
		strip = tiff.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: 1}
	case Bottom:
		strip = tiff.Rect{X: r.X, Y: r.Y + r.Height - 1, Width: r.Width, Height: 1}
	}
	out := make([]int32, 0, strip.Width*strip.Height)
	for y := strip.Y; y < strip.Y+strip.Height; y++ {
		for x := strip.X; x < strip.X+strip.Width; x++ {
			v, err := readLabelAt(frame, x, y)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func readLabelAt(f *tiff.PixelBuffer, x, y uint64) (int32, error) {
	if f.Kind != tiff.ElemInt32 && f.Kind != tiff.ElemUint32 && f.Kind != tiff.ElemInt16 && f.Kind != tiff.ElemUint16 && f.Kind != tiff.ElemInt8 && f.Kind != tiff.ElemUint8 {
		return 0, framebuffer.ErrNonMatrixLabel
	}
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
	}
	if v < 0 {
		return 0, framebuffer.ErrNegativeLabel
	}
	return int32(v), nil
}

func opposite(side Side) Side {
	switch side {
	case Left:
		return Right
	case Right:
		return Left
	case Top:
		return Bottom
	default:
		return Top
	}
}

// neighborProbe is a one-pixel-thick rectangle just outside frame's side.
func neighborProbe(frame *tiff.PixelBuffer, side Side) tiff.Rect {
	r := frame.Rect
	switch side {
	case Left:
		if r.X == 0 {
			return tiff.Rect{}
		}
		return tiff.Rect{X: r.X - 1, Y: r.Y, Width: 1, Height: r.Height}
	case Right:
		return tiff.Rect{X: r.X + r.Width, Y: r.Y, Width: 1, Height: r.Height}
	case Top:
		if r.Y == 0 {
			return tiff.Rect{}
		}
		return tiff.Rect{X: r.X, Y: r.Y - 1, Width: r.Width, Height: 1}
	default:
		return tiff.Rect{X: r.X, Y: r.Y + r.Height, Width: r.Width, Height: 1}
	}
}

// adjacentSideLabels concatenates neighboring frames' opposite-side
// labels into a sequence the same length as frame's own side, using
// NoLabel where no neighboring frame covers a given position.
func adjacentSideLabels(buf *framebuffer.Buffer, frame *tiff.PixelBuffer, side Side) []int32 {
	probe := neighborProbe(frame, side)
	n := frame.Rect.Height
	if side == Top || side == Bottom {
		n = frame.Rect.Width
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = NoLabel
	}
	if probe.Width == 0 || probe.Height == 0 {
		return out
	}
	neighbors := buf.AllIntersecting(probe)
	for _, nb := range neighbors {
		if nb == frame {
			continue
		}
		for y := probe.Y; y < probe.Y+probe.Height; y++ {
			for x := probe.X; x < probe.X+probe.Width; x++ {
				if x < nb.Rect.X || x >= nb.Rect.X+nb.Rect.Width || y < nb.Rect.Y || y >= nb.Rect.Y+nb.Rect.Height {
					continue
				}
				v, err := readLabelAt(nb, x, y)
				if err != nil {
					continue
				}
				var idx uint64
				if side == Top || side == Bottom {
					idx = x - frame.Rect.X
				} else {
					idx = y - frame.Rect.Y
				}
				out[idx] = v
			}
		}
	}
	return out
}

type run struct {
	label      int32
	start, end int // [start,end)
}

func runsOf(seq []int32) []run {
	var runs []run
	for i := 0; i < len(seq); {
		j := i + 1
		for j < len(seq) && seq[j] == seq[i] {
			j++
		}
		runs = append(runs, run{label: seq[i], start: i, end: j})
		i = j
	}
	return runs
}

// correlateSequences associates overlapping runs between own and adj
// (both already partitioned into change-point runs) and unions every
// pair whose labels are both non-background and the adjacent run isn't
// the NoLabel sentinel. Runs are monotonically ordered along the shared
// edge, so the minimal-cost assignment between change points degenerates
// to a single linear sweep over overlapping intervals.
func correlateSequences(own, adj []int32, pairs *unionfind.Set) {
	ownRuns := runsOf(own)
	adjRuns := runsOf(adj)
	i, j := 0, 0
	for i < len(ownRuns) && j < len(adjRuns) {
		o, a := ownRuns[i], adjRuns[j]
		lo := maxInt(o.start, a.start)
		hi := minInt(o.end, a.end)
		if lo < hi && o.label != 0 && a.label != 0 && a.label != NoLabel {
			pairs.Union(o.label, a.label)
		}
		if o.end < a.end {
			i++
		} else {
			j++
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// JointCompletedObjects is the "joint completed objects of the last
// frame" pass: it expands lastFrame's rectangle by expansion,
// resolves which labels straddle the large area's boundary, and returns
// a new frame where only pixels belonging to the last frame or to
// objects "completed" (fully enclosed, not touching the boundary) are
// kept; everything else is zeroed. autoCrop tightens the returned
// frame's rectangle to the bounding box of its nonzero rows.
func JointCompletedObjects(buf *framebuffer.Buffer, lastFrame *tiff.PixelBuffer, expansion Expansion, mode BoundaryMode, pairs *unionfind.Set, autoCrop bool) (*tiff.PixelBuffer, error) {
	r := lastFrame.Rect
	large := tiff.Rect{
		X:      satSub(r.X, expansion.Left),
		Y:      satSub(r.Y, expansion.Up),
		Width:  r.Width + expansion.Left + expansion.Right,
		Height: r.Height + expansion.Up + expansion.Down,
	}
	if large.Width*large.Height > maxAreaPixels {
		return nil, fmt.Errorf("%w: large area %dx%d", tiff.ErrTooLargeArea, large.Width, large.Height)
	}

	intersecting := buf.AllIntersecting(large)

	var boundaryFrames []*tiff.PixelBuffer
	var boundaryRects []tiff.Rect
	switch mode {
	case Skip:
		for _, f := range intersecting {
			cropped := cropToRect(f, large)
			if cropped == nil {
				continue
			}
			boundaryFrames = append(boundaryFrames, cropped)
		}
		tmp := framebuffer.New(lastFrame.Kind, lastFrame.Channels)
		for _, f := range boundaryFrames {
			_ = tmp.AddFrame(f)
		}
		boundaryRects = tmp.InternalBoundary(boundaryFrames, true)
	default: // RetainLastPart
		tmp := framebuffer.New(lastFrame.Kind, lastFrame.Channels)
		for _, f := range intersecting {
			_ = tmp.AddFrame(f)
		}
		raw := tmp.InternalBoundary(intersecting, true)
		for _, r := range raw {
			if inter, ok := intersect(r, large); ok {
				boundaryRects = append(boundaryRects, inter)
			}
		}
	}

	pairs.ResolveAllBases()

	boundarySet := map[int32]bool{}
	for _, br := range boundaryRects {
		labels, err := framebuffer.ReadLabelsReindexedByObjectPairs(intersecting, br, pairs, false)
		if err != nil {
			return nil, err
		}
		for _, l := range labels {
			if l != 0 {
				boundarySet[l] = true
			}
		}
	}

	completedSet := map[int32]bool{}
	for _, side := range []Side{Left, Right, Top, Bottom} {
		own, err := sideLabels(lastFrame, side)
		if err != nil {
			return nil, err
		}
		adj := adjacentSideLabels(buf, lastFrame, side)
		for i, lbl := range own {
			if lbl == 0 {
				continue
			}
			reindexed := pairs.QuickReindex(lbl)
			if adj[i] == NoLabel {
				continue // touches the outer border: stays partial
			}
			if boundarySet[reindexed] {
				continue // touches the boundary set: stays partial
			}
			completedSet[reindexed] = true
		}
	}

	full := buf.ReadMatrix(large)
	labels, err := framebuffer.ReadLabelsReindexedByObjectPairs(intersecting, large, pairs, false)
	if err != nil {
		return nil, err
	}
	bps := full.BytesPerSample
	for i, lbl := range labels {
		if lbl == 0 {
			continue
		}
		px := tiff.Rect{X: large.X + uint64(i)%large.Width, Y: large.Y + uint64(i)/large.Width, Width: 1, Height: 1}
		insideLast := px.X >= r.X && px.X < r.X+r.Width && px.Y >= r.Y && px.Y < r.Y+r.Height
		keep := (insideLast || completedSet[lbl]) && !boundarySet[lbl]
		if !keep {
			zero(full.Pix, i, bps)
		}
	}

	if autoCrop {
		full = cropToNonzero(full)
	}
	return full, nil
}

func zero(pix []byte, elementIdx, bps int) {
	off := elementIdx * bps
	for k := 0; k < bps; k++ {
		pix[off+k] = 0
	}
}

func satSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

func cropToRect(f *tiff.PixelBuffer, bound tiff.Rect) *tiff.PixelBuffer {
	inter, ok := intersect(f.Rect, bound)
	if !ok {
		return nil
	}
	out := &tiff.PixelBuffer{
		Rect:           inter,
		Channels:       f.Channels,
		Kind:           f.Kind,
		BytesPerSample: f.BytesPerSample,
		Pix:            make([]byte, inter.Width*inter.Height*uint64(f.Channels)*uint64(f.BytesPerSample)),
	}
	stride := f.Channels * f.BytesPerSample
	for y := inter.Y; y < inter.Y+inter.Height; y++ {
		srcOff := ((y-f.Rect.Y)*f.Rect.Width + (inter.X - f.Rect.X)) * uint64(stride)
		dstOff := (y - inter.Y) * inter.Width * uint64(stride)
		n := inter.Width * uint64(stride)
		copy(out.Pix[dstOff:dstOff+n], f.Pix[srcOff:srcOff+n])
	}
	return out
}

func intersect(a, b tiff.Rect) (tiff.Rect, bool) {
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

// cropToNonzero tightens frame to the bounding box of its nonzero
// elements (per-row min/max X, combined across rows).
func cropToNonzero(frame *tiff.PixelBuffer) *tiff.PixelBuffer {
	r := frame.Rect
	bps := frame.BytesPerSample * frame.Channels
	minX, maxX := r.Width, uint64(0)
	minY, maxY := r.Height, uint64(0)
	any := false
	for y := uint64(0); y < r.Height; y++ {
		for x := uint64(0); x < r.Width; x++ {
			off := (y*r.Width + x) * uint64(bps)
			if !allZero(frame.Pix[off : off+uint64(bps)]) {
				any = true
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}
	if !any {
		return &tiff.PixelBuffer{Rect: tiff.Rect{X: r.X, Y: r.Y}, Channels: frame.Channels, Kind: frame.Kind, BytesPerSample: frame.BytesPerSample}
	}
	cropped := tiff.Rect{X: r.X + minX, Y: r.Y + minY, Width: maxX - minX + 1, Height: maxY - minY + 1}
	return cropToRect(frame, cropped)
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
