package framebuffer

import (
	"testing"

	"github.com/airbusgeo/pyramidscan/tiff"
	"github.com/airbusgeo/pyramidscan/unionfind"
)

func labelFrame(x, y, w, h uint64, labels []int32) *tiff.PixelBuffer {
	pix := make([]byte, w*h*4)
	for i, v := range labels {
		off := i * 4
		u := uint32(v)
		pix[off] = byte(u)
		pix[off+1] = byte(u >> 8)
		pix[off+2] = byte(u >> 16)
		pix[off+3] = byte(u >> 24)
	}
	return &tiff.PixelBuffer{
		Rect:           tiff.Rect{X: x, Y: y, Width: w, Height: h},
		Channels:       1,
		Kind:           tiff.ElemInt32,
		BytesPerSample: 4,
		Pix:            pix,
	}
}

func TestAddFrameDisableOverlap(t *testing.T) {
	b := New(tiff.ElemInt32, 1)
	f1 := labelFrame(0, 0, 4, 4, make([]int32, 16))
	if err := b.AddFrame(f1, DisableOverlap()); err != nil {
		t.Fatal(err)
	}
	f2 := labelFrame(2, 2, 4, 4, make([]int32, 16))
	if err := b.AddFrame(f2, DisableOverlap()); err != ErrOverlap {
		t.Fatalf("expected ErrOverlap, got %v", err)
	}
}

func TestReadMatrixUnion(t *testing.T) {
	b := New(tiff.ElemInt32, 1)
	left := labelFrame(0, 0, 4, 4, []int32{
		1, 1, 0, 0,
		1, 1, 0, 0,
		0, 0, 0, 0,
		0, 0, 0, 0,
	})
	right := labelFrame(4, 0, 4, 4, []int32{
		0, 0, 2, 2,
		0, 0, 2, 2,
		0, 0, 0, 0,
		0, 0, 0, 0,
	})
	if err := b.AddFrame(left); err != nil {
		t.Fatal(err)
	}
	if err := b.AddFrame(right); err != nil {
		t.Fatal(err)
	}

	out := b.ReadMatrix(tiff.Rect{X: 0, Y: 0, Width: 8, Height: 4})
	uf := unionfind.New()
	labels, err := ReadLabelsReindexedByObjectPairs([]*tiff.PixelBuffer{left, right}, out.Rect, uf, false)
	if err != nil {
		t.Fatal(err)
	}
	if labels[0] != 1 || labels[6] != 2 {
		t.Fatalf("unexpected labels: %v", labels)
	}
}

func TestAllWithMinMaxCoordinate(t *testing.T) {
	b := New(tiff.ElemInt32, 1)
	f1 := labelFrame(0, 0, 4, 4, make([]int32, 16))
	f2 := labelFrame(4, 0, 4, 4, make([]int32, 16))
	b.AddFrame(f1)
	b.AddFrame(f2)

	min0 := b.AllWithMinCoordinate(AxisX, 0)
	if len(min0) != 1 || min0[0] != f1 {
		t.Fatalf("AllWithMinCoordinate(X,0) wrong: %v", min0)
	}
	max8 := b.AllWithMaxCoordinate(AxisX, 8)
	if len(max8) != 1 || max8[0] != f2 {
		t.Fatalf("AllWithMaxCoordinate(X,8) wrong: %v", max8)
	}
}

func TestInternalBoundaryIncludesOuterFrontierOnlyWhenAsked(t *testing.T) {
	b := New(tiff.ElemInt32, 1)
	f1 := labelFrame(0, 0, 4, 4, make([]int32, 16))
	b.AddFrame(f1)

	withoutOuter := b.InternalBoundary([]*tiff.PixelBuffer{f1}, false)
	if len(withoutOuter) != 0 {
		t.Fatalf("isolated frame with includeOuter=false should have no boundary, got %v", withoutOuter)
	}

	withOuter := b.InternalBoundary([]*tiff.PixelBuffer{f1}, true)
	if len(withOuter) != 4 {
		t.Fatalf("isolated frame with includeOuter=true should have 4 boundary sides, got %d", len(withOuter))
	}
}

func TestInternalBoundaryBetweenTwoFrames(t *testing.T) {
	b := New(tiff.ElemInt32, 1)
	f1 := labelFrame(0, 0, 4, 4, make([]int32, 16))
	f2 := labelFrame(4, 0, 4, 4, make([]int32, 16))
	b.AddFrame(f1)
	b.AddFrame(f2)

	// f1 alone as subset: its right edge touches f2 (not in subset) -> boundary.
	boundary := b.InternalBoundary([]*tiff.PixelBuffer{f1}, false)
	found := false
	for _, r := range boundary {
		if r.X == 3 && r.Width == 1 && r.Height == 4 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a right-edge boundary segment at x=3, got %v", boundary)
	}

	// subset = both frames: no internal boundary between them.
	both := b.InternalBoundary([]*tiff.PixelBuffer{f1, f2}, false)
	for _, r := range both {
		if r.X == 3 || r.X == 4 {
			t.Fatalf("shared edge between same-subset frames should not be boundary, got %v", both)
		}
	}
}
