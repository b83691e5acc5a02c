package stitcher

import (
	"testing"

	"github.com/airbusgeo/pyramidscan/framebuffer"
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

// TestNoCorrelationWithoutSharedEdgeLabels covers two 4x4
// label frames with no shared-edge non-background labels: they correlate
// to no union pairs.
func TestNoCorrelationWithoutSharedEdgeLabels(t *testing.T) {
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
	buf := framebuffer.New(tiff.ElemInt32, 1)
	if err := buf.AddFrame(left); err != nil {
		t.Fatal(err)
	}
	if err := buf.AddFrame(right); err != nil {
		t.Fatal(err)
	}

	pairs := unionfind.New()
	if err := Correlate(buf, left, pairs); err != nil {
		t.Fatal(err)
	}
	if err := Correlate(buf, right, pairs); err != nil {
		t.Fatal(err)
	}
	pairs.ResolveAllBases()
	if pairs.ParentOrSelf(1) == pairs.ParentOrSelf(2) {
		t.Fatalf("labels 1 and 2 should not be correlated (no shared non-background edge)")
	}
}

// TestJointCompletenessBorderVsInterior checks that a label never
// touching the edge of the map-buffer survives
// jointing, while one that touches an edge where no further frame will
// ever arrive is zeroed out even though it lies inside the last frame.
func TestJointCompletenessBorderVsInterior(t *testing.T) {
	// label 9 is fully interior (doesn't touch any of the frame's own
	// edges); label 2 touches the frame's left edge.
	frame := labelFrame(0, 0, 4, 4, []int32{
		2, 0, 0, 0,
		2, 9, 9, 0,
		2, 9, 9, 0,
		0, 0, 0, 0,
	})
	buf := framebuffer.New(tiff.ElemInt32, 1)
	if err := buf.AddFrame(frame); err != nil {
		t.Fatal(err)
	}
	pairs := unionfind.New()
	if err := Correlate(buf, frame, pairs); err != nil {
		t.Fatal(err)
	}

	out, err := JointCompletedObjects(buf, frame, Expansion{}, RetainLastPart, pairs, false)
	if err != nil {
		t.Fatal(err)
	}

	labelAt := func(i int) int32 {
		off := i * 4
		return int32(uint32(out.Pix[off]) | uint32(out.Pix[off+1])<<8 | uint32(out.Pix[off+2])<<16 | uint32(out.Pix[off+3])<<24)
	}
	foundInterior, foundBorder := false, false
	for i := 0; i < len(out.Pix)/4; i++ {
		switch labelAt(i) {
		case 9:
			foundInterior = true
		case 2:
			foundBorder = true
		}
	}
	if !foundInterior {
		t.Fatalf("interior label 9 should survive, output=%v", out.Pix)
	}
	if foundBorder {
		t.Fatalf("border-touching label 2 should have been zeroed, output=%v", out.Pix)
	}
}

func TestCorrelateUnionsSharedNonBackgroundEdge(t *testing.T) {
	left := labelFrame(0, 0, 4, 4, []int32{
		0, 0, 0, 5,
		0, 0, 0, 5,
		0, 0, 0, 5,
		0, 0, 0, 5,
	})
	right := labelFrame(4, 0, 4, 4, []int32{
		7, 0, 0, 0,
		7, 0, 0, 0,
		7, 0, 0, 0,
		7, 0, 0, 0,
	})
	buf := framebuffer.New(tiff.ElemInt32, 1)
	buf.AddFrame(left)
	buf.AddFrame(right)

	pairs := unionfind.New()
	if err := Correlate(buf, left, pairs); err != nil {
		t.Fatal(err)
	}
	if err := Correlate(buf, right, pairs); err != nil {
		t.Fatal(err)
	}
	pairs.ResolveAllBases()
	if pairs.ParentOrSelf(5) != pairs.ParentOrSelf(7) {
		t.Fatalf("labels 5 and 7 share a full-length non-background edge and should be unioned")
	}
}
