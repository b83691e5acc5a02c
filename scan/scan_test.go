package scan

import (
	"sort"
	"testing"

	"github.com/airbusgeo/pyramidscan/tiff"
)

func collectFrames(t *testing.T, s *State) []tiff.Rect {
	t.Helper()
	var frames []tiff.Rect
	for {
		frames = append(frames, s.FramePosition())
		if err := s.Advance(); err != nil {
			break
		}
	}
	return frames
}

func TestSnakeRowsTwoFrameSweep(t *testing.T) {
	roi := ROI{X: 0, Y: 0, Width: 10, Height: 3}
	level := tiff.Rect{X: 0, Y: 0, Width: 10, Height: 3}
	s, err := NewState(SnakeRows, 5, 3, []ROI{roi}, level)
	if err != nil {
		t.Fatal(err)
	}

	frames := collectFrames(t, s)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	want := []tiff.Rect{
		{X: 0, Y: 0, Width: 5, Height: 3},
		{X: 5, Y: 0, Width: 5, Height: 3},
	}
	for i, w := range want {
		if frames[i] != w {
			t.Fatalf("frame %d = %+v, want %+v", i, frames[i], w)
		}
	}
}

func TestLastInROIOnFinalFrame(t *testing.T) {
	roi := ROI{X: 0, Y: 0, Width: 10, Height: 3}
	level := tiff.Rect{X: 0, Y: 0, Width: 10, Height: 3}
	s, err := NewState(SnakeRows, 5, 3, []ROI{roi}, level)
	if err != nil {
		t.Fatal(err)
	}
	if s.LastInROI() {
		t.Fatalf("should not be last at start")
	}
	if err := s.Advance(); err != nil {
		t.Fatal(err)
	}
	if !s.LastInROI() || !s.Last() {
		t.Fatalf("should be last at second frame")
	}
}

func rectKey(r tiff.Rect) [4]uint64 { return [4]uint64{r.X, r.Y, r.Width, r.Height} }

func sortedKeys(rects []tiff.Rect) [][4]uint64 {
	keys := make([][4]uint64, len(rects))
	for i, r := range rects {
		keys[i] = rectKey(r)
	}
	sort.Slice(keys, func(i, j int) bool {
		for k := 0; k < 4; k++ {
			if keys[i][k] != keys[j][k] {
				return keys[i][k] < keys[j][k]
			}
		}
		return false
	})
	return keys
}

// TestPatternsArePermutationsOfRows verifies the frame
// sequence for every pattern is a permutation (as a set of rectangles)
// of the plain row-major sequence, and contains exactly
// low_count*high_count frames.
func TestPatternsArePermutationsOfRows(t *testing.T) {
	roi := ROI{X: 2, Y: 3, Width: 13, Height: 7}
	level := tiff.Rect{X: 0, Y: 0, Width: 100, Height: 100}

	base, err := NewState(Rows, 4, 3, []ROI{roi}, level)
	if err != nil {
		t.Fatal(err)
	}
	baseFrames := collectFrames(t, base)
	baseKeys := sortedKeys(baseFrames)

	for _, p := range []Pattern{Columns, SnakeRows, SnakeColumns, ShortestSide, SnakeShortestSide} {
		s, err := NewState(p, 4, 3, []ROI{roi}, level)
		if err != nil {
			t.Fatal(err)
		}
		frames := collectFrames(t, s)
		if uint64(len(frames)) != s.LowCount()*s.HighCount() {
			t.Fatalf("pattern %v: got %d frames, want %d", p, len(frames), s.LowCount()*s.HighCount())
		}
		gotKeys := sortedKeys(frames)
		if len(gotKeys) != len(baseKeys) {
			t.Fatalf("pattern %v: frame count %d != rows count %d", p, len(gotKeys), len(baseKeys))
		}
		for i := range gotKeys {
			if gotKeys[i] != baseKeys[i] {
				t.Fatalf("pattern %v: frame set differs from rows at %d: %v vs %v", p, i, gotKeys[i], baseKeys[i])
			}
		}
	}
}

// TestSnakeAdjacentFramesShareEdge verifies adjacent frames
// in a snake sequence are Manhattan-adjacent (share an edge), not
// diagonal.
func TestSnakeAdjacentFramesShareEdge(t *testing.T) {
	roi := ROI{X: 0, Y: 0, Width: 20, Height: 9}
	level := tiff.Rect{X: 0, Y: 0, Width: 20, Height: 9}
	s, err := NewState(SnakeRows, 5, 3, []ROI{roi}, level)
	if err != nil {
		t.Fatal(err)
	}
	frames := collectFrames(t, s)
	for i := 1; i < len(frames); i++ {
		a, b := frames[i-1], frames[i]
		acx, acy := a.X+a.Width/2, a.Y+a.Height/2
		bcx, bcy := b.X+b.Width/2, b.Y+b.Height/2
		dx := absDiff(acx, bcx)
		dy := absDiff(acy, bcy)
		if !((dx == 5 && dy == 0) || (dx == 0 && dy == 3)) {
			t.Fatalf("frames %d/%d not edge-adjacent: centers (%d,%d) (%d,%d)", i-1, i, acx, acy, bcx, bcy)
		}
	}
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

func TestCoversWholeROI(t *testing.T) {
	roi := ROI{X: 0, Y: 0, Width: 13, Height: 7}
	level := tiff.Rect{X: 0, Y: 0, Width: 13, Height: 7}
	s, err := NewState(Rows, 4, 3, []ROI{roi}, level)
	if err != nil {
		t.Fatal(err)
	}
	covered := make([][]bool, roi.Height)
	for i := range covered {
		covered[i] = make([]bool, roi.Width)
	}
	for {
		r := s.FramePosition()
		for y := r.Y; y < r.Y+r.Height; y++ {
			for x := r.X; x < r.X+r.Width; x++ {
				covered[y][x] = true
			}
		}
		if err := s.Advance(); err != nil {
			break
		}
	}
	for y := range covered {
		for x := range covered[y] {
			if !covered[y][x] {
				t.Fatalf("pixel (%d,%d) never covered", x, y)
			}
		}
	}
}
