// Package scan implements the pyramid scan sequencer:
// given a list of ROIs, a fixed frame size and a scan pattern, it
// enumerates frame positions deterministically, one state transition at
// a time, the way a caller drives Advance() once per downstream frame.
package scan

import (
	"fmt"

	"github.com/airbusgeo/pyramidscan/tiff"
)

// Pattern selects how (low, high) indices are swept across an ROI.
type Pattern int

const (
	Rows Pattern = iota
	Columns
	SnakeRows
	SnakeColumns
	ShortestSide
	SnakeShortestSide
)

// Expansion points towards the already-processed neighbor of the
// current frame, for the stitcher's joint-completed-objects pass.
type Expansion int

const (
	LeftUp Expansion = iota
	LeftDown
	RightUp
	RightDown
)

// ROI is one region of interest to scan, in level-pixel coordinates.
type ROI struct {
	X, Y, Width, Height uint64
}

// ErrDone is returned by Advance once the sequence has been fully
// enumerated and the cursor has wrapped back to (0,0,0).
var ErrDone = fmt.Errorf("scan: sequence exhausted")

// StateOption configures NewState.
type StateOption func(*State)

// WholeROI marks the scan as covering one whole-level ROI rather than a
// caller-supplied list. The flag is only recorded on the State;
// FirstInPyramid, LastInPyramid and the frame sequence do not read it.
func WholeROI(v bool) StateOption {
	return func(s *State) { s.wholeROI = v }
}

// State is the scan sequencer's cursor. It must not be shared across
// goroutines.
type State struct {
	pattern            Pattern
	frameW, frameH     uint64
	rois               []ROI
	levelRect          tiff.Rect
	wholeROI           bool

	roiIndex  int
	lowIndex  uint64
	highIndex uint64
	lowCount  uint64
	highCount uint64
	rowWise   bool // resolved orientation for the current ROI

	exhausted bool
}

// NewState creates a scan cursor over rois, positioned at the first
// frame of the first ROI. levelRect bounds the level the ROIs live in;
// emitted frame rectangles are clipped to it.
func NewState(pattern Pattern, frameW, frameH uint64, rois []ROI, levelRect tiff.Rect, opts ...StateOption) (*State, error) {
	if frameW == 0 || frameH == 0 {
		return nil, fmt.Errorf("%w: zero frame size", tiff.ErrParameterOutOfRange)
	}
	if len(rois) == 0 {
		return nil, fmt.Errorf("%w: empty roi list", tiff.ErrParameterOutOfRange)
	}
	s := &State{pattern: pattern, frameW: frameW, frameH: frameH, rois: rois, levelRect: levelRect}
	for _, o := range opts {
		o(s)
	}
	s.resetCountsForCurrentROI()
	return s, nil
}

func (s *State) currentROI() ROI { return s.rois[s.roiIndex] }

func (s *State) resetCountsForCurrentROI() {
	roi := s.currentROI()
	s.rowWise = s.orientationRowWise(roi)
	if s.rowWise {
		s.lowCount = ceilDiv(roi.Width, s.frameW)
		s.highCount = ceilDiv(roi.Height, s.frameH)
	} else {
		s.lowCount = ceilDiv(roi.Height, s.frameH)
		s.highCount = ceilDiv(roi.Width, s.frameW)
	}
	s.lowIndex, s.highIndex = 0, 0
}

// orientationRowWise reports whether the "low" index advances along X
// (true, row-wise scan) or Y (false, column-wise scan) for roi under the
// current pattern.
func (s *State) orientationRowWise(roi ROI) bool {
	switch s.pattern {
	case Rows, SnakeRows:
		return true
	case Columns, SnakeColumns:
		return false
	default: // ShortestSide, SnakeShortestSide: decided once per ROI
		return roi.Width >= roi.Height
	}
}

func (s *State) isSnake() bool {
	switch s.pattern {
	case SnakeRows, SnakeColumns, SnakeShortestSide:
		return true
	default:
		return false
	}
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// LowCount and HighCount report the frame counts along each axis for the
// current ROI under the current pattern.
func (s *State) LowCount() uint64  { return s.lowCount }
func (s *State) HighCount() uint64 { return s.highCount }

// ROIIndex is the index of the ROI the cursor currently points into.
func (s *State) ROIIndex() int { return s.roiIndex }

// Done reports whether the cursor has wrapped back to (0,0,0) after the
// last frame of the last ROI.
func (s *State) Done() bool { return s.exhausted }

// snakeLowIndex applies the direction reversal: on odd high steps the
// low axis is traversed back-to-front, so adjacent frames share an edge
// across the high-step boundary instead of jumping across the ROI.
func (s *State) snakeLowIndex() uint64 {
	if s.isSnake() && s.highIndex%2 == 1 {
		return s.lowCount - 1 - s.lowIndex
	}
	return s.lowIndex
}

// FramePosition is the upper-left pixel of the current frame in level
// coordinates, clipped to levelRect.
func (s *State) FramePosition() tiff.Rect {
	roi := s.currentROI()
	low := s.snakeLowIndex()

	var x, y uint64
	if s.rowWise {
		x = low * s.frameW
		y = s.highIndex * s.frameH
	} else {
		y = low * s.frameH
		x = s.highIndex * s.frameW
	}
	x += roi.X
	y += roi.Y

	w, h := s.frameW, s.frameH
	return clipRect(tiff.Rect{X: x, Y: y, Width: w, Height: h}, s.levelRect)
}

func clipRect(r, bound tiff.Rect) tiff.Rect {
	left := maxU64(r.X, bound.X)
	top := maxU64(r.Y, bound.Y)
	right := minU64(r.X+r.Width, bound.X+bound.Width)
	bottom := minU64(r.Y+r.Height, bound.Y+bound.Height)
	if right <= left || bottom <= top {
		return tiff.Rect{X: left, Y: top, Width: 0, Height: 0}
	}
	return tiff.Rect{X: left, Y: top, Width: right - left, Height: bottom - top}
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

// FirstInROI reports whether the cursor is at the first frame of the
// current ROI.
func (s *State) FirstInROI() bool { return s.lowIndex == 0 && s.highIndex == 0 }

// LastInROI reports whether the cursor is at the last frame of the
// current ROI.
func (s *State) LastInROI() bool {
	return s.lowIndex == s.lowCount-1 && s.highIndex == s.highCount-1
}

// FirstInPyramid reports whether the cursor is at the very first frame
// of the whole scan (ROI 0, first frame).
func (s *State) FirstInPyramid() bool { return s.roiIndex == 0 && s.FirstInROI() }

// LastInPyramid reports whether the cursor is at the last frame of the
// last ROI.
func (s *State) LastInPyramid() bool { return s.roiIndex == len(s.rois)-1 && s.LastInROI() }

// Last is an alias for LastInPyramid, matching the orchestrator's
// "first/last in ROI/pyramid/overall" output group.
func (s *State) Last() bool { return s.LastInPyramid() }

// RecommendedFrameExpansion returns the direction pointing towards
// already-processed neighbors of the current frame, for the stitcher's
// joint-completed-objects pass.
func (s *State) RecommendedFrameExpansion() Expansion {
	goingBackward := s.isSnake() && s.highIndex%2 == 1

	// "towards already processed" means towards the lower index on the
	// axis we just came from (or the higher index, on a reversed snake
	// leg), and always towards the previous high step.
	lowTowardsStart := !goingBackward

	if s.rowWise {
		if lowTowardsStart {
			return LeftUp
		}
		return RightUp
	}
	if lowTowardsStart {
		return LeftUp
	}
	return LeftDown
}

// Advance moves the cursor to the next frame. It returns ErrDone (with
// the cursor reset to (0,0,0) of the first ROI) once the sequence is
// exhausted.
func (s *State) Advance() error {
	s.lowIndex++
	if s.lowIndex < s.lowCount {
		return nil
	}
	s.lowIndex = 0
	s.highIndex++
	if s.highIndex < s.highCount {
		return nil
	}
	s.highIndex = 0
	s.roiIndex++
	if s.roiIndex < len(s.rois) {
		s.resetCountsForCurrentROI()
		return nil
	}
	s.roiIndex = 0
	s.resetCountsForCurrentROI()
	s.exhausted = true
	return ErrDone
}
