package pyramid

import (
	"github.com/airbusgeo/pyramidscan/scan"
	"github.com/airbusgeo/pyramidscan/tiff"
)

// LevelROISet holds every ROI-related input
// for one selected resolution level and lazily derives the effective
// scan-list from them: a caller-supplied single ROI, any number of
// metadata ROI rectangles, and a minimum-size filter. Every setter
// invalidates the cached derivation.
type LevelROISet struct {
	levelDim   tiff.Rect
	wholeLevel tiff.Rect
	userROI    *scan.ROI
	metaROIs   []scan.ROI
	contours   [][]Vertex
	minSize    uint64

	cached []scan.ROI
	dirty  bool
}

// NewLevelROISet seeds the set with a level's full-resolution bounds.
func NewLevelROISet(levelDim tiff.Rect) *LevelROISet {
	return &LevelROISet{
		levelDim:   levelDim,
		wholeLevel: tiff.Rect{Width: levelDim.Width, Height: levelDim.Height},
		dirty:      true,
	}
}

// SetUserROI restricts scanning to a single caller rectangle; pass nil
// to clear it and fall back to the metadata ROI list (or the whole
// level, if that's empty too).
func (s *LevelROISet) SetUserROI(r *scan.ROI) {
	s.userROI = r
	s.dirty = true
}

// SetMetadataROIs replaces the ordered list of metadata-file ROI
// rectangles (e.g. from ParseMetadata).
func (s *LevelROISet) SetMetadataROIs(rois []scan.ROI, contours [][]Vertex) {
	s.metaROIs = rois
	s.contours = contours
	s.dirty = true
}

// SetMinimumSize drops any derived ROI whose area is below minPixels.
func (s *LevelROISet) SetMinimumSize(minPixels uint64) {
	s.minSize = minPixels
	s.dirty = true
}

// Contours returns the polygon contours associated 1:1 with metadata
// ROIs, when the metadata source carried them.
func (s *LevelROISet) Contours() [][]Vertex { return s.contours }

// WholeLevel returns the full-resolution rectangle of the level this
// set was built for.
func (s *LevelROISet) WholeLevel() tiff.Rect { return s.wholeLevel }

// Effective returns the derived, cached list of ROIs to scan: the user
// ROI alone if set, else the metadata list clipped to the level and
// filtered by minimum size, else the whole level as a single ROI.
func (s *LevelROISet) Effective() []scan.ROI {
	if !s.dirty && s.cached != nil {
		return s.cached
	}
	s.cached = s.derive()
	s.dirty = false
	return s.cached
}

func (s *LevelROISet) derive() []scan.ROI {
	if s.userROI != nil {
		return []scan.ROI{s.clip(*s.userROI)}
	}
	if len(s.metaROIs) == 0 {
		return []scan.ROI{{X: 0, Y: 0, Width: s.wholeLevel.Width, Height: s.wholeLevel.Height}}
	}
	out := make([]scan.ROI, 0, len(s.metaROIs))
	for _, r := range s.metaROIs {
		clipped := s.clip(r)
		if clipped.Width*clipped.Height < s.minSize {
			continue
		}
		out = append(out, clipped)
	}
	if len(out) == 0 {
		return []scan.ROI{{X: 0, Y: 0, Width: s.wholeLevel.Width, Height: s.wholeLevel.Height}}
	}
	return out
}

func (s *LevelROISet) clip(r scan.ROI) scan.ROI {
	x0 := maxU64(r.X, s.levelDim.X)
	y0 := maxU64(r.Y, s.levelDim.Y)
	x1 := minU64(r.X+r.Width, s.levelDim.X+s.levelDim.Width)
	y1 := minU64(r.Y+r.Height, s.levelDim.Y+s.levelDim.Height)
	if x1 < x0 {
		x1 = x0
	}
	if y1 < y0 {
		y1 = y0
	}
	return scan.ROI{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}
