package orchestrator

import (
	"fmt"

	"github.com/airbusgeo/pyramidscan/formula"
	"github.com/airbusgeo/pyramidscan/pyramid"
	"github.com/airbusgeo/pyramidscan/scan"
	"github.com/airbusgeo/pyramidscan/tiff"
	"go.uber.org/zap"
)

// ReadPyramidOption configures a ReadPyramidOrchestrator.
type ReadPyramidOption func(*ReadPyramidOrchestrator)

// WithPyramidLogger attaches a structured logger.
func WithPyramidLogger(l *zap.SugaredLogger) ReadPyramidOption {
	return func(o *ReadPyramidOrchestrator) { o.log = l }
}

// WithFactory overrides the pyramid.Source factory (default AutoDetectByExtension).
func WithFactory(f pyramid.Factory) ReadPyramidOption {
	return func(o *ReadPyramidOrchestrator) { o.factory = f }
}

// WithSourceOptions passes options through to the pyramid.Source factory.
func WithSourceOptions(opts ...pyramid.Option) ReadPyramidOption {
	return func(o *ReadPyramidOrchestrator) { o.sourceOpts = append(o.sourceOpts, opts...) }
}

// WithMetadata supplies a parsed companion-metadata document: its
// derived rectangles are used when Call receives a nil ROI list, and its
// polygon contours ride along on each FrameResult.
func WithMetadata(md *pyramid.Metadata) ReadPyramidOption {
	return func(o *ReadPyramidOrchestrator) { o.metadata = md }
}

// WithBufferSizeFormula sets the expression evaluated by
// RecommendedBufferFrames over the variables m (frames in the current
// ROI), snake (whether the pattern is a snake variant) and p (an opaque
// caller value). The expression is parsed on each RecommendedBufferFrames
// call; a formula outside the evaluator's grammar goes to the fallback
// set by WithBufferSizeFallback, when there is one.
func WithBufferSizeFormula(src string) ReadPyramidOption {
	return func(o *ReadPyramidOrchestrator) { o.bufferFormulaSrc = src }
}

// WithBufferSizeFallback supplies the host callback consulted when the
// configured formula doesn't parse under the evaluator's grammar.
func WithBufferSizeFallback(f func(m float64, snake bool, p float64) float64) ReadPyramidOption {
	return func(o *ReadPyramidOrchestrator) { o.bufferFallback = f }
}

// geometry is the set of scan parameters that must stay constant across
// every frame of one open pyramid; changing any of them mid-scan is an
// illegal state change.
type geometry struct {
	level           int
	pattern         scan.Pattern
	frameW, frameH  uint64
	wholeROI        bool
	set             bool
}

func (g geometry) equal(o geometry) bool {
	return g.level == o.level && g.pattern == o.pattern &&
		g.frameW == o.frameW && g.frameH == o.frameH && g.wholeROI == o.wholeROI
}

// ReadPyramidOrchestrator drives a Read-Pyramid node: it owns a pyramid
// Source, a scan cursor over a file list and ROI set, and emits one frame
// per Call along with first/last-in-{roi,pyramid} flags.
type ReadPyramidOrchestrator struct {
	files      []string
	fileIdx    int
	factory    pyramid.Factory
	sourceOpts []pyramid.Option
	log        *zap.SugaredLogger

	bufferFormulaSrc string
	bufferFallback   func(m float64, snake bool, p float64) float64
	metadata         *pyramid.Metadata

	src    pyramid.Source
	roiSet *pyramid.LevelROISet
	state  *scan.State
	geo    geometry
}

// NewReadPyramidOrchestrator constructs an orchestrator over files, read
// in order; Reset/open happens lazily on the first Call.
func NewReadPyramidOrchestrator(files []string, opts ...ReadPyramidOption) *ReadPyramidOrchestrator {
	o := &ReadPyramidOrchestrator{files: files, factory: pyramid.AutoDetectByExtension}
	for _, opt := range opts {
		opt(o)
	}
	o.log = logOrNop(o.log)
	return o
}

// FrameResult is one emitted frame plus its sequencer bookkeeping.
type FrameResult struct {
	Pix                           *tiff.PixelBuffer
	Rect                          tiff.Rect
	FirstInROI, LastInROI         bool
	FirstInPyramid, LastInPyramid bool
	Last                          bool
	Expansion                     scan.Expansion
	ROIIndex                      int
	Contours                      []pyramid.Vertex
}

// Call advances the scan cursor by one frame and reads its pixels. level,
// pattern, frameW/frameH and wholeROI must stay constant across an open
// pyramid's frames; a change surfaces as ErrIllegalStateChange.
func (o *ReadPyramidOrchestrator) Call(level int, pattern scan.Pattern, frameW, frameH uint64, wholeROI bool, rois []scan.ROI) (*FrameResult, error) {
	want := geometry{level: level, pattern: pattern, frameW: frameW, frameH: frameH, wholeROI: wholeROI, set: true}
	if o.state != nil {
		if !o.geo.equal(want) {
			return nil, fmt.Errorf("%w: level/pattern/frame size/whole-roi changed mid-scan", ErrIllegalStateChange)
		}
	} else {
		if err := o.open(level, pattern, frameW, frameH, wholeROI, rois); err != nil {
			return nil, err
		}
	}
	o.geo = want

	rect := o.state.FramePosition()
	pix, err := o.src.ReadRectangle(level, rect)
	if err != nil {
		return nil, err
	}

	result := &FrameResult{
		Pix:            pix,
		Rect:           rect,
		FirstInROI:     o.state.FirstInROI(),
		LastInROI:      o.state.LastInROI(),
		FirstInPyramid: o.state.FirstInPyramid(),
		LastInPyramid:  o.state.LastInPyramid(),
		Last:           o.state.Last(),
		Expansion:      o.state.RecommendedFrameExpansion(),
		ROIIndex:       o.state.ROIIndex(),
	}
	if contours := o.roiSet.Contours(); o.state.ROIIndex() < len(contours) {
		result.Contours = contours[o.state.ROIIndex()]
	}

	if err := o.state.Advance(); err != nil && err != scan.ErrDone {
		return nil, err
	}
	return result, nil
}

// RecommendedBufferFrames evaluates the configured buffer-size formula
// for the scan's current ROI: m is the ROI's total frame count, snake
// reflects the active pattern, p is an opaque caller value. Without a
// configured formula the result is m itself — buffer a full ROI. When the
// formula falls outside the evaluator's grammar and no fallback is set,
// the parse error is returned.
func (o *ReadPyramidOrchestrator) RecommendedBufferFrames(p float64) (float64, error) {
	if o.state == nil {
		return 0, fmt.Errorf("orchestrator: buffer size queried before the first frame")
	}
	m := float64(o.state.LowCount() * o.state.HighCount())
	snake := o.geo.pattern == scan.SnakeRows || o.geo.pattern == scan.SnakeColumns || o.geo.pattern == scan.SnakeShortestSide
	if o.bufferFormulaSrc == "" {
		return m, nil
	}
	expr, err := formula.Parse(o.bufferFormulaSrc)
	if err != nil {
		if o.bufferFallback != nil {
			return o.bufferFallback(m, snake, p), nil
		}
		return 0, err
	}
	return expr.Eval(formula.Vars{M: m, Snake: snake, P: p}), nil
}

func (o *ReadPyramidOrchestrator) open(level int, pattern scan.Pattern, frameW, frameH uint64, wholeROI bool, rois []scan.ROI) error {
	if o.fileIdx >= len(o.files) {
		return fmt.Errorf("orchestrator: no more files in file list")
	}
	path, err := expandPath(o.files[o.fileIdx], false)
	if err != nil {
		return err
	}
	src, err := o.factory(path, o.sourceOpts...)
	if err != nil {
		return err
	}
	w, err := src.Width(level)
	if err != nil {
		src.FreeResources(pyramid.FreeAll)
		return err
	}
	h, err := src.Height(level)
	if err != nil {
		src.FreeResources(pyramid.FreeAll)
		return err
	}
	levelRect := tiff.Rect{Width: w, Height: h}

	roiSet := pyramid.NewLevelROISet(levelRect)
	if rois == nil && o.metadata != nil {
		roiSet.SetMetadataROIs(o.metadata.Rectangles(), o.metadata.Contours())
	} else {
		roiSet.SetMetadataROIs(rois, nil)
	}
	effective := roiSet.Effective()

	state, err := scan.NewState(pattern, frameW, frameH, effective, levelRect, scan.WholeROI(wholeROI))
	if err != nil {
		src.FreeResources(pyramid.FreeAll)
		return err
	}

	o.src = src
	o.roiSet = roiSet
	o.state = state
	return nil
}

// Reset closes the current pyramid source; the next Call begins a fresh
// scan at roi_index=0 over the same or a replaced file list.
func (o *ReadPyramidOrchestrator) Reset(files []string) error {
	err := o.closeSource()
	if files != nil {
		o.files = files
	}
	o.fileIdx = 0
	o.state = nil
	o.geo = geometry{}
	return err
}

// NextFile advances to the next file in the list, resetting the scan
// cursor for it.
func (o *ReadPyramidOrchestrator) NextFile() error {
	if err := o.closeSource(); err != nil {
		return err
	}
	o.fileIdx++
	o.state = nil
	o.geo = geometry{}
	return nil
}

func (o *ReadPyramidOrchestrator) closeSource() error {
	if o.src == nil {
		return nil
	}
	src := o.src
	o.src = nil
	return wrapClose("pyramid source", src.FreeResources(pyramid.FreeAll))
}

// Close releases the current pyramid source.
func (o *ReadPyramidOrchestrator) Close() error { return o.closeSource() }
