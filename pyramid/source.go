// Package pyramid implements the multi-resolution image source (C8):
// a small trait every concrete decoder adapts to, plus a format
// registry so a caller can open a file without knowing its codec ahead
// of time. Level 0 is always the highest resolution; each further
// level is a reduced-resolution view of the same image.
package pyramid

import (
	"fmt"

	"github.com/airbusgeo/pyramidscan/tiff"
)

// ErrUnknownFormat is returned by AutoDetectByExtension when no adapter
// claims a filename's suffix.
var ErrUnknownFormat = fmt.Errorf("pyramid: no adapter registered for this file extension")

// FreeMode selects how aggressively FreeResources releases a source's
// underlying handles.
type FreeMode int

const (
	// FreeCache drops decoded-tile caches but keeps the file open.
	FreeCache FreeMode = iota
	// FreeAll closes the underlying file handle as well.
	FreeAll
)

// SpecialImage names a non-pyramid-level image a Source may expose,
// such as a thumbnail or label image carried alongside the main levels.
type SpecialImage string

const (
	SpecialThumbnail SpecialImage = "thumbnail"
	SpecialLabel     SpecialImage = "label"
	SpecialMacro     SpecialImage = "macro"
)

// Source is the interface every pyramid adapter implements: a
// multi-resolution image with random-rectangle reads at any level.
type Source interface {
	// NumberOfResolutions returns the number of levels, level 0 being
	// full resolution.
	NumberOfResolutions() int
	// Width returns level's width in pixels.
	Width(level int) (uint64, error)
	// Height returns level's height in pixels.
	Height(level int) (uint64, error)
	// ReadRectangle decodes rect at level into a chunky PixelBuffer.
	ReadRectangle(level int, rect tiff.Rect) (*tiff.PixelBuffer, error)
	// SpecialImage returns a non-level image such as a thumbnail, or
	// nil if this source doesn't carry one of that kind.
	SpecialImage(kind SpecialImage) (*tiff.PixelBuffer, error)
	// FreeResources releases resources held by the source per mode.
	FreeResources(mode FreeMode) error
}

// Factory constructs a Source from a file path.
type Factory func(path string, opts ...Option) (Source, error)

// Option configures a Source at construction. Concrete adapters accept
// only the options relevant to them; an option meant for a different
// adapter is silently ignored.
type Option func(cfg *Config)

// Config carries the construction-time knobs shared across adapters.
type Config struct {
	CacheBudgetBytes uint64
	OpenReader       tiff.RandomAccessReader
}

// CacheBudgetBytes bounds the tile cache an adapter builds internally.
func CacheBudgetBytes(n uint64) Option {
	return func(cfg *Config) { cfg.CacheBudgetBytes = n }
}

// WithRandomAccessReader supplies an already-open stream (e.g. a remote
// osio.Reader) instead of letting the adapter open path itself.
func WithRandomAccessReader(ra tiff.RandomAccessReader) Option {
	return func(cfg *Config) { cfg.OpenReader = ra }
}

var registry = map[string]Factory{}

// Register adds or replaces the factory used for files whose name ends
// in suffix (case-sensitive, including the leading dot, e.g. ".svs").
// This is the CUSTOM factory path: a caller registers a plugin adapter
// under any suffix of its choosing, including ones the built-in
// registry doesn't know about.
func Register(suffix string, f Factory) {
	registry[suffix] = f
}

// AutoDetectByExtension picks an adapter by filename suffix and opens
// path with it: ".svs", ".tif" and ".tiff" resolve to the TIFF-backed
// adapter (which also handles SVS), anything else falls back to the
// generic godal-backed decoder.
func AutoDetectByExtension(path string, opts ...Option) (Source, error) {
	suffix := extensionOf(path)
	if f, ok := registry[suffix]; ok {
		return f(path, opts...)
	}
	if f, ok := registry["*"]; ok {
		return f(path, opts...)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, suffix)
}

func extensionOf(path string) string {
	dot := -1
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			break
		}
		if path[i] == '.' {
			dot = i
			break
		}
	}
	if dot < 0 {
		return ""
	}
	return path[dot:]
}

func init() {
	Register(".svs", OpenTIFFSource)
	Register(".tif", OpenTIFFSource)
	Register(".tiff", OpenTIFFSource)
	Register("*", OpenGodalSource)
}
