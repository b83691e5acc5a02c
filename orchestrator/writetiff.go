package orchestrator

import (
	"fmt"
	"os"

	"github.com/airbusgeo/pyramidscan/tiff"
	"go.uber.org/zap"
)

// WriteTIFFOption configures a WriteTIFFOrchestrator.
type WriteTIFFOption func(*WriteTIFFOrchestrator)

// WithAppend makes the orchestrator re-open an existing file and append
// new IFDs to its chain instead of truncating and starting fresh.
func WithAppend(v bool) WriteTIFFOption {
	return func(o *WriteTIFFOrchestrator) { o.appendMode = v }
}

// WithFlushASAP patches each tile's offset/byte-count slots into the
// file as soon as that tile finishes encoding, making the image readable
// tile by tile instead of only after Complete. Ignored for resizable
// maps, whose slot arrays don't exist until Complete derives the image
// bounds.
func WithFlushASAP(v bool) WriteTIFFOption {
	return func(o *WriteTIFFOrchestrator) { o.flushASAP = v }
}

// WithWriteTIFFLogger attaches a structured logger.
func WithWriteTIFFLogger(l *zap.SugaredLogger) WriteTIFFOption {
	return func(o *WriteTIFFOrchestrator) { o.log = l }
}

// WithBigTiff selects BigTIFF offsets for a freshly started file (ignored
// in append mode, where the existing file's format wins).
func WithBigTiff(v bool) WriteTIFFOption {
	return func(o *WriteTIFFOrchestrator) { o.bigTiff = v }
}

// WithSecureWritePaths rejects output paths carrying a %TEMP% or ${name}
// substitution token instead of expanding them.
func WithSecureWritePaths(v bool) WriteTIFFOption {
	return func(o *WriteTIFFOrchestrator) { o.securePaths = v }
}

// WriteTIFFOrchestrator drives a Write-TIFF node: it lazily opens on the
// first Call, writes one image as a new IFD per Call, and flushes (closes
// the stream without discarding what's written) on Close.
type WriteTIFFOrchestrator struct {
	path        string
	appendMode  bool
	flushASAP   bool
	bigTiff     bool
	securePaths bool
	log         *zap.SugaredLogger

	file   *os.File
	writer *tiff.Writer
	opened bool
	failed bool
}

// NewWriteTIFFOrchestrator constructs an orchestrator writing to path.
func NewWriteTIFFOrchestrator(path string, opts ...WriteTIFFOption) *WriteTIFFOrchestrator {
	o := &WriteTIFFOrchestrator{path: path}
	for _, opt := range opts {
		opt(o)
	}
	o.log = logOrNop(o.log)
	return o
}

// WriteImage writes pix as a new IFD built from baseIFD (the caller
// supplies geometry/compression tags; WriteImage fills in tile data and
// the offset/byte-count arrays). resizable must match whether mapOpts
// includes tiff.Resizable(true): a resizable map can't be forward-written
// since its image bounds aren't known until all tiles arrive.
func (o *WriteTIFFOrchestrator) WriteImage(baseIFD *tiff.IFD, pix *tiff.PixelBuffer, tileW, tileH uint64, resizable bool, mapOpts ...tiff.WriteMapOption) error {
	if o.failed {
		return fmt.Errorf("%w: writer previously failed", tiff.ErrIoFault)
	}
	if !o.opened {
		if err := o.open(); err != nil {
			o.failed = true
			return err
		}
	}

	wm, err := o.writer.NewMap(baseIFD, mapOpts...)
	if err != nil {
		o.failed = true
		return err
	}

	if !resizable {
		if err := o.writer.WriteForward(wm); err != nil {
			o.failed = true
			return err
		}
	}

	var commit func(plane, x, y uint64) error
	if o.flushASAP && !resizable {
		commit = func(plane, x, y uint64) error {
			return o.writer.CommitTile(wm, plane, x, y)
		}
	}
	if err := writeAllTiles(o.writer, wm, baseIFD, pix, tileW, tileH, commit); err != nil {
		o.failed = true
		return err
	}

	if err := o.writer.Complete(wm); err != nil {
		o.failed = true
		return err
	}
	return nil
}

// writeAllTiles encodes pix tile by tile; a non-nil commit is invoked
// after each tile so flush-ASAP mode can patch that tile's slots into
// the file right away.
func writeAllTiles(w *tiff.Writer, wm *tiff.WriteMap, ifd *tiff.IFD, pix *tiff.PixelBuffer, tileW, tileH uint64, commit func(plane, x, y uint64) error) error {
	width, height := ifd.ImageWidth(), ifd.ImageHeight()
	if width == 0 {
		width = pix.Rect.Width
	}
	if height == 0 {
		height = pix.Rect.Height
	}
	bytesPerPixel := pix.BytesPerSample * pix.Channels
	rowStride := int(pix.Rect.Width) * bytesPerPixel

	for y := uint64(0); y < height; y += tileH {
		h := tileH
		if y+h > height {
			h = height - y
		}
		for x := uint64(0); x < width; x += tileW {
			wdt := tileW
			if x+wdt > width {
				wdt = width - x
			}
			tile := make([]byte, int(tileW*tileH)*bytesPerPixel)
			for row := uint64(0); row < h; row++ {
				srcOff := int(row+y)*rowStride + int(x)*bytesPerPixel
				dstOff := int(row) * int(tileW) * bytesPerPixel
				n := int(wdt) * bytesPerPixel
				copy(tile[dstOff:dstOff+n], pix.Pix[srcOff:srcOff+n])
			}
			if err := w.WriteTile(wm, 0, x/tileW, y/tileH, tile); err != nil {
				return err
			}
			if commit != nil {
				if err := commit(0, x/tileW, y/tileH); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (o *WriteTIFFOrchestrator) open() error {
	path, err := expandPath(o.path, o.securePaths)
	if err != nil {
		return err
	}
	var f *os.File
	var w *tiff.Writer
	if o.appendMode {
		f, err = os.OpenFile(path, os.O_RDWR, 0o644)
		if err != nil {
			return fmt.Errorf("%w: %v", tiff.ErrIoFault, err)
		}
		w, err = tiff.StartExistingFile(f)
	} else {
		f, err = os.Create(path)
		if err != nil {
			return fmt.Errorf("%w: %v", tiff.ErrIoFault, err)
		}
		w, err = tiff.StartNewFile(f, true, o.bigTiff)
	}
	if err != nil {
		f.Close()
		return err
	}
	o.file, o.writer, o.opened = f, w, true
	return nil
}

// Close flushes and closes the underlying file, idempotent.
func (o *WriteTIFFOrchestrator) Close() error {
	if o.file == nil {
		return nil
	}
	f := o.file
	o.file = nil
	return wrapClose(o.path, f.Close())
}
