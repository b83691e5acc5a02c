package orchestrator

import (
	"errors"
	"fmt"
	"os"

	"github.com/airbusgeo/pyramidscan/tiff"
	"go.uber.org/zap"
)

// ReadTIFFOption configures a ReadTIFFOrchestrator.
type ReadTIFFOption func(*ReadTIFFOrchestrator)

// WithOpenMode sets the lifecycle's open mode (default OpenAndClose).
func WithOpenMode(m OpenMode) ReadTIFFOption {
	return func(o *ReadTIFFOrchestrator) { o.openMode = m }
}

// RequireExistence fails Call with a fatal error when the file is
// missing, instead of the default soft "valid=false" result.
func RequireExistence(v bool) ReadTIFFOption {
	return func(o *ReadTIFFOrchestrator) { o.requireExistence = v }
}

// RequireValidTiff fails Call on non-TIFF input instead of returning
// "valid=false".
func RequireValidTiff(v bool) ReadTIFFOption {
	return func(o *ReadTIFFOrchestrator) { o.requireValidTiff = v }
}

// WithLogger attaches a structured logger; defaults to a no-op sink.
func WithLogger(l *zap.SugaredLogger) ReadTIFFOption {
	return func(o *ReadTIFFOrchestrator) { o.log = l }
}

// SecurePaths rejects any path containing a %TEMP% or ${name}
// substitution token instead of expanding it, for paths fed from
// untrusted input.
func SecurePaths(v bool) ReadTIFFOption {
	return func(o *ReadTIFFOrchestrator) { o.securePaths = v }
}

// WithReaderOptions passes through options to the underlying tiff.Open call.
func WithReaderOptions(opts ...tiff.ReaderOption) ReadTIFFOption {
	return func(o *ReadTIFFOrchestrator) { o.readerOpts = append(o.readerOpts, opts...) }
}

// ReadTIFFOrchestrator drives a Read-TIFF node: one open/close lifecycle,
// one read per Call, and the node's full set of scalar/matrix outputs.
type ReadTIFFOrchestrator struct {
	path             string
	openMode         OpenMode
	requireExistence bool
	requireValidTiff bool
	securePaths      bool
	readerOpts       []tiff.ReaderOption
	log              *zap.SugaredLogger

	file   *os.File
	reader *tiff.Reader
	opened bool
}

// NewReadTIFFOrchestrator constructs an orchestrator for path. Nothing is
// opened until the open mode requires it.
func NewReadTIFFOrchestrator(path string, opts ...ReadTIFFOption) *ReadTIFFOrchestrator {
	o := &ReadTIFFOrchestrator{path: path}
	for _, opt := range opts {
		opt(o)
	}
	o.log = logOrNop(o.log)
	return o
}

// ReadResult is everything a Read-TIFF Call emits.
type ReadResult struct {
	Valid          bool
	Pix            *tiff.PixelBuffer
	ImageWidth     uint64
	ImageHeight    uint64
	ActualRect     tiff.Rect
	IFDJSON        string
	IFDHuman       string
	FileSize       int64
	Dir, Base, Ext string
	Closed         bool
}

// Call performs one read of ifdIndex/rect, honoring the open mode and
// error-softening flags.
func (o *ReadTIFFOrchestrator) Call(ifdIndex int, rect tiff.Rect) (*ReadResult, error) {
	dir, base, ext := pathComponents(o.path)
	result := &ReadResult{Dir: dir, Base: base, Ext: ext}

	needsOpen := !o.opened && (o.openMode == OpenAndClose || o.openMode == Open ||
		o.openMode == OpenOnFirstCall || o.openMode == OpenOnResetAndFirstCall)
	if needsOpen {
		if err := o.open(); err != nil {
			if errors.Is(err, tiff.ErrFileNotFound) {
				if o.requireExistence {
					return nil, err
				}
				return result, nil
			}
			if errors.Is(err, tiff.ErrNotATiff) {
				if o.requireValidTiff {
					return nil, err
				}
				return result, nil
			}
			return nil, err
		}
	}
	if o.reader == nil {
		return nil, fmt.Errorf("orchestrator: read-tiff called before open")
	}

	if fi, err := o.file.Stat(); err == nil {
		result.FileSize = fi.Size()
	}

	result.Valid = o.reader.Valid()
	if !result.Valid {
		if o.openMode == OpenAndClose {
			_ = o.close()
		}
		return result, nil
	}

	ifd, err := o.reader.IFD(ifdIndex)
	if err != nil {
		o.closeOnFatal(err)
		return nil, err
	}
	result.ImageWidth, result.ImageHeight = ifd.ImageWidth(), ifd.ImageHeight()

	pix, err := o.reader.ReadRectangle(ifdIndex, rect)
	if err != nil {
		o.closeOnFatal(err)
		return nil, err
	}
	result.Pix = pix
	result.ActualRect = pix.Rect

	if js, err := ifd.ToJSON(); err == nil {
		result.IFDJSON = js
	}
	result.IFDHuman = ifd.ToHumanReadable()

	if o.openMode == OpenAndClose {
		_ = o.close()
		result.Closed = true
	}
	return result, nil
}

func (o *ReadTIFFOrchestrator) open() error {
	path, err := expandPath(o.path, o.securePaths)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %v", tiff.ErrFileNotFound, err)
		}
		return fmt.Errorf("%w: %v", tiff.ErrIoFault, err)
	}
	r, err := tiff.Open(f, append([]tiff.ReaderOption{tiff.AllowNonTiff()}, o.readerOpts...)...)
	if err != nil {
		f.Close()
		return err
	}
	o.file = f
	o.reader = r
	o.opened = true
	return nil
}

// Close releases the reader's stream, idempotent.
func (o *ReadTIFFOrchestrator) Close() error { return o.close() }

func (o *ReadTIFFOrchestrator) close() error {
	if o.file == nil {
		return nil
	}
	f := o.file
	o.file, o.reader, o.opened = nil, nil, false
	return wrapClose(o.path, f.Close())
}

func (o *ReadTIFFOrchestrator) closeOnFatal(err error) {
	o.log.Errorw("read-tiff: fatal error, closing", "path", o.path, "err", err)
	_ = o.close()
}
