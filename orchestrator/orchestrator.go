// Package orchestrator implements the three lifecycle drivers sitting on
// top of the lower layers (tiff, pyramid, scan, framebuffer): read-TIFF,
// read-pyramid and write-TIFF. Each wraps an open/close lifecycle around
// a per-invocation call, the shape a host execution-graph node expects.
package orchestrator

import (
	"errors"
	"fmt"
	"os"

	"github.com/airbusgeo/pyramidscan/pathexpand"
	"go.uber.org/zap"
)

// OpenMode selects when an orchestrator's underlying reader/writer is
// opened relative to the sequence of per-invocation calls.
type OpenMode int

const (
	// OpenAndClose opens and closes the file on every single call.
	OpenAndClose OpenMode = iota
	// Open opens on the first Call and stays open until Close; nothing
	// is opened at construction.
	Open
	// OpenOnResetAndFirstCall opens lazily: nothing happens at
	// construction, the first Call opens it. ReadTIFFOrchestrator has no
	// Reset; after Close the next Call opens the file again.
	OpenOnResetAndFirstCall
	// OpenOnFirstCall opens lazily on the first Call, like
	// OpenOnResetAndFirstCall; after Close the next Call opens the file
	// again.
	OpenOnFirstCall
)

// ErrIllegalStateChange is returned when a geometry parameter (level,
// pattern, frame size, whole-ROI flag) changes between frames of the
// same open pyramid scan.
var ErrIllegalStateChange = errors.New("orchestrator: geometry parameter changed mid-scan")

func logOrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l != nil {
		return l
	}
	return zap.NewNop().Sugar()
}

// pathComponents splits a path into directory, base name and extension,
// the "file path components" scalar outputs the read orchestrators
// expose.
func pathComponents(path string) (dir, base, ext string) {
	slash := -1
	dot := -1
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			slash = i
			break
		}
		if dot < 0 && path[i] == '.' {
			dot = i
		}
	}
	if slash >= 0 {
		dir = path[:slash]
		base = path[slash+1:]
	} else {
		base = path
	}
	if dot > slash {
		ext = path[dot+1:]
		base = base[:len(base)-len(ext)-1]
	}
	return dir, base, ext
}

// expandPath resolves %TEMP% and ${name} substitutions in path against
// the environment, or refuses paths carrying either token when secure is
// set.
func expandPath(path string, secure bool) (string, error) {
	if secure {
		return pathexpand.ExpandSecure(path)
	}
	return pathexpand.Expand(path, os.LookupEnv)
}

func wrapClose(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("orchestrator: closing %s: %w", name, err)
}
