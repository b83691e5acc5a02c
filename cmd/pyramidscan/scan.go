package main

import (
	"fmt"
	"os"

	"github.com/airbusgeo/pyramidscan/orchestrator"
	"github.com/airbusgeo/pyramidscan/pyramid"
	"github.com/airbusgeo/pyramidscan/scan"
	"github.com/airbusgeo/pyramidscan/stitcher"
	"github.com/spf13/cobra"
	"github.com/tbonfort/gobs"
)

var (
	scanLevel         int
	scanFrameW        int
	scanFrameH        int
	scanPatternName   string
	scanParallelism   int
	scanROI           string
	scanBufferFormula string
	scanMetadataPath  string
)

// parseROI parses "x,y,w,h" as produced by scan-job's sharding, restricting
// the scan to that rectangle of the level.
func parseROI(s string) ([]scan.ROI, error) {
	if s == "" {
		return nil, nil
	}
	var x, y, w, h uint64
	if _, err := fmt.Sscanf(s, "%d,%d,%d,%d", &x, &y, &w, &h); err != nil {
		return nil, fmt.Errorf("roi %q: %w", s, err)
	}
	return []scan.ROI{{X: x, Y: y, Width: w, Height: h}}, nil
}

var patternByName = map[string]scan.Pattern{
	"rows":                scan.Rows,
	"columns":             scan.Columns,
	"snake":               scan.SnakeRows, // shorthand for snake-rows
	"snake-rows":          scan.SnakeRows,
	"snake-columns":       scan.SnakeColumns,
	"shortest-side":       scan.ShortestSide,
	"snake-shortest-side": scan.SnakeShortestSide,
}

// scanCmd walks one or more pyramid files frame by frame, one file per
// worker in the pool.
var scanCmd = &cobra.Command{
	Use:   "scan file...",
	Short: "scan one or more pyramid files frame by frame",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern, ok := patternByName[scanPatternName]
		if !ok {
			return fmt.Errorf("unknown pattern %q", scanPatternName)
		}
		rois, err := parseROI(scanROI)
		if err != nil {
			return err
		}

		pool := gobs.NewPool(scanParallelism)
		batch := pool.Batch()
		for _, f := range args {
			f := f
			batch.Submit(func() error {
				n, err := scanOneFile(f, pattern, rois)
				if err != nil {
					return fmt.Errorf("%s: %w", f, err)
				}
				logger.Infow("scanned file", "file", f, "frames", n)
				return nil
			})
		}
		return batch.Wait()
	},
}

func scanOneFile(file string, pattern scan.Pattern, rois []scan.ROI) (int, error) {
	opts := []orchestrator.ReadPyramidOption{
		orchestrator.WithPyramidLogger(logger),
		orchestrator.WithBufferSizeFormula(scanBufferFormula),
		orchestrator.WithSourceOptions(pyramid.CacheBudgetBytes(uint64(cacheBudgetBytes))),
	}
	if scanMetadataPath != "" {
		doc, err := os.ReadFile(scanMetadataPath)
		if err != nil {
			return 0, fmt.Errorf("metadata %s: %w", scanMetadataPath, err)
		}
		md, err := pyramid.ParseMetadata(doc)
		if err != nil {
			return 0, err
		}
		opts = append(opts, orchestrator.WithMetadata(md))
	}
	o := orchestrator.NewReadPyramidOrchestrator([]string{file}, opts...)
	defer o.Close()

	frames := 0
	for {
		frame, err := o.Call(scanLevel, pattern, uint64(scanFrameW), uint64(scanFrameH), true, rois)
		if err != nil {
			return frames, err
		}
		if frames == 0 {
			if n, err := o.RecommendedBufferFrames(0); err == nil {
				logger.Debugw("recommended frame buffer", "file", file, "frames", n)
			}
		}
		frames++
		exp := stitcher.ExpansionFor(frame.Expansion, uint64(scanFrameW), uint64(scanFrameH))
		logger.Debugw("frame", "file", file, "rect", frame.Rect, "expansion", exp,
			"firstInROI", frame.FirstInROI, "lastInROI", frame.LastInROI)
		if frame.Last {
			break
		}
	}
	return frames, nil
}

func init() {
	scanCmd.Flags().IntVar(&scanLevel, "level", 0, "pyramid resolution level")
	scanCmd.Flags().IntVar(&scanFrameW, "frame-width", 512, "frame width in pixels")
	scanCmd.Flags().IntVar(&scanFrameH, "frame-height", 512, "frame height in pixels")
	scanCmd.Flags().StringVar(&scanPatternName, "pattern", "snake-rows", "scan pattern: rows|columns|snake|snake-rows|snake-columns|shortest-side|snake-shortest-side")
	scanCmd.Flags().IntVar(&scanParallelism, "parallelism", 4, "number of files scanned concurrently")
	scanCmd.Flags().StringVar(&scanROI, "roi", "", "restrict the scan to \"x,y,w,h\" (level pixel coordinates)")
	scanCmd.Flags().StringVar(&scanBufferFormula, "buffer-formula", "", "frame-buffer size expression over m, snake, p (empty: buffer a full roi)")
	scanCmd.Flags().StringVar(&scanMetadataPath, "metadata", "", "companion roi metadata json restricting the scan")
}
