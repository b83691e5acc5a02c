package main

import (
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/osio"
	"github.com/airbusgeo/osio/gcs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	verbose          bool
	cacheBudgetBytes int64
	blocksize        string
	numCachedBlocks  int
	workBucket       string

	logger  *zap.SugaredLogger
	stcl    *storage.Client
	gcsAdpt *osio.Adapter
	startAt time.Time
)

var rootCmd = &cobra.Command{
	Use:   "pyramidscan",
	Short: "pyramid TIFF scan/stitch cli",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		startAt = time.Now()
		var zl *zap.Logger
		var err error
		if verbose {
			zl, err = zap.NewDevelopment()
		} else {
			zl, err = zap.NewProduction()
		}
		if err != nil {
			return fmt.Errorf("zap: %w", err)
		}
		logger = zl.Sugar()

		ctx := cmd.Context()
		if stcl, err = storage.NewClient(ctx); err != nil {
			logger.Warnw("gcs client unavailable, gs:// paths will fail", "err", err)
			return nil
		}
		gcsh, err := gcs.Handle(ctx, gcs.GCSClient(stcl))
		if err != nil {
			return fmt.Errorf("gcs.handle: %w", err)
		}
		gcsAdpt, err = osio.NewAdapter(gcsh, osio.BlockSize(blocksize), osio.NumCachedBlocks(numCachedBlocks))
		if err != nil {
			return fmt.Errorf("osio.new: %w", err)
		}
		if err := godal.RegisterVSIHandler("gs://", gcsAdpt); err != nil {
			return fmt.Errorf("register osio: %w", err)
		}
		godal.RegisterAll()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		if logger != nil {
			logger.Debugf("command %s took %.1fs", cmd.Name(), time.Since(startAt).Seconds())
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")
	rootCmd.PersistentFlags().Int64Var(&cacheBudgetBytes, "cache-bytes", 256<<20, "tile cache budget in bytes")
	rootCmd.PersistentFlags().StringVar(&blocksize, "blocksize", "512k", "gs cache blocksize")
	rootCmd.PersistentFlags().IntVar(&numCachedBlocks, "numblocks", 1000, "number of gs cached blocks")
	rootCmd.PersistentFlags().StringVar(&workBucket, "workingBucket", "pyramidscan-scratch", "temporary work bucket for scan-job")
	rootCmd.AddCommand(infoCmd, scanCmd, scanJobCmd)
}
