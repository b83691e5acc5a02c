package main

import (
	"fmt"

	"github.com/airbusgeo/pyramidscan/orchestrator"
	"github.com/airbusgeo/pyramidscan/tiff"
	"github.com/spf13/cobra"
)

var infoIFDIndex int
var infoHuman bool

var infoCmd = &cobra.Command{
	Use:   "info file",
	Short: "print the IFD summary of a TIFF/BigTIFF/SVS file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o := orchestrator.NewReadTIFFOrchestrator(args[0],
			orchestrator.WithLogger(logger),
			orchestrator.WithReaderOptions(tiff.CacheBudgetBytes(cacheBudgetBytes)))
		result, err := o.Call(infoIFDIndex, tiff.Rect{Width: 1, Height: 1})
		if err != nil {
			return err
		}
		if !result.Valid {
			return fmt.Errorf("%s: not a valid tiff file", args[0])
		}
		if infoHuman {
			fmt.Println(result.IFDHuman)
		} else {
			fmt.Println(result.IFDJSON)
		}
		fmt.Printf("image %dx%d, file size %d bytes\n", result.ImageWidth, result.ImageHeight, result.FileSize)
		return nil
	},
}

func init() {
	infoCmd.Flags().IntVar(&infoIFDIndex, "ifd", 0, "ifd index to summarize")
	infoCmd.Flags().BoolVar(&infoHuman, "human", false, "human-readable summary instead of json")
}
