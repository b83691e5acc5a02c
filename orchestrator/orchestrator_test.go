package orchestrator

import (
	"path/filepath"
	"testing"

	"github.com/airbusgeo/pyramidscan/scan"
	"github.com/airbusgeo/pyramidscan/tiff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestIFD(width, height, tileW, tileH uint64) *tiff.IFD {
	ifd := tiff.NewIFD()
	ifd.Put(tiff.TagImageWidth, tiff.NewUintValue(tiff.TLong, width))
	ifd.Put(tiff.TagImageLength, tiff.NewUintValue(tiff.TLong, height))
	ifd.Put(tiff.TagBitsPerSample, tiff.NewUintValue(tiff.TShort, 8))
	ifd.Put(tiff.TagSamplesPerPixel, tiff.NewUintValue(tiff.TShort, 1))
	ifd.Put(tiff.TagTileWidth, tiff.NewUintValue(tiff.TShort, tileW))
	ifd.Put(tiff.TagTileLength, tiff.NewUintValue(tiff.TShort, tileH))
	ifd.Put(tiff.TagCompression, tiff.NewUintValue(tiff.TShort, uint64(tiff.CompressionNone)))
	ifd.Put(tiff.TagPhotometricInterp, tiff.NewUintValue(tiff.TShort, tiff.PhotometricBlackIsZero))
	return ifd
}

func TestWriteThenReadTIFFOrchestratorRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.tif")

	w := NewWriteTIFFOrchestrator(path)
	ifd := buildTestIFD(8, 8, 4, 4)
	pix := &tiff.PixelBuffer{
		Rect:           tiff.Rect{Width: 8, Height: 8},
		Channels:       1,
		Kind:           tiff.ElemUint8,
		BytesPerSample: 1,
		Pix:            make([]byte, 64),
	}
	for y := uint64(0); y < 8; y++ {
		for x := uint64(0); x < 8; x++ {
			pix.Pix[y*8+x] = byte((x + 10*y) & 0xFF)
		}
	}
	require.NoError(t, w.WriteImage(ifd, pix, 4, 4, false))
	require.NoError(t, w.Close())

	r := NewReadTIFFOrchestrator(path, RequireExistence(true), RequireValidTiff(true))
	result, err := r.Call(0, tiff.Rect{X: 2, Y: 2, Width: 5, Height: 5})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.True(t, result.Closed)
	expected := []byte{22, 23, 24, 25, 26, 32, 33, 34, 35, 36, 42, 43, 44, 45, 46, 52, 53, 54, 55, 56, 62, 63, 64, 65, 66}
	assert.Equal(t, expected, result.Pix.Pix)
	assert.EqualValues(t, 8, result.ImageWidth)
	assert.NotEmpty(t, result.IFDJSON)
	assert.NotEmpty(t, result.IFDHuman)
}

func TestWriteTIFFOrchestratorFlushASAPRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asap.tif")

	w := NewWriteTIFFOrchestrator(path, WithFlushASAP(true))
	ifd := buildTestIFD(4, 4, 2, 2)
	pix := &tiff.PixelBuffer{
		Rect:           tiff.Rect{Width: 4, Height: 4},
		Channels:       1,
		Kind:           tiff.ElemUint8,
		BytesPerSample: 1,
		Pix:            make([]byte, 16),
	}
	for i := range pix.Pix {
		pix.Pix[i] = byte(i)
	}
	require.NoError(t, w.WriteImage(ifd, pix, 2, 2, false))
	require.NoError(t, w.Close())

	r := NewReadTIFFOrchestrator(path, RequireValidTiff(true))
	result, err := r.Call(0, tiff.Rect{Width: 4, Height: 4})
	require.NoError(t, err)
	assert.Equal(t, pix.Pix, result.Pix.Pix)
}

func TestReadTIFFOrchestratorSoftFailsOnMissingFile(t *testing.T) {
	r := NewReadTIFFOrchestrator(filepath.Join(t.TempDir(), "missing.tif"))
	result, err := r.Call(0, tiff.Rect{Width: 1, Height: 1})
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestReadTIFFOrchestratorRequireExistenceFails(t *testing.T) {
	r := NewReadTIFFOrchestrator(filepath.Join(t.TempDir(), "missing.tif"), RequireExistence(true))
	_, err := r.Call(0, tiff.Rect{Width: 1, Height: 1})
	assert.Error(t, err)
}

func TestReadPyramidOrchestratorRejectsGeometryChangeMidScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pyr.tif")
	w := NewWriteTIFFOrchestrator(path)
	ifd := buildTestIFD(10, 6, 5, 3)
	pix := &tiff.PixelBuffer{
		Rect:           tiff.Rect{Width: 10, Height: 6},
		Channels:       1,
		Kind:           tiff.ElemUint8,
		BytesPerSample: 1,
		Pix:            make([]byte, 60),
	}
	require.NoError(t, w.WriteImage(ifd, pix, 5, 3, false))
	require.NoError(t, w.Close())

	o := NewReadPyramidOrchestrator([]string{path})
	_, err := o.Call(0, scan.SnakeRows, 5, 3, true, nil)
	require.NoError(t, err)

	_, err = o.Call(0, scan.Rows, 5, 3, true, nil)
	assert.ErrorIs(t, err, ErrIllegalStateChange)
}

func TestRecommendedBufferFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buf.tif")
	w := NewWriteTIFFOrchestrator(path)
	ifd := buildTestIFD(10, 6, 5, 3)
	pix := &tiff.PixelBuffer{
		Rect:           tiff.Rect{Width: 10, Height: 6},
		Channels:       1,
		Kind:           tiff.ElemUint8,
		BytesPerSample: 1,
		Pix:            make([]byte, 60),
	}
	require.NoError(t, w.WriteImage(ifd, pix, 5, 3, false))
	require.NoError(t, w.Close())

	o := NewReadPyramidOrchestrator([]string{path},
		WithBufferSizeFormula("snake ? m + p : 1"))
	_, err := o.RecommendedBufferFrames(0)
	assert.Error(t, err, "no frames read yet")

	_, err = o.Call(0, scan.SnakeRows, 5, 3, true, nil)
	require.NoError(t, err)

	// 2x2 frames in the single whole-level ROI.
	got, err := o.RecommendedBufferFrames(3)
	require.NoError(t, err)
	assert.EqualValues(t, 7, got)
	require.NoError(t, o.Close())
}

func TestRecommendedBufferFramesFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buf2.tif")
	w := NewWriteTIFFOrchestrator(path)
	ifd := buildTestIFD(5, 3, 5, 3)
	pix := &tiff.PixelBuffer{
		Rect:           tiff.Rect{Width: 5, Height: 3},
		Channels:       1,
		Kind:           tiff.ElemUint8,
		BytesPerSample: 1,
		Pix:            make([]byte, 15),
	}
	require.NoError(t, w.WriteImage(ifd, pix, 5, 3, false))
	require.NoError(t, w.Close())

	o := NewReadPyramidOrchestrator([]string{path},
		WithBufferSizeFormula("Math.max(m, 4)"), // outside the evaluator grammar
		WithBufferSizeFallback(func(m float64, snake bool, p float64) float64 {
			if m > 4 {
				return m
			}
			return 4
		}))
	_, err := o.Call(0, scan.Rows, 5, 3, true, nil)
	require.NoError(t, err)

	got, err := o.RecommendedBufferFrames(0)
	require.NoError(t, err)
	assert.EqualValues(t, 4, got)
	require.NoError(t, o.Close())
}

func TestReadTIFFOrchestratorExpandsPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PYRAMIDSCAN_TEST_DIR", dir)

	path := filepath.Join(dir, "env.tif")
	w := NewWriteTIFFOrchestrator(path)
	ifd := buildTestIFD(2, 2, 2, 2)
	pix := &tiff.PixelBuffer{
		Rect:           tiff.Rect{Width: 2, Height: 2},
		Channels:       1,
		Kind:           tiff.ElemUint8,
		BytesPerSample: 1,
		Pix:            []byte{1, 2, 3, 4},
	}
	require.NoError(t, w.WriteImage(ifd, pix, 2, 2, false))
	require.NoError(t, w.Close())

	r := NewReadTIFFOrchestrator("${PYRAMIDSCAN_TEST_DIR}/env.tif", RequireExistence(true))
	result, err := r.Call(0, tiff.Rect{Width: 2, Height: 2})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, []byte{1, 2, 3, 4}, result.Pix.Pix)

	secure := NewReadTIFFOrchestrator("${PYRAMIDSCAN_TEST_DIR}/env.tif", SecurePaths(true))
	_, err = secure.Call(0, tiff.Rect{Width: 2, Height: 2})
	assert.Error(t, err)
}

func TestReadPyramidOrchestratorEmitsFrameSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pyr2.tif")
	w := NewWriteTIFFOrchestrator(path)
	ifd := buildTestIFD(10, 3, 5, 3)
	pix := &tiff.PixelBuffer{
		Rect:           tiff.Rect{Width: 10, Height: 3},
		Channels:       1,
		Kind:           tiff.ElemUint8,
		BytesPerSample: 1,
		Pix:            make([]byte, 30),
	}
	require.NoError(t, w.WriteImage(ifd, pix, 5, 3, false))
	require.NoError(t, w.Close())

	o := NewReadPyramidOrchestrator([]string{path})
	first, err := o.Call(0, scan.SnakeRows, 5, 3, true, nil)
	require.NoError(t, err)
	assert.True(t, first.FirstInROI)
	assert.False(t, first.LastInROI)

	second, err := o.Call(0, scan.SnakeRows, 5, 3, true, nil)
	require.NoError(t, err)
	assert.True(t, second.LastInROI)
	assert.True(t, second.LastInPyramid)
	require.NoError(t, o.Close())
}
