package tiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGrayIFD(width, height, tileW, tileH uint64, compression Compression, predictor uint64) *IFD {
	ifd := NewIFD()
	ifd.Put(TagImageWidth, NewUintValue(TLong, width))
	ifd.Put(TagImageLength, NewUintValue(TLong, height))
	ifd.Put(TagBitsPerSample, NewUintValue(TShort, 8))
	ifd.Put(TagSamplesPerPixel, NewUintValue(TShort, 1))
	ifd.Put(TagTileWidth, NewUintValue(TShort, tileW))
	ifd.Put(TagTileLength, NewUintValue(TShort, tileH))
	ifd.Put(TagCompression, NewUintValue(TShort, uint64(compression)))
	ifd.Put(TagPredictor, NewUintValue(TShort, predictor))
	ifd.Put(TagPhotometricInterp, NewUintValue(TShort, PhotometricBlackIsZero))
	return ifd
}

func writeFullGrayImage(t *testing.T, w *Writer, ifd *IFD, tileW, tileH, gridW, gridH uint64, pixelAt func(x, y uint64) byte) *WriteMap {
	t.Helper()
	wm, err := w.NewMap(ifd)
	require.NoError(t, err)
	require.NoError(t, w.WriteForward(wm))

	for yt := uint64(0); yt < gridH; yt++ {
		for xt := uint64(0); xt < gridW; xt++ {
			tile := make([]byte, tileW*tileH)
			for ly := uint64(0); ly < tileH; ly++ {
				for lx := uint64(0); lx < tileW; lx++ {
					tile[ly*tileW+lx] = pixelAt(xt*tileW+lx, yt*tileH+ly)
				}
			}
			require.NoError(t, w.WriteTile(wm, 0, xt, yt, tile))
		}
	}
	require.NoError(t, w.Complete(wm))
	return wm
}

func TestWriteReadRoundTripUncompressed(t *testing.T) {
	mem := NewMemFile(nil)
	w, err := StartNewFile(mem, true, false)
	require.NoError(t, err)

	ifd := buildGrayIFD(4, 4, 2, 2, CompressionNone, PredictorNone)
	pattern := func(x, y uint64) byte { return byte(x + y*4) }
	writeFullGrayImage(t, w, ifd, 2, 2, 2, 2, pattern)

	r, err := Open(mem)
	require.NoError(t, err)
	assert.True(t, r.Valid())
	assert.Equal(t, 1, r.NumIFDs())

	buf, err := r.ReadRectangle(0, Rect{X: 0, Y: 0, Width: 4, Height: 4})
	require.NoError(t, err)
	assert.Equal(t, 1, buf.Channels)
	for y := uint64(0); y < 4; y++ {
		for x := uint64(0); x < 4; x++ {
			got := buf.Pix[y*4+x]
			assert.Equal(t, pattern(x, y), got, "pixel (%d,%d)", x, y)
		}
	}
}

func TestWriteReadRoundTripDeflatePredictor(t *testing.T) {
	mem := NewMemFile(nil)
	w, err := StartNewFile(mem, true, false)
	require.NoError(t, err)

	ifd := buildGrayIFD(6, 3, 6, 3, CompressionDeflate, PredictorHorizontal)
	pattern := func(x, y uint64) byte { return byte(10 + x*3 + y) }
	writeFullGrayImage(t, w, ifd, 6, 3, 1, 1, pattern)

	r, err := Open(mem)
	require.NoError(t, err)

	buf, err := r.ReadRectangle(0, Rect{X: 0, Y: 0, Width: 6, Height: 3})
	require.NoError(t, err)
	for y := uint64(0); y < 3; y++ {
		for x := uint64(0); x < 6; x++ {
			assert.Equal(t, pattern(x, y), buf.Pix[y*6+x], "pixel (%d,%d)", x, y)
		}
	}
}

func TestReadRectanglePartialIntersection(t *testing.T) {
	mem := NewMemFile(nil)
	w, err := StartNewFile(mem, true, false)
	require.NoError(t, err)

	ifd := buildGrayIFD(4, 4, 2, 2, CompressionNone, PredictorNone)
	pattern := func(x, y uint64) byte { return byte(x + y*4) }
	writeFullGrayImage(t, w, ifd, 2, 2, 2, 2, pattern)

	r, err := Open(mem)
	require.NoError(t, err)

	buf, err := r.ReadRectangle(0, Rect{X: 1, Y: 1, Width: 2, Height: 2})
	require.NoError(t, err)
	for y := uint64(0); y < 2; y++ {
		for x := uint64(0); x < 2; x++ {
			assert.Equal(t, pattern(x+1, y+1), buf.Pix[y*2+x])
		}
	}
}

func TestOpenHeaderValidity(t *testing.T) {
	// classic header + zero-entry IFD at offset 8 + zero next pointer
	classic := []byte{
		0x49, 0x49, 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00,
		0x00, 0x00, // entry count 0
		0x00, 0x00, 0x00, 0x00, // next ifd: end of chain
	}
	r, err := Open(NewMemFile(classic))
	require.NoError(t, err)
	assert.True(t, r.Valid())
	assert.False(t, r.BigTIFF())
	assert.Equal(t, 0, r.NumIFDs())

	_, err = Open(NewMemFile([]byte{0x41, 0x42, 0x00, 0x00, 0, 0, 0, 0}))
	assert.ErrorIs(t, err, ErrNotATiff)
}

func TestOpenDetectsIFDCycle(t *testing.T) {
	// zero-entry IFD whose next pointer loops back onto itself
	looped := []byte{
		0x49, 0x49, 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00,
		0x00, 0x00,
		0x08, 0x00, 0x00, 0x00,
	}
	_, err := Open(NewMemFile(looped))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestOpenAllowNonTiff(t *testing.T) {
	mem := NewMemFile([]byte("not a tiff file at all"))
	r, err := Open(mem, AllowNonTiff())
	require.NoError(t, err)
	assert.False(t, r.Valid())

	_, err = Open(mem)
	assert.ErrorIs(t, err, ErrNotATiff)
}

func TestEdgeTilesArePaddedNotCropped(t *testing.T) {
	mem := NewMemFile(nil)
	w, err := StartNewFile(mem, true, false)
	require.NoError(t, err)

	// 5x3 image on a 4x2 tile grid: the right and bottom tiles carry
	// padding that must never leak into the decoded rectangle.
	ifd := buildGrayIFD(5, 3, 4, 2, CompressionNone, PredictorNone)
	wm, err := w.NewMap(ifd)
	require.NoError(t, err)
	require.NoError(t, w.WriteForward(wm))

	pixel := func(x, y uint64) byte { return byte(1 + x + 10*y) }
	for yt := uint64(0); yt < 2; yt++ {
		for xt := uint64(0); xt < 2; xt++ {
			tile := make([]byte, 4*2)
			for i := range tile {
				tile[i] = 0xEE // padding sentinel
			}
			for ly := uint64(0); ly < 2; ly++ {
				for lx := uint64(0); lx < 4; lx++ {
					x, y := xt*4+lx, yt*2+ly
					if x < 5 && y < 3 {
						tile[ly*4+lx] = pixel(x, y)
					}
				}
			}
			require.NoError(t, w.WriteTile(wm, 0, xt, yt, tile))
		}
	}
	require.NoError(t, w.Complete(wm))

	r, err := Open(mem)
	require.NoError(t, err)
	buf, err := r.ReadRectangle(0, Rect{X: 0, Y: 0, Width: 5, Height: 3})
	require.NoError(t, err)
	for y := uint64(0); y < 3; y++ {
		for x := uint64(0); x < 5; x++ {
			assert.Equal(t, pixel(x, y), buf.Pix[y*5+x], "pixel (%d,%d)", x, y)
		}
	}
}

func TestWhiteIsZeroBrightnessCorrection(t *testing.T) {
	build := func() *MemFile {
		mem := NewMemFile(nil)
		w, err := StartNewFile(mem, true, false)
		require.NoError(t, err)
		ifd := buildGrayIFD(2, 2, 2, 2, CompressionNone, PredictorNone)
		ifd.Put(TagPhotometricInterp, NewUintValue(TShort, PhotometricWhiteIsZero))
		wm, err := w.NewMap(ifd)
		require.NoError(t, err)
		require.NoError(t, w.WriteTile(wm, 0, 0, 0, []byte{0, 50, 200, 255}))
		require.NoError(t, w.Complete(wm))
		return mem
	}

	r, err := Open(build())
	require.NoError(t, err)
	buf, err := r.ReadRectangle(0, Rect{Width: 2, Height: 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{255, 205, 55, 0}, buf.Pix)

	r, err = Open(build(), AutoCorrectBrightness(false))
	require.NoError(t, err)
	buf, err = r.ReadRectangle(0, Rect{Width: 2, Height: 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 50, 200, 255}, buf.Pix)
}

func TestBigTiffRoundTrip(t *testing.T) {
	mem := NewMemFile(nil)
	w, err := StartNewFile(mem, true, true)
	require.NoError(t, err)

	ifd := buildGrayIFD(4, 4, 2, 2, CompressionNone, PredictorNone)
	pattern := func(x, y uint64) byte { return byte(3*x + 7*y) }
	writeFullGrayImage(t, w, ifd, 2, 2, 2, 2, pattern)

	assert.Equal(t, byte(43), mem.Bytes()[2], "bigtiff magic")

	r, err := Open(mem)
	require.NoError(t, err)
	assert.True(t, r.BigTIFF())

	buf, err := r.ReadRectangle(0, Rect{Width: 4, Height: 4})
	require.NoError(t, err)
	for y := uint64(0); y < 4; y++ {
		for x := uint64(0); x < 4; x++ {
			assert.Equal(t, pattern(x, y), buf.Pix[y*4+x])
		}
	}
}

// TestCommitTileMakesTilesReadableBeforeComplete exercises the
// flush-ASAP path: a forward-written map whose tiles are committed one
// by one is readable without ever calling Complete.
func TestCommitTileMakesTilesReadableBeforeComplete(t *testing.T) {
	mem := NewMemFile(nil)
	w, err := StartNewFile(mem, true, false)
	require.NoError(t, err)

	ifd := buildGrayIFD(4, 2, 2, 2, CompressionNone, PredictorNone)
	wm, err := w.NewMap(ifd)
	require.NoError(t, err)
	require.NoError(t, w.WriteForward(wm))

	require.NoError(t, w.WriteTile(wm, 0, 0, 0, []byte{1, 2, 3, 4}))
	require.NoError(t, w.CommitTile(wm, 0, 0, 0))
	require.NoError(t, w.WriteTile(wm, 0, 1, 0, []byte{5, 6, 7, 8}))
	require.NoError(t, w.CommitTile(wm, 0, 1, 0))

	r, err := Open(mem)
	require.NoError(t, err)
	buf, err := r.ReadRectangle(0, Rect{Width: 4, Height: 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 5, 6, 3, 4, 7, 8}, buf.Pix)
}

func TestCommitTileRejectsUnwrittenOrUnreservedTiles(t *testing.T) {
	mem := NewMemFile(nil)
	w, err := StartNewFile(mem, true, false)
	require.NoError(t, err)

	ifd := buildGrayIFD(4, 2, 2, 2, CompressionNone, PredictorNone)
	wm, err := w.NewMap(ifd)
	require.NoError(t, err)

	assert.ErrorIs(t, w.CommitTile(wm, 0, 0, 0), ErrInvalidIfd)

	require.NoError(t, w.WriteForward(wm))
	assert.ErrorIs(t, w.CommitTile(wm, 0, 0, 0), ErrInvalidIfd)
	assert.ErrorIs(t, w.CommitTile(wm, 0, 9, 0), ErrInvalidIfd)
}

func TestResizableMap(t *testing.T) {
	mem := NewMemFile(nil)
	w, err := StartNewFile(mem, true, false)
	require.NoError(t, err)

	ifd := NewIFD()
	ifd.Put(TagBitsPerSample, NewUintValue(TShort, 8))
	ifd.Put(TagSamplesPerPixel, NewUintValue(TShort, 1))
	ifd.Put(TagTileWidth, NewUintValue(TShort, 2))
	ifd.Put(TagTileLength, NewUintValue(TShort, 2))
	ifd.Put(TagCompression, NewUintValue(TShort, uint64(CompressionNone)))

	wm, err := w.NewMap(ifd, Resizable(true))
	require.NoError(t, err)

	require.NoError(t, w.WriteTile(wm, 0, 0, 0, []byte{1, 2, 3, 4}))
	require.NoError(t, w.WriteTile(wm, 0, 1, 0, []byte{5, 6, 7, 8}))
	require.NoError(t, w.Complete(wm))

	r, err := Open(mem)
	require.NoError(t, err)
	rifd, err := r.IFD(0)
	require.NoError(t, err)
	assert.EqualValues(t, 4, rifd.ImageWidth())
	assert.EqualValues(t, 2, rifd.ImageHeight())

	buf, err := r.ReadRectangle(0, Rect{X: 0, Y: 0, Width: 4, Height: 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 5, 6, 3, 4, 7, 8}, buf.Pix)
}
