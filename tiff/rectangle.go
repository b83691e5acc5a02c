package tiff

import (
	"fmt"
	"io"
)

// Rect is a pixel-space rectangle in image coordinates.
type Rect struct {
	X, Y          uint64
	Width, Height uint64
}

// PixelBuffer is the decoded result of ReadRectangle: always chunky
// (channel-interleaved), little-endian multi-byte samples, regardless of
// the source IFD's on-disk planar configuration or byte order.
type PixelBuffer struct {
	Rect           Rect
	Channels       int
	Kind           ElementKind
	BytesPerSample int
	Pix            []byte
}

// ReadRectangle decodes the pixels of ifds[ifdIndex] intersecting rect,
// assembling tiles/strips through the codec Registry and the reader's
// tile cache. Pixels outside the image are filled with the reader's
// FillByte; a sparse tile (zero byte count) reads as zeros, and a tile
// that cannot be read or decoded fails the whole call.
func (r *Reader) ReadRectangle(ifdIndex int, rect Rect) (*PixelBuffer, error) {
	if !r.valid {
		return nil, ErrNotATiff
	}
	ifd, err := r.IFD(ifdIndex)
	if err != nil {
		return nil, err
	}
	tm, err := NewTileMap(ifd, r.cfg.cropToImage)
	if err != nil {
		return nil, err
	}
	codec, err := r.codecs.Get(ifd.Compression())
	if err != nil {
		return nil, err
	}

	channels := r.cfg.requestedChannels
	if channels <= 0 {
		channels = tm.Channels
	}
	dbps := tm.DecodedBytesPerSample()

	if rect.Width == 0 || rect.Height == 0 {
		return nil, fmt.Errorf("%w: empty rectangle", ErrParameterOutOfRange)
	}

	out := &PixelBuffer{
		Rect:           rect,
		Channels:       channels,
		Kind:           tm.Kind,
		BytesPerSample: dbps,
		Pix:            make([]byte, rect.Width*rect.Height*uint64(channels)*uint64(dbps)),
	}
	if r.cfg.fillByte != 0 {
		for i := range out.Pix {
			out.Pix[i] = r.cfg.fillByte
		}
	}

	if tm.TileWidth == 0 || tm.TileHeight == 0 {
		return out, nil
	}

	xTileStart := rect.X / tm.TileWidth
	yTileStart := rect.Y / tm.TileHeight
	lastX := rect.X + rect.Width - 1
	lastY := rect.Y + rect.Height - 1
	xTileEnd := lastX / tm.TileWidth
	yTileEnd := lastY / tm.TileHeight

	for yt := yTileStart; yt <= yTileEnd && yt < tm.GridHeight; yt++ {
		for xt := xTileStart; xt <= xTileEnd && xt < tm.GridWidth; xt++ {
			planes := make([][]byte, tm.Planes)
			for p := 0; p < tm.Planes; p++ {
				decoded, err := r.loadTile(ifdIndex, ifd, tm, codec, uint64(p), xt, yt)
				if err != nil {
					return nil, err
				}
				planes[p] = decoded
			}
			tileLeft, tileTop, tileW, tileH := tm.TileGeometry(xt, yt)
			r.blit(out, tm, planes, tileLeft, tileTop, tileW, tileH, channels, dbps)
		}
	}

	if r.cfg.memoryWatermarkBytes > 0 {
		r.cache.EvictToWatermark(r.cfg.memoryWatermarkBytes)
	}
	return out, nil
}

// blit copies the intersection of a decoded tile with out.Rect into out.Pix.
func (r *Reader) blit(out *PixelBuffer, tm *TileMap, planes [][]byte, tileLeft, tileTop, tileW, tileH uint64, outChannels, dbps int) {
	rect := out.Rect
	left := maxU64(tileLeft, rect.X)
	top := maxU64(tileTop, rect.Y)
	right := minU64(tileLeft+tileW, rect.X+rect.Width)
	bottom := minU64(tileTop+tileH, rect.Y+rect.Height)
	// tile padding past the image bounds is never pixel data; those
	// positions keep the fill byte even with CropToImage off.
	right = minU64(right, tm.Width)
	bottom = minU64(bottom, tm.Height)
	if left >= right || top >= bottom {
		return
	}

	srcChannels := tm.Channels
	for py := top; py < bottom; py++ {
		srcRow := py - tileTop
		dstRow := py - rect.Y
		for px := left; px < right; px++ {
			srcCol := px - tileLeft
			dstCol := px - rect.X
			dstPixelOff := (dstRow*rect.Width + dstCol) * uint64(outChannels) * uint64(dbps)
			for c := 0; c < outChannels; c++ {
				if c >= srcChannels {
					continue // leave as FillByte: no source channel to copy
				}
				var srcBuf []byte
				var srcPixelOff uint64
				if tm.Planar {
					srcBuf = planes[c]
					srcPixelOff = (srcRow*tm.TileWidth + srcCol) * uint64(dbps)
				} else {
					srcBuf = planes[0]
					srcPixelOff = (srcRow*tm.TileWidth + srcCol) * uint64(srcChannels) * uint64(dbps)
					srcPixelOff += uint64(c) * uint64(dbps)
				}
				copy(out.Pix[dstPixelOff+uint64(c)*uint64(dbps):], srcBuf[srcPixelOff:srcPixelOff+uint64(dbps)])
			}
		}
	}
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// loadTile returns the fully decoded (predictor-reversed, bit-unpacked,
// little-endian) byte buffer for one tile/plane, through the reader's
// decode-once cache.
func (r *Reader) loadTile(ifdIndex int, ifd *IFD, tm *TileMap, codec Codec, plane, xt, yt uint64) ([]byte, error) {
	key := tileKey{ifd: ifdIndex, plane: plane, x: xt, y: yt}
	return r.cache.Get(key, func() ([]byte, error) {
		return r.decodeTile(ifd, tm, codec, plane, xt, yt)
	})
}

// decodedTileDims is the geometry of the stored (padded) tile data:
// tiles always occupy the full nominal TileWidth x TileHeight regardless
// of image bounds; only a trailing strip may hold fewer rows.
func (tm *TileMap) decodedTileDims(xt, yt uint64) (w, h uint64) {
	w, h = tm.TileWidth, tm.TileHeight
	if !tm.ifd.IsTiled() {
		if top := yt * tm.TileHeight; top+h > tm.Height {
			h = tm.Height - top
		}
	}
	return w, h
}

func (r *Reader) decodeTile(ifd *IFD, tm *TileMap, codec Codec, plane, xt, yt uint64) ([]byte, error) {
	idx := tm.Index(plane, xt, yt)
	offs := ifd.TileOrStripOffsets()
	counts := ifd.TileOrStripByteCounts()
	if offs == nil || idx >= uint64(len(offs)) {
		return nil, fmt.Errorf("%w: no tile offset at plane=%d x=%d y=%d", ErrInvalidIfd, plane, xt, yt)
	}
	off, count := offs[idx], counts[idx]
	w, h := tm.decodedTileDims(xt, yt)
	channelsInTile := 1
	if !tm.Planar {
		channelsInTile = tm.Channels
	}
	if count == 0 {
		// a sparse tile: TIFF allows a zero byte count to mean "not
		// written"; return a zero-filled decoded tile.
		return make([]byte, w*h*uint64(channelsInTile)*uint64(tm.DecodedBytesPerSample())), nil
	}

	raw := make([]byte, count)
	if _, err := r.ra.ReadAt(raw, int64(off)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: reading tile at offset %d: %v", ErrIoFault, off, err)
	}

	nsamples := int(w*h) * channelsInTile

	bps := tm.BitWidth
	dbps := tm.DecodedBytesPerSample()

	params := CodecParams{
		TileWidth:     int(w),
		TileHeight:    int(h),
		BitsPerSample: ifd.BitsPerSample(),
		SampleFormat:  ifd.SampleFormat(),
		Channels:      channelsInTile,
		Predictor:     ifd.Predictor(),
		LittleEndian:  r.littleEndian,
	}
	if v, ok := ifd.PhotometricInterpretation(); ok {
		params.Photometric = v
	}

	if bps%8 == 0 {
		fileBps := bps / 8
		packedSize := nsamples * fileBps
		decoded, err := codec.Decode(params, raw, packedSize)
		if err != nil {
			return nil, err
		}
		if fileBps <= 2 {
			if err := ApplyHorizontalPredictor(decoded, int(w), int(h), channelsInTile, fileBps, ifd.Predictor()); err != nil {
				return nil, err
			}
		}
		if !r.littleEndian && fileBps > 1 {
			decoded = swapEndianInPlace(decoded, fileBps)
		}
		r.correctBrightness(ifd, tm, decoded)
		return decoded, nil
	}

	// sub-byte packed sample depths: predictor combined with bit-packing
	// is not supported.
	if ifd.Predictor() != PredictorNone {
		return nil, fmt.Errorf("%w: predictor with %d-bit samples", ErrCodecUnsupported, bps)
	}
	packedSize := (nsamples*bps + 7) / 8
	packed, err := codec.Decode(params, raw, packedSize)
	if err != nil {
		return nil, err
	}
	decoded := UnpackSamples(packed, nsamples, bps, ifd.FillOrder(), r.cfg.autoScaleWidening, dbps)
	r.correctBrightness(ifd, tm, decoded)
	return decoded, nil
}

// correctBrightness inverts sample values of inverted-brightness
// photometrics (WhiteIsZero, CMYK) so callers always see
// larger-is-brighter data, when AutoCorrectBrightness is on.
func (r *Reader) correctBrightness(ifd *IFD, tm *TileMap, decoded []byte) {
	if !r.cfg.autoCorrectBrightness {
		return
	}
	photo, ok := ifd.PhotometricInterpretation()
	if !ok || (photo != PhotometricWhiteIsZero && photo != PhotometricCMYK) {
		return
	}
	switch tm.DecodedBytesPerSample() {
	case 1:
		for i := range decoded {
			decoded[i] = ^decoded[i]
		}
	case 2:
		for i := 0; i+1 < len(decoded); i += 2 {
			decoded[i] = ^decoded[i]
			decoded[i+1] = ^decoded[i+1]
		}
	}
}

func swapEndianInPlace(b []byte, width int) []byte {
	for i := 0; i+width <= len(b); i += width {
		for a, z := 0, width-1; a < z; a, z = a+1, z-1 {
			b[i+a], b[i+z] = b[i+z], b[i+a]
		}
	}
	return b
}
