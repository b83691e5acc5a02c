package tiff

import "fmt"

// ElementKind is the decoded (unpacked) sample representation a TileMap
// exposes to callers, regardless of the on-disk bit width.
type ElementKind int

const (
	ElemUint8 ElementKind = iota
	ElemUint16
	ElemUint32
	ElemUint64
	ElemInt8
	ElemInt16
	ElemInt32
	ElemInt64
	ElemFloat32
	ElemFloat64
)

// TileMap is the geometry of a single image: dimensions, tile/strip
// grid, planar layout, and tile indexing, derived once from an IFD.
type TileMap struct {
	ifd *IFD

	Kind      ElementKind
	BitWidth  int // on-disk bits per sample; may be 1-64, non-multiple-of-8 means packed
	Channels  int
	Planar    bool
	Width     uint64
	Height    uint64
	TileWidth uint64
	TileHeight uint64
	GridWidth  uint64
	GridHeight uint64
	Planes     int
	CropTiles  bool
}

// NewTileMap derives a TileMap from ifd, validating the cross-tag
// consistency invariants.
func NewTileMap(ifd *IFD, cropTiles bool) (*TileMap, error) {
	tm := &TileMap{ifd: ifd, CropTiles: cropTiles}

	tm.Width = ifd.ImageWidth()
	tm.Height = ifd.ImageHeight()
	if tm.Width == 0 || tm.Height == 0 {
		return nil, fmt.Errorf("%w: zero image dimension", ErrInvalidIfd)
	}

	tm.Channels = int(ifd.SamplesPerPixel())
	if tm.Channels <= 0 {
		return nil, fmt.Errorf("%w: samples per pixel must be >=1", ErrInvalidIfd)
	}

	bps := ifd.BitsPerSample()
	if len(bps) != tm.Channels {
		// mixed-width samples are only valid when bits-per-sample is
		// per-channel; anything else is inconsistent.
		return nil, fmt.Errorf("%w: bits-per-sample length %d != samples-per-pixel %d", ErrInvalidIfd, len(bps), tm.Channels)
	}
	for _, b := range bps[1:] {
		if b != bps[0] {
			return nil, fmt.Errorf("%w: mixed bit depths per channel are not supported for tile indexing", ErrInvalidIfd)
		}
	}
	tm.BitWidth = int(bps[0])
	if tm.BitWidth < 1 || tm.BitWidth > 64 {
		return nil, fmt.Errorf("%w: bit depth %d out of [1,64]", ErrInvalidIfd, tm.BitWidth)
	}

	sf := ifd.SampleFormat()
	format := uint16(SampleFormatUint)
	if len(sf) > 0 {
		format = sf[0]
	}
	tm.Kind = elementKindFor(format, tm.BitWidth)

	tm.Planar = ifd.PlanarConfiguration() == PlanarSeparate
	if tm.Planar {
		tm.Planes = tm.Channels
	} else {
		tm.Planes = 1
	}

	if ifd.IsTiled() {
		tm.TileWidth = ifd.TileWidth()
		tm.TileHeight = ifd.TileHeight()
		if tm.TileWidth == 0 || tm.TileHeight == 0 {
			return nil, fmt.Errorf("%w: zero tile dimension", ErrInvalidIfd)
		}
	} else {
		tm.TileWidth = tm.Width
		tm.TileHeight = ifd.RowsPerStrip()
		if tm.TileHeight == 0 {
			tm.TileHeight = 1
		}
	}

	tm.GridWidth = ceilDiv(tm.Width, tm.TileWidth)
	tm.GridHeight = ceilDiv(tm.Height, tm.TileHeight)

	offs := ifd.TileOrStripOffsets()
	counts := ifd.TileOrStripByteCounts()
	if offs != nil {
		want := int(tm.GridWidth * tm.GridHeight * uint64(tm.Planes))
		if len(offs) != want || len(counts) != want {
			return nil, fmt.Errorf("%w: offset/count array length %d/%d != expected %d", ErrInvalidIfd, len(offs), len(counts), want)
		}
	}

	return tm, nil
}

func elementKindFor(format uint16, bits int) ElementKind {
	switch format {
	case SampleFormatFloat:
		if bits <= 32 {
			return ElemFloat32
		}
		return ElemFloat64
	case SampleFormatInt:
		switch {
		case bits <= 8:
			return ElemInt8
		case bits <= 16:
			return ElemInt16
		case bits <= 32:
			return ElemInt32
		default:
			return ElemInt64
		}
	default: // unsigned/void and bit-packed widths all decode unsigned
		switch {
		case bits <= 8:
			return ElemUint8
		case bits <= 16:
			return ElemUint16
		case bits <= 32:
			return ElemUint32
		default:
			return ElemUint64
		}
	}
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// DecodedBytesPerSample is the width, in bytes, of one decoded (unpacked)
// sample element — always a power-of-two byte count even when BitWidth
// isn't a multiple of 8.
func (tm *TileMap) DecodedBytesPerSample() int {
	switch tm.Kind {
	case ElemUint8, ElemInt8:
		return 1
	case ElemUint16, ElemInt16:
		return 2
	case ElemUint32, ElemInt32, ElemFloat32:
		return 4
	default:
		return 8
	}
}

// BytesPerChannelInTile is the decoded size, in bytes, of one channel's
// worth of samples in a full (uncropped) tile.
func (tm *TileMap) BytesPerChannelInTile() int {
	return int(tm.TileWidth*tm.TileHeight) * tm.DecodedBytesPerSample()
}

// BytesPerTile is the decoded size, in bytes, of a whole tile: all
// channels when chunky, one channel's worth when separate-planar.
func (tm *TileMap) BytesPerTile() int {
	if tm.Planar {
		return tm.BytesPerChannelInTile()
	}
	return tm.BytesPerChannelInTile() * tm.Channels
}

// TileGeometry reports the pixel rectangle of tile (x,y), cropped to the
// image bounds when CropTiles is set.
func (tm *TileMap) TileGeometry(x, y uint64) (left, top, width, height uint64) {
	left = x * tm.TileWidth
	top = y * tm.TileHeight
	width, height = tm.TileWidth, tm.TileHeight
	if tm.CropTiles {
		if left+width > tm.Width {
			width = tm.Width - left
		}
		if top+height > tm.Height {
			height = tm.Height - top
		}
	}
	return
}

// Index returns the linear tile index for (plane, x_tile, y_tile) in the
// plane-major, row-major, column-minor order the offset arrays use.
func (tm *TileMap) Index(plane, xTile, yTile uint64) uint64 {
	return plane*tm.GridWidth*tm.GridHeight + yTile*tm.GridWidth + xTile
}

// IndexOfPixel returns the tile index and in-tile linear offset (in
// decoded elements, not bytes) containing the given pixel on the given
// plane.
func (tm *TileMap) IndexOfPixel(plane, px, py uint64) (tileIndex, offsetInTile uint64) {
	xTile, yTile := px/tm.TileWidth, py/tm.TileHeight
	tileIndex = tm.Index(plane, xTile, yTile)
	lx, ly := px%tm.TileWidth, py%tm.TileHeight
	offsetInTile = ly*tm.TileWidth + lx
	return
}

// FromIndex is the inverse of Index: given a linear tile index it
// returns the tile's (x, y, plane) coordinates.
func (tm *TileMap) FromIndex(idx uint64) (xTile, yTile, plane uint64) {
	perPlane := tm.GridWidth * tm.GridHeight
	plane = idx / perPlane
	rem := idx % perPlane
	yTile = rem / tm.GridWidth
	xTile = rem % tm.GridWidth
	return
}
