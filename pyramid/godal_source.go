package pyramid

import (
	"fmt"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/pyramidscan/tiff"
)

// godalSource is the fallback adapter registered under "*": any raster
// format GDAL itself understands (exotic GeoTIFF variants, JPEG2000,
// PNG, NITF, ...), at the cost of exposing only a single resolution
// level since godal.Dataset doesn't surface TIFF's IFD chain directly.
// RasterOnly skips vector layers.
type godalSource struct {
	ds *godal.Dataset
}

// OpenGodalSource implements Factory for any format godal/GDAL can open
// that isn't handled by the TIFF-native adapter.
func OpenGodalSource(path string, opts ...Option) (Source, error) {
	cfg := Config{CacheBudgetBytes: 256 << 20}
	for _, o := range opts {
		o(&cfg)
	}
	ds, err := godal.Open(path, godal.RasterOnly())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tiff.ErrFileNotFound, err)
	}
	return &godalSource{ds: ds}, nil
}

func (g *godalSource) NumberOfResolutions() int { return 1 }

func (g *godalSource) dims() (uint64, uint64) {
	st := g.ds.Structure()
	return uint64(st.SizeX), uint64(st.SizeY)
}

func (g *godalSource) Width(level int) (uint64, error) {
	if level != 0 {
		return 0, fmt.Errorf("%w: level %d", tiff.ErrParameterOutOfRange, level)
	}
	w, _ := g.dims()
	return w, nil
}

func (g *godalSource) Height(level int) (uint64, error) {
	if level != 0 {
		return 0, fmt.Errorf("%w: level %d", tiff.ErrParameterOutOfRange, level)
	}
	_, h := g.dims()
	return h, nil
}

func (g *godalSource) ReadRectangle(level int, rect tiff.Rect) (*tiff.PixelBuffer, error) {
	if level != 0 {
		return nil, fmt.Errorf("%w: level %d", tiff.ErrParameterOutOfRange, level)
	}
	st := g.ds.Structure()
	channels := st.NBands
	if channels == 0 {
		channels = 1
	}
	kind, bps := elementKindForDataType(st.DataType)
	buf := make([]byte, int(rect.Width)*int(rect.Height)*channels*bps)
	if err := g.ds.Read(int(rect.X), int(rect.Y), buf, int(rect.Width), int(rect.Height)); err != nil {
		return nil, fmt.Errorf("%w: %v", tiff.ErrIoFault, err)
	}
	return &tiff.PixelBuffer{
		Rect:           rect,
		Channels:       channels,
		Kind:           kind,
		BytesPerSample: bps,
		Pix:            buf,
	}, nil
}

func (g *godalSource) SpecialImage(kind SpecialImage) (*tiff.PixelBuffer, error) {
	return nil, nil
}

func (g *godalSource) FreeResources(mode FreeMode) error {
	if mode == FreeAll {
		return g.ds.Close()
	}
	return nil
}

func elementKindForDataType(dt godal.DataType) (tiff.ElementKind, int) {
	switch dt {
	case godal.Byte:
		return tiff.ElemUint8, 1
	case godal.Int16:
		return tiff.ElemInt16, 2
	case godal.UInt16:
		return tiff.ElemUint16, 2
	case godal.Int32:
		return tiff.ElemInt32, 4
	case godal.UInt32:
		return tiff.ElemUint32, 4
	case godal.Float32:
		return tiff.ElemFloat32, 4
	case godal.Float64:
		return tiff.ElemFloat64, 8
	default:
		return tiff.ElemUint8, 1
	}
}
