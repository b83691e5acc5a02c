package pyramid

import (
	"fmt"
	"os"

	"github.com/airbusgeo/pyramidscan/tiff"
)

// tiffSource adapts a multi-IFD TIFF (or SVS, which is TIFF with a
// vendor tag dialect) to Source: each IFD in the chain whose dimensions
// are a reduced-resolution view of IFD 0 becomes a pyramid level, in
// chain order. IFDs that don't fit that pattern (label/macro/thumbnail
// images, common in SVS slides) are exposed through SpecialImage
// instead of counting as a level.
type tiffSource struct {
	reader    *tiff.Reader
	closer    func() error
	levelIFDs []int
	special   map[SpecialImage]int
}

// OpenTIFFSource implements Factory for classic/BigTIFF and SVS files.
func OpenTIFFSource(path string, opts ...Option) (Source, error) {
	cfg := Config{CacheBudgetBytes: 256 << 20}
	for _, o := range opts {
		o(&cfg)
	}

	ra := cfg.OpenReader
	var closer func() error
	if ra == nil {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", tiff.ErrFileNotFound, err)
		}
		ra = f
		closer = f.Close
	}

	r, err := tiff.Open(ra, tiff.CacheBudgetBytes(int64(cfg.CacheBudgetBytes)))
	if err != nil {
		if closer != nil {
			closer()
		}
		return nil, err
	}

	src := &tiffSource{reader: r, closer: closer, special: map[SpecialImage]int{}}
	if err := src.classifyIFDs(); err != nil {
		if closer != nil {
			closer()
		}
		return nil, err
	}
	return src, nil
}

// classifyIFDs walks the chain once and splits it into ordered pyramid
// levels (each smaller than or equal to the previous) and special
// images (anything that doesn't shrink monotonically, e.g. a slide
// label placed after the levels in the chain).
func (s *tiffSource) classifyIFDs() error {
	n := s.reader.NumIFDs()
	if n == 0 {
		return fmt.Errorf("%w: tiff has no ifds", tiff.ErrInvalidIfd)
	}
	base, err := s.reader.IFD(0)
	if err != nil {
		return err
	}
	s.levelIFDs = append(s.levelIFDs, 0)
	prevW, prevH := base.ImageWidth(), base.ImageHeight()

	for i := 1; i < n; i++ {
		ifd, err := s.reader.IFD(i)
		if err != nil {
			return err
		}
		w, h := ifd.ImageWidth(), ifd.ImageHeight()
		if w > 0 && h > 0 && w <= prevW && h <= prevH {
			s.levelIFDs = append(s.levelIFDs, i)
			prevW, prevH = w, h
			continue
		}
		switch len(s.special) {
		case 0:
			s.special[SpecialThumbnail] = i
		case 1:
			s.special[SpecialLabel] = i
		default:
			s.special[SpecialMacro] = i
		}
	}
	return nil
}

func (s *tiffSource) NumberOfResolutions() int { return len(s.levelIFDs) }

func (s *tiffSource) levelIFD(level int) (*tiff.IFD, error) {
	if level < 0 || level >= len(s.levelIFDs) {
		return nil, fmt.Errorf("%w: level %d", tiff.ErrParameterOutOfRange, level)
	}
	return s.reader.IFD(s.levelIFDs[level])
}

func (s *tiffSource) Width(level int) (uint64, error) {
	ifd, err := s.levelIFD(level)
	if err != nil {
		return 0, err
	}
	return ifd.ImageWidth(), nil
}

func (s *tiffSource) Height(level int) (uint64, error) {
	ifd, err := s.levelIFD(level)
	if err != nil {
		return 0, err
	}
	return ifd.ImageHeight(), nil
}

func (s *tiffSource) ReadRectangle(level int, rect tiff.Rect) (*tiff.PixelBuffer, error) {
	if level < 0 || level >= len(s.levelIFDs) {
		return nil, fmt.Errorf("%w: level %d", tiff.ErrParameterOutOfRange, level)
	}
	return s.reader.ReadRectangle(s.levelIFDs[level], rect)
}

func (s *tiffSource) SpecialImage(kind SpecialImage) (*tiff.PixelBuffer, error) {
	idx, ok := s.special[kind]
	if !ok {
		return nil, nil
	}
	ifd, err := s.reader.IFD(idx)
	if err != nil {
		return nil, err
	}
	return s.reader.ReadRectangle(idx, tiff.Rect{Width: ifd.ImageWidth(), Height: ifd.ImageHeight()})
}

func (s *tiffSource) FreeResources(mode FreeMode) error {
	s.reader.ClearCache()
	if mode == FreeAll && s.closer != nil {
		return s.closer()
	}
	return nil
}
