package tiff

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/airbusgeo/pyramidscan/tilecache"
)

// RandomAccessReader is the minimal handle the reader needs: seekable for
// the IFD-chain walk, ReaderAt for concurrent tile loads that must not
// fight over a shared cursor.
type RandomAccessReader interface {
	io.ReaderAt
	io.ReadSeeker
}

type noWriteSeeker struct{ io.ReadSeeker }

func (noWriteSeeker) Write([]byte) (int, error) { return 0, ErrIoFault }

// ReaderOption configures Open.
type ReaderOption func(*readerConfig)

type readerConfig struct {
	allowNonTiff          bool
	cropToImage           bool
	fillByte              byte
	autoScaleWidening     bool
	autoCorrectBrightness bool
	cacheBudgetBytes      int64
	memoryWatermarkBytes  uint64
	requestedChannels     int
}

func defaultReaderConfig() readerConfig {
	return readerConfig{
		cropToImage:           true,
		autoScaleWidening:     true,
		autoCorrectBrightness: true,
		cacheBudgetBytes:      256 << 20,
	}
}

// AllowNonTiff makes Open return a Reader with Valid()==false instead of
// ErrNotATiff when the stream isn't a TIFF/BigTIFF file.
func AllowNonTiff() ReaderOption {
	return func(c *readerConfig) { c.allowNonTiff = true }
}

// CropToImage controls whether TileMap geometry clips boundary tiles to
// the image's declared width/height (default true) or reports the full
// nominal tile size. ReadRectangle clamps every blit to the image bounds
// either way, so tile padding never appears in its output.
func CropToImage(v bool) ReaderOption {
	return func(c *readerConfig) { c.cropToImage = v }
}

// FillByte sets the byte value used to pad rectangle reads that extend
// past the image bounds, and channels added by RequestedChannels. A
// sparse tile (zero byte count) reads as zeros, not as the fill byte.
func FillByte(b byte) ReaderOption {
	return func(c *readerConfig) { c.fillByte = b }
}

// AutoScaleWidening controls whether sub-byte sample depths (1/2/4/12-bit
// etc.) are rescaled to fill their widened byte width's dynamic range, or
// simply zero-extended.
func AutoScaleWidening(v bool) ReaderOption {
	return func(c *readerConfig) { c.autoScaleWidening = v }
}

// AutoCorrectBrightness controls whether samples of inverted-brightness
// photometrics (WhiteIsZero, CMYK) are inverted on decode so callers
// always see larger-is-brighter values (default true).
func AutoCorrectBrightness(v bool) ReaderOption {
	return func(c *readerConfig) { c.autoCorrectBrightness = v }
}

// CacheBudgetBytes bounds the reader's internal decoded-tile cache.
func CacheBudgetBytes(n int64) ReaderOption {
	return func(c *readerConfig) { c.cacheBudgetBytes = n }
}

// MemoryWatermarkBytes makes every rectangle read finish by dropping
// cached tiles until process heap usage falls to n bytes, on top of the
// cache's own byte budget. 0 (the default) disables the watermark.
func MemoryWatermarkBytes(n uint64) ReaderOption {
	return func(c *readerConfig) { c.memoryWatermarkBytes = n }
}

// RequestedChannels forces ReadRectangle to return exactly n channels,
// dropping channels or padding extra ones with the FillByte (zero by
// default) relative to the image's native channel count.
// 0 (the default) means "return the native channel count".
func RequestedChannels(n int) ReaderOption {
	return func(c *readerConfig) { c.requestedChannels = n }
}

type tileKey struct {
	ifd   int
	plane uint64
	x     uint64
	y     uint64
}

// Reader is a classic-TIFF or BigTIFF image stack reader: header and
// IFD-chain parsing, tile/strip decode through the codec Registry, and
// rectangle assembly with a decode-once tile cache.
type Reader struct {
	ra           RandomAccessReader
	codecs       *Registry
	ifds         []*IFD
	littleEndian bool
	bigTiff      bool
	valid        bool
	cfg          readerConfig
	cache        *tilecache.Cache[tileKey]
}

// Open parses the header and walks the IFD chain of ra. With
// AllowNonTiff, a stream that isn't TIFF produces a Reader with
// Valid()==false instead of an error, matching the package's "soft failure"
// classification for non-TIFF input.
func Open(ra RandomAccessReader, opts ...ReaderOption) (*Reader, error) {
	cfg := defaultReaderConfig()
	for _, o := range opts {
		o(&cfg)
	}

	little, big, firstOff, err := readHeader(ra)
	if err != nil {
		if cfg.allowNonTiff && isNotATiff(err) {
			return &Reader{ra: ra, cfg: cfg, valid: false}, nil
		}
		return nil, err
	}

	r := &Reader{
		ra:           ra,
		codecs:       NewRegistry(),
		littleEndian: little,
		bigTiff:      big,
		cfg:          cfg,
		valid:        true,
	}

	stream := NewStream(noWriteSeeker{ra}, little, big)
	visited := make(map[uint64]bool)
	off := firstOff
	for off != 0 {
		if visited[off] {
			return nil, fmt.Errorf("%w: ifd chain revisits offset %d", ErrCorrupt, off)
		}
		visited[off] = true
		ifd, next, err := readIFD(stream, off)
		if err != nil {
			return nil, err
		}
		// a directory with no entries contributes nothing; a chain of
		// zero IFDs is a valid (if empty) file.
		if len(ifd.Tags()) > 0 {
			r.ifds = append(r.ifds, ifd)
		}
		off = next
	}

	r.cache = tilecache.NewCache[tileKey](cfg.cacheBudgetBytes)
	return r, nil
}

func isNotATiff(err error) bool {
	return err == ErrNotATiff
}

// Valid reports whether ra was recognized as a TIFF/BigTIFF stream.
func (r *Reader) Valid() bool { return r.valid }

// BigTIFF reports whether the stream used BigTIFF's 8-byte offsets.
func (r *Reader) BigTIFF() bool { return r.bigTiff }

// NumIFDs returns the number of IFDs found in the chain.
func (r *Reader) NumIFDs() int { return len(r.ifds) }

// PrimaryIFDs returns the chain indexes of the non-thumbnail IFDs: those
// whose NewSubfileType tag does not have the reduced-resolution bit set.
func (r *Reader) PrimaryIFDs() []int {
	var out []int
	for i, ifd := range r.ifds {
		if ifd.NewSubfileType()&1 == 0 {
			out = append(out, i)
		}
	}
	return out
}

// ClearCache drops every decoded tile held by the reader's cache.
func (r *Reader) ClearCache() {
	if r.cache != nil {
		r.cache.Clear()
	}
}

// IFD returns the i'th IFD (0-indexed, chain order).
func (r *Reader) IFD(i int) (*IFD, error) {
	if i < 0 || i >= len(r.ifds) {
		return nil, fmt.Errorf("%w: ifd index %d", ErrParameterOutOfRange, i)
	}
	return r.ifds[i], nil
}

// readHeader reads and validates the TIFF/BigTIFF header without going
// through Stream, since the byte order and offset width aren't known
// until the header itself is parsed.
func readHeader(ra io.ReaderAt) (littleEndian, bigTiff bool, firstIFDOffset uint64, err error) {
	buf := make([]byte, 16)
	n, rerr := ra.ReadAt(buf, 0)
	if rerr != nil && rerr != io.EOF {
		return false, false, 0, fmt.Errorf("%w: %v", ErrIoFault, rerr)
	}
	if n < 8 {
		return false, false, 0, ErrNotATiff
	}

	var order binary.ByteOrder
	switch string(buf[0:2]) {
	case "II":
		order, littleEndian = binary.LittleEndian, true
	case "MM":
		order = binary.BigEndian
	default:
		return false, false, 0, ErrNotATiff
	}

	switch order.Uint16(buf[2:4]) {
	case 42:
		firstIFDOffset = uint64(order.Uint32(buf[4:8]))
		return littleEndian, false, firstIFDOffset, nil
	case 43:
		if n < 16 {
			return false, false, 0, fmt.Errorf("%w: truncated bigtiff header", ErrTruncatedData)
		}
		if offsetSize := order.Uint16(buf[4:6]); offsetSize != 8 {
			return false, false, 0, fmt.Errorf("%w: bigtiff offset size %d", ErrCorrupt, offsetSize)
		}
		if constant := order.Uint16(buf[6:8]); constant != 0 {
			return false, false, 0, fmt.Errorf("%w: bigtiff reserved field %d", ErrCorrupt, constant)
		}
		firstIFDOffset = order.Uint64(buf[8:16])
		return littleEndian, true, firstIFDOffset, nil
	default:
		return false, false, 0, ErrNotATiff
	}
}

// readIFD reads one IFD at offset and returns it along with the offset of
// the next IFD in the chain (0 if this is the last one).
func readIFD(s *Stream, offset uint64) (*IFD, uint64, error) {
	if err := s.Seek(int64(offset)); err != nil {
		return nil, 0, err
	}
	count, err := s.ReadEntryCount()
	if err != nil {
		return nil, 0, err
	}

	valSize := 4
	if s.Offsets64() {
		valSize = 8
	}

	ifd := NewIFD()
	for i := uint64(0); i < count; i++ {
		tag, err := s.ReadU16()
		if err != nil {
			return nil, 0, err
		}
		typ, err := s.ReadU16()
		if err != nil {
			return nil, 0, err
		}
		var entryCount uint64
		if s.Offsets64() {
			entryCount, err = s.ReadU64()
		} else {
			var c32 uint32
			c32, err = s.ReadU32()
			entryCount = uint64(c32)
		}
		if err != nil {
			return nil, 0, err
		}
		rawSlot, err := s.ReadBytes(valSize)
		if err != nil {
			return nil, 0, err
		}

		sz, ok := fieldTypeSize[FieldType(typ)]
		if !ok {
			// unknown field type: skip, preserving the raw slot as opaque bytes
			continue
		}
		total := sz * int(entryCount)

		var data []byte
		if total <= valSize {
			data = rawSlot[:total]
		} else {
			valOffset := decodeOffsetBytes(rawSlot, s.Order(), s.Offsets64())
			saved := s.Offset()
			if err := s.Seek(int64(valOffset)); err != nil {
				return nil, 0, err
			}
			data, err = s.ReadBytes(total)
			if err != nil {
				return nil, 0, err
			}
			if err := s.Seek(saved); err != nil {
				return nil, 0, err
			}
		}

		val, err := parseFieldValue(FieldType(typ), entryCount, data, s.Order())
		if err != nil {
			return nil, 0, err
		}
		if err := ifd.Put(Tag(tag), val); err != nil {
			return nil, 0, err
		}
	}

	next, err := s.ReadOffset()
	if err != nil {
		return nil, 0, err
	}
	return ifd, next, nil
}

func decodeOffsetBytes(b []byte, order binary.ByteOrder, is64 bool) uint64 {
	if is64 {
		return order.Uint64(b)
	}
	return uint64(order.Uint32(b))
}

// parseFieldValue interprets count raw values of the given type from data,
// encoded in order's byte order.
func parseFieldValue(typ FieldType, count uint64, data []byte, order binary.ByteOrder) (Value, error) {
	switch typ {
	case TByte, TUndefined:
		return NewBytesValue(typ, data[:count]), nil
	case TAscii:
		end := len(data)
		for end > 0 && data[end-1] == 0 {
			end--
		}
		return NewASCIIValue(string(data[:end])), nil
	case TShort:
		out := make([]uint64, count)
		for i := range out {
			out[i] = uint64(order.Uint16(data[i*2:]))
		}
		return NewUintValue(typ, out...), nil
	case TLong, TIFD:
		out := make([]uint64, count)
		for i := range out {
			out[i] = uint64(order.Uint32(data[i*4:]))
		}
		return NewUintValue(typ, out...), nil
	case TLong8, TIFD8:
		out := make([]uint64, count)
		for i := range out {
			out[i] = order.Uint64(data[i*8:])
		}
		return NewUintValue(typ, out...), nil
	case TSByte:
		out := make([]int64, count)
		for i := range out {
			out[i] = int64(int8(data[i]))
		}
		return NewIntValue(typ, out...), nil
	case TSShort:
		out := make([]int64, count)
		for i := range out {
			out[i] = int64(int16(order.Uint16(data[i*2:])))
		}
		return NewIntValue(typ, out...), nil
	case TSLong:
		out := make([]int64, count)
		for i := range out {
			out[i] = int64(int32(order.Uint32(data[i*4:])))
		}
		return NewIntValue(typ, out...), nil
	case TSLong8:
		out := make([]int64, count)
		for i := range out {
			out[i] = int64(order.Uint64(data[i*8:]))
		}
		return NewIntValue(typ, out...), nil
	case TRational:
		out := make([]float64, count)
		for i := range out {
			num := order.Uint32(data[i*8:])
			den := order.Uint32(data[i*8+4:])
			out[i] = ratio(float64(num), float64(den))
		}
		return NewFloatValue(typ, out...), nil
	case TSRational:
		out := make([]float64, count)
		for i := range out {
			num := int32(order.Uint32(data[i*8:]))
			den := int32(order.Uint32(data[i*8+4:]))
			out[i] = ratio(float64(num), float64(den))
		}
		return NewFloatValue(typ, out...), nil
	case TFloat:
		out := make([]float64, count)
		for i := range out {
			bits := order.Uint32(data[i*4:])
			out[i] = float64(float32FromBits(bits))
		}
		return NewFloatValue(typ, out...), nil
	case TDouble:
		out := make([]float64, count)
		for i := range out {
			bits := order.Uint64(data[i*8:])
			out[i] = float64FromBits(bits)
		}
		return NewFloatValue(typ, out...), nil
	default:
		return Value{}, fmt.Errorf("%w: unknown field type %d", ErrInvalidIfd, typ)
	}
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
