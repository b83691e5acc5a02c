package tiff

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Value is one typed, counted entry of an IFD. Exactly one of the
// internal slices is populated depending on Type; callers read through
// the coercing accessors below rather than the raw slices.
type Value struct {
	Type  FieldType
	Count uint64

	u []uint64  // BYTE, SHORT, LONG, LONG8, IFD8
	i []int64   // SBYTE, SSHORT, SLONG, SLONG8
	f []float64 // RATIONAL, SRATIONAL (already divided), FLOAT, DOUBLE
	b []byte    // ASCII (NUL-free), UNDEFINED
}

func NewUintValue(t FieldType, vals ...uint64) Value {
	return Value{Type: t, Count: uint64(len(vals)), u: vals}
}

func NewIntValue(t FieldType, vals ...int64) Value {
	return Value{Type: t, Count: uint64(len(vals)), i: vals}
}

func NewFloatValue(t FieldType, vals ...float64) Value {
	return Value{Type: t, Count: uint64(len(vals)), f: vals}
}

func NewBytesValue(t FieldType, b []byte) Value {
	return Value{Type: t, Count: uint64(len(b)), b: append([]byte(nil), b...)}
}

func NewASCIIValue(s string) Value {
	return Value{Type: TAscii, Count: uint64(len(s) + 1), b: []byte(s)}
}

// Uint64s widens BYTE/SHORT/LONG/LONG8/IFD8 losslessly. RATIONAL is
// rejected: dividing a rational loses exactness, so callers wanting an
// integer from a rational must go through Float64s explicitly.
func (v Value) Uint64s() ([]uint64, error) {
	switch v.Type {
	case TByte:
		if v.u != nil {
			return v.u, nil
		}
		out := make([]uint64, len(v.b))
		for i, x := range v.b {
			out[i] = uint64(x)
		}
		return out, nil
	case TShort, TLong, TIFD, TLong8, TIFD8:
		return v.u, nil
	default:
		return nil, fmt.Errorf("tiff: cannot coerce type %d to uint64", v.Type)
	}
}

func (v Value) Uint64() (uint64, error) {
	vals, err := v.Uint64s()
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, fmt.Errorf("tiff: empty value")
	}
	return vals[0], nil
}

func (v Value) Int64s() ([]int64, error) {
	switch v.Type {
	case TSByte, TSShort, TSLong, TSLong8:
		return v.i, nil
	case TByte, TShort, TLong, TIFD, TLong8, TIFD8:
		out := make([]int64, len(v.u))
		for i, x := range v.u {
			out[i] = int64(x)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("tiff: cannot coerce type %d to int64", v.Type)
	}
}

// Float64s widens RATIONAL/SRATIONAL (already resolved num/den), FLOAT,
// DOUBLE, and any integer type.
func (v Value) Float64s() ([]float64, error) {
	switch v.Type {
	case TRational, TSRational, TFloat, TDouble:
		return v.f, nil
	case TByte, TShort, TLong, TIFD, TLong8, TIFD8:
		out := make([]float64, len(v.u))
		for i, x := range v.u {
			out[i] = float64(x)
		}
		return out, nil
	case TSByte, TSShort, TSLong, TSLong8:
		out := make([]float64, len(v.i))
		for i, x := range v.i {
			out[i] = float64(x)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("tiff: cannot coerce type %d to float64", v.Type)
	}
}

func (v Value) String() (string, error) {
	if v.Type != TAscii {
		return "", fmt.Errorf("tiff: not an ascii value")
	}
	return string(v.b), nil
}

func (v Value) Bytes() ([]byte, error) {
	if v.Type != TUndefined && v.Type != TByte {
		return nil, fmt.Errorf("tiff: not a byte/undefined value")
	}
	if v.b != nil {
		return v.b, nil
	}
	out := make([]byte, len(v.u))
	for i, x := range v.u {
		out[i] = byte(x)
	}
	return out, nil
}

// IFD is an ordered, typed tag map. It carries reader bookkeeping
// (StartOffset) and writer bookkeeping (frozen flag, reserved offset,
// position of its own next-IFD pointer) so one type serves both
// lifecycles instead of splitting into parser/saver hierarchies.
type IFD struct {
	tags  map[Tag]Value
	order []Tag

	// StartOffset is the file offset this IFD was read from (read path).
	StartOffset uint64

	frozen           bool
	reservedOffset   uint64
	nextPatchPos     uint64
}

func NewIFD() *IFD {
	return &IFD{tags: make(map[Tag]Value)}
}

func (ifd *IFD) Get(tag Tag) (Value, bool) {
	v, ok := ifd.tags[tag]
	return v, ok
}

func (ifd *IFD) Require(tag Tag) (Value, error) {
	v, ok := ifd.tags[tag]
	if !ok {
		return Value{}, ErrMissingTag{Tag: tag}
	}
	return v, nil
}

func (ifd *IFD) Put(tag Tag, v Value) error {
	if ifd.frozen {
		return fmt.Errorf("tiff: ifd is frozen after write")
	}
	if _, exists := ifd.tags[tag]; !exists {
		ifd.order = append(ifd.order, tag)
	}
	ifd.tags[tag] = v
	return nil
}

func (ifd *IFD) Remove(tag Tag) {
	if _, ok := ifd.tags[tag]; !ok {
		return
	}
	delete(ifd.tags, tag)
	for i, t := range ifd.order {
		if t == tag {
			ifd.order = append(ifd.order[:i], ifd.order[i+1:]...)
			break
		}
	}
}

// Freeze marks the IFD as having been committed to a file; further Put
// calls fail. Set by the writer once an IFD's bytes have been emitted.
func (ifd *IFD) Freeze()      { ifd.frozen = true }
func (ifd *IFD) Frozen() bool { return ifd.frozen }

// Tags returns tags in insertion order, for deterministic serialization.
func (ifd *IFD) Tags() []Tag {
	out := make([]Tag, len(ifd.order))
	copy(out, ifd.order)
	return out
}

// --- typed derived accessors ---

func (ifd *IFD) uintTag(tag Tag, def uint64) uint64 {
	v, ok := ifd.tags[tag]
	if !ok {
		return def
	}
	vals, err := v.Uint64s()
	if err != nil || len(vals) == 0 {
		return def
	}
	return vals[0]
}

func (ifd *IFD) ImageWidth() uint64  { return ifd.uintTag(TagImageWidth, 0) }
func (ifd *IFD) NewSubfileType() uint64 { return ifd.uintTag(TagNewSubfileType, 0) }
func (ifd *IFD) ImageHeight() uint64 { return ifd.uintTag(TagImageLength, 0) }
func (ifd *IFD) TileWidth() uint64   { return ifd.uintTag(TagTileWidth, 0) }
func (ifd *IFD) TileHeight() uint64  { return ifd.uintTag(TagTileLength, 0) }
func (ifd *IFD) RowsPerStrip() uint64 {
	return ifd.uintTag(TagRowsPerStrip, ifd.ImageHeight())
}
func (ifd *IFD) SamplesPerPixel() uint64 { return ifd.uintTag(TagSamplesPerPixel, 1) }
func (ifd *IFD) Compression() Compression {
	return Compression(ifd.uintTag(TagCompression, uint64(CompressionNone)))
}
func (ifd *IFD) Predictor() uint64 { return ifd.uintTag(TagPredictor, PredictorNone) }
func (ifd *IFD) FillOrder() uint64 { return ifd.uintTag(TagFillOrder, FillOrderMSB2LSB) }
func (ifd *IFD) PlanarConfiguration() uint64 {
	return ifd.uintTag(TagPlanarConfiguration, PlanarChunky)
}
func (ifd *IFD) PhotometricInterpretation() (uint64, bool) {
	v, ok := ifd.tags[TagPhotometricInterp]
	if !ok {
		return 0, false
	}
	vals, err := v.Uint64s()
	if err != nil || len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

func (ifd *IFD) uintSlice(tag Tag) []uint16 {
	v, ok := ifd.tags[tag]
	if !ok {
		return nil
	}
	vals, err := v.Uint64s()
	if err != nil {
		return nil
	}
	out := make([]uint16, len(vals))
	for i, x := range vals {
		out[i] = uint16(x)
	}
	return out
}

// BitsPerSample returns the per-channel bit depth, defaulting every
// channel to 1 bit if absent (the TIFF baseline default).
func (ifd *IFD) BitsPerSample() []uint16 {
	if bps := ifd.uintSlice(TagBitsPerSample); bps != nil {
		return bps
	}
	n := int(ifd.SamplesPerPixel())
	out := make([]uint16, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// SampleFormat returns the per-channel sample format, defaulting every
// channel to unsigned integer if absent.
func (ifd *IFD) SampleFormat() []uint16 {
	if sf := ifd.uintSlice(TagSampleFormat); sf != nil {
		return sf
	}
	n := int(ifd.SamplesPerPixel())
	out := make([]uint16, n)
	for i := range out {
		out[i] = SampleFormatUint
	}
	return out
}

func (ifd *IFD) ExtraSamples() []uint16     { return ifd.uintSlice(TagExtraSamples) }
func (ifd *IFD) ColorMap() []uint16         { return ifd.uintSlice(TagColorMap) }
func (ifd *IFD) YCbCrSubsampling() (int, int) {
	s := ifd.uintSlice(TagYCbCrSubsampling)
	if len(s) != 2 {
		return 2, 2
	}
	return int(s[0]), int(s[1])
}

// IsTiled reports whether the IFD declares tile geometry rather than strips.
func (ifd *IFD) IsTiled() bool {
	_, ok := ifd.tags[TagTileWidth]
	return ok
}

func (ifd *IFD) offsetsAndCounts(offTag, cntTag Tag) ([]uint64, []uint64) {
	ov, ok1 := ifd.tags[offTag]
	cv, ok2 := ifd.tags[cntTag]
	if !ok1 || !ok2 {
		return nil, nil
	}
	offs, _ := ov.Uint64s()
	counts, _ := cv.Uint64s()
	return offs, counts
}

// TileOrStripOffsets returns byte offsets to the tiled or stripped data
// in file order (plane-major, row-major, column-minor), whichever the
// IFD declares.
func (ifd *IFD) TileOrStripOffsets() []uint64 {
	if ifd.IsTiled() {
		offs, _ := ifd.offsetsAndCounts(TagTileOffsets, TagTileByteCounts)
		return offs
	}
	offs, _ := ifd.offsetsAndCounts(TagStripOffsets, TagStripByteCounts)
	return offs
}

func (ifd *IFD) TileOrStripByteCounts() []uint64 {
	if ifd.IsTiled() {
		_, counts := ifd.offsetsAndCounts(TagTileOffsets, TagTileByteCounts)
		return counts
	}
	_, counts := ifd.offsetsAndCounts(TagStripOffsets, TagStripByteCounts)
	return counts
}

// --- canonical serialization ---

// ToJSON renders a compact canonical JSON summary of the IFD's tags, the
// keys sorted by numeric tag for determinism. The object is assembled by
// hand: encoding/json would re-sort map keys lexically, putting tag 100
// before tag 20.
func (ifd *IFD) ToJSON() (string, error) {
	tags := make([]Tag, 0, len(ifd.tags))
	for t := range ifd.tags {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	var sb strings.Builder
	sb.WriteByte('{')
	for i, t := range tags {
		if i > 0 {
			sb.WriteByte(',')
		}
		vb, err := json.Marshal(jsonValue(ifd.tags[t]))
		if err != nil {
			return "", fmt.Errorf("tiff: marshal ifd json: %w", err)
		}
		fmt.Fprintf(&sb, "\"%d\":%s", uint16(t), vb)
	}
	sb.WriteByte('}')
	return sb.String(), nil
}

func jsonValue(v Value) interface{} {
	switch v.Type {
	case TAscii:
		return string(v.b)
	case TByte, TUndefined:
		if v.b != nil {
			return v.b
		}
		if len(v.u) == 1 {
			return v.u[0]
		}
		return v.u
	case TRational, TSRational, TFloat, TDouble:
		if len(v.f) == 1 {
			return v.f[0]
		}
		return v.f
	case TSByte, TSShort, TSLong, TSLong8:
		if len(v.i) == 1 {
			return v.i[0]
		}
		return v.i
	default:
		if len(v.u) == 1 {
			return v.u[0]
		}
		return v.u
	}
}

// ToHumanReadable renders a "Tag: value" per-line summary, tags sorted by
// their numeric id.
func (ifd *IFD) ToHumanReadable() string {
	tags := make([]Tag, 0, len(ifd.tags))
	for t := range ifd.tags {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	var sb strings.Builder
	for _, t := range tags {
		v := ifd.tags[t]
		fmt.Fprintf(&sb, "%s: %v\n", t.String(), jsonValue(v))
	}
	return sb.String()
}
