package tiff

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// WriteMapOption configures NewMap.
type WriteMapOption func(*mapConfig)

type mapConfig struct {
	resizable      bool
	autoInterleave bool
	fillByte       byte
}

// Resizable delays ImageWidth/ImageLength until Complete; the writer
// accepts tiles at any (x, y) and the final image bounds become the
// tightest tile-aligned bounding box of everything written.
func Resizable(v bool) WriteMapOption { return func(c *mapConfig) { c.resizable = v } }

// AutoInterleave lets the caller hand the writer channel-planar tiles for
// a chunky-output file (via WritePlanarTile) or chunky tiles for a
// separate-planar file (via WriteChunkyTile), doing the transposition
// internally rather than requiring the caller to match the file's
// on-disk layout tile-for-tile. WritePlanarTile and WriteChunkyTile
// transpose whether or not this option is set; the flag is only recorded
// on the map.
func AutoInterleave(v bool) WriteMapOption { return func(c *mapConfig) { c.autoInterleave = v } }

// MapFillByte sets the fill value used for tiles Complete synthesizes to
// fill gaps left by the caller (declared grid cells never written).
func MapFillByte(b byte) WriteMapOption { return func(c *mapConfig) { c.fillByte = b } }

type tileCoord struct{ plane, x, y uint64 }

// WriteMap is one image (full-res level or overview) being assembled by a
// Writer.
type WriteMap struct {
	ifd      *IFD
	cfg      mapConfig
	codec    Codec
	tiled    bool
	tileW    uint64
	tileH    uint64
	rowsPer  uint64
	channels int
	planes   int
	planar   bool
	bitWidth int
	kind     ElementKind
	dbps     int

	fixedWidth, fixedHeight uint64 // valid when !cfg.resizable

	tileOffsets    map[tileCoord]uint64
	tileByteCounts map[tileCoord]uint64
	pending        map[[2]uint64]map[uint64][]byte // autoInterleave accumulator: (x,y) -> channel -> data

	maxXTile, maxYTile uint64
	anyTileWritten     bool

	forwardWritten    bool
	ifdStart          uint64
	nextPatchPos      uint64
	offsetsFilePos    uint64
	byteCountsFilePos uint64
	gridW, gridH      uint64

	completed bool
}

// Writer is a TIFF/BigTIFF output stream: header, a chain of IFDs,
// and their tile/strip data, written reserve-then-patch so an IFD can be
// emitted before its tile offsets are known.
type Writer struct {
	stream              *Stream
	bigTiff             bool
	codecs              *Registry
	pendingPrevPatchPos int64
	failed              bool
	maps                []*WriteMap
}

// StartNewFile writes a fresh TIFF/BigTIFF header to w and returns a
// Writer ready to accept NewMap calls.
func StartNewFile(w io.ReadWriteSeeker, littleEndian, bigTiff bool) (*Writer, error) {
	stream := NewStream(w, littleEndian, bigTiff)
	if err := stream.Seek(0); err != nil {
		return nil, err
	}
	marker := []byte("MM")
	if littleEndian {
		marker = []byte("II")
	}
	if err := stream.WriteBytes(marker); err != nil {
		return nil, err
	}
	magic := uint16(42)
	if bigTiff {
		magic = 43
	}
	if err := stream.WriteU16(magic); err != nil {
		return nil, err
	}
	if bigTiff {
		if err := stream.WriteU16(8); err != nil {
			return nil, err
		}
		if err := stream.WriteU16(0); err != nil {
			return nil, err
		}
	}
	patchPos := stream.Offset()
	if err := stream.WriteOffset(0); err != nil {
		return nil, err
	}
	return &Writer{
		stream:              stream,
		bigTiff:             bigTiff,
		codecs:              NewRegistry(),
		pendingPrevPatchPos: patchPos,
	}, nil
}

// StartExistingFile re-opens rw's TIFF/BigTIFF chain and positions the
// writer to append new IFDs after the last one. It refuses (ErrCorrupt)
// if the chain cannot be fully walked.
func StartExistingFile(rw io.ReadWriteSeeker) (*Writer, error) {
	littleEndian, bigTiff, firstOff, headerPatchPos, err := readHeaderFromSeeker(rw)
	if err != nil {
		return nil, err
	}
	stream := NewStream(rw, littleEndian, bigTiff)
	w := &Writer{stream: stream, bigTiff: bigTiff, codecs: NewRegistry(), pendingPrevPatchPos: headerPatchPos}

	visited := make(map[uint64]bool)
	off := firstOff
	prevPatchPos := headerPatchPos
	for off != 0 {
		if visited[off] {
			return nil, fmt.Errorf("%w: append target has a cyclic ifd chain", ErrCorrupt)
		}
		visited[off] = true
		patchPos, err := ifdNextPointerPos(stream, off)
		if err != nil {
			return nil, fmt.Errorf("%w: locating next-ifd pointer: %v", ErrCorrupt, err)
		}
		_, next, err := readIFD(stream, off)
		if err != nil {
			return nil, err
		}
		prevPatchPos = int64(patchPos)
		off = next
	}
	w.pendingPrevPatchPos = prevPatchPos
	return w, nil
}

func readHeaderFromSeeker(rw io.ReadWriteSeeker) (littleEndian, bigTiff bool, firstIFDOffset uint64, patchPos int64, err error) {
	if _, err = rw.Seek(0, io.SeekStart); err != nil {
		return false, false, 0, 0, fmt.Errorf("%w: %v", ErrIoFault, err)
	}
	buf := make([]byte, 16)
	n, rerr := io.ReadFull(rw, buf)
	if rerr != nil && rerr != io.ErrUnexpectedEOF && rerr != io.EOF {
		return false, false, 0, 0, fmt.Errorf("%w: %v", ErrIoFault, rerr)
	}
	if n < 8 {
		return false, false, 0, 0, ErrNotATiff
	}
	var order binary.ByteOrder
	switch string(buf[0:2]) {
	case "II":
		littleEndian = true
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return false, false, 0, 0, ErrNotATiff
	}
	switch order.Uint16(buf[2:4]) {
	case 42:
		return littleEndian, false, uint64(order.Uint32(buf[4:8])), 4, nil
	case 43:
		if n < 16 {
			return false, false, 0, 0, fmt.Errorf("%w: truncated bigtiff header", ErrTruncatedData)
		}
		return littleEndian, true, order.Uint64(buf[8:16]), 8, nil
	default:
		return false, false, 0, 0, ErrNotATiff
	}
}

func ifdNextPointerPos(s *Stream, ifdStart uint64) (uint64, error) {
	if err := s.Seek(int64(ifdStart)); err != nil {
		return 0, err
	}
	count, err := s.ReadEntryCount()
	if err != nil {
		return 0, err
	}
	entrySize, countFieldSize := 12, 2
	if s.Offsets64() {
		entrySize, countFieldSize = 20, 8
	}
	return ifdStart + uint64(countFieldSize) + count*uint64(entrySize), nil
}

// NewMap validates ifd per the writer's IFD rules and allocates a
// WriteMap to accept tiles.
func (w *Writer) NewMap(ifd *IFD, opts ...WriteMapOption) (*WriteMap, error) {
	cfg := mapConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	if _, err := ifd.Require(TagBitsPerSample); err != nil {
		return nil, err
	}
	if _, err := ifd.Require(TagSamplesPerPixel); err != nil {
		return nil, err
	}

	channels := int(ifd.SamplesPerPixel())
	if _, ok := ifd.PhotometricInterpretation(); !ok {
		photo := uint64(PhotometricBlackIsZero)
		if channels == 3 {
			photo = PhotometricRGB
		}
		if err := ifd.Put(TagPhotometricInterp, NewUintValue(TShort, photo)); err != nil {
			return nil, err
		}
	}
	if _, ok := ifd.Get(TagCompression); !ok {
		if err := ifd.Put(TagCompression, NewUintValue(TShort, uint64(CompressionNone))); err != nil {
			return nil, err
		}
	}
	if _, ok := ifd.Get(TagPlanarConfiguration); !ok {
		if err := ifd.Put(TagPlanarConfiguration, NewUintValue(TShort, PlanarChunky)); err != nil {
			return nil, err
		}
	}

	_, hasTileW := ifd.Get(TagTileWidth)
	_, hasRPS := ifd.Get(TagRowsPerStrip)
	if hasTileW && hasRPS {
		return nil, fmt.Errorf("%w: both tile size and rows-per-strip are set", ErrInvalidIfd)
	}
	tiled := hasTileW
	if !tiled && !hasRPS {
		if err := ifd.Put(TagRowsPerStrip, NewUintValue(TLong, 1)); err != nil {
			return nil, err
		}
	}

	if !cfg.resizable {
		if _, err := ifd.Require(TagImageWidth); err != nil {
			return nil, err
		}
		if _, err := ifd.Require(TagImageLength); err != nil {
			return nil, err
		}
	} else if !tiled {
		// a resizable map grows by whole tiles; strips have no horizontal
		// grid to grow along.
		return nil, fmt.Errorf("%w: resizable maps require tile geometry", ErrInvalidIfd)
	}

	codec, err := w.codecs.Get(ifd.Compression())
	if err != nil {
		return nil, err
	}

	bps := ifd.BitsPerSample()
	for _, b := range bps[1:] {
		if b != bps[0] {
			return nil, fmt.Errorf("%w: mixed per-channel bit depths are not supported", ErrInvalidIfd)
		}
	}
	bitWidth := int(bps[0])
	sf := ifd.SampleFormat()
	format := uint16(SampleFormatUint)
	if len(sf) > 0 {
		format = sf[0]
	}

	wm := &WriteMap{
		ifd:            ifd,
		cfg:            cfg,
		codec:          codec,
		tiled:          tiled,
		channels:       channels,
		planar:         ifd.PlanarConfiguration() == PlanarSeparate,
		bitWidth:       bitWidth,
		kind:           elementKindFor(format, bitWidth),
		tileOffsets:    make(map[tileCoord]uint64),
		tileByteCounts: make(map[tileCoord]uint64),
		pending:        make(map[[2]uint64]map[uint64][]byte),
	}
	wm.dbps = (&TileMap{Kind: wm.kind}).DecodedBytesPerSample()
	if wm.planar {
		wm.planes = wm.channels
	} else {
		wm.planes = 1
	}
	if tiled {
		wm.tileW, wm.tileH = ifd.TileWidth(), ifd.TileHeight()
	} else {
		wm.tileW = ifd.ImageWidth()
		wm.rowsPer = ifd.RowsPerStrip()
		wm.tileH = wm.rowsPer
	}
	if !cfg.resizable {
		wm.fixedWidth, wm.fixedHeight = ifd.ImageWidth(), ifd.ImageHeight()
		wm.gridW = ceilDiv(wm.fixedWidth, wm.tileW)
		wm.gridH = ceilDiv(wm.fixedHeight, wm.tileH)
	}
	return wm, nil
}

// WriteForward serializes wm's IFD now, before any tile data, reserving
// space for the tile-offset/byte-count arrays to be patched in Complete.
// Only valid for non-resizable maps.
func (w *Writer) WriteForward(wm *WriteMap) error {
	if wm.cfg.resizable {
		return fmt.Errorf("%w: write_forward is not valid on a resizable map", ErrInvalidIfd)
	}
	n := wm.gridW * wm.gridH * uint64(wm.planes)
	offsetsTag, countsTag := w.offsetTags(wm)
	zeros := make([]uint64, n)
	if err := wm.ifd.Put(offsetsTag, NewUintValue(offsetFieldType(w.bigTiff), zeros...)); err != nil {
		return err
	}
	if err := wm.ifd.Put(countsTag, NewUintValue(offsetFieldType(w.bigTiff), zeros...)); err != nil {
		return err
	}

	ifdStart, nextPatchPos, overflow, err := w.writeIFDEntries(wm.ifd, map[Tag]bool{offsetsTag: true, countsTag: true})
	if err != nil {
		w.failed = true
		return err
	}
	wm.forwardWritten = true
	wm.ifdStart = ifdStart
	wm.nextPatchPos = nextPatchPos
	wm.offsetsFilePos = overflow[offsetsTag]
	wm.byteCountsFilePos = overflow[countsTag]

	if err := w.patchChainTo(ifdStart, nextPatchPos); err != nil {
		w.failed = true
		return err
	}
	return nil
}

func (w *Writer) offsetTags(wm *WriteMap) (Tag, Tag) {
	if wm.tiled {
		return TagTileOffsets, TagTileByteCounts
	}
	return TagStripOffsets, TagStripByteCounts
}

func offsetFieldType(bigTiff bool) FieldType {
	if bigTiff {
		return TLong8
	}
	return TLong
}

// WriteTile encodes one (plane, x, y) tile from decoded, little-endian
// pixel bytes and appends it to the stream.
func (w *Writer) WriteTile(wm *WriteMap, plane, x, y uint64, pix []byte) error {
	if w.failed {
		return fmt.Errorf("%w: writer previously failed", ErrIoFault)
	}
	encoded, err := w.encodeTile(wm, pix)
	if err != nil {
		w.failed = true
		return err
	}
	return w.appendTile(wm, tileCoord{plane, x, y}, encoded)
}

// WriteChunkyTile is the AutoInterleave entry point for a
// separate-planar file fed from chunky (channel-interleaved) source
// tiles: it de-interleaves pix into wm.channels per-channel buffers and
// writes each with WriteTile.
func (w *Writer) WriteChunkyTile(wm *WriteMap, x, y uint64, pix []byte) error {
	if !wm.planar {
		return w.WriteTile(wm, 0, x, y, pix)
	}
	nsamples := len(pix) / wm.dbps / wm.channels
	for c := 0; c < wm.channels; c++ {
		plane := make([]byte, nsamples*wm.dbps)
		for i := 0; i < nsamples; i++ {
			src := (i*wm.channels + c) * wm.dbps
			copy(plane[i*wm.dbps:], pix[src:src+wm.dbps])
		}
		if err := w.WriteTile(wm, uint64(c), x, y, plane); err != nil {
			return err
		}
	}
	return nil
}

// WritePlanarTile is the AutoInterleave entry point for a chunky file fed
// from per-channel source tiles: it buffers channels for (x, y) until all
// have arrived, interleaves them, and writes the single chunky tile.
func (w *Writer) WritePlanarTile(wm *WriteMap, channel, x, y uint64, pix []byte) error {
	if wm.planar {
		return w.WriteTile(wm, channel, x, y, pix)
	}
	key := [2]uint64{x, y}
	bucket, ok := wm.pending[key]
	if !ok {
		bucket = make(map[uint64][]byte)
		wm.pending[key] = bucket
	}
	bucket[channel] = pix
	if len(bucket) < wm.channels {
		return nil
	}
	nsamples := len(bucket[0]) / wm.dbps
	chunky := make([]byte, nsamples*wm.channels*wm.dbps)
	for c := 0; c < wm.channels; c++ {
		src := bucket[uint64(c)]
		for i := 0; i < nsamples; i++ {
			dst := (i*wm.channels + c) * wm.dbps
			copy(chunky[dst:], src[i*wm.dbps:(i+1)*wm.dbps])
		}
	}
	delete(wm.pending, key)
	return w.WriteTile(wm, 0, x, y, chunky)
}

// CommitTile patches one already-written tile's offset and byte-count
// slots into the file immediately instead of waiting for Complete. Only
// valid on a forward-written map, whose array slots were reserved by
// WriteForward; Complete's full rewrite of the arrays is idempotent over
// slots committed here.
func (w *Writer) CommitTile(wm *WriteMap, plane, x, y uint64) error {
	if !wm.forwardWritten {
		return fmt.Errorf("%w: commit requires a forward-written map", ErrInvalidIfd)
	}
	if x >= wm.gridW || y >= wm.gridH || plane >= uint64(wm.planes) {
		return fmt.Errorf("%w: tile plane=%d x=%d y=%d outside the declared grid", ErrInvalidIfd, plane, x, y)
	}
	coord := tileCoord{plane, x, y}
	off, ok := wm.tileOffsets[coord]
	if !ok {
		return fmt.Errorf("%w: tile plane=%d x=%d y=%d has not been written", ErrInvalidIfd, plane, x, y)
	}
	slotWidth := uint64(4)
	if w.bigTiff {
		slotWidth = 8
	}
	idx := plane*wm.gridW*wm.gridH + y*wm.gridW + x
	if err := w.stream.Seek(int64(wm.offsetsFilePos + idx*slotWidth)); err != nil {
		return err
	}
	if err := w.stream.WriteOffset(off); err != nil {
		return err
	}
	if err := w.stream.Seek(int64(wm.byteCountsFilePos + idx*slotWidth)); err != nil {
		return err
	}
	return w.stream.WriteOffset(wm.tileByteCounts[coord])
}

func (w *Writer) encodeTile(wm *WriteMap, pix []byte) ([]byte, error) {
	working := append([]byte(nil), pix...)
	if !w.stream.LittleEndian() && wm.dbps > 1 {
		working = swapEndianInPlace(working, wm.dbps)
	}
	channelsInTile := 1
	if !wm.planar {
		channelsInTile = wm.channels
	}
	nsamples := len(working) / wm.dbps

	params := CodecParams{
		TileWidth:     int(wm.tileW),
		TileHeight:    int(wm.tileH),
		BitsPerSample: wm.ifd.BitsPerSample(),
		SampleFormat:  wm.ifd.SampleFormat(),
		Channels:      channelsInTile,
		Predictor:     wm.ifd.Predictor(),
		LittleEndian:  w.stream.LittleEndian(),
	}
	if v, ok := wm.ifd.PhotometricInterpretation(); ok {
		params.Photometric = v
	}

	if wm.bitWidth%8 == 0 {
		fileBps := wm.bitWidth / 8
		if fileBps <= 2 {
			if err := differenceHorizontal(working, int(wm.tileW), int(wm.tileH), channelsInTile, fileBps, wm.ifd.Predictor()); err != nil {
				return nil, err
			}
		}
		return wm.codec.Encode(params, working)
	}
	if wm.ifd.Predictor() != PredictorNone {
		return nil, fmt.Errorf("%w: predictor with %d-bit samples", ErrCodecUnsupported, wm.bitWidth)
	}
	packed := PackSamples(working, nsamples, wm.bitWidth, wm.dbps)
	return wm.codec.Encode(params, packed)
}

func (w *Writer) appendTile(wm *WriteMap, coord tileCoord, encoded []byte) error {
	end, err := w.stream.Len()
	if err != nil {
		return err
	}
	if err := w.stream.Seek(end); err != nil {
		return err
	}
	if err := w.stream.WriteBytes(encoded); err != nil {
		return err
	}
	wm.tileOffsets[coord] = uint64(end)
	wm.tileByteCounts[coord] = uint64(len(encoded))
	wm.anyTileWritten = true
	if coord.x > wm.maxXTile {
		wm.maxXTile = coord.x
	}
	if coord.y > wm.maxYTile {
		wm.maxYTile = coord.y
	}
	return nil
}

// Complete finalizes wm: for a resizable map it derives the image bounds
// from the tiles actually written; either way it fills any gap in the
// declared tile grid with a filler tile, then writes (or patches) the
// tile-offset/byte-count arrays and the IFD itself.
func (w *Writer) Complete(wm *WriteMap) error {
	if wm.completed {
		return fmt.Errorf("tiff: map already completed")
	}
	if wm.cfg.resizable {
		width := (wm.maxXTile + 1) * wm.tileW
		height := (wm.maxYTile + 1) * wm.tileH
		if err := wm.ifd.Put(TagImageWidth, NewUintValue(TLong, width)); err != nil {
			return err
		}
		if err := wm.ifd.Put(TagImageLength, NewUintValue(TLong, height)); err != nil {
			return err
		}
		wm.fixedWidth, wm.fixedHeight = width, height
		wm.gridW = ceilDiv(width, wm.tileW)
		wm.gridH = ceilDiv(height, wm.tileH)
	}

	fillTile := make([]byte, int(wm.tileW*wm.tileH)*wm.dbps*wm.channels/wm.planes)
	if wm.cfg.fillByte != 0 {
		for i := range fillTile {
			fillTile[i] = wm.cfg.fillByte
		}
	}
	for plane := uint64(0); plane < uint64(wm.planes); plane++ {
		for y := uint64(0); y < wm.gridH; y++ {
			for x := uint64(0); x < wm.gridW; x++ {
				coord := tileCoord{plane, x, y}
				if _, ok := wm.tileOffsets[coord]; ok {
					continue
				}
				if err := w.WriteTile(wm, plane, x, y, fillTile); err != nil {
					return err
				}
			}
		}
	}

	offsetsTag, countsTag := w.offsetTags(wm)
	offsets := make([]uint64, wm.gridW*wm.gridH*uint64(wm.planes))
	counts := make([]uint64, len(offsets))
	for plane := uint64(0); plane < uint64(wm.planes); plane++ {
		for y := uint64(0); y < wm.gridH; y++ {
			for x := uint64(0); x < wm.gridW; x++ {
				idx := plane*wm.gridW*wm.gridH + y*wm.gridW + x
				coord := tileCoord{plane, x, y}
				offsets[idx] = wm.tileOffsets[coord]
				counts[idx] = wm.tileByteCounts[coord]
			}
		}
	}

	if wm.forwardWritten {
		if err := w.stream.Seek(int64(wm.offsetsFilePos)); err != nil {
			return err
		}
		for _, v := range offsets {
			if err := w.stream.WriteOffset(v); err != nil {
				return err
			}
		}
		if err := w.stream.Seek(int64(wm.byteCountsFilePos)); err != nil {
			return err
		}
		for _, v := range counts {
			if err := w.stream.WriteOffset(v); err != nil {
				return err
			}
		}
		wm.ifd.Freeze()
	} else {
		if err := wm.ifd.Put(offsetsTag, NewUintValue(offsetFieldType(w.bigTiff), offsets...)); err != nil {
			return err
		}
		if err := wm.ifd.Put(countsTag, NewUintValue(offsetFieldType(w.bigTiff), counts...)); err != nil {
			return err
		}
		ifdStart, nextPatchPos, _, err := w.writeIFDEntries(wm.ifd, nil)
		if err != nil {
			return err
		}
		wm.ifdStart, wm.nextPatchPos = ifdStart, nextPatchPos
		if err := w.patchChainTo(ifdStart, nextPatchPos); err != nil {
			return err
		}
	}

	wm.completed = true
	w.maps = append(w.maps, wm)
	return nil
}

func (w *Writer) patchChainTo(ifdStart uint64, nextPatchPos uint64) error {
	if err := w.stream.Seek(w.pendingPrevPatchPos); err != nil {
		return err
	}
	if err := w.stream.WriteOffset(ifdStart); err != nil {
		return err
	}
	w.pendingPrevPatchPos = int64(nextPatchPos)
	return nil
}

// writeIFDEntries serializes ifd's tags in ascending tag order at the
// stream's current end of file, recording for each tag in forceOverflow
// the absolute file position of its value bytes (its external block, or
// the entry's own value slot when the value fits inline) for later
// patching. It returns the IFD's start offset, the position of its
// next-IFD pointer, and that value position for each forced tag.
func (w *Writer) writeIFDEntries(ifd *IFD, forceOverflow map[Tag]bool) (ifdStart, nextPatchPos uint64, overflow map[Tag]uint64, err error) {
	end, err := w.stream.Len()
	if err != nil {
		return 0, 0, nil, err
	}
	if err := w.stream.Seek(end); err != nil {
		return 0, 0, nil, err
	}
	ifdStart = uint64(end)

	tags := append([]Tag(nil), ifd.Tags()...)
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	entrySize, valSize, countFieldSize := 12, 4, 2
	if w.bigTiff {
		entrySize, valSize, countFieldSize = 20, 8, 8
	}
	headerLen := uint64(countFieldSize) + uint64(len(tags))*uint64(entrySize) + uint64(valSize)
	externalStart := ifdStart + headerLen

	type planned struct {
		tag      Tag
		typ      FieldType
		count    uint64
		inline   []byte
		external []byte
		extPos   uint64
	}
	plans := make([]planned, 0, len(tags))
	runningExternal := externalStart
	overflow = make(map[Tag]uint64)

	for i, t := range tags {
		v, _ := ifd.Get(t)
		raw, sz := encodeFieldBytes(v, w.stream.Order())
		total := sz * int(v.Count)
		p := planned{tag: t, typ: v.Type, count: v.Count}
		if total <= valSize {
			p.inline = append(make([]byte, 0, valSize), raw...)
			for len(p.inline) < valSize {
				p.inline = append(p.inline, 0)
			}
			if forceOverflow[t] {
				// a value that fits stays inline, where readers look for
				// it; its patch position is the entry's own value slot.
				overflow[t] = ifdStart + uint64(countFieldSize) + uint64(i)*uint64(entrySize) + uint64(entrySize-valSize)
			}
		} else {
			p.external = raw
			p.extPos = runningExternal
			runningExternal += uint64(len(raw))
			if forceOverflow[t] {
				overflow[t] = p.extPos
			}
		}
		plans = append(plans, p)
	}

	if err := w.stream.WriteEntryCount(uint64(len(plans))); err != nil {
		return 0, 0, nil, err
	}
	for _, p := range plans {
		if err := w.stream.WriteU16(uint16(p.tag)); err != nil {
			return 0, 0, nil, err
		}
		if err := w.stream.WriteU16(uint16(p.typ)); err != nil {
			return 0, 0, nil, err
		}
		if w.bigTiff {
			if err := w.stream.WriteU64(p.count); err != nil {
				return 0, 0, nil, err
			}
		} else {
			if err := w.stream.WriteU32(uint32(p.count)); err != nil {
				return 0, 0, nil, err
			}
		}
		if p.inline != nil {
			if err := w.stream.WriteBytes(p.inline); err != nil {
				return 0, 0, nil, err
			}
		} else {
			if err := w.stream.WriteOffset(p.extPos); err != nil {
				return 0, 0, nil, err
			}
		}
	}
	nextPatchPos = uint64(w.stream.Offset())
	if err := w.stream.WriteOffset(0); err != nil {
		return 0, 0, nil, err
	}
	for _, p := range plans {
		if p.external != nil {
			if err := w.stream.WriteBytes(p.external); err != nil {
				return 0, 0, nil, err
			}
		}
	}
	return ifdStart, nextPatchPos, overflow, nil
}

// encodeFieldBytes renders v's values to their on-disk byte form in
// order's byte order, returning the bytes and the per-value size.
func encodeFieldBytes(v Value, order binary.ByteOrder) ([]byte, int) {
	sz := fieldTypeSize[v.Type]
	switch v.Type {
	case TAscii:
		b := append([]byte(nil), v.b...)
		b = append(b, 0)
		return b, 1
	case TByte, TUndefined:
		return v.b, 1
	case TShort:
		out := make([]byte, len(v.u)*2)
		for i, x := range v.u {
			order.PutUint16(out[i*2:], uint16(x))
		}
		return out, sz
	case TLong, TIFD:
		out := make([]byte, len(v.u)*4)
		for i, x := range v.u {
			order.PutUint32(out[i*4:], uint32(x))
		}
		return out, sz
	case TLong8, TIFD8:
		out := make([]byte, len(v.u)*8)
		for i, x := range v.u {
			order.PutUint64(out[i*8:], x)
		}
		return out, sz
	case TSByte:
		out := make([]byte, len(v.i))
		for i, x := range v.i {
			out[i] = byte(int8(x))
		}
		return out, sz
	case TSShort:
		out := make([]byte, len(v.i)*2)
		for i, x := range v.i {
			order.PutUint16(out[i*2:], uint16(int16(x)))
		}
		return out, sz
	case TSLong:
		out := make([]byte, len(v.i)*4)
		for i, x := range v.i {
			order.PutUint32(out[i*4:], uint32(int32(x)))
		}
		return out, sz
	case TSLong8:
		out := make([]byte, len(v.i)*8)
		for i, x := range v.i {
			order.PutUint64(out[i*8:], uint64(x))
		}
		return out, sz
	case TFloat:
		out := make([]byte, len(v.f)*4)
		for i, x := range v.f {
			order.PutUint32(out[i*4:], float32Bits(float32(x)))
		}
		return out, sz
	case TDouble:
		out := make([]byte, len(v.f)*8)
		for i, x := range v.f {
			order.PutUint64(out[i*8:], float64Bits(x))
		}
		return out, sz
	case TRational, TSRational:
		out := make([]byte, len(v.f)*8)
		for i, x := range v.f {
			num, den := rationalOf(x)
			order.PutUint32(out[i*8:], uint32(num))
			order.PutUint32(out[i*8+4:], uint32(den))
		}
		return out, 8
	default:
		return nil, sz
	}
}

// rationalOf converts a float back to a (numerator, denominator) pair,
// fixing the denominator at a scale sufficient for 6 decimal digits;
// GeoTIFF-style tags written by this package's writer never exceed that.
func rationalOf(x float64) (int64, int64) {
	const scale = 1000000
	return int64(x * scale), scale
}

