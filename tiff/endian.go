package tiff

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Stream is a random-access byte handle honoring an explicit endianness
// and offset width (32-bit classic TIFF vs. 64-bit BigTIFF). It never
// buffers across Close; the file handle is the single owner of
// read/write state.
type Stream struct {
	rw        io.ReadWriteSeeker
	order     binary.ByteOrder
	offsets64 bool
	pos       int64
}

// NewStream wraps rw for typed, endian-aware access. littleEndian selects
// the byte order; offsets64 selects BigTIFF-width offsets and counts.
func NewStream(rw io.ReadWriteSeeker, littleEndian, offsets64 bool) *Stream {
	order := binary.ByteOrder(binary.BigEndian)
	if littleEndian {
		order = binary.LittleEndian
	}
	return &Stream{rw: rw, order: order, offsets64: offsets64}
}

func (s *Stream) LittleEndian() bool { return s.order == binary.LittleEndian }
func (s *Stream) Offsets64() bool    { return s.offsets64 }
func (s *Stream) Order() binary.ByteOrder { return s.order }

// Offset returns the current cursor position.
func (s *Stream) Offset() int64 { return s.pos }

// Seek repositions the cursor for the next read/write.
func (s *Stream) Seek(offset int64) error {
	off, err := s.rw.Seek(offset, io.SeekStart)
	if err != nil {
		return fmt.Errorf("%w: seek %d: %v", ErrIoFault, offset, err)
	}
	s.pos = off
	return nil
}

// Len reports the total length of the underlying stream.
func (s *Stream) Len() (int64, error) {
	cur := s.pos
	end, err := s.rw.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("%w: seek end: %v", ErrIoFault, err)
	}
	if _, err := s.rw.Seek(cur, io.SeekStart); err != nil {
		return 0, fmt.Errorf("%w: restore cursor: %v", ErrIoFault, err)
	}
	return end, nil
}

func (s *Stream) ReadBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(s.rw, buf)
	s.pos += int64(read)
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, fmt.Errorf("%w: wanted %d bytes, got %d", ErrTruncatedData, n, read)
		}
		return nil, fmt.Errorf("%w: %v", ErrIoFault, err)
	}
	return buf, nil
}

func (s *Stream) WriteBytes(b []byte) error {
	n, err := s.rw.Write(b)
	s.pos += int64(n)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIoFault, err)
	}
	return nil
}

func (s *Stream) ReadU8() (uint8, error) {
	b, err := s.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (s *Stream) ReadI8() (int8, error) {
	v, err := s.ReadU8()
	return int8(v), err
}

func (s *Stream) ReadU16() (uint16, error) {
	b, err := s.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return s.order.Uint16(b), nil
}

func (s *Stream) ReadI16() (int16, error) {
	v, err := s.ReadU16()
	return int16(v), err
}

func (s *Stream) ReadU32() (uint32, error) {
	b, err := s.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return s.order.Uint32(b), nil
}

func (s *Stream) ReadI32() (int32, error) {
	v, err := s.ReadU32()
	return int32(v), err
}

func (s *Stream) ReadU64() (uint64, error) {
	b, err := s.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return s.order.Uint64(b), nil
}

func (s *Stream) ReadI64() (int64, error) {
	v, err := s.ReadU64()
	return int64(v), err
}

func (s *Stream) ReadF32() (float32, error) {
	v, err := s.ReadU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (s *Stream) ReadF64() (float64, error) {
	v, err := s.ReadU64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (s *Stream) WriteU8(v uint8) error  { return s.WriteBytes([]byte{v}) }
func (s *Stream) WriteI8(v int8) error   { return s.WriteU8(uint8(v)) }

func (s *Stream) WriteU16(v uint16) error {
	b := make([]byte, 2)
	s.order.PutUint16(b, v)
	return s.WriteBytes(b)
}
func (s *Stream) WriteI16(v int16) error { return s.WriteU16(uint16(v)) }

func (s *Stream) WriteU32(v uint32) error {
	b := make([]byte, 4)
	s.order.PutUint32(b, v)
	return s.WriteBytes(b)
}
func (s *Stream) WriteI32(v int32) error { return s.WriteU32(uint32(v)) }

func (s *Stream) WriteU64(v uint64) error {
	b := make([]byte, 8)
	s.order.PutUint64(b, v)
	return s.WriteBytes(b)
}
func (s *Stream) WriteI64(v int64) error { return s.WriteU64(uint64(v)) }

func (s *Stream) WriteF32(v float32) error { return s.WriteU32(math.Float32bits(v)) }
func (s *Stream) WriteF64(v float64) error { return s.WriteU64(math.Float64bits(v)) }

// ReadOffset reads a file-offset-width value: 32 bits for classic TIFF,
// 64 bits for BigTIFF.
func (s *Stream) ReadOffset() (uint64, error) {
	if s.offsets64 {
		return s.ReadU64()
	}
	v, err := s.ReadU32()
	return uint64(v), err
}

// WriteOffset writes a file-offset-width value.
func (s *Stream) WriteOffset(v uint64) error {
	if s.offsets64 {
		return s.WriteU64(v)
	}
	return s.WriteU32(uint32(v))
}

// ReadEntryCount reads an IFD's entry count: 16 bits classic, 64 bits BigTIFF.
func (s *Stream) ReadEntryCount() (uint64, error) {
	if s.offsets64 {
		return s.ReadU64()
	}
	v, err := s.ReadU16()
	return uint64(v), err
}

// WriteEntryCount writes an IFD's entry count.
func (s *Stream) WriteEntryCount(v uint64) error {
	if s.offsets64 {
		return s.WriteU64(v)
	}
	return s.WriteU16(uint16(v))
}
