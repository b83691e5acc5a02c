package tiff

import (
	"compress/lzw"
	"io"
)

// newTIFFLZWWriter and newTIFFLZWReader wrap the standard library's
// MSB-first LZW coder with TIFF's conventional 8-bit literal width. See
// the caveat on lzwCodec regarding the "early change" quirk.
func newTIFFLZWWriter(w io.Writer) io.WriteCloser {
	return lzw.NewWriter(w, lzw.MSB, 8)
}

func newTIFFLZWReader(r io.Reader) io.ReadCloser {
	return lzw.NewReader(r, lzw.MSB, 8)
}
