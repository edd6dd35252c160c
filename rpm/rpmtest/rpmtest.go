// Package rpmtest writes minimal RPM packages for tests.
package rpmtest

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/cavaliercoder/go-cpio"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// Compression of the payload.
type Compression int

// Supported payload compressions.
const (
	Gzip Compression = iota
	Xz
	Zstd
	None
)

// Bytes returns a package whose payload holds files, keyed by path.
func Bytes(files map[string]string, compression Compression) ([]byte, error) {
	var buf bytes.Buffer

	// Lead
	lead := make([]byte, 96)
	copy(lead, []byte{0xed, 0xab, 0xee, 0xdb, 3, 0})
	copy(lead[10:], "test-1.0-1")
	buf.Write(lead)

	// The signature header is padded to 8 bytes, the main header isn't
	writeHeader(&buf, 5, true)
	writeHeader(&buf, 3, false)

	var payload bytes.Buffer

	w, err := compressor(&payload, compression)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	sort.Strings(names)

	cw := cpio.NewWriter(w)

	for _, name := range names {
		err = cw.WriteHeader(&cpio.Header{
			Name: "./" + name,
			Mode: cpio.FileMode(0644),
			Size: int64(len(files[name])),
		})
		if err != nil {
			return nil, err
		}

		_, err = cw.Write([]byte(files[name]))
		if err != nil {
			return nil, err
		}
	}

	err = cw.Close()
	if err != nil {
		return nil, err
	}

	err = w.Close()
	if err != nil {
		return nil, err
	}

	buf.Write(payload.Bytes())

	return buf.Bytes(), nil
}

// WriteFile writes a package to path.
func WriteFile(path string, files map[string]string, compression Compression) error {
	data, err := Bytes(files, compression)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func writeHeader(buf *bytes.Buffer, dataSize uint32, aligned bool) {
	buf.Write([]byte{0x8e, 0xad, 0xe8, 0x01, 0, 0, 0, 0})
	_ = binary.Write(buf, binary.BigEndian, uint32(0))
	_ = binary.Write(buf, binary.BigEndian, dataSize)
	buf.Write(make([]byte, dataSize))

	if aligned && dataSize%8 != 0 {
		buf.Write(make([]byte, 8-dataSize%8))
	}
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func compressor(w io.Writer, compression Compression) (io.WriteCloser, error) {
	switch compression {
	case Xz:
		return xz.NewWriter(w)
	case Zstd:
		return zstd.NewWriter(w)
	case None:
		return nopCloser{w}, nil
	}

	return pgzip.NewWriter(w), nil
}
