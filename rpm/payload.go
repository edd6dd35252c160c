package rpm

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cavaliercoder/go-cpio"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

var (
	leadMagic   = []byte{0xed, 0xab, 0xee, 0xdb}
	headerMagic = [3]byte{0x8e, 0xad, 0xe8}
)

var (
	magicGzip  = []byte{0x1f, 0x8b}
	magicXz    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	magicZstd  = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicBzip2 = []byte("BZh")
	magicCpio  = []byte("0707")
)

// rpmLead is the fixed size start of every package.
type rpmLead struct {
	Magic         [4]byte
	MajorVersion  uint8
	MinorVersion  uint8
	Type          uint16
	Architecture  uint16
	Name          [66]byte
	OSNum         uint16
	SignatureType uint16
	Reserved      [16]byte
}

type rpmHeader struct {
	Magic      [3]byte
	Version    uint8
	Reserved   [4]byte
	EntryCount uint32
	DataSize   uint32
}

// skipHeader skips a header structure. The signature header is padded to 8 bytes.
func skipHeader(r io.Reader, aligned bool) error {
	var hdr rpmHeader

	err := binary.Read(r, binary.BigEndian, &hdr)
	if err != nil {
		return err
	}

	if hdr.Magic != headerMagic {
		return fmt.Errorf("Bad header magic %x", hdr.Magic)
	}

	size := int64(hdr.EntryCount)*16 + int64(hdr.DataSize)
	if aligned && hdr.DataSize%8 != 0 {
		size += int64(8 - hdr.DataSize%8)
	}

	_, err = io.CopyN(io.Discard, r, size)

	return err
}

// PayloadReader returns the uncompressed cpio payload of an RPM package.
func PayloadReader(r io.Reader) (io.Reader, error) {
	var lead rpmLead

	err := binary.Read(r, binary.BigEndian, &lead)
	if err != nil {
		return nil, fmt.Errorf("Failed to read lead: %w", err)
	}

	if !bytes.Equal(lead.Magic[:], leadMagic) {
		return nil, errors.New("Not an RPM package")
	}

	err = skipHeader(r, true)
	if err != nil {
		return nil, fmt.Errorf("Failed to read signature header: %w", err)
	}

	err = skipHeader(r, false)
	if err != nil {
		return nil, fmt.Errorf("Failed to read header: %w", err)
	}

	br := bufio.NewReader(r)

	magic, err := br.Peek(6)
	if err != nil {
		return nil, fmt.Errorf("Failed to read payload: %w", err)
	}

	switch {
	case bytes.HasPrefix(magic, magicGzip):
		return pgzip.NewReader(br)
	case bytes.HasPrefix(magic, magicXz):
		return xz.NewReader(br)
	case bytes.HasPrefix(magic, magicZstd):
		return zstd.NewReader(br)
	case bytes.HasPrefix(magic, magicBzip2):
		return bzip2.NewReader(br), nil
	case bytes.HasPrefix(magic, magicCpio):
		return br, nil
	}

	return nil, fmt.Errorf("Unknown payload compression %x", magic)
}

// ExtractRPM unpacks the payload of the RPM package at path into dest.
func ExtractRPM(path string, dest string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("Failed to open %q: %w", path, err)
	}

	defer f.Close()

	payload, err := PayloadReader(f)
	if err != nil {
		return fmt.Errorf("Failed to read %q: %w", path, err)
	}

	if c, ok := payload.(io.Closer); ok {
		defer c.Close()
	}

	if d, ok := payload.(*zstd.Decoder); ok {
		defer d.Close()
	}

	cr := cpio.NewReader(payload)

	for {
		hdr, err := cr.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return fmt.Errorf("Failed to read payload of %q: %w", path, err)
		}

		target, err := securejoin.SecureJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		info := hdr.FileInfo()

		if info.IsDir() {
			err = os.MkdirAll(target, 0755)
			if err != nil {
				return err
			}

			continue
		}

		err = os.MkdirAll(filepath.Dir(target), 0755)
		if err != nil {
			return err
		}

		if info.Mode()&os.ModeSymlink != 0 {
			err = os.Symlink(hdr.Linkname, target)
			if err != nil {
				return err
			}

			continue
		}

		if !info.Mode().IsRegular() {
			continue
		}

		err = writeFile(target, cr, info.Mode().Perm()|0600)
		if err != nil {
			return err
		}

		err = os.Chtimes(target, hdr.ModTime, hdr.ModTime)
		if err != nil {
			return err
		}
	}

	return nil
}

func writeFile(path string, r io.Reader, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("Failed to create %q: %w", path, err)
	}

	defer f.Close()

	_, err = io.Copy(f, r)
	if err != nil {
		return fmt.Errorf("Failed to write %q: %w", path, err)
	}

	return f.Close()
}
