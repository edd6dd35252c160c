package catalog

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"os"
)

// Hash computes the digest of a member file the way the signature kind requires.
func (s *Signature) Hash(data []byte) ([]byte, error) {
	var h hash.Hash

	switch s.DigestAlgorithm {
	case AlgorithmSHA1:
		h = sha1.New()
	case AlgorithmSHA256:
		h = sha256.New()
	default:
		return nil, fmt.Errorf("Unknown digest algorithm %q", s.DigestAlgorithm)
	}

	switch s.Kind {
	case KindLink:
		h.Write(data)
	case KindPEImageData:
		err := peImageHash(data, h)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("Unknown signature kind %q", s.Kind)
	}

	return h.Sum(nil), nil
}

// Verify checks that data matches the recorded digest.
func (s *Signature) Verify(data []byte) error {
	sum, err := s.Hash(data)
	if err != nil {
		return err
	}

	if !bytes.Equal(sum, s.Digest) {
		return errors.New("Digest mismatch")
	}

	return nil
}

// VerifyFile checks that the file at path matches the recorded digest.
func (s *Signature) VerifyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("Failed to read %q: %w", path, err)
	}

	err = s.Verify(data)
	if err != nil {
		return fmt.Errorf("Failed to verify %q: %w", path, err)
	}

	return nil
}

// peImageHash hashes a PE image skipping the checksum, the security directory entry and the signature.
func peImageHash(data []byte, h hash.Hash) error {
	if len(data) < 64 || !bytes.Equal(data[:2], []byte("MZ")) {
		return errors.New("Missing MZ header")
	}

	pehdr := int(binary.LittleEndian.Uint32(data[60:64]))
	if pehdr+26 > len(data) || !bytes.Equal(data[pehdr:pehdr+4], []byte("PE\x00\x00")) {
		return errors.New("Missing PE header")
	}

	var secdir int

	magic := binary.LittleEndian.Uint16(data[pehdr+24:])
	switch magic {
	case 0x10b:
		secdir = pehdr + 152
	case 0x20b:
		secdir = pehdr + 168
	default:
		return fmt.Errorf("Unknown optional header magic %#x", magic)
	}

	if secdir+8 > len(data) {
		return errors.New("Truncated optional header")
	}

	sec := int(binary.LittleEndian.Uint32(data[secdir:]))
	seclen := int(binary.LittleEndian.Uint32(data[secdir+4:]))

	if sec == 0 {
		sec = len(data)
	}

	// The signature is always the tail part
	if sec+seclen != len(data) || sec < secdir+8 {
		return errors.New("Signature isn't at the end of the file")
	}

	h.Write(data[:pehdr+88])
	h.Write(data[pehdr+92 : secdir])
	h.Write(data[secdir+8 : sec])

	return nil
}
