// Package wfc implements the Wavefunction Container format.
//
// A WFC file is a single little-endian container holding named, typed,
// fixed-shape n-dimensional datasets stored contiguously in row-major order.
// All datasets are declared when the file is created, so every dataset has a
// fixed byte range and rectangular (hyperslab) reads and writes map to plain
// positioned I/O. Read-only opens are memory-mapped where available.
//
// Layout:
//
//	header (40 bytes) | DatasetData section | DatasetIndex section | section directory
package wfc

import "errors"

// Format constants. These must never change for a given major version.
const (
	// Magic is "WFC\0".
	Magic = "WFC\x00"

	CurrentMajor uint16 = 1
	CurrentMinor uint16 = 0

	headerSize  = 40
	sectionSize = 24
	align       = 8
)

type SectionType uint32

const (
	SectionDatasetIndex SectionType = 0x0001
	SectionDatasetData  SectionType = 0x0002
)

// Header is the fixed file header.
type Header struct {
	Magic            [4]byte
	Major            uint16
	Minor            uint16
	HeaderSize       uint32
	SectionCount     uint32
	SectionDirOffset uint64
	FileSize         uint64
	Flags            uint64
}

func (h *Header) Valid() bool {
	return string(h.Magic[:]) == Magic && h.HeaderSize >= headerSize && h.SectionCount > 0
}

func (h *Header) Compatible() bool {
	return h.Major == CurrentMajor
}

// Section is one entry of the section directory.
type Section struct {
	Type    uint32
	Version uint32
	Offset  uint64
	Size    uint64
}

func (s Section) End() uint64 {
	return s.Offset + s.Size
}

var (
	ErrInvalidMagic     = errors.New("wfc: invalid magic")
	ErrUnsupportedMajor = errors.New("wfc: unsupported major version")
	ErrCorruptFile      = errors.New("wfc: corrupt file")
	ErrDatasetNotFound  = errors.New("wfc: dataset not found")
	ErrReadOnly         = errors.New("wfc: file opened read-only")
	ErrDTypeMismatch    = errors.New("wfc: dtype mismatch")
	ErrOutOfBounds      = errors.New("wfc: selection out of bounds")
	ErrBufferSize       = errors.New("wfc: buffer size does not match selection")
	ErrClosed           = errors.New("wfc: file closed")
)
