package wfc

import (
	"errors"
	"io"
	"os"
	"sort"
	"sync"
)

const writerPadBufSize = 4096

var (
	errWriterClosed   = errors.New("wfc: writer already finalised")
	errSectionOpen    = errors.New("wfc: section write in progress")
	errDuplicateType  = errors.New("wfc: duplicate section type")
	errSectionEnded   = errors.New("wfc: section writer ended")
	errSectionInvalid = errors.New("wfc: section writer not active")
)

// Writer lays out a WFC file section by section.
//
// Space for the header is reserved up front and patched by Finalise. Large
// dataset payloads go through BeginSection so they are never buffered.
type Writer struct {
	f        *os.File
	sections []Section
	seen     map[SectionType]struct{}
	open     *SectionWriter
	closed   bool
	flags    uint64
	padBuf   []byte

	mu sync.Mutex
}

// SectionWriter streams one section payload. It must be ended before any
// other section is written; padding added via Align counts towards the
// section size.
type SectionWriter struct {
	w       *Writer
	typ     SectionType
	version uint32
	start   int64
	ended   bool
}

// NewWriter truncates f and reserves the header.
func NewWriter(f *os.File) (*Writer, error) {
	if f == nil {
		return nil, errors.New("wfc: nil file")
	}
	if err := f.Truncate(0); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	w := &Writer{
		f:      f,
		seen:   make(map[SectionType]struct{}),
		padBuf: make([]byte, writerPadBufSize),
	}
	if err := w.writeZeros(headerSize); err != nil {
		return nil, err
	}
	if err := w.alignTo(align); err != nil {
		return nil, err
	}
	return w, nil
}

// WriteSection writes a small, fully buffered section. A section type may
// only be written once.
func (w *Writer) WriteSection(typ SectionType, version uint32, data []byte) error {
	sw, err := w.BeginSection(typ, version)
	if err != nil {
		return err
	}
	if _, err := sw.Write(data); err != nil {
		return err
	}
	return sw.End()
}

// AddFlags ORs flags into the header flags word.
func (w *Writer) AddFlags(flags uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errWriterClosed
	}
	w.flags |= flags
	return nil
}

// BeginSection starts streaming a section at the next aligned offset.
func (w *Writer) BeginSection(typ SectionType, version uint32) (*SectionWriter, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, errWriterClosed
	}
	if w.open != nil {
		return nil, errSectionOpen
	}
	if _, ok := w.seen[typ]; ok {
		return nil, errDuplicateType
	}
	if err := w.alignTo(align); err != nil {
		return nil, err
	}
	start, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	sw := &SectionWriter{w: w, typ: typ, version: version, start: start}
	w.open = sw
	w.seen[typ] = struct{}{}
	return sw, nil
}

func (sw *SectionWriter) active() error {
	if sw.ended {
		return errSectionEnded
	}
	if sw.w.open != sw {
		return errSectionInvalid
	}
	return nil
}

// Offset returns the current absolute file offset.
func (sw *SectionWriter) Offset() (uint64, error) {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if err := sw.active(); err != nil {
		return 0, err
	}
	pos, err := sw.w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	return uint64(pos), nil
}

// Align pads with zeros until the file position is a multiple of n.
func (sw *SectionWriter) Align(n int) error {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if err := sw.active(); err != nil {
		return err
	}
	return sw.w.alignTo(int64(n))
}

// Reserve advances the file position by n bytes without writing them. The
// skipped range reads back as zeros once Finalise sets the file size.
func (sw *SectionWriter) Reserve(n uint64) error {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if err := sw.active(); err != nil {
		return err
	}
	if n > uint64(1<<63-1) {
		return errors.New("wfc: reservation too large")
	}
	_, err := sw.w.f.Seek(int64(n), io.SeekCurrent)
	return err
}

func (sw *SectionWriter) Write(p []byte) (int, error) {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if err := sw.active(); err != nil {
		return 0, err
	}
	if err := writeFull(sw.w.f, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// End records the section in the directory.
func (sw *SectionWriter) End() error {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if err := sw.active(); err != nil {
		return err
	}
	pos, err := sw.w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if pos < sw.start {
		return errors.New("wfc: invalid file position")
	}

	sw.w.sections = append(sw.w.sections, Section{
		Type:    uint32(sw.typ),
		Version: sw.version,
		Offset:  uint64(sw.start),
		Size:    uint64(pos - sw.start),
	})
	sw.w.open = nil
	sw.ended = true
	return nil
}

// Finalise writes the section directory, sizes the file and patches the
// header. The writer must not be used afterwards.
func (w *Writer) Finalise() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errWriterClosed
	}
	if w.open != nil {
		return errSectionOpen
	}
	w.closed = true

	sort.Slice(w.sections, func(i, j int) bool {
		return w.sections[i].Type < w.sections[j].Type
	})

	if err := w.alignTo(align); err != nil {
		return err
	}
	dirOffset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	var secBuf [sectionSize]byte
	for _, s := range w.sections {
		encodeSection(secBuf[:], s)
		if err := writeFull(w.f, secBuf[:]); err != nil {
			return err
		}
	}

	fileSize, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := w.f.Truncate(fileSize); err != nil {
		return err
	}

	h := Header{
		Major:            CurrentMajor,
		Minor:            CurrentMinor,
		HeaderSize:       headerSize,
		SectionCount:     uint32(len(w.sections)),
		SectionDirOffset: uint64(dirOffset),
		FileSize:         uint64(fileSize),
		Flags:            w.flags,
	}
	copy(h.Magic[:], Magic)

	var hdrBuf [headerSize]byte
	encodeHeader(hdrBuf[:], h)
	if _, err := w.f.WriteAt(hdrBuf[:], 0); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *Writer) alignTo(n int64) error {
	if n <= 1 {
		return nil
	}
	pos, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if mod := pos % n; mod != 0 {
		return w.writeZeros(int(n - mod))
	}
	return nil
}

func (w *Writer) writeZeros(n int) error {
	for n > 0 {
		chunk := min(n, len(w.padBuf))
		if err := writeFull(w.f, w.padBuf[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

func writeFull(f *os.File, p []byte) error {
	for len(p) > 0 {
		n, err := f.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
