package wfc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"sync"

	"golang.org/x/sys/unix"
)

// File is an open WFC container.
//
// Read-only files are memory-mapped when the platform allows it and fall
// back to positioned reads otherwise. Files opened for writing always use
// positioned I/O, so dataset writes from several goroutines are safe as long
// as their selections do not overlap.
type File struct {
	mu       sync.RWMutex
	f        *os.File
	data     []byte
	mmapped  bool
	ra       io.ReaderAt
	wa       io.WriterAt
	header   Header
	sections []Section
	datasets []DatasetInfo
	closed   bool
}

// Create lays out a new file holding the given datasets, zero-filled, and
// returns it opened for reading and writing. An existing file at path is
// replaced.
func Create(path string, specs []DatasetSpec) (_ *File, err error) {
	if len(specs) == 0 {
		return nil, errors.New("wfc: create requires at least one dataset")
	}
	sizes := make([]uint64, len(specs))
	for i, s := range specs {
		if sizes[i], err = datasetBytes(s); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(path)
		}
	}()

	w, err := NewWriter(f)
	if err != nil {
		return nil, err
	}
	sw, err := w.BeginSection(SectionDatasetData, 1)
	if err != nil {
		return nil, err
	}
	infos := make([]DatasetInfo, len(specs))
	for i, s := range specs {
		if err := sw.Align(align); err != nil {
			return nil, err
		}
		off, err := sw.Offset()
		if err != nil {
			return nil, err
		}
		if err := sw.Reserve(sizes[i]); err != nil {
			return nil, err
		}
		infos[i] = DatasetInfo{
			Name:     canonicalName(s.Name),
			DType:    s.DType,
			Dims:     append([]uint64(nil), s.Dims...),
			DataOff:  off,
			DataSize: sizes[i],
		}
	}
	if err := sw.End(); err != nil {
		return nil, err
	}

	index, err := encodeIndex(infos)
	if err != nil {
		return nil, err
	}
	if err := w.WriteSection(SectionDatasetIndex, IndexVersion, index); err != nil {
		return nil, err
	}
	if err := w.Finalise(); err != nil {
		return nil, err
	}
	return openFile(f, true)
}

// Open opens path read-only.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	size := st.Size()
	if size < headerSize || size > math.MaxInt {
		_ = f.Close()
		return nil, ErrCorruptFile
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		// Fall back to positioned reads on the descriptor.
		return openFile(f, false)
	}
	_ = f.Close()

	wf := &File{data: data, mmapped: true, ra: bytes.NewReader(data)}
	if err := wf.load(int64(len(data))); err != nil {
		_ = unix.Munmap(data)
		return nil, err
	}
	return wf, nil
}

// OpenRW opens an existing file for reading and writing dataset contents.
// The layout itself is fixed at creation time.
func OpenRW(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return openFile(f, true)
}

func openFile(f *os.File, writable bool) (*File, error) {
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	wf := &File{f: f, ra: f}
	if writable {
		wf.wa = f
	}
	if err := wf.load(st.Size()); err != nil {
		_ = f.Close()
		return nil, err
	}
	return wf, nil
}

// load reads and validates the header, section directory and dataset index.
func (f *File) load(size int64) error {
	if size < headerSize {
		return ErrCorruptFile
	}
	var hb [headerSize]byte
	if err := readFullAt(f.ra, hb[:], 0); err != nil {
		return err
	}
	hdr, _ := decodeHeader(hb[:])
	if !hdr.Valid() {
		return ErrInvalidMagic
	}
	if !hdr.Compatible() {
		return ErrUnsupportedMajor
	}
	fileSize := uint64(size)
	if hdr.FileSize != fileSize || uint64(hdr.HeaderSize) > fileSize {
		return ErrCorruptFile
	}

	dirStart := hdr.SectionDirOffset
	dirEnd := dirStart + uint64(hdr.SectionCount)*sectionSize
	if dirStart < uint64(hdr.HeaderSize) || dirEnd < dirStart || dirEnd > fileSize {
		return ErrCorruptFile
	}
	dir := make([]byte, dirEnd-dirStart)
	if err := readFullAt(f.ra, dir, int64(dirStart)); err != nil {
		return err
	}

	sections := make([]Section, hdr.SectionCount)
	for i := range sections {
		s, _ := decodeSection(dir[i*sectionSize:])
		end := s.Offset + s.Size
		switch {
		case end < s.Offset || end > fileSize:
			return fmt.Errorf("%w: section %d out of bounds", ErrCorruptFile, i)
		case s.Offset < uint64(hdr.HeaderSize):
			return fmt.Errorf("%w: section %d overlaps header", ErrCorruptFile, i)
		case rangesOverlap(s.Offset, end, dirStart, dirEnd):
			return fmt.Errorf("%w: section %d overlaps section directory", ErrCorruptFile, i)
		case s.Offset%align != 0:
			return fmt.Errorf("%w: section %d offset not %d-byte aligned", ErrCorruptFile, i, align)
		}
		sections[i] = s
	}

	dataSec, ok := findSection(sections, SectionDatasetData)
	if !ok {
		return fmt.Errorf("%w: missing dataset data section", ErrCorruptFile)
	}
	indexSec, ok := findSection(sections, SectionDatasetIndex)
	if !ok {
		return fmt.Errorf("%w: missing dataset index section", ErrCorruptFile)
	}
	if rangesOverlap(dataSec.Offset, dataSec.End(), indexSec.Offset, indexSec.End()) {
		return fmt.Errorf("%w: index overlaps data", ErrCorruptFile)
	}
	raw := make([]byte, indexSec.Size)
	if err := readFullAt(f.ra, raw, int64(indexSec.Offset)); err != nil {
		return err
	}
	datasets, err := parseIndex(raw, dataSec)
	if err != nil {
		return err
	}
	if err := checkDisjoint(datasets); err != nil {
		return err
	}

	f.header = hdr
	f.sections = sections
	f.datasets = datasets
	return nil
}

func findSection(sections []Section, t SectionType) (Section, bool) {
	for _, s := range sections {
		if SectionType(s.Type) == t {
			return s, true
		}
	}
	return Section{}, false
}

func checkDisjoint(infos []DatasetInfo) error {
	byOff := append([]DatasetInfo(nil), infos...)
	sort.Slice(byOff, func(i, j int) bool { return byOff[i].DataOff < byOff[j].DataOff })
	for i := 1; i < len(byOff); i++ {
		prev := byOff[i-1]
		if prev.DataOff+prev.DataSize > byOff[i].DataOff {
			return fmt.Errorf("%w: datasets %s and %s overlap", ErrCorruptFile, prev.Name, byOff[i].Name)
		}
	}
	return nil
}

func readFullAt(r io.ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: short read at %d", ErrCorruptFile, off)
	}
	return err
}

// Header returns a copy of the file header.
func (f *File) Header() Header {
	return f.header
}

// Writable reports whether dataset writes are allowed.
func (f *File) Writable() bool {
	return f.wa != nil
}

// Datasets lists the datasets in name order.
func (f *File) Datasets() []DatasetInfo {
	out := make([]DatasetInfo, len(f.datasets))
	for i, d := range f.datasets {
		d.Dims = append([]uint64(nil), d.Dims...)
		out[i] = d
	}
	return out
}

// Dataset looks up a dataset by name. A leading slash is optional.
func (f *File) Dataset(name string) (*Dataset, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrClosed
	}
	i, ok := find(f.datasets, name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, name)
	}
	return &Dataset{file: f, info: f.datasets[i]}, nil
}

// Sync flushes written data to stable storage.
func (f *File) Sync() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return ErrClosed
	}
	if f.f == nil || f.wa == nil {
		return nil
	}
	return f.f.Sync()
}

// Close releases the mapping or descriptor. It is safe to call more than
// once.
func (f *File) Close() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	var err error
	if f.mmapped {
		err = unix.Munmap(f.data)
		f.data = nil
	}
	if f.f != nil {
		err = errors.Join(err, f.f.Close())
		f.f = nil
	}
	f.ra, f.wa = nil, nil
	return err
}
