package wfc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// IndexVersion is the on-disk version of the dataset index section payload.
const IndexVersion uint32 = 1

const (
	indexHeaderSize = 48
	indexEntrySize  = 40
)

// IndexFlagSortedByName marks entries sorted by raw name bytes, which
// allows binary-search lookup.
const IndexFlagSortedByName uint32 = 1 << 0

// DType identifies the element encoding of a dataset.
// Values are stable; add new ones only.
type DType uint32

const (
	DTypeUnknown DType = iota
	DTypeI32
	DTypeF64
)

// Size is the element size in bytes, or 0 for unknown types.
func (d DType) Size() uint64 {
	switch d {
	case DTypeI32:
		return 4
	case DTypeF64:
		return 8
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case DTypeI32:
		return "i32"
	case DTypeF64:
		return "f64"
	default:
		return fmt.Sprintf("dtype(%d)", uint32(d))
	}
}

// DatasetSpec declares a dataset at creation time.
type DatasetSpec struct {
	Name  string
	DType DType
	Dims  []uint64
}

// DatasetInfo is the index record for one dataset. DataOff is an absolute
// file offset.
type DatasetInfo struct {
	Name     string
	DType    DType
	Dims     []uint64
	DataOff  uint64
	DataSize uint64
}

// NumElements returns the product of dims.
func (d DatasetInfo) NumElements() uint64 {
	n := uint64(1)
	for _, v := range d.Dims {
		n *= v
	}
	return n
}

var errBadIndex = fmt.Errorf("%w: dataset index", ErrCorruptFile)

// datasetBytes returns the payload size of a spec, checking for overflow.
func datasetBytes(s DatasetSpec) (uint64, error) {
	size := s.DType.Size()
	if size == 0 {
		return 0, fmt.Errorf("wfc: dataset %s: unknown dtype %d", s.Name, s.DType)
	}
	if len(s.Dims) == 0 {
		return 0, fmt.Errorf("wfc: dataset %s: rank must be at least 1", s.Name)
	}
	n := size
	for _, d := range s.Dims {
		if d == 0 {
			return 0, fmt.Errorf("wfc: dataset %s: zero-length axis in %v", s.Name, s.Dims)
		}
		hi, lo := bits.Mul64(n, d)
		if hi != 0 {
			return 0, fmt.Errorf("wfc: dataset %s: dims %v overflow", s.Name, s.Dims)
		}
		n = lo
	}
	return n, nil
}

// encodeIndex builds the index section payload. Entries are sorted by name.
//
// Layout: header | entries | dims (uint64) | strings
func encodeIndex(infos []DatasetInfo) ([]byte, error) {
	if len(infos) == 0 {
		return nil, errors.New("wfc: index requires at least one dataset")
	}
	recs := make([]DatasetInfo, len(infos))
	copy(recs, infos)
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })

	var (
		dims    []uint64
		strs    []byte
		dimOffs = make([]uint32, len(recs))
		nameOff = make([]uint32, len(recs))
	)
	for i, r := range recs {
		if r.Name == "" {
			return nil, errors.New("wfc: dataset name must be non-empty")
		}
		if i > 0 && recs[i-1].Name == r.Name {
			return nil, fmt.Errorf("wfc: duplicate dataset %s", r.Name)
		}
		nameOff[i] = uint32(len(strs))
		strs = append(strs, r.Name...)
		dimOffs[i] = uint32(len(dims))
		dims = append(dims, r.Dims...)
	}

	entriesOff := uint64(indexHeaderSize)
	dimsOff := entriesOff + uint64(len(recs))*indexEntrySize
	strsOff := dimsOff + uint64(len(dims))*8
	out := make([]byte, strsOff+uint64(len(strs)))

	binary.LittleEndian.PutUint32(out[0:4], IndexVersion)
	binary.LittleEndian.PutUint32(out[4:8], IndexFlagSortedByName)
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(recs)))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(dims)))
	binary.LittleEndian.PutUint64(out[16:24], entriesOff)
	binary.LittleEndian.PutUint64(out[24:32], dimsOff)
	binary.LittleEndian.PutUint64(out[32:40], strsOff)
	binary.LittleEndian.PutUint64(out[40:48], uint64(len(strs)))

	ep := entriesOff
	for i, r := range recs {
		e := out[ep : ep+indexEntrySize]
		binary.LittleEndian.PutUint32(e[0:4], nameOff[i])
		binary.LittleEndian.PutUint32(e[4:8], uint32(len(r.Name)))
		binary.LittleEndian.PutUint32(e[8:12], uint32(r.DType))
		binary.LittleEndian.PutUint32(e[12:16], uint32(len(r.Dims)))
		binary.LittleEndian.PutUint32(e[16:20], dimOffs[i])
		// 20..24 reserved
		binary.LittleEndian.PutUint64(e[24:32], r.DataOff)
		binary.LittleEndian.PutUint64(e[32:40], r.DataSize)
		ep += indexEntrySize
	}
	dp := dimsOff
	for _, d := range dims {
		binary.LittleEndian.PutUint64(out[dp:dp+8], d)
		dp += 8
	}
	copy(out[strsOff:], strs)
	return out, nil
}

// parseIndex decodes and validates an index section payload. dataSec bounds
// every dataset's byte range.
func parseIndex(sec []byte, dataSec Section) ([]DatasetInfo, error) {
	if len(sec) < indexHeaderSize {
		return nil, errBadIndex
	}
	version := binary.LittleEndian.Uint32(sec[0:4])
	if version != IndexVersion {
		return nil, fmt.Errorf("%w: index version %d", ErrCorruptFile, version)
	}
	count := uint64(binary.LittleEndian.Uint32(sec[8:12]))
	dimsCount := uint64(binary.LittleEndian.Uint32(sec[12:16]))
	entriesOff := binary.LittleEndian.Uint64(sec[16:24])
	dimsOff := binary.LittleEndian.Uint64(sec[24:32])
	strsOff := binary.LittleEndian.Uint64(sec[32:40])
	strsSize := binary.LittleEndian.Uint64(sec[40:48])

	secLen := uint64(len(sec))
	if count == 0 ||
		entriesOff > secLen || count*indexEntrySize > secLen-entriesOff ||
		dimsOff > secLen || dimsCount*8 > secLen-dimsOff ||
		strsOff > secLen || strsSize > secLen-strsOff {
		return nil, errBadIndex
	}

	infos := make([]DatasetInfo, count)
	for i := range infos {
		e := sec[entriesOff+uint64(i)*indexEntrySize:][:indexEntrySize]
		nOff := uint64(binary.LittleEndian.Uint32(e[0:4]))
		nLen := uint64(binary.LittleEndian.Uint32(e[4:8]))
		rank := uint64(binary.LittleEndian.Uint32(e[12:16]))
		dOff := uint64(binary.LittleEndian.Uint32(e[16:20]))
		if nOff+nLen > strsSize || dOff+rank > dimsCount || rank == 0 {
			return nil, errBadIndex
		}
		info := DatasetInfo{
			Name:     string(sec[strsOff+nOff : strsOff+nOff+nLen]),
			DType:    DType(binary.LittleEndian.Uint32(e[8:12])),
			Dims:     make([]uint64, rank),
			DataOff:  binary.LittleEndian.Uint64(e[24:32]),
			DataSize: binary.LittleEndian.Uint64(e[32:40]),
		}
		for d := range info.Dims {
			p := dimsOff + (dOff+uint64(d))*8
			info.Dims[d] = binary.LittleEndian.Uint64(sec[p : p+8])
		}
		want, err := datasetBytes(DatasetSpec{Name: info.Name, DType: info.DType, Dims: info.Dims})
		if err != nil || want != info.DataSize {
			return nil, fmt.Errorf("%w: dataset %s size", ErrCorruptFile, info.Name)
		}
		end := info.DataOff + info.DataSize
		if end < info.DataOff || info.DataOff < dataSec.Offset || end > dataSec.End() {
			return nil, fmt.Errorf("%w: dataset %s out of data section", ErrCorruptFile, info.Name)
		}
		infos[i] = info
	}
	if !sort.SliceIsSorted(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name }) {
		return nil, fmt.Errorf("%w: index not sorted", ErrCorruptFile)
	}
	return infos, nil
}

// find looks a dataset up by name in a sorted index. Leading slashes are
// not significant.
func find(infos []DatasetInfo, name string) (int, bool) {
	name = canonicalName(name)
	i := sort.Search(len(infos), func(i int) bool { return infos[i].Name >= name })
	if i < len(infos) && infos[i].Name == name {
		return i, true
	}
	return -1, false
}

func canonicalName(name string) string {
	return "/" + strings.TrimLeft(name, "/")
}
