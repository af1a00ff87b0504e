package wfc

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Dataset is a handle to one dataset of an open File. Handles stay valid
// until the file is closed.
type Dataset struct {
	file *File
	info DatasetInfo
}

func (d *Dataset) Name() string { return d.info.Name }

func (d *Dataset) DType() DType { return d.info.DType }

// Dims returns a copy of the dataset extents.
func (d *Dataset) Dims() []uint64 {
	return append([]uint64(nil), d.info.Dims...)
}

// ReadInt32 reads the selection into dst, which must hold exactly the
// selected number of elements in row-major order.
func (d *Dataset) ReadInt32(offset, count []uint64, dst []int32) error {
	return d.read(DTypeI32, offset, count, len(dst), func(raw []byte, at uint64) {
		out := dst[at:]
		for i := range len(raw) / 4 {
			out[i] = int32(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	})
}

// WriteInt32 writes src into the selection.
func (d *Dataset) WriteInt32(offset, count []uint64, src []int32) error {
	return d.write(DTypeI32, offset, count, len(src), func(raw []byte, at uint64) {
		in := src[at:]
		for i := range len(raw) / 4 {
			binary.LittleEndian.PutUint32(raw[4*i:], uint32(in[i]))
		}
	})
}

// ReadFloat64 reads the selection into dst.
func (d *Dataset) ReadFloat64(offset, count []uint64, dst []float64) error {
	return d.read(DTypeF64, offset, count, len(dst), func(raw []byte, at uint64) {
		out := dst[at:]
		for i := range len(raw) / 8 {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
		}
	})
}

// WriteFloat64 writes src into the selection.
func (d *Dataset) WriteFloat64(offset, count []uint64, src []float64) error {
	return d.write(DTypeF64, offset, count, len(src), func(raw []byte, at uint64) {
		in := src[at:]
		for i := range len(raw) / 8 {
			binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(in[i]))
		}
	})
}

func (d *Dataset) read(dt DType, offset, count []uint64, n int, decode func(raw []byte, at uint64)) error {
	if err := d.check(dt, offset, count, n); err != nil {
		return err
	}
	f := d.file
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrClosed
	}

	size := dt.Size()
	var scratch []byte
	return Runs(d.info.Dims, offset, count, func(elemOff, bufOff, run uint64) error {
		if scratch == nil {
			scratch = make([]byte, run*size)
		}
		if err := readFullAt(f.ra, scratch, int64(d.info.DataOff+elemOff*size)); err != nil {
			return fmt.Errorf("wfc: read %s: %w", d.info.Name, err)
		}
		decode(scratch, bufOff)
		return nil
	})
}

func (d *Dataset) write(dt DType, offset, count []uint64, n int, encode func(raw []byte, at uint64)) error {
	if err := d.check(dt, offset, count, n); err != nil {
		return err
	}
	f := d.file
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrClosed
	}
	if f.wa == nil {
		return ErrReadOnly
	}

	size := dt.Size()
	var scratch []byte
	return Runs(d.info.Dims, offset, count, func(elemOff, bufOff, run uint64) error {
		if scratch == nil {
			scratch = make([]byte, run*size)
		}
		encode(scratch, bufOff)
		if _, err := f.wa.WriteAt(scratch, int64(d.info.DataOff+elemOff*size)); err != nil {
			return fmt.Errorf("wfc: write %s: %w", d.info.Name, err)
		}
		return nil
	})
}

func (d *Dataset) check(dt DType, offset, count []uint64, n int) error {
	if d.info.DType != dt {
		return fmt.Errorf("%w: %s is %s, not %s", ErrDTypeMismatch, d.info.Name, d.info.DType, dt)
	}
	want, err := checkSelection(d.info.Dims, offset, count)
	if err != nil {
		return fmt.Errorf("%s: %w", d.info.Name, err)
	}
	if want != uint64(n) {
		return fmt.Errorf("%w: %s selection holds %d elements, buffer %d", ErrBufferSize, d.info.Name, want, n)
	}
	return nil
}
