package wfn

import (
	"fmt"
	"strings"
)

// SpinLayout selects how a band's spin planes map onto its coefficient record.
type SpinLayout int

const (
	// SpinPlanes writes every spin plane of a band into its record, plane 0
	// first. Lossless for any spin multiplicity.
	SpinPlanes SpinLayout = iota

	// SpinLegacy reproduces the historic read_wfn/write_wfn transfer: a record
	// holds gCount values read at band*gCount*spinMult + g, i.e. spin plane 0
	// only. On import the remaining planes are left zero.
	SpinLegacy
)

// ParseSpinLayout accepts "planes" or "legacy", case-insensitively. An empty
// string selects SpinPlanes.
func ParseSpinLayout(s string) (SpinLayout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "planes":
		return SpinPlanes, nil
	case "legacy":
		return SpinLegacy, nil
	default:
		return 0, fmt.Errorf("unknown spin layout %q (want planes or legacy)", s)
	}
}

func (l SpinLayout) String() string {
	switch l {
	case SpinPlanes:
		return "planes"
	case SpinLegacy:
		return "legacy"
	default:
		return fmt.Sprintf("SpinLayout(%d)", int(l))
	}
}

// RecordLen is the number of lines in one (k-point, band) coefficient record.
func (l SpinLayout) RecordLen(spinMult, gCount int) int {
	if l == SpinLegacy {
		return gCount
	}
	return spinMult * gCount
}

// BandRecord returns the record values for one band of c.
func (l SpinLayout) BandRecord(c CoefficientChunk, band int) []complex128 {
	if l == SpinLegacy {
		out := make([]complex128, c.GCount)
		base := band * c.GCount * c.SpinMult
		copy(out, c.Values[base:base+c.GCount])
		return out
	}
	out := make([]complex128, c.SpinMult*c.GCount)
	copy(out, c.Band(band))
	return out
}

// FillBand stores a record into band of c.
func (l SpinLayout) FillBand(c CoefficientChunk, band int, rec []complex128) error {
	if want := l.RecordLen(c.SpinMult, c.GCount); len(rec) != want {
		return fmt.Errorf("%w: band %d record holds %d values, want %d", ErrShapeMismatch, band, len(rec), want)
	}
	if l == SpinLegacy {
		base := band * c.GCount * c.SpinMult
		copy(c.Values[base:base+c.GCount], rec)
		return nil
	}
	copy(c.Band(band), rec)
	return nil
}
