package wfn

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidHeader      = errors.New("invalid header")
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrShapeMismatch      = errors.New("shape mismatch")
	ErrStoreIO            = errors.New("store i/o error")
	ErrRecordFormat       = errors.New("record format error")
)

// ChunkError reports a failure while transferring one chunk. Band is -1 when
// the failure concerns the k-point's G-vector record or the chunk as a whole.
type ChunkError struct {
	KPoint int
	Band   int
	Op     string
	Err    error
}

func (e *ChunkError) Error() string {
	if e.Band < 0 {
		return fmt.Sprintf("%s k-point %d: %v", e.Op, e.KPoint, e.Err)
	}
	return fmt.Sprintf("%s k-point %d band %d: %v", e.Op, e.KPoint, e.Band, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

func chunkErr(op string, k, band int, err error) error {
	if err == nil {
		return nil
	}
	var ce *ChunkError
	if errors.As(err, &ce) {
		return err
	}
	return &ChunkError{KPoint: k, Band: band, Op: op, Err: err}
}

// storeErr tags err as a store failure unless it already carries a kind.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrStoreIO, ErrShapeMismatch, ErrRecordFormat, ErrArithmeticOverflow, ErrInvalidHeader} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrStoreIO, err)
}
