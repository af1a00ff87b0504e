package wfn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samcharles93/wfnconv/internal/logger"
)

// Options tunes a Transcoder.
type Options struct {
	// Workers bounds how many chunks are in flight. Values below 2 process
	// chunks one at a time in ascending k order.
	Workers int

	SpinLayout SpinLayout

	Logger logger.Logger

	// OnChunk is called after each chunk completes. It may be called from
	// several goroutines when Workers > 1.
	OnChunk func(ChunkEvent)
}

// ChunkEvent describes a completed chunk.
type ChunkEvent struct {
	Op      string
	Chunk   Chunk
	Records int
}

// Stats summarises one run.
type Stats struct {
	Chunks   int
	GVectors uint64
	Records  int
	Elapsed  time.Duration
}

// Transcoder converts between a store and per-chunk records for one shape.
type Transcoder struct {
	shape Shape
	table OffsetTable
	opts  Options
	log   logger.Logger
}

// NewTranscoder plans the offset table up front so header and overflow
// errors surface before any I/O.
func NewTranscoder(shape Shape, opts Options) (*Transcoder, error) {
	table, err := Plan(shape)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	if opts.SpinLayout == SpinLegacy && shape.SpinMultiplicity() > 1 {
		log.Warn("legacy spin layout keeps only spin plane 0 in records", "ns", shape.SpinMultiplicity())
	}
	return &Transcoder{shape: shape, table: table, opts: opts, log: log}, nil
}

// Shape returns the shape the transcoder was built for.
func (t *Transcoder) Shape() Shape {
	return t.shape
}

// Table returns the offset table planned by NewTranscoder.
func (t *Transcoder) Table() OffsetTable {
	return t.table
}

// SpinLayout returns the record layout the transcoder reads and writes.
func (t *Transcoder) SpinLayout() SpinLayout {
	return t.opts.SpinLayout
}

// OpenDatasets opens the G-vector and coefficient datasets of store and
// checks their dims against the shape.
func (t *Transcoder) OpenDatasets(store Store) (Dataset[int32], Dataset[float64], error) {
	gds, err := store.OpenInt32(DatasetGVectors)
	if err != nil {
		return nil, nil, storeErr(fmt.Errorf("open %s: %w", DatasetGVectors, err))
	}
	if err := checkDims(DatasetGVectors, gds.Dims(), t.shape.GVectorDims()); err != nil {
		_ = gds.Close()
		return nil, nil, err
	}
	cds, err := store.OpenFloat64(DatasetCoefficients)
	if err != nil {
		_ = gds.Close()
		return nil, nil, storeErr(fmt.Errorf("open %s: %w", DatasetCoefficients, err))
	}
	if err := checkDims(DatasetCoefficients, cds.Dims(), t.shape.CoefficientDims()); err != nil {
		_ = gds.Close()
		_ = cds.Close()
		return nil, nil, err
	}
	return gds, cds, nil
}

// ReadChunk reads and decodes k-point k from the opened datasets.
func (t *Transcoder) ReadChunk(gds Dataset[int32], cds Dataset[float64], k int) (GVectorChunk, CoefficientChunk, error) {
	ng := int(t.table.Chunk(k).GCount)
	nb, ns := t.shape.NumBands, t.shape.SpinMultiplicity()

	gflat := make([]int32, 3*ng)
	if err := gds.ReadHyperslab(t.table.GVectorSelection(k), gflat); err != nil {
		return nil, CoefficientChunk{}, storeErr(fmt.Errorf("read %s: %w", DatasetGVectors, err))
	}
	g, err := DecodeGVectors(gflat, ng)
	if err != nil {
		return nil, CoefficientChunk{}, err
	}

	cflat := make([]float64, 2*nb*ns*ng)
	if err := cds.ReadHyperslab(t.table.CoefficientSelection(k), cflat); err != nil {
		return nil, CoefficientChunk{}, storeErr(fmt.Errorf("read %s: %w", DatasetCoefficients, err))
	}
	c, err := DecodeCoefficients(cflat, nb, ns, ng)
	if err != nil {
		return nil, CoefficientChunk{}, err
	}
	return g, c, nil
}

// WriteChunk encodes k-point k and writes it into the opened datasets.
func (t *Transcoder) WriteChunk(gds Dataset[int32], cds Dataset[float64], k int, g GVectorChunk, c CoefficientChunk) error {
	ng := int(t.table.Chunk(k).GCount)
	if len(g) != ng {
		return fmt.Errorf("%w: %d G-vectors, want %d", ErrShapeMismatch, len(g), ng)
	}
	if c.NumBands != t.shape.NumBands || c.SpinMult != t.shape.SpinMultiplicity() || c.GCount != ng {
		return fmt.Errorf("%w: coefficient chunk %dx%dx%d, want %dx%dx%d", ErrShapeMismatch,
			c.NumBands, c.SpinMult, c.GCount, t.shape.NumBands, t.shape.SpinMultiplicity(), ng)
	}
	if err := gds.WriteHyperslab(t.table.GVectorSelection(k), EncodeGVectors(g)); err != nil {
		return storeErr(fmt.Errorf("write %s: %w", DatasetGVectors, err))
	}
	cflat, err := EncodeCoefficients(c)
	if err != nil {
		return err
	}
	if err := cds.WriteHyperslab(t.table.CoefficientSelection(k), cflat); err != nil {
		return storeErr(fmt.Errorf("write %s: %w", DatasetCoefficients, err))
	}
	return nil
}

// Export reads every chunk from store and hands it to w.
func (t *Transcoder) Export(ctx context.Context, store Store, w RecordWriter) (stats Stats, err error) {
	start := time.Now()
	gds, cds, err := t.OpenDatasets(store)
	if err != nil {
		return Stats{}, err
	}
	defer func() {
		err = errors.Join(err, closeErr(gds.Close()), closeErr(cds.Close()))
	}()

	var records atomic.Int64
	err = t.forEachChunk(ctx, func(k int) error {
		g, c, err := t.ReadChunk(gds, cds, k)
		if err != nil {
			return chunkErr("export", k, -1, err)
		}
		if err := w.WriteGVectors(k, g); err != nil {
			return chunkErr("export", k, -1, storeErr(err))
		}
		for b := 0; b < t.shape.NumBands; b++ {
			if err := w.WriteCoefficients(k, b, t.opts.SpinLayout.BandRecord(c, b)); err != nil {
				return chunkErr("export", k, b, storeErr(err))
			}
		}
		n := 1 + t.shape.NumBands
		records.Add(int64(n))
		t.chunkDone("export", k, n)
		return nil
	})

	stats = t.stats(start, int(records.Load()))
	if err == nil {
		t.log.Info("export complete", "chunks", stats.Chunks, "gvecs", stats.GVectors, "records", stats.Records, "elapsed", stats.Elapsed)
	}
	return stats, err
}

// Import creates the G-vector and coefficient datasets in store and fills
// them from r.
func (t *Transcoder) Import(ctx context.Context, store WritableStore, r RecordReader) (stats Stats, err error) {
	start := time.Now()
	gds, err := store.CreateInt32(DatasetGVectors, t.shape.GVectorDims())
	if err != nil {
		return Stats{}, storeErr(fmt.Errorf("create %s: %w", DatasetGVectors, err))
	}
	defer func() { err = errors.Join(err, closeErr(gds.Close())) }()

	cds, err := store.CreateFloat64(DatasetCoefficients, t.shape.CoefficientDims())
	if err != nil {
		return Stats{}, storeErr(fmt.Errorf("create %s: %w", DatasetCoefficients, err))
	}
	defer func() { err = errors.Join(err, closeErr(cds.Close())) }()

	nb, ns := t.shape.NumBands, t.shape.SpinMultiplicity()
	layout := t.opts.SpinLayout

	var records atomic.Int64
	err = t.forEachChunk(ctx, func(k int) error {
		ng := int(t.table.Chunk(k).GCount)
		g, err := r.ReadGVectors(k, ng)
		if err != nil {
			return chunkErr("import", k, -1, storeErr(err))
		}
		c := NewCoefficientChunk(nb, ns, ng)
		for b := 0; b < nb; b++ {
			rec, err := r.ReadCoefficients(k, b, layout.RecordLen(ns, ng))
			if err != nil {
				return chunkErr("import", k, b, storeErr(err))
			}
			if err := layout.FillBand(c, b, rec); err != nil {
				return chunkErr("import", k, b, err)
			}
		}
		if err := t.WriteChunk(gds, cds, k, g, c); err != nil {
			return chunkErr("import", k, -1, err)
		}
		n := 1 + nb
		records.Add(int64(n))
		t.chunkDone("import", k, n)
		return nil
	})

	stats = t.stats(start, int(records.Load()))
	if err == nil {
		t.log.Info("import complete", "chunks", stats.Chunks, "gvecs", stats.GVectors, "records", stats.Records, "elapsed", stats.Elapsed)
	}
	return stats, err
}

func (t *Transcoder) chunkDone(op string, k, records int) {
	c := t.table.Chunk(k)
	t.log.Debug("chunk done", "op", op, "k", k, "ng", c.GCount, "offset", c.GOffset)
	if t.opts.OnChunk != nil {
		t.opts.OnChunk(ChunkEvent{Op: op, Chunk: c, Records: records})
	}
}

func (t *Transcoder) stats(start time.Time, records int) Stats {
	return Stats{
		Chunks:   records / (1 + t.shape.NumBands),
		GVectors: t.table.TotalGVecs(),
		Records:  records,
		Elapsed:  time.Since(start),
	}
}

// forEachChunk runs fn for every k-point. With one worker chunks run in
// ascending k order; otherwise a bounded pool drains the table. The first
// failure stops further chunks from starting.
func (t *Transcoder) forEachChunk(ctx context.Context, fn func(k int) error) error {
	n := t.table.Len()
	workers := min(max(t.opts.Workers, 1), n)

	if workers == 1 {
		for k := range n {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(k); err != nil {
				return err
			}
		}
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	jobs := make(chan int)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := range jobs {
				if ctx.Err() != nil {
					continue
				}
				if err := fn(k); err != nil {
					once.Do(func() {
						firstErr = err
						cancel()
					})
				}
			}
		}()
	}

feed:
	for k := range n {
		select {
		case jobs <- k:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func closeErr(err error) error {
	if err == nil {
		return nil
	}
	return storeErr(fmt.Errorf("close: %w", err))
}
