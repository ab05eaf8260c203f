package kvadrere

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxRecordSize bounds a single input line.
const DefaultMaxRecordSize = 64 << 20

var errRecordTooLarge = errors.New("record exceeds the maximum size")

// BatchStats summarizes a batch run.
type BatchStats struct {
	RunID   string `json:"run_id"`
	Records int64  `json:"records"`
	Failed  int64  `json:"failed"`
	Slices  int64  `json:"slices"`
}

// Batch tiles newline delimited GeoJSON records. Records are independent:
// a record that fails is logged and counted, the others carry on.
type Batch struct {
	Tiler          *Tiler
	Zoom           int
	Workers        int
	Logger         *zap.Logger
	FeatureOptions []FeatureOption
	// MaxRecordSize defaults to DefaultMaxRecordSize. Longer lines are
	// skipped and counted as failed records.
	MaxRecordSize int
}

type record struct {
	line int
	data []byte
}

// Run reads records from r and writes one "quadkey<TAB>feature" line per
// slice to w. Output order across records is not defined.
func (b *Batch) Run(ctx context.Context, r io.Reader, w io.Writer) (BatchStats, error) {
	stats := BatchStats{RunID: ksuid.New().String()}

	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("run_id", stats.RunID), zap.Int("zoom", b.Zoom))

	tiler := b.Tiler
	if tiler == nil {
		tiler = NewTiler()
	}

	workers := b.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var (
		records, failed, slices atomic.Int64
		mu                      sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	logger.Info("batch started", zap.Int("workers", workers))

	limit := b.MaxRecordSize
	if limit <= 0 {
		limit = DefaultMaxRecordSize
	}
	lines := &lineReader{r: bufio.NewReaderSize(r, 64*1024), limit: limit}

	var rerr error
	line := 0
	for gctx.Err() == nil {
		data, err := lines.next()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if errors.Is(err, errRecordTooLarge) {
			records.Add(1)
			failed.Add(1)
			logger.Error("record tiling failed", zap.Int("line", line), zap.Error(err))
			continue
		}
		if err != nil {
			rerr = fmt.Errorf("reading records: %w", err)
			break
		}

		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			continue
		}

		rec := record{line: line, data: bytes.Clone(data)}
		records.Add(1)

		g.Go(func() error {
			out, n, err := b.tileRecord(gctx, tiler, rec)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				logger.Error("record tiling failed", recordFields(rec, err)...)
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			if _, err := w.Write(out); err != nil {
				return fmt.Errorf("writing slices of line %d: %w", rec.line, err)
			}
			slices.Add(int64(n))
			return nil
		})
	}

	werr := g.Wait()

	stats.Records = records.Load()
	stats.Failed = failed.Load()
	stats.Slices = slices.Load()

	if rerr != nil {
		return stats, rerr
	}
	if werr != nil {
		return stats, werr
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	logger.Info("batch finished",
		zap.Int64("records", stats.Records),
		zap.Int64("failed", stats.Failed),
		zap.Int64("slices", stats.Slices),
	)
	return stats, nil
}

// lineReader yields newline delimited records. A line longer than limit is
// drained and reported as errRecordTooLarge so reading can carry on.
type lineReader struct {
	r     *bufio.Reader
	limit int
	buf   []byte
}

func (lr *lineReader) next() ([]byte, error) {
	lr.buf = lr.buf[:0]
	n, tooLarge := 0, false
	for {
		chunk, err := lr.r.ReadSlice('\n')
		n += len(chunk)
		if !tooLarge {
			// room for a trailing \r\n
			if len(lr.buf)+len(chunk) > lr.limit+2 {
				tooLarge = true
				lr.buf = lr.buf[:0]
			} else {
				lr.buf = append(lr.buf, chunk...)
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if n == 0 {
				return nil, io.EOF
			}
		default:
			return nil, err
		}

		line := bytes.TrimRight(lr.buf, "\r\n")
		if tooLarge || len(line) > lr.limit {
			return nil, errRecordTooLarge
		}
		return line, nil
	}
}

func (b *Batch) tileRecord(ctx context.Context, tiler *Tiler, rec record) ([]byte, int, error) {
	f, err := DecodeFeature(rec.data)
	if err != nil {
		return nil, 0, err
	}

	features, err := tiler.TileFeature(ctx, f, b.Zoom, b.FeatureOptions...)
	if err != nil {
		return nil, 0, err
	}

	var buf bytes.Buffer
	for _, tf := range features {
		data, err := tf.Feature.MarshalJSON()
		if err != nil {
			return nil, 0, fmt.Errorf("encoding slice %s: %w", tf.Key, err)
		}
		buf.WriteString(tf.Key.String())
		buf.WriteByte('\t')
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), len(features), nil
}

func recordFields(rec record, err error) []zap.Field {
	fields := []zap.Field{zap.Int("line", rec.line), zap.Error(err)}
	var tileErr *TileError
	if errors.As(err, &tileErr) {
		fields = append(fields, zap.String("quadkey", tileErr.Key.String()), zap.Int("depth", tileErr.Depth))
	}
	return fields
}
