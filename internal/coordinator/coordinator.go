// Package coordinator implements ScanCoordinator: it splits a scan range
// into bounded segments and runs them concurrently while preserving
// per-contract cursor semantics.
package coordinator

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"chainsweep/internal/progress"
	"chainsweep/internal/scanner"
)

// Mode selects which of the two correct segment-scheduling strategies the
// Coordinator uses.
type Mode int

const (
	// ModeWatermark runs segments concurrently; the durable cursor only
	// advances to the highest height for which every earlier segment has
	// also completed. This is the preferred strategy.
	ModeWatermark Mode = iota
	// ModeSequential runs segments one at a time. Simpler, equivalent
	// safety, sacrifices throughput.
	ModeSequential
)

// Coordinator partitions [start, end] into contiguous segments of width
// SegmentWidth and drives each with its own Scanner.
type Coordinator struct {
	scanner      *scanner.Scanner
	store        progress.Store
	segmentWidth uint64
	mode         Mode
	log          *logrus.Entry
}

func New(sc *scanner.Scanner, store progress.Store, segmentWidth uint64, mode Mode) *Coordinator {
	if segmentWidth == 0 {
		segmentWidth = 1000
	}
	return &Coordinator{
		scanner:      sc,
		store:        store,
		segmentWidth: segmentWidth,
		mode:         mode,
		log:          logrus.WithField("component", "coordinator"),
	}
}

type segment struct {
	from, to uint64
}

func planSegments(start, end, width uint64) []segment {
	if start > end {
		return nil
	}
	var segments []segment
	for from := start; from <= end; {
		to := from + width - 1
		if to > end {
			to = end
		}
		segments = append(segments, segment{from: from, to: to})
		if to == end {
			break
		}
		from = to + 1
	}
	return segments
}

// Run scans [start, end] for contract, returning the total number of events
// persisted and the highest durably-advanced height. On a segment failure
// it still advances the cursor to the lowest safe height across surviving
// segments before returning the error.
func (c *Coordinator) Run(ctx context.Context, contract string, start, end uint64) (int, uint64, error) {
	segments := planSegments(start, end, c.segmentWidth)
	if len(segments) == 0 {
		return 0, start - 1, nil
	}

	if c.mode == ModeSequential {
		return c.runSequential(ctx, contract, segments)
	}
	return c.runWatermark(ctx, contract, segments)
}

func (c *Coordinator) runSequential(ctx context.Context, contract string, segments []segment) (int, uint64, error) {
	total := 0
	lastSafe := segments[0].from - 1

	advance := func(ctx context.Context, actualTo uint64) error {
		return c.store.AdvanceCursor(ctx, contract, actualTo)
	}

	for _, seg := range segments {
		n, safe, err := c.scanner.RunSegment(ctx, seg.from, seg.to, advance)
		total += n
		lastSafe = safe
		if err != nil {
			return total, lastSafe, err
		}
	}
	return total, lastSafe, nil
}

// watermark accumulates per-segment progress and only calls through to the
// durable store once every segment with a lower index has fully completed
// ("watermark strategy").
type watermark struct {
	mu       sync.Mutex
	latest   []uint64
	done     []bool
	advanced int
	store    progress.Store
	contract string
}

func (w *watermark) report(ctx context.Context, idx int, actualTo uint64, done bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.latest[idx] = actualTo
	if done {
		w.done[idx] = true
	}

	if idx != w.advanced {
		// Not the gating segment yet; buffer silently.
		return nil
	}

	if err := w.store.AdvanceCursor(ctx, w.contract, actualTo); err != nil {
		return err
	}
	if !done {
		return nil
	}

	w.advanced++
	for w.advanced < len(w.done) && w.done[w.advanced] {
		if err := w.store.AdvanceCursor(ctx, w.contract, w.latest[w.advanced]); err != nil {
			return err
		}
		w.advanced++
	}
	return nil
}

// lowestSafe returns the highest height guaranteed durable: every segment
// below `advanced` is fully flushed, so that boundary is the answer even if
// later segments are still running or failed.
func (w *watermark) lowestSafe() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.advanced == 0 {
		return 0
	}
	return w.latest[w.advanced-1]
}

func (c *Coordinator) runWatermark(ctx context.Context, contract string, segments []segment) (int, uint64, error) {
	wm := &watermark{
		latest:   make([]uint64, len(segments)),
		done:     make([]bool, len(segments)),
		store:    c.store,
		contract: contract,
	}
	for i, seg := range segments {
		wm.latest[i] = seg.from - 1
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]struct {
		n    int
		safe uint64
		err  error
	}, len(segments))

	var wg sync.WaitGroup
	var firstErrMu sync.Mutex
	var firstErr error

	for i, seg := range segments {
		wg.Add(1)
		go func(i int, seg segment) {
			defer wg.Done()

			advance := func(ctx context.Context, actualTo uint64) error {
				return wm.report(ctx, i, actualTo, false)
			}

			n, safe, err := c.scanner.RunSegment(wctx, seg.from, seg.to, advance)
			results[i].n, results[i].safe, results[i].err = n, safe, err

			if err == nil {
				if werr := wm.report(wctx, i, safe, true); werr != nil && firstErr == nil {
					firstErrMu.Lock()
					if firstErr == nil {
						firstErr = werr
					}
					firstErrMu.Unlock()
					cancel()
				}
				return
			}

			c.log.WithError(err).WithFields(logrus.Fields{
				"contract": contract, "segment_from": seg.from, "segment_to": seg.to,
			}).Error("segment aborted")

			firstErrMu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			firstErrMu.Unlock()
			cancel()
		}(i, seg)
	}

	wg.Wait()

	total := 0
	for _, r := range results {
		total += r.n
	}

	return total, wm.lowestSafe(), firstErr
}
