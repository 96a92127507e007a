package snapshot

import (
	"context"
	"fmt"
	"sync"

	"github.com/zde37/ringkv/pkg"
)

// Source returns the full map to persist.
type Source func(ctx context.Context) (map[string][]byte, error)

// Writer persists snapshots in the background. Triggers are coalesced: while
// a write is in progress at most one more is queued, and it always reads the
// latest state from the source.
type Writer struct {
	path   string
	nodeID string
	source Source
	logger *pkg.Logger

	pending chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// OnWrite, if set, is called after every attempt with its result.
	OnWrite func(error)
}

// NewWriter creates a writer for path. Call Start before Trigger.
func NewWriter(path, nodeID string, source Source, logger *pkg.Logger) *Writer {
	if logger == nil {
		logger = pkg.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Writer{
		path:    path,
		nodeID:  nodeID,
		source:  source,
		logger:  logger.WithFields(pkg.Fields{"component": "snapshot"}),
		pending: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the background write loop.
func (w *Writer) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Trigger requests a snapshot. It never blocks.
func (w *Writer) Trigger() {
	select {
	case w.pending <- struct{}{}:
	default:
	}
}

// Stop writes any pending snapshot and stops the loop.
func (w *Writer) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *Writer) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			select {
			case <-w.pending:
				w.write()
			default:
			}
			return
		case <-w.pending:
			w.write()
		}
	}
}

// write ignores the loop context; Stop waits for it to finish.
func (w *Writer) write() {
	err := w.writeOnce(context.Background())
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("Snapshot write failed")
	} else {
		w.logger.Debug().Str("path", w.path).Msg("Snapshot written")
	}
	if w.OnWrite != nil {
		w.OnWrite(err)
	}
}

func (w *Writer) writeOnce(ctx context.Context) error {
	entries, err := w.source(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", pkg.ErrSnapshotWrite, err)
	}
	if err := Save(w.path, w.nodeID, entries); err != nil {
		return fmt.Errorf("%w: %v", pkg.ErrSnapshotWrite, err)
	}
	return nil
}
