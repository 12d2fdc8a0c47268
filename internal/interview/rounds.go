package interview

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const roundWriteTimeout = 5 * time.Second

// roundWriter persists finished rounds in order on its own goroutine, so a
// slow recorder never holds up the session loop.
type roundWriter struct {
	rec    RoundRecorder
	logger zerolog.Logger
	box    *mailbox
	stop   chan struct{}
	done   chan struct{}
}

func newRoundWriter(rec RoundRecorder, logger zerolog.Logger) *roundWriter {
	return &roundWriter{
		rec:    rec,
		logger: logger,
		box:    newMailbox(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// run writes until close is called, then flushes what is left. Writes
// outlive ctx's cancellation but each is bounded by roundWriteTimeout.
func (w *roundWriter) run(ctx context.Context) {
	defer close(w.done)
	ctx = context.WithoutCancel(ctx)
	for {
		select {
		case <-w.box.signal:
			w.flush(ctx)
		case <-w.stop:
			w.flush(ctx)
			return
		}
	}
}

func (w *roundWriter) flush(ctx context.Context) {
	for _, e := range w.box.drain() {
		r := e.(Round)
		wctx, cancel := context.WithTimeout(ctx, roundWriteTimeout)
		err := w.rec.RecordRound(wctx, r)
		cancel()
		if err != nil {
			w.logger.Warn().Err(err).Int("round", r.Number).Msg("Failed to record round")
		}
	}
}

func (w *roundWriter) write(r Round) {
	w.box.post(r)
}

// close waits for queued rounds to be written
func (w *roundWriter) close() {
	close(w.stop)
	<-w.done
}
