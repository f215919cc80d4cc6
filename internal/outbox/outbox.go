// Package outbox buffers settlement instructions produced by the escrow
// core and hands them to the host-execution sink in batches.
package outbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrorezn/channel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/dmitrorezn/escrow-pay/internal/escrow"
)

// Sink executes instructions. In production this is the host runtime
// boundary; tests plug in a recorder.
type Sink interface {
	Dispatch(ctx context.Context, ins ...escrow.Instruction) error
}

type Outbox struct {
	sink          Sink
	flushInterval time.Duration
	force         chan struct{}
	quit          chan struct{}
	closed        atomic.Bool
	logger        zerolog.Logger

	mut sync.Mutex
	buf []escrow.Instruction
}

const defaultFlushInterval = 5 * time.Second

var (
	ErrClosed        = errors.New("outbox closed")
	ErrAlreadyClosed = errors.New("outbox already closed")
)

func New(ctx context.Context, sink Sink, flushInterval time.Duration, logger zerolog.Logger) *Outbox {
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	o := &Outbox{
		sink:          sink,
		flushInterval: flushInterval,
		force:         make(chan struct{}, 1),
		quit:          make(chan struct{}),
		logger:        logger.With().Str("component", "outbox").Logger(),
	}
	go o.run(ctx)

	return o
}

func (o *Outbox) flush(ctx context.Context) error {
	o.mut.Lock()
	ins := o.buf
	o.buf = nil
	o.mut.Unlock()
	if len(ins) == 0 {
		return nil
	}

	return o.sink.Dispatch(ctx, ins...)
}

func (o *Outbox) run(ctx context.Context) {
	flushTimer := time.NewTicker(o.flushInterval)
	defer flushTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			o.closed.Store(true)
			if err := o.flush(context.Background()); err != nil {
				o.logger.Error().Err(err).Msg("final flush")
			}

			return
		case <-channel.SelectN(o.force, o.quit):
		case <-flushTimer.C:
		}
		if err := o.flush(ctx); err != nil {
			o.logger.Error().Err(err).Msg("flush")
		}
		if o.closed.Load() {
			return
		}
	}
}

// Add buffers instructions for the next flush. The closed check happens
// under the buffer lock: an Add admitted here is ordered before the
// final flush, which takes the same lock, so accepted instructions are
// never stranded behind a concurrent Close.
func (o *Outbox) Add(ctx context.Context, ins ...escrow.Instruction) error {
	o.mut.Lock()
	defer o.mut.Unlock()
	if o.closed.Load() {
		return ErrClosed
	}
	o.buf = append(o.buf, ins...)

	return nil
}

// Sync requests an immediate flush without blocking.
func (o *Outbox) Sync() {
	select {
	case o.force <- struct{}{}:
	default:
	}
}

func (o *Outbox) Close() error {
	if !o.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}
	close(o.quit)

	return nil
}
