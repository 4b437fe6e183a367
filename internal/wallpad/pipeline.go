package wallpad

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/lunDreame/ha-bestin/internal/infrastructure/logging"
)

// Dialer opens the byte stream for one bus segment. Implementations
// live in the transport package (TCP to an EW11-style converter, local
// serial via an RS485 adapter).
type Dialer interface {
	// Dial opens the stream. It honours ctx cancellation.
	Dial(ctx context.Context) (io.ReadWriteCloser, error)

	// String describes the endpoint for logs.
	String() string
}

// Reconnect backoff bounds.
const (
	reconnectMin = time.Second
	reconnectMax = 30 * time.Second

	expireInterval = 200 * time.Millisecond
	readChunkSize  = 512

	// Half-duplex turnaround: an outbound frame waits for the line to
	// go quiet, but never longer than lineIdleMax.
	lineIdleMin = 50 * time.Millisecond
	lineIdleMax = 500 * time.Millisecond
)

// PipelineConfig configures one bus pipeline.
type PipelineConfig struct {
	Bus            Bus
	Generation     Generation
	Variant        Variant
	Encoder        EncoderConfig
	CommandTimeout time.Duration
	MaxFrameLength int

	// EventBuffer sizes the decoded-event channel. Zero selects a
	// sensible default.
	EventBuffer int
}

// PipelineStats is a point-in-time snapshot of pipeline counters.
type PipelineStats struct {
	FramesValid      uint64
	ChecksumFailures uint64
	LengthFailures   uint64
	Desyncs          uint64
	EventsEmitted    uint64
	EventsDropped    uint64
	Unrecognized     uint64
	CommandsSent     uint64
	Reconnects       uint64
}

type sendOutcome struct {
	ack <-chan error
	err error
}

type commandJob struct {
	req  Request
	resp chan sendOutcome
}

// Pipeline runs the full receive and transmit path for one bus: it
// reads bytes from the transport, frames, validates and decodes them
// into DeviceEvents, and encodes, writes and tracks outbound commands.
//
// Frame processing and command transmission run on a single goroutine,
// so the rolling spin code observed on inbound frames is stamped into
// outbound frames without locking. The transport is redialled with
// exponential backoff when the connection drops.
type Pipeline struct {
	bus     Bus
	dialer  Dialer
	reader  *Reader
	decoder *Decoder
	encoder *Encoder
	pending *PendingTable
	log     *logging.Logger

	events chan DeviceEvent
	jobs   chan commandJob
	done   chan struct{}

	// spin is the last rolling code seen on the bus and lastRx the
	// time the bus last carried traffic; only the run goroutine
	// touches them.
	spin   byte
	lastRx time.Time

	framesValid      atomic.Uint64
	checksumFailures atomic.Uint64
	lengthFailures   atomic.Uint64
	eventsEmitted    atomic.Uint64
	eventsDropped    atomic.Uint64
	unrecognized     atomic.Uint64
	commandsSent     atomic.Uint64
	reconnects       atomic.Uint64
}

// NewPipeline creates a pipeline for one bus. Call Run to start it.
func NewPipeline(cfg PipelineConfig, dialer Dialer, log *logging.Logger) *Pipeline {
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = 256
	}

	return &Pipeline{
		bus:     cfg.Bus,
		dialer:  dialer,
		reader:  NewReader(cfg.MaxFrameLength),
		decoder: NewDecoder(cfg.Bus, cfg.Generation, cfg.Variant),
		encoder: NewEncoder(cfg.Generation, cfg.Variant, cfg.Encoder),
		pending: NewPendingTable(cfg.CommandTimeout),
		log:     log.With("component", "wallpad", "bus", cfg.Bus.String()),
		events:  make(chan DeviceEvent, buffer),
		jobs:    make(chan commandJob, 16),
		done:    make(chan struct{}),
	}
}

// Events returns the decoded event stream. The channel is closed when
// Run returns.
func (p *Pipeline) Events() <-chan DeviceEvent { return p.events }

// Send encodes and transmits a command, returning the channel its
// acknowledgement outcome arrives on. The returned channel delivers nil
// on ack, ErrCommandTimeout on expiry or ErrCommandSuperseded when a
// newer identical request replaces this one. There is no automatic
// retry; the caller decides whether to resend.
func (p *Pipeline) Send(ctx context.Context, req Request) (<-chan error, error) {
	if !Supports(req.Address.Class, req.Action) {
		return nil, fmt.Errorf("%w: %s %s", ErrUnsupportedVariant, req.Address.Class, req.Action)
	}

	job := commandJob{req: req, resp: make(chan sendOutcome, 1)}
	select {
	case p.jobs <- job:
	case <-p.done:
		return nil, ErrPipelineClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case out := <-job.resp:
		return out.ack, out.err
	case <-p.done:
		return nil, ErrPipelineClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats snapshots the pipeline counters.
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		FramesValid:      p.framesValid.Load(),
		ChecksumFailures: p.checksumFailures.Load(),
		LengthFailures:   p.lengthFailures.Load(),
		Desyncs:          p.reader.Desyncs(),
		EventsEmitted:    p.eventsEmitted.Load(),
		EventsDropped:    p.eventsDropped.Load(),
		Unrecognized:     p.unrecognized.Load(),
		CommandsSent:     p.commandsSent.Load(),
		Reconnects:       p.reconnects.Load(),
	}
}

// Pending returns the pending-command table, exposed for stats.
func (p *Pipeline) Pending() *PendingTable { return p.pending }

// Cancel withdraws a still-pending command without delivering a result
// on its channel. Reports whether a command was pending.
func (p *Pipeline) Cancel(addr DeviceAddress, action Action) bool {
	return p.pending.Cancel(addr, action)
}

// Run drives the pipeline until ctx is cancelled, redialling the
// transport with exponential backoff. It always returns ctx's error.
func (p *Pipeline) Run(ctx context.Context) error {
	defer close(p.done)
	defer close(p.events)
	defer p.pending.Close(ErrPipelineClosed)

	backoff := reconnectMin
	for {
		conn, err := p.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Warn("connect failed",
				"endpoint", p.dialer.String(),
				"retry_in", backoff.String(),
				"error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}

		p.log.Info("connected", "endpoint", p.dialer.String())
		backoff = reconnectMin

		err = p.serve(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.reconnects.Add(1)
		p.log.Warn("connection lost", "endpoint", p.dialer.String(), "error", err)
	}
}

// serve processes one live connection until it fails or ctx cancels.
func (p *Pipeline) serve(ctx context.Context, conn io.ReadWriteCloser) error {
	readCh := make(chan []byte, 16)
	readErr := make(chan error, 1)

	readCtx, stopRead := context.WithCancel(ctx)
	defer stopRead()
	go func() {
		buf := make([]byte, readChunkSize)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case readCh <- chunk:
				case <-readCtx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(expireInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			return fmt.Errorf("wallpad: read %s bus: %w", p.bus, err)

		case chunk := <-readCh:
			p.handleBytes(chunk)

		case job := <-p.jobs:
			if err := p.handleCommand(ctx, job, conn, readCh); err != nil {
				return err
			}

		case now := <-ticker.C:
			for _, req := range p.pending.Expire(now) {
				p.log.Warn("command timed out",
					"device", req.Address.ID(),
					"action", string(req.Action))
			}
		}
	}
}

// handleBytes frames, validates and decodes a chunk of bus bytes.
func (p *Pipeline) handleBytes(chunk []byte) {
	if len(chunk) > 0 {
		p.lastRx = time.Now()
	}
	queue := p.reader.Feed(chunk)
	for len(queue) > 0 {
		raw := queue[0]
		queue = queue[1:]

		frame, err := Validate(raw, p.bus)
		if err != nil {
			switch {
			case errors.Is(err, ErrChecksumMismatch):
				p.checksumFailures.Add(1)
			case errors.Is(err, ErrLengthMismatch), errors.Is(err, ErrFrameTooShort):
				p.lengthFailures.Add(1)
			}
			p.log.Debug("frame rejected", "error", err, "bytes", fmt.Sprintf("% X", raw.Bytes))

			// A bad frame may have swallowed a genuine start marker;
			// hand it back and rescan.
			p.reader.Reclaim(raw.Bytes)
			queue = append(queue, p.reader.Feed(nil)...)
			continue
		}

		p.framesValid.Add(1)
		if spin, ok := spinCodeOf(frame); ok {
			p.spin = spin
		}

		for _, ev := range p.decoder.Decode(frame) {
			if ev.Kind == EventUnrecognized {
				p.unrecognized.Add(1)
				p.log.Debug("unrecognized frame", "bytes", fmt.Sprintf("% X", ev.Raw.Bytes))
			} else if n := p.pending.Resolve(ev.Address, ev.PacketType); n > 0 {
				p.log.Debug("command acknowledged", "device", ev.Address.ID())
			}

			select {
			case p.events <- ev:
				p.eventsEmitted.Add(1)
			default:
				p.eventsDropped.Add(1)
			}
		}
	}
}

// waitLineIdle holds an outbound frame until the bus has been quiet
// for lineIdleMin, draining inbound bytes while it waits. The wait is
// bounded by lineIdleMax so a chatty bus cannot starve commands.
func (p *Pipeline) waitLineIdle(ctx context.Context, readCh <-chan []byte) {
	deadline := time.Now().Add(lineIdleMax)
	for {
		idle := time.Since(p.lastRx)
		if idle >= lineIdleMin || !time.Now().Before(deadline) {
			return
		}
		wait := lineIdleMin - idle
		if rem := time.Until(deadline); rem < wait {
			wait = rem
		}
		timer := time.NewTimer(wait)
		select {
		case chunk := <-readCh:
			p.handleBytes(chunk)
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
		if ctx.Err() != nil {
			return
		}
	}
}

// handleCommand encodes and writes one outbound command, after waiting
// for the half-duplex line to go idle. A write error tears the
// connection down for redial; the command itself fails back to the
// caller.
func (p *Pipeline) handleCommand(ctx context.Context, job commandJob, conn io.Writer, readCh <-chan []byte) error {
	p.waitLineIdle(ctx, readCh)

	cmd, err := p.encoder.Encode(job.req, p.spin)
	if err != nil {
		job.resp <- sendOutcome{err: err}
		return nil
	}

	if _, err := conn.Write(cmd.Frame); err != nil {
		werr := fmt.Errorf("wallpad: write %s bus: %w", p.bus, err)
		job.resp <- sendOutcome{err: werr}
		return werr
	}

	p.lastRx = time.Now()
	p.commandsSent.Add(1)
	p.log.Debug("command sent",
		"device", job.req.Address.ID(),
		"action", string(job.req.Action),
		"bytes", fmt.Sprintf("% X", cmd.Frame))

	job.resp <- sendOutcome{ack: p.pending.Track(cmd)}
	return nil
}
