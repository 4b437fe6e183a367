package wallpad

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// EngineConfig configures the bus engine.
type EngineConfig struct {
	// PollInterval is how often the engine queries pollable devices for
	// a fresh status report. Zero disables polling; the wall-pad still
	// broadcasts status on its own schedule.
	PollInterval time.Duration

	// PollTargets lists the device addresses to query each cycle.
	PollTargets []DeviceAddress
}

// Engine runs the control and energy bus pipelines as one unit: it
// merges their decoded event streams, routes outbound commands to the
// control bus and optionally polls devices for status.
//
// The energy bus is receive-only and optional; installations without a
// HEMS drop pass a nil energy pipeline.
type Engine struct {
	cfg     EngineConfig
	control *Pipeline
	energy  *Pipeline
	events  chan DeviceEvent
}

// NewEngine creates an engine over the given pipelines. energy may be
// nil.
func NewEngine(cfg EngineConfig, control, energy *Pipeline) *Engine {
	return &Engine{
		cfg:     cfg,
		control: control,
		energy:  energy,
		events:  make(chan DeviceEvent, 256),
	}
}

// VerifyClasses confirms every configured device class has command
// dispatch entries, so a typo'd or unsupported class fails at startup
// rather than on first use.
func VerifyClasses(classes []DeviceClass) error {
	for _, class := range classes {
		if len(SupportedActions(class)) == 0 {
			return fmt.Errorf("%w: class %s has no command table", ErrUnsupportedVariant, class)
		}
	}
	return nil
}

// Events returns the merged event stream from both buses. Closed when
// Run returns.
func (e *Engine) Events() <-chan DeviceEvent { return e.events }

// Send routes a command. All controllable devices live on the control
// bus; the energy bus carries telemetry only.
func (e *Engine) Send(ctx context.Context, req Request) (<-chan error, error) {
	if req.Address.Class == ClassEnergy {
		return nil, fmt.Errorf("%w: energy meters are read-only", ErrUnsupportedVariant)
	}
	return e.control.Send(ctx, req)
}

// Control returns the control bus pipeline, exposed for stats.
func (e *Engine) Control() *Pipeline { return e.control }

// Energy returns the energy bus pipeline, or nil.
func (e *Engine) Energy() *Pipeline { return e.energy }

// Run drives both pipelines and the poller until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	pipelines := []*Pipeline{e.control}
	if e.energy != nil {
		pipelines = append(pipelines, e.energy)
	}

	for _, p := range pipelines {
		wg.Add(2)
		go func(p *Pipeline) {
			defer wg.Done()
			p.Run(ctx)
		}(p)
		go func(p *Pipeline) {
			defer wg.Done()
			for ev := range p.Events() {
				select {
				case e.events <- ev:
				case <-ctx.Done():
				}
			}
		}(p)
	}

	if e.cfg.PollInterval > 0 && len(e.cfg.PollTargets) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.poll(ctx)
		}()
	}

	wg.Wait()
	close(e.events)
	return ctx.Err()
}

// poll issues status queries for the configured targets each cycle.
// Queries spread over the cycle rather than bursting, since the bus is
// half-duplex and shared with the wall-pad's own traffic.
func (e *Engine) poll(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	gap := e.cfg.PollInterval / time.Duration(len(e.cfg.PollTargets)+1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, addr := range e.cfg.PollTargets {
			if !Supports(addr.Class, ActionQuery) {
				continue
			}
			req := Request{Address: addr, Action: ActionQuery}
			if _, err := e.control.Send(ctx, req); err != nil && ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(gap):
			}
		}
	}
}
