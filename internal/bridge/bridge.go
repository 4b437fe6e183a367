package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lunDreame/ha-bestin/internal/device"
	"github.com/lunDreame/ha-bestin/internal/infrastructure/mqtt"
	"github.com/lunDreame/ha-bestin/internal/wallpad"
)

// Bridge operation constants.
const (
	// stateBuffer is the registry subscription buffer size.
	stateBuffer = 256

	// resultTimeout bounds how long a command result goroutine waits
	// for an acknowledgement before giving up.
	resultTimeout = 10 * time.Second
)

// ErrClosed is returned by Run when the state source closes early.
var ErrClosed = errors.New("bridge: state source closed")

// Commander dispatches device commands to the protocol engine.
// Satisfied by *wallpad.Engine.
type Commander interface {
	Send(ctx context.Context, req wallpad.Request) (<-chan error, error)
}

// StateSource delivers device state changes.
// Satisfied by *device.Registry.
type StateSource interface {
	Subscribe(buffer int) (<-chan device.StateChange, func())
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// EnergyWriter records energy meter readings to time-series storage.
// Satisfied by *influxdb.Client. Optional.
type EnergyWriter interface {
	WriteEnergyReading(room int, kind string, total float64, realtime float64)
}

// Logger is the minimal logging interface the bridge needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Bridge.
type Options struct {
	Commander Commander
	States    StateSource
	MQTT      MQTTClient
	Topics    mqtt.Topics
	QoS       byte

	// Energy is optional; nil disables telemetry writes.
	Energy EnergyWriter

	Logger Logger
}

// Bridge connects the device registry and protocol engine to MQTT.
//
// Thread Safety: Run is single-use; the MQTT command handler may be
// invoked concurrently by the MQTT client.
type Bridge struct {
	commander Commander
	states    StateSource
	mqtt      MQTTClient
	topics    mqtt.Topics
	qos       byte
	energy    EnergyWriter
	log       Logger

	wg sync.WaitGroup
}

// New validates options and creates a Bridge.
func New(opts Options) (*Bridge, error) {
	if opts.Commander == nil {
		return nil, errors.New("bridge: commander is required")
	}
	if opts.States == nil {
		return nil, errors.New("bridge: state source is required")
	}
	if opts.MQTT == nil {
		return nil, errors.New("bridge: mqtt client is required")
	}
	log := opts.Logger
	if log == nil {
		log = noopLogger{}
	}
	return &Bridge{
		commander: opts.Commander,
		states:    opts.States,
		mqtt:      opts.MQTT,
		topics:    opts.Topics,
		qos:       opts.QoS,
		energy:    opts.Energy,
		log:       log,
	}, nil
}

// Run subscribes to command topics and publishes state changes until
// ctx is cancelled. It returns ErrClosed if the state source shuts
// down before ctx does.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.mqtt.Subscribe(b.topics.AllCommands(), b.qos, func(topic string, payload []byte) error {
		return b.handleCommand(ctx, topic, payload)
	}); err != nil {
		return fmt.Errorf("bridge: subscribing to commands: %w", err)
	}
	b.log.Info("command subscription active", "pattern", b.topics.AllCommands())

	changes, cancel := b.states.Subscribe(stateBuffer)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			b.wg.Wait()
			return nil
		case change, ok := <-changes:
			if !ok {
				b.wg.Wait()
				return ErrClosed
			}
			b.publishState(change)
		}
	}
}

// publishState publishes one state change as a retained state topic
// and, for energy meters, records the reading.
func (b *Bridge) publishState(change device.StateChange) {
	payload, err := json.Marshal(change.State.Fields)
	if err != nil {
		b.log.Error("marshalling state", "device", change.State.Address.ID(), "error", err)
		return
	}

	topic := b.topics.DeviceState(change.State.Address.ID())
	if err := b.mqtt.Publish(topic, payload, b.qos, true); err != nil {
		b.log.Warn("publishing state", "topic", topic, "error", err)
	}

	if change.State.Address.Class == wallpad.ClassEnergy {
		b.publishEnergy(change.State)
	}
}

// publishEnergy publishes an energy meter reading to its per-kind
// topic and forwards it to time-series storage.
func (b *Bridge) publishEnergy(state device.DeviceState) {
	kind, _ := state.Fields["energy_type"].(string)
	if kind == "" {
		kind = wallpad.EnergyKind(state.Address.Index).String()
	}
	total, okTotal := toFloat(state.Fields["total"])
	realtime, okRealtime := toFloat(state.Fields["realtime"])
	if !okTotal && !okRealtime {
		return
	}

	room := int(state.Address.Room)
	payload, err := json.Marshal(map[string]float64{
		"total":    total,
		"realtime": realtime,
	})
	if err == nil {
		topic := b.topics.Energy(room, kind)
		if pubErr := b.mqtt.Publish(topic, payload, b.qos, true); pubErr != nil {
			b.log.Warn("publishing energy reading", "topic", topic, "error", pubErr)
		}
	}

	if b.energy != nil {
		b.energy.WriteEnergyReading(room, kind, total, realtime)
	}
}

// handleCommand parses one inbound command message and dispatches it.
//
// Topic shape: {base}/command/{device_id}/{action}
// Payload: optional JSON object with action parameters.
func (b *Bridge) handleCommand(ctx context.Context, topic string, payload []byte) error {
	addr, action, err := b.parseCommandTopic(topic)
	if err != nil {
		return err
	}

	var params map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &params); err != nil {
			return fmt.Errorf("bridge: command payload for %s: %w", topic, err)
		}
	}

	req := wallpad.Request{Address: addr, Action: action, Params: params}
	ack, err := b.commander.Send(ctx, req)
	if err != nil {
		b.publishResult(addr, action, err)
		return fmt.Errorf("bridge: dispatching %s %s: %w", addr.ID(), action, err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		select {
		case res := <-ack:
			b.publishResult(addr, action, res)
		case <-time.After(resultTimeout):
			b.publishResult(addr, action, wallpad.ErrCommandTimeout)
		}
	}()
	return nil
}

// parseCommandTopic extracts the device address and action from a
// command topic.
func (b *Bridge) parseCommandTopic(topic string) (wallpad.DeviceAddress, wallpad.Action, error) {
	prefix := b.topics.DeviceCommand("", "")
	prefix = strings.TrimSuffix(prefix, "//")
	rest, found := strings.CutPrefix(topic, prefix+"/")
	if !found {
		return wallpad.DeviceAddress{}, "", fmt.Errorf("bridge: unexpected command topic %q", topic)
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return wallpad.DeviceAddress{}, "", fmt.Errorf("bridge: malformed command topic %q", topic)
	}

	addr, err := wallpad.ParseAddress(parts[0])
	if err != nil {
		return wallpad.DeviceAddress{}, "", fmt.Errorf("bridge: command topic %q: %w", topic, err)
	}
	return addr, wallpad.Action(parts[1]), nil
}

// publishResult publishes a command acknowledgement result.
func (b *Bridge) publishResult(addr wallpad.DeviceAddress, action wallpad.Action, res error) {
	result := map[string]any{
		"device": addr.ID(),
		"action": string(action),
		"ok":     res == nil,
	}
	if res != nil {
		result["error"] = res.Error()
	}

	payload, err := json.Marshal(result)
	if err != nil {
		b.log.Error("marshalling result", "device", addr.ID(), "error", err)
		return
	}

	topic := b.topics.CommandResult(addr.ID())
	if err := b.mqtt.Publish(topic, payload, b.qos, false); err != nil {
		b.log.Warn("publishing result", "topic", topic, "error", err)
	}
}

// toFloat converts the numeric types that appear in state fields.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
