package mqtt

import "fmt"

// DefaultBaseTopic is the topic prefix used when none is configured.
const DefaultBaseTopic = "bestin"

// Topics provides builders for the bridge's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
// All topics live under a single configurable base:
//
//	topics := mqtt.Topics{Base: "bestin"}
//	stateTopic := topics.DeviceState("light_1_0")
//	// Returns: "bestin/state/light_1_0"
type Topics struct {
	// Base is the topic prefix. Empty selects DefaultBaseTopic.
	Base string
}

func (t Topics) base() string {
	if t.Base == "" {
		return DefaultBaseTopic
	}
	return t.Base
}

// DeviceState returns the topic for device state updates.
//
// Example: bestin/state/light_1_0
func (t Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", t.base(), deviceID)
}

// DeviceCommand returns the topic for inbound device commands.
// The payload carries the command parameters as JSON.
//
// Example: bestin/command/light_1_0/turn_on
func (t Topics) DeviceCommand(deviceID, action string) string {
	return fmt.Sprintf("%s/command/%s/%s", t.base(), deviceID, action)
}

// CommandResult returns the topic for command acknowledgement results.
//
// Example: bestin/result/light_1_0
func (t Topics) CommandResult(deviceID string) string {
	return fmt.Sprintf("%s/result/%s", t.base(), deviceID)
}

// Energy returns the topic for per-room energy telemetry.
//
// Example: bestin/energy/0/electric
func (t Topics) Energy(room int, kind string) string {
	return fmt.Sprintf("%s/energy/%d/%s", t.base(), room, kind)
}

// SystemStatus returns the bridge status topic. Online/offline payloads
// and the Last Will message are published here, retained.
//
// Example: bestin/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.base())
}

// AllCommands returns a pattern matching all inbound device commands.
//
// Pattern: bestin/command/+/+
func (t Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/+/+", t.base())
}

// AllStates returns a pattern matching all device state updates.
//
// Pattern: bestin/state/+
func (t Topics) AllStates() string {
	return fmt.Sprintf("%s/state/+", t.base())
}

// AllTopics returns a pattern matching every bridge topic.
// Use with caution - this receives ALL traffic.
//
// Pattern: bestin/#
func (t Topics) AllTopics() string {
	return fmt.Sprintf("%s/#", t.base())
}
