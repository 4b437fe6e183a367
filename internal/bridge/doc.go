// Package bridge orchestrates bidirectional translation between the
// wall-pad buses and MQTT.
//
// It handles:
//   - Publishing device state changes from the registry as retained
//     MQTT state topics
//   - Receiving device commands over MQTT and dispatching them to the
//     protocol engine
//   - Publishing command acknowledgement results
//   - Forwarding energy meter readings to time-series storage
//
// The bridge sits between the device registry (its state source) and
// the MQTT client (its external surface). It never talks to the serial
// buses directly.
package bridge
