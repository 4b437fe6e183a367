package influxdb

import "errors"

// Sentinel errors for the telemetry client; check with errors.Is.
// Write failures surface asynchronously through SetOnError, so only
// connection-stage conditions carry sentinels.
var (
	// ErrNotConnected indicates the client is not connected to InfluxDB.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled indicates InfluxDB integration is disabled in config.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
