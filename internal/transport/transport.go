// Package transport provides the byte-stream endpoints the wall-pad
// pipelines read and write: TCP sockets to an RS485-to-ethernet bridge
// (EW11 and similar, default port 8899) and local serial devices. It
// owns endpoint parsing and connection establishment; reconnect policy
// lives with the pipeline that uses the dialer.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"go.bug.st/serial"
)

// DefaultTCPPort is the port RS485 bridges listen on by default.
const DefaultTCPPort = "8899"

// ErrInvalidEndpoint is returned for endpoint strings that are neither
// a device path nor a host[:port] address.
var ErrInvalidEndpoint = errors.New("transport: invalid endpoint")

// NewDialer builds a dialer for an endpoint string.
//
// Endpoints starting with "/" are local serial device paths
// ("/dev/ttyUSB0"); anything else is a TCP address ("192.168.0.27" or
// "192.168.0.27:8899", defaulting to port 8899). baudRate applies to
// serial endpoints only; zero selects 9600. Energy-bus connections on
// newer gateways need 38400 configured here or on the bridge.
func NewDialer(endpoint string, baudRate int) (Dialer, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidEndpoint)
	}

	if strings.HasPrefix(endpoint, "/") {
		return &SerialDialer{Device: endpoint, BaudRate: baudRate}, nil
	}

	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		host, port = endpoint, DefaultTCPPort
	}
	if host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}
	return &TCPDialer{Address: net.JoinHostPort(host, port)}, nil
}

// Dialer opens a byte stream to a bus endpoint.
type Dialer interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

// TCPDialer connects to an RS485 bridge over TCP.
type TCPDialer struct {
	Address string

	// ConnectTimeout bounds connection establishment. Zero selects 10s.
	ConnectTimeout time.Duration
}

// Dial opens the TCP connection with keep-alives enabled so a silently
// dead bridge is detected even when the bus is quiet.
func (d *TCPDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialer := net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	conn, err := dialer.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", d.Address, err)
	}
	return conn, nil
}

func (d *TCPDialer) String() string { return "tcp://" + d.Address }

// SerialDialer opens a local serial device through an RS485 adapter.
type SerialDialer struct {
	Device   string
	BaudRate int
}

// Dial opens the serial port at 8N1. The wall-pad buses never use
// parity or two stop bits.
func (d *SerialDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	baud := d.BaudRate
	if baud <= 0 {
		baud = 9600
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(d.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", d.Device, err)
	}
	return port, nil
}

func (d *SerialDialer) String() string {
	return fmt.Sprintf("serial://%s@%d", d.Device, d.BaudRate)
}
