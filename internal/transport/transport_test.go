package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestNewDialer(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		baud     int
		want     string
		wantErr  bool
	}{
		{
			name:     "host with explicit port",
			endpoint: "192.168.0.27:8899",
			want:     "tcp://192.168.0.27:8899",
		},
		{
			name:     "host defaults to 8899",
			endpoint: "192.168.0.27",
			want:     "tcp://192.168.0.27:8899",
		},
		{
			name:     "hostname",
			endpoint: "wallpad.local:9000",
			want:     "tcp://wallpad.local:9000",
		},
		{
			name:     "serial device path",
			endpoint: "/dev/ttyUSB0",
			baud:     38400,
			want:     "serial:///dev/ttyUSB0@38400",
		},
		{
			name:     "empty",
			endpoint: "  ",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDialer(tt.endpoint, tt.baud)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidEndpoint) {
					t.Fatalf("NewDialer() error = %v, want ErrInvalidEndpoint", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewDialer() error = %v", err)
			}
			if got := d.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTCPDialerConnects(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
		close(accepted)
	}()

	d := &TCPDialer{Address: ln.Addr().String()}
	conn, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	conn.Close()

	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("listener never accepted")
	}
}

func TestTCPDialerHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Reserved TEST-NET-1 address: unroutable, so only cancellation
	// can end the dial.
	d := &TCPDialer{Address: "192.0.2.1:8899"}
	if _, err := d.Dial(ctx); err == nil {
		t.Fatal("Dial() with cancelled context succeeded")
	}
}
