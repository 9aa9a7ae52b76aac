package core

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/orrn/receiptd/internal/config"
)

const (
	defaultTCPPort          = 9100
	defaultBaudRate         = 9600
	defaultReadWriteTimeout = 10 * time.Second
)

// transport moves bytes to one physical or virtual device.
type transport interface {
	id() string
	write(ctx context.Context, data []byte) error
	probe(ctx context.Context) string
}

func newTransport(p config.PrinterConfig, timeout time.Duration) (transport, error) {
	if timeout <= 0 {
		timeout = defaultReadWriteTimeout
	}
	switch p.Type {
	case config.PrinterTypeNetwork:
		return &networkTransport{address: withDefaultPort(p.Address), timeout: timeout}, nil
	case config.PrinterTypeSerial:
		baud := p.BaudRate
		if baud == 0 {
			baud = defaultBaudRate
		}
		return &serialTransport{
			device:    p.Device,
			baudRate:  baud,
			open:      serial.Open,
			listPorts: serial.GetPortsList,
		}, nil
	case config.PrinterTypeFile:
		return &fileTransport{dir: p.Dir, name: p.Name}, nil
	default:
		return nil, fmt.Errorf("unknown printer type %q", p.Type)
	}
}

func withDefaultPort(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(defaultTCPPort))
}

// networkTransport speaks raw TCP to a JetDirect style port. A connection is
// opened per delivery; idle sockets on cheap printers tend to go stale.
type networkTransport struct {
	address string
	timeout time.Duration
}

func (t *networkTransport) id() string {
	return "tcp://" + t.address
}

func (t *networkTransport) write(ctx context.Context, data []byte) error {
	dialer := net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	n, err := conn.Write(data)
	if err != nil {
		return fmt.Errorf("%w: wrote %d of %d bytes: %v", ErrConnectionFailed, n, len(data), err)
	}
	return nil
}

func (t *networkTransport) probe(ctx context.Context) string {
	dialer := net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.address)
	if err != nil {
		return PrinterStatusOffline
	}
	conn.Close()
	return PrinterStatusOnline
}

type serialTransport struct {
	device    string
	baudRate  int
	open      func(string, *serial.Mode) (serial.Port, error)
	listPorts func() ([]string, error)
}

func (t *serialTransport) id() string {
	return "serial://" + t.device
}

// write opens the port, writes everything and drains the output buffer.
// Serial writes have no deadline, so the port is closed to unblock a write
// that outlives ctx.
func (t *serialTransport) write(ctx context.Context, data []byte) error {
	port, err := t.open(t.device, &serial.Mode{BaudRate: t.baudRate})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPrinterOffline, err)
	}

	done := make(chan error, 1)
	go func() {
		written := 0
		for written < len(data) {
			n, err := port.Write(data[written:])
			if err != nil {
				done <- fmt.Errorf("%w: wrote %d of %d bytes: %v", ErrConnectionFailed, written+n, len(data), err)
				return
			}
			if n == 0 {
				done <- fmt.Errorf("%w: device accepted no data", ErrConnectionFailed)
				return
			}
			written += n
		}
		if err := port.Drain(); err != nil {
			done <- fmt.Errorf("%w: drain: %v", ErrConnectionFailed, err)
			return
		}
		done <- nil
	}()

	select {
	case err = <-done:
		port.Close()
		return err
	case <-ctx.Done():
		port.Close()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, ctx.Err())
	}
}

func (t *serialTransport) probe(ctx context.Context) string {
	ports, err := t.listPorts()
	if err != nil {
		return PrinterStatusUnknown
	}
	for _, p := range ports {
		if p == t.device {
			return PrinterStatusAvailable
		}
	}
	return PrinterStatusOffline
}

// fileTransport is a virtual printer that drops each payload into a
// directory. Useful for dry runs and for feeding another spooler.
type fileTransport struct {
	dir  string
	name string
	seq  atomic.Uint64
}

func (t *fileTransport) id() string {
	return "file://" + t.dir
}

func (t *fileTransport) write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrPrinterOffline, err)
	}
	name := fmt.Sprintf("%s-%s-%04d.bin", t.name, time.Now().UTC().Format("20060102T150405.000000000"), t.seq.Add(1))
	final := filepath.Join(t.dir, name)

	tmp, err := os.CreateTemp(t.dir, ".receiptd-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPrinterOffline, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return os.Rename(tmp.Name(), final)
}

func (t *fileTransport) probe(ctx context.Context) string {
	info, err := os.Stat(t.dir)
	if err != nil || !info.IsDir() {
		return PrinterStatusOffline
	}
	f, err := os.CreateTemp(t.dir, ".probe-*")
	if err != nil {
		return PrinterStatusOffline
	}
	f.Close()
	os.Remove(f.Name())
	return PrinterStatusOnline
}
