package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"go.bug.st/serial"

	"github.com/orrn/receiptd/internal/config"
)

func newTestManager(t *testing.T, devices ...config.PrinterConfig) *PrinterManager {
	t.Helper()
	logger, _ := test.NewNullLogger()
	pm, err := NewPrinterManager(&config.PrintersConfig{
		ConnectionTimeout: 2 * time.Second,
		Devices:           devices,
	}, logger)
	if err != nil {
		t.Fatalf("NewPrinterManager() error: %v", err)
	}
	return pm
}

func statusOf(pm *PrinterManager, name string) PrinterInfo {
	for _, p := range pm.ListPrinters(context.Background()) {
		if p.Name == name {
			return p
		}
	}
	return PrinterInfo{}
}

func TestNetworkDelivery(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	pm := newTestManager(t, config.PrinterConfig{Name: "bar", Type: config.PrinterTypeNetwork, Address: ln.Addr().String()})
	payload := []byte("\x1b@hello\n\x1dV\x00")
	if err := pm.Deliver(context.Background(), "bar", payload); err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}

	select {
	case got := <-received:
		if !bytes.Equal(got, payload) {
			t.Errorf("printer received %q, want %q", got, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("payload never reached the listener")
	}

	info := statusOf(pm, "bar")
	if info.Status != PrinterStatusOnline || info.LastSeenAt == nil {
		t.Errorf("printer info after delivery = %+v", info)
	}
	if info.ID != "tcp://"+ln.Addr().String() {
		t.Errorf("ID = %q", info.ID)
	}
}

func TestNetworkDeliveryFailure(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	pm := newTestManager(t, config.PrinterConfig{Name: "bar", Type: config.PrinterTypeNetwork, Address: addr})
	err = pm.Deliver(context.Background(), "bar", []byte("x"))
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Deliver() error = %v, want ErrConnectionFailed", err)
	}
	if got := statusOf(pm, "bar").Status; got != PrinterStatusOffline {
		t.Errorf("status = %s, want offline", got)
	}
	status, err := pm.CheckStatus(context.Background(), "bar")
	if err != nil || status != PrinterStatusOffline {
		t.Errorf("CheckStatus() = %s, %v", status, err)
	}
}

func TestFileDelivery(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "spool")
	pm := newTestManager(t, config.PrinterConfig{Name: "dry-run", Type: config.PrinterTypeFile, Dir: dir})

	if status, _ := pm.CheckStatus(context.Background(), "dry-run"); status != PrinterStatusOffline {
		t.Errorf("status before the directory exists = %s", status)
	}
	for _, payload := range []string{"first", "second"} {
		if err := pm.Deliver(context.Background(), "dry-run", []byte(payload)); err != nil {
			t.Fatalf("Deliver() error: %v", err)
		}
	}

	files, err := filepath.Glob(filepath.Join(dir, "dry-run-*.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %v, want 2", files)
	}
	contents := map[string]bool{}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			t.Fatal(err)
		}
		contents[string(data)] = true
	}
	if !contents["first"] || !contents["second"] {
		t.Errorf("file contents = %v", contents)
	}
	if status, _ := pm.CheckStatus(context.Background(), "dry-run"); status != PrinterStatusOnline {
		t.Errorf("status = %s, want online", status)
	}
}

// fakePort embeds serial.Port so only the methods used by the transport
// need bodies.
type fakePort struct {
	serial.Port
	mu       sync.Mutex
	buf      bytes.Buffer
	writeErr error
	drained  bool
	closed   bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	// Short writes exercise the write loop.
	if len(b) > 4 {
		b = b[:4]
	}
	return p.buf.Write(b)
}

func (p *fakePort) Drain() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drained = true
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func serialManager(t *testing.T, port *fakePort, openErr error, ports []string, listErr error) (*PrinterManager, *serial.Mode) {
	t.Helper()
	pm := newTestManager(t, config.PrinterConfig{Name: "usb", Type: config.PrinterTypeSerial, Device: "/dev/ttyUSB0", BaudRate: 19200})

	var gotMode serial.Mode
	st := pm.printers["usb"].transport.(*serialTransport)
	st.open = func(name string, mode *serial.Mode) (serial.Port, error) {
		if name != "/dev/ttyUSB0" {
			t.Errorf("opened %q", name)
		}
		gotMode = *mode
		if openErr != nil {
			return nil, openErr
		}
		return port, nil
	}
	st.listPorts = func() ([]string, error) { return ports, listErr }
	return pm, &gotMode
}

func TestSerialDelivery(t *testing.T) {
	t.Parallel()

	port := &fakePort{}
	pm, mode := serialManager(t, port, nil, nil, nil)

	payload := []byte("\x1b@Pedido 42\n")
	if err := pm.Deliver(context.Background(), "usb", payload); err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}
	if !bytes.Equal(port.buf.Bytes(), payload) {
		t.Errorf("port received %q, want %q", port.buf.Bytes(), payload)
	}
	if !port.drained || !port.closed {
		t.Errorf("port drained=%v closed=%v", port.drained, port.closed)
	}
	if mode.BaudRate != 19200 {
		t.Errorf("baud rate = %d", mode.BaudRate)
	}
}

func TestSerialDeliveryErrors(t *testing.T) {
	t.Parallel()

	pm, _ := serialManager(t, nil, errors.New("no such device"), nil, nil)
	if err := pm.Deliver(context.Background(), "usb", []byte("x")); !errors.Is(err, ErrPrinterOffline) {
		t.Errorf("open failure error = %v, want ErrPrinterOffline", err)
	}

	port := &fakePort{writeErr: errors.New("i/o error")}
	pm, _ = serialManager(t, port, nil, nil, nil)
	if err := pm.Deliver(context.Background(), "usb", []byte("x")); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("write failure error = %v, want ErrConnectionFailed", err)
	}
	if !port.closed {
		t.Error("port left open after a failed write")
	}
}

func TestSerialProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ports   []string
		listErr error
		want    string
	}{
		{"listed", []string{"/dev/ttyS0", "/dev/ttyUSB0"}, nil, PrinterStatusAvailable},
		{"missing", []string{"/dev/ttyS0"}, nil, PrinterStatusOffline},
		{"enumeration error", nil, errors.New("permission denied"), PrinterStatusUnknown},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pm, _ := serialManager(t, &fakePort{}, nil, tt.ports, tt.listErr)
			got, err := pm.CheckStatus(context.Background(), "usb")
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUnknownPrinter(t *testing.T) {
	t.Parallel()

	pm := newTestManager(t)
	if err := pm.Deliver(context.Background(), "ghost", []byte("x")); !errors.Is(err, ErrPrinterNotFound) {
		t.Errorf("Deliver() error = %v", err)
	}
	if _, err := pm.CheckStatus(context.Background(), "ghost"); !errors.Is(err, ErrPrinterNotFound) {
		t.Errorf("CheckStatus() error = %v", err)
	}
	if pm.HasPrinter("ghost") {
		t.Error("HasPrinter(ghost) = true")
	}
	if got := pm.ListPrinters(context.Background()); len(got) != 0 {
		t.Errorf("ListPrinters() = %v", got)
	}
}

func TestNewPrinterManagerRejectsBadConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		devices []config.PrinterConfig
	}{
		{"duplicate name", []config.PrinterConfig{
			{Name: "a", Type: config.PrinterTypeFile, Dir: "/tmp/a"},
			{Name: "a", Type: config.PrinterTypeFile, Dir: "/tmp/b"},
		}},
		{"unknown type", []config.PrinterConfig{{Name: "a", Type: "usb-hid"}}},
	}
	for _, tt := range tests {
		if _, err := NewPrinterManager(&config.PrintersConfig{Devices: tt.devices}, nil); err == nil {
			t.Errorf("%s: expected an error", tt.name)
		}
	}
}

func TestListPrintersKeepsConfigOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pm := newTestManager(t,
		config.PrinterConfig{Name: "kitchen", Type: config.PrinterTypeFile, Dir: dir},
		config.PrinterConfig{Name: "bar", Type: config.PrinterTypeNetwork, Address: "192.0.2.10"},
		config.PrinterConfig{Name: "usb", Type: config.PrinterTypeSerial, Device: "/dev/ttyUSB0"},
	)

	got := pm.ListPrinters(context.Background())
	want := []struct{ name, id, kind string }{
		{"kitchen", "file://" + dir, config.PrinterTypeFile},
		{"bar", "tcp://192.0.2.10:9100", config.PrinterTypeNetwork},
		{"usb", "serial:///dev/ttyUSB0", config.PrinterTypeSerial},
	}
	if len(got) != len(want) {
		t.Fatalf("ListPrinters() = %v", got)
	}
	for i, w := range want {
		if got[i].Name != w.name || got[i].ID != w.id || got[i].Type != w.kind || got[i].Status != PrinterStatusUnknown {
			t.Errorf("printer %d = %+v, want %s %s %s unknown", i, got[i], w.name, w.id, w.kind)
		}
	}
}

func TestHealthCheckRunsOnStart(t *testing.T) {
	t.Parallel()

	pm := newTestManager(t, config.PrinterConfig{Name: "dry-run", Type: config.PrinterTypeFile, Dir: t.TempDir()})
	pm.Start()
	pm.Stop()

	if got := statusOf(pm, "dry-run").Status; got != PrinterStatusOnline {
		t.Errorf("status after health check = %s, want online", got)
	}
}

func TestWithDefaultPort(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"192.168.0.50":      "192.168.0.50:9100",
		"192.168.0.50:9101": "192.168.0.50:9101",
		"printer.local":     "printer.local:9100",
		"[fe80::1]:9100":    "[fe80::1]:9100",
	}
	for in, want := range tests {
		if got := withDefaultPort(in); got != want {
			t.Errorf("withDefaultPort(%q) = %q, want %q", in, got, want)
		}
	}
}
