package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/orrn/receiptd/internal/config"
)

type managedPrinter struct {
	name      string
	kind      string
	transport transport
	status    string
	lastSeen  *time.Time
}

// PrinterManager is the Sink for the printers named in the configuration.
// It never reads status back from a device; status is a connectivity probe
// refreshed by the health check loop and by every delivery.
type PrinterManager struct {
	config   *config.PrintersConfig
	printers map[string]*managedPrinter
	order    []string
	mu       sync.RWMutex
	log      logrus.FieldLogger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewPrinterManager(cfg *config.PrintersConfig, log logrus.FieldLogger) (*PrinterManager, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	pm := &PrinterManager{
		config:   cfg,
		printers: make(map[string]*managedPrinter, len(cfg.Devices)),
		log:      log.WithField("component", "printers"),
		stopCh:   make(chan struct{}),
	}
	for _, p := range cfg.Devices {
		if _, exists := pm.printers[p.Name]; exists {
			return nil, fmt.Errorf("printer %q is defined more than once", p.Name)
		}
		t, err := newTransport(p, cfg.ConnectionTimeout)
		if err != nil {
			return nil, fmt.Errorf("printer %q: %w", p.Name, err)
		}
		pm.printers[p.Name] = &managedPrinter{
			name:      p.Name,
			kind:      p.Type,
			transport: t,
			status:    PrinterStatusUnknown,
		}
		pm.order = append(pm.order, p.Name)
	}
	return pm, nil
}

func (pm *PrinterManager) Start() {
	pm.wg.Add(1)
	go pm.healthCheckLoop()
}

func (pm *PrinterManager) Stop() {
	pm.stopOnce.Do(func() { close(pm.stopCh) })
	pm.wg.Wait()
}

func (pm *PrinterManager) ListPrinters(ctx context.Context) []PrinterInfo {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	printers := make([]PrinterInfo, 0, len(pm.order))
	for _, name := range pm.order {
		p := pm.printers[name]
		printers = append(printers, PrinterInfo{
			ID:         p.transport.id(),
			Name:       p.name,
			Type:       p.kind,
			Status:     p.status,
			LastSeenAt: p.lastSeen,
		})
	}
	return printers
}

func (pm *PrinterManager) HasPrinter(name string) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	_, ok := pm.printers[name]
	return ok
}

func (pm *PrinterManager) Deliver(ctx context.Context, printerName string, data []byte) error {
	pm.mu.RLock()
	p, exists := pm.printers[printerName]
	pm.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrPrinterNotFound, printerName)
	}

	if err := p.transport.write(ctx, data); err != nil {
		pm.updatePrinterStatus(p, PrinterStatusOffline)
		if !errors.Is(err, ErrConnectionFailed) && !errors.Is(err, ErrPrinterOffline) {
			err = fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		return err
	}

	pm.updatePrinterStatus(p, PrinterStatusOnline)
	pm.log.WithFields(logrus.Fields{"printer": printerName, "bytes": len(data)}).Debug("payload delivered")
	return nil
}

func (pm *PrinterManager) CheckStatus(ctx context.Context, name string) (string, error) {
	pm.mu.RLock()
	p, exists := pm.printers[name]
	pm.mu.RUnlock()
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrPrinterNotFound, name)
	}

	timeout := pm.config.ConnectionTimeout
	if timeout <= 0 {
		timeout = defaultReadWriteTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	status := p.transport.probe(ctx)
	pm.updatePrinterStatus(p, status)
	return status, nil
}

func (pm *PrinterManager) CheckAllStatuses(ctx context.Context) {
	pm.mu.RLock()
	names := append([]string(nil), pm.order...)
	pm.mu.RUnlock()

	for _, name := range names {
		_, _ = pm.CheckStatus(ctx, name)
	}
}

func (pm *PrinterManager) updatePrinterStatus(p *managedPrinter, status string) {
	pm.mu.Lock()
	oldStatus := p.status
	p.status = status
	if status == PrinterStatusOnline || status == PrinterStatusAvailable {
		now := time.Now()
		p.lastSeen = &now
	}
	pm.mu.Unlock()

	if oldStatus != status {
		pm.log.WithFields(logrus.Fields{
			"printer": p.name,
			"from":    oldStatus,
			"to":      status,
		}).Info("printer status changed")
	}
}

// healthCheckLoop probes every printer once at start and then on every
// interval. A zero interval means a single probe.
func (pm *PrinterManager) healthCheckLoop() {
	defer pm.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-pm.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	pm.CheckAllStatuses(ctx)

	interval := pm.config.HealthCheckInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.stopCh:
			return
		case <-ticker.C:
			pm.CheckAllStatuses(ctx)
		}
	}
}
