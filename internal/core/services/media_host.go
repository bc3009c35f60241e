package services

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"avbstream/internal/core/ports"

	"go.uber.org/zap"
)

// MediaHost drives registered media interfaces in registration order.
type MediaHost struct {
	mu     sync.RWMutex
	names  []string
	impls  map[string]ports.MediaInterface
	logger *zap.SugaredLogger
}

func NewMediaHost(logger *zap.SugaredLogger) *MediaHost {
	return &MediaHost{
		impls:  make(map[string]ports.MediaInterface),
		logger: logger,
	}
}

func (h *MediaHost) Register(name string, m ports.MediaInterface) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.impls[name]; exists {
		return fmt.Errorf("media interface %q already registered", name)
	}
	h.impls[name] = m
	h.names = append(h.names, name)
	return nil
}

func (h *MediaHost) each(fn func(name string, m ports.MediaInterface) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var errs []error
	for _, name := range h.names {
		if err := fn(name, h.impls[name]); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Configure applies settings to one interface in key order.
func (h *MediaHost) Configure(name string, settings map[string]string) error {
	h.mu.RLock()
	m, ok := h.impls[name]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("media interface %q not registered", name)
	}

	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := m.Configure(k, settings[k]); err != nil {
			return fmt.Errorf("%s: configure %s: %w", name, k, err)
		}
	}
	return nil
}

func (h *MediaHost) InitTx() error {
	return h.each(func(_ string, m ports.MediaInterface) error { return m.InitTx() })
}

func (h *MediaHost) InitRx() error {
	return h.each(func(_ string, m ports.MediaInterface) error { return m.InitRx() })
}

func (h *MediaHost) EnableFixedTimestamp(enabled bool, interval, batch uint32) error {
	return h.each(func(_ string, m ports.MediaInterface) error {
		return m.EnableFixedTimestamp(enabled, interval, batch)
	})
}

// TxStep runs one transmit period on every interface and returns how many
// emitted a frame.
func (h *MediaHost) TxStep() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for _, name := range h.names {
		if h.impls[name].TxStep() {
			sent++
		}
	}
	return sent
}

// RxStep offers frame to every interface; each filters for its own stream.
func (h *MediaHost) RxStep(frame []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	accepted := false
	for _, name := range h.names {
		if h.impls[name].RxStep(frame) {
			accepted = true
		}
	}
	return accepted
}

// End stops every interface, continuing past failures.
func (h *MediaHost) End() error {
	err := h.each(func(_ string, m ports.MediaInterface) error { return m.End() })
	if err != nil {
		h.logger.Warnw("media interface shutdown incomplete", "error", err)
	}
	return err
}
