package driver

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registered driver names.
const (
	NameWGPU = "wgpu"
	NameSoft = "soft"
)

// Factory opens a device. A factory returns an error when the driver is
// compiled in but cannot reach a device on this machine.
type Factory func() (Device, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
	// Priority order for Open("") (first driver that opens wins).
	priority = []string{NameWGPU}
	// Drivers that Open("") never selects. They open only by name.
	explicitOnly = map[string]bool{NameSoft: true}
)

// Register registers a driver factory with the given name.
// This is typically called from init() functions in driver packages.
// If a driver with the same name is already registered, it will be replaced.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = f
}

// Unregister removes a driver from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, name)
}

// Available returns the registered driver names, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a driver with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// Open opens a device from the named driver. An empty name selects the
// first hardware driver in priority order that opens successfully, then
// any other registered hardware driver. The soft driver is never chosen
// for an empty name: there is no software fallback.
//
// Returns ErrUnknownDriver for an unregistered name and ErrNoDevice when
// no driver could open a device.
func Open(name string) (Device, error) {
	if name != "" {
		registryMu.RLock()
		f, ok := factories[name]
		registryMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, name)
		}
		dev, err := f()
		if err != nil {
			return nil, fmt.Errorf("driver %s: %w", name, err)
		}
		return dev, nil
	}

	var errs []error
	for _, n := range openOrder() {
		registryMu.RLock()
		f := factories[n]
		registryMu.RUnlock()
		if f == nil {
			continue
		}
		dev, err := f()
		if err != nil {
			slogger().Warn("driver: open failed, trying next", "driver", n, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", n, err))
			continue
		}
		slogger().Info("driver: device opened", "driver", n, "device", dev.Name())
		return dev, nil
	}

	if len(errs) == 0 {
		return nil, ErrNoDevice
	}
	return nil, fmt.Errorf("%w: %w", ErrNoDevice, errors.Join(errs...))
}

// openOrder returns the registered names Open("") may use: priority
// drivers first, then the rest in name order. Explicit-only drivers are
// left out.
func openOrder() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	order := make([]string, 0, len(factories))
	seen := make(map[string]bool, len(priority))
	for _, n := range priority {
		if _, ok := factories[n]; ok {
			order = append(order, n)
			seen[n] = true
		}
	}
	rest := make([]string, 0, len(factories))
	for n := range factories {
		if !seen[n] && !explicitOnly[n] {
			rest = append(rest, n)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}
