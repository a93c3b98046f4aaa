package events

import (
	"sync"
)

var (
	globalBus     *Bus[Event]
	globalBusLock sync.RWMutex
)

// SetGlobalEventBus sets the global event bus instance
func SetGlobalEventBus(bus *Bus[Event]) {
	globalBusLock.Lock()
	defer globalBusLock.Unlock()
	globalBus = bus
}

// GetGlobalEventBus returns the global event bus instance, or nil.
func GetGlobalEventBus() *Bus[Event] {
	globalBusLock.RLock()
	defer globalBusLock.RUnlock()
	return globalBus
}

// Publish sends e to the global bus if one is set.
func Publish(e Event) {
	if bus := GetGlobalEventBus(); bus != nil {
		bus.Publish(e)
	}
}
