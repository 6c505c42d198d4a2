package main

import (
	"sync"

	"github.com/jkaflik/cover2mqtt/internal/mqtt"
)

// bridgeRegistry holds the assembled bridges shared between main and paho's
// reconnect callback.
type bridgeRegistry struct {
	mu      sync.Mutex
	bridges []*mqtt.Bridge
}

func (r *bridgeRegistry) set(bridges []*mqtt.Bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bridges = bridges
}

func (r *bridgeRegistry) all() []*mqtt.Bridge {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*mqtt.Bridge(nil), r.bridges...)
}
