package main

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jkaflik/cover2mqtt/internal/mqtt"
)

func TestBridgeRegistryConcurrentAccess(t *testing.T) {
	var registry bridgeRegistry

	// reconnect callbacks read while main is still assembling
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			registry.set([]*mqtt.Bridge{{}, {}})
		}()
		go func() {
			defer wg.Done()
			for _, bridge := range registry.all() {
				assert.NotNil(t, bridge)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, registry.all(), 2)
}

func TestBridgeRegistryEmptyBeforeAssembly(t *testing.T) {
	var registry bridgeRegistry
	assert.Empty(t, registry.all())
}
