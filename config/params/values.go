package params

import (
	"sync"

	"github.com/mohae/deepcopy"
)

var (
	configLock   sync.RWMutex
	activeConfig = DefaultConfig()
)

// ActiveConfig returns the configuration currently in force. Callers must
// not mutate the returned value; use Copy first.
func ActiveConfig() *Config {
	configLock.RLock()
	defer configLock.RUnlock()
	return activeConfig
}

// OverrideConfig replaces the active configuration, coercing its windows
// into a consistent ordering first.
func OverrideConfig(c *Config) {
	c.Coerce()
	configLock.Lock()
	defer configLock.Unlock()
	activeConfig = c
}

// Copy returns a deep copy of the config, safe to mutate independently.
func (c *Config) Copy() *Config {
	configLock.RLock()
	defer configLock.RUnlock()
	out, ok := deepcopy.Copy(c).(*Config)
	if !ok {
		panic("config copy produced an unexpected type")
	}
	return out
}

// SetupTestConfigCleanup preserves the active configuration around a test
// that overrides it.
func SetupTestConfigCleanup(t interface{ Cleanup(func()) }) {
	prev := ActiveConfig().Copy()
	t.Cleanup(func() {
		OverrideConfig(prev)
	})
}
