package ttc

import (
	"fmt"
	"sort"
	"sync"

	"github.com/krisarmstrong/omxconf/pkg/logging"
	"github.com/krisarmstrong/omxconf/pkg/omx"
)

// Names of the components the in-process core registers by default.
const (
	TunnelTestName = "OMX.CONF.tunnel.test"
	VideoTestName  = "OMX.CONF.video.test"
	SinkTestName   = "OMX.CONF.sink.test"
)

// DefaultConfigs returns the built-in component set: the pass-through
// tunnel test component, a two-domain variant and an input-only sink.
func DefaultConfigs() []Config {
	tunnel := DefaultConfig(TunnelTestName)

	video := DefaultConfig(VideoTestName)
	video.Ports = []PortConfig{
		{Dir: omx.DirInput, Domain: omx.DomainAudio, CountMin: 2, CountActual: 2, BufferSize: 2048,
			Formats: []omx.PortFormat{{Encoding: 1}, {Encoding: 2}}},
		{Dir: omx.DirInput, Domain: omx.DomainVideo, CountMin: 2, CountActual: 3, BufferSize: 8192,
			Formats: []omx.PortFormat{{Compression: 0, Color: 19}, {Compression: 7}}},
		{Dir: omx.DirOutput, Domain: omx.DomainVideo, CountMin: 2, CountActual: 3, BufferSize: 8192,
			Formats: []omx.PortFormat{{Compression: 0, Color: 19}}},
	}

	sink := DefaultConfig(SinkTestName)
	sink.Ports = sink.Ports[:1]

	return []Config{tunnel, video, sink}
}

// Core is an in-process IL core hosting test components.
type Core struct {
	mu      sync.Mutex
	configs map[string]Config
	live    map[*Component]bool
	inited  bool
}

// NewCore returns a core serving configs, or DefaultConfigs when none are
// given.
func NewCore(configs ...Config) *Core {
	if len(configs) == 0 {
		configs = DefaultConfigs()
	}
	c := &Core{configs: map[string]Config{}, live: map[*Component]bool{}}
	for _, cfg := range configs {
		c.configs[cfg.Name] = cfg
	}
	return c
}

// Register adds or replaces a component configuration.
func (c *Core) Register(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs[cfg.Name] = cfg
	return nil
}

func (c *Core) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inited = true
	return nil
}

// Deinit closes every handle that was not freed.
func (c *Core) Deinit() error {
	c.mu.Lock()
	live := c.live
	c.live = map[*Component]bool{}
	c.inited = false
	c.mu.Unlock()
	for comp := range live {
		logging.LogWarn(logging.ComponentCore, "handle leaked at deinit", "name", comp.Name())
		comp.Close()
	}
	return nil
}

func (c *Core) ComponentNames() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.configs))
	for n := range c.configs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (c *Core) GetHandle(name string, cb omx.Callbacks) (omx.Component, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inited {
		return nil, omx.ErrorNotReady
	}
	cfg, ok := c.configs[name]
	if !ok {
		return nil, omx.ErrorComponentNotFound
	}
	comp, err := New(cfg, cb)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	c.live[comp] = true
	logging.LogDebug(logging.ComponentCore, "handle created", "name", name)
	return comp, nil
}

func (c *Core) FreeHandle(h omx.Component) error {
	comp, ok := omx.Unwrap(h).(*Component)
	if !ok {
		return omx.ErrorBadParameter
	}
	c.mu.Lock()
	if !c.live[comp] {
		c.mu.Unlock()
		return omx.ErrorBadParameter
	}
	delete(c.live, comp)
	c.mu.Unlock()

	if st, _ := comp.GetState(); st != omx.StateLoaded && st != omx.StateInvalid {
		logging.LogWarn(logging.ComponentCore, "handle freed outside Loaded", "name", comp.Name(), "state", st)
	}
	comp.Close()
	return nil
}

func (c *Core) SetupTunnel(out omx.Component, outPort uint32, in omx.Component, inPort uint32) error {
	return omx.SetupTunnel(out, outPort, in, inPort)
}
