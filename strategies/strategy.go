// Package strategies holds the signal sources the engine can run. A strategy
// only looks at bars; sizing, stops and order flow belong to the engine.
package strategies

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rustyeddy/riskengine/market"
)

// Strategy turns a bar window (oldest to newest) into entry and exit signals.
// Implementations must be pure with respect to the window.
type Strategy interface {
	Name() string
	RequiredBars() int
	CheckEntry(bars []market.Bar) market.Signal
	CheckExit(bars []market.Bar) bool
}

// Params are numeric strategy settings from configuration. Missing keys take
// the strategy's defaults.
type Params map[string]float64

func (p Params) get(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

func (p Params) getInt(key string, def int) int {
	return int(p.get(key, float64(def)))
}

type Factory func(Params) (Strategy, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register makes a strategy constructible by name. Names are case-insensitive.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[normalize(name)] = f
}

// New builds the strategy registered under name.
func New(name string, p Params) (Strategy, error) {
	mu.RLock()
	f, ok := registry[normalize(name)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	return f(p)
}

// Names lists registered strategies, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func init() {
	Register("noop", func(Params) (Strategy, error) { return Noop{}, nil })
	Register("ema-cross", func(p Params) (Strategy, error) { return NewEMACross(p) })
	Register("vwap", func(p Params) (Strategy, error) { return NewVWAPReversion(p) })
	Register("cci-divergence", func(p Params) (Strategy, error) { return NewCCIDivergence(p) })
}
