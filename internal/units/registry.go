// Package units holds the named value transforms applied to provider bands
// during normalization.
package units

import (
	"sort"
	"sync"
)

// Transform converts a raw band value into a physical unit
type Transform struct {
	Name  string
	Unit  string
	Apply func(float64) float64
}

const (
	modisLSTScale = 0.02
	kelvinOffset  = 273.15
)

// ModisLSTToCelsius converts MODIS LST digital numbers (0.02 K per unit) to °C.
var ModisLSTToCelsius = Transform{
	Name: "modis_lst_celsius",
	Unit: "°C",
	Apply: func(raw float64) float64 {
		return modisLSTScale*raw - kelvinOffset
	},
}

// Description names a band in human readable output
type Description struct {
	// Short fits inside a sentence, e.g. "daytime LST".
	Short string
	// Title heads a figure, e.g. "Daytime Land Surface Temperature".
	Title string
}

var descriptions = map[string]Description{
	"LST_Day_1km":   {Short: "daytime LST", Title: "Daytime Land Surface Temperature"},
	"LST_Night_1km": {Short: "nighttime LST", Title: "Nighttime Land Surface Temperature"},
}

// Describe returns the description of band. Unknown bands are described by
// their own name.
func Describe(band string) Description {
	if d, ok := descriptions[band]; ok {
		return d
	}
	return Description{Short: band, Title: band}
}

// Registry maps band names to transforms. Bands without an entry pass
// through unchanged.
type Registry struct {
	mu         sync.RWMutex
	transforms map[string]Transform
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{transforms: make(map[string]Transform)}
}

// DefaultRegistry registers the MODIS MOD11A1 temperature bands
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("LST_Day_1km", ModisLSTToCelsius)
	r.Register("LST_Night_1km", ModisLSTToCelsius)
	return r
}

// Register binds t to band, replacing any earlier binding
func (r *Registry) Register(band string, t Transform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transforms[band] = t
}

// Lookup returns the transform registered for band
func (r *Registry) Lookup(band string) (Transform, bool) {
	if r == nil {
		return Transform{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transforms[band]
	return t, ok
}

// Unit returns the physical unit band is converted to, or "" for bands
// that pass through unchanged
func (r *Registry) Unit(band string) string {
	t, _ := r.Lookup(band)
	return t.Unit
}

// Apply converts value with band's transform, or returns it unchanged
func (r *Registry) Apply(band string, value float64) float64 {
	if t, ok := r.Lookup(band); ok && t.Apply != nil {
		return t.Apply(value)
	}
	return value
}

// Bands lists the bands with a registered transform, sorted
func (r *Registry) Bands() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.transforms))
	for band := range r.transforms {
		out = append(out, band)
	}
	sort.Strings(out)
	return out
}
