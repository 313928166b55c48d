// Package gazetteer resolves user-written settlement labels to coordinates
// without a network call. The feature set is embedded at build time and
// shared read-only after startup.
package gazetteer

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kfirel/hiker/pkg/geo"
	"github.com/uber/h3-go/v4"
)

//go:embed data/settlements.json
var settlementsJSON []byte

// Entry is a single settlement feature. Immutable after load.
type Entry struct {
	ID         string   `json:"id"`
	NameHe     string   `json:"name_he"`
	NameEn     string   `json:"name_en"`
	Aliases    []string `json:"aliases,omitempty"`
	Kind       string   `json:"kind"`
	Population int      `json:"population"`
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
}

// Point returns the entry's coordinates.
func (e *Entry) Point() geo.Point {
	return geo.Point{Lat: e.Lat, Lon: e.Lon}
}

// DisplayName prefers the Hebrew name, which is what users type.
func (e *Entry) DisplayName() string {
	if e.NameHe != "" {
		return e.NameHe
	}
	return e.NameEn
}

// Gazetteer is an in-memory geocoder over the settlement feature set.
type Gazetteer struct {
	entries []*Entry
	byName  map[string]*Entry
	byCell  map[h3.Cell][]*Entry
	names   []string
}

// New loads the embedded settlement asset.
func New() (*Gazetteer, error) {
	return NewFromJSON(settlementsJSON)
}

// NewFromJSON builds a gazetteer from a raw feature collection. Exposed for
// tests that need a controlled set of entries.
func NewFromJSON(data []byte) (*Gazetteer, error) {
	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse settlements: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("settlements asset is empty")
	}

	g := &Gazetteer{
		entries: entries,
		byName:  make(map[string]*Entry, len(entries)*3),
		byCell:  make(map[h3.Cell][]*Entry, len(entries)),
	}

	nameSet := make(map[string]struct{}, len(entries)*2)
	for _, e := range entries {
		for _, name := range append([]string{e.NameHe, e.NameEn}, e.Aliases...) {
			key := Normalize(name)
			if key == "" {
				continue
			}
			g.insert(key, e)
			nameSet[name] = struct{}{}
		}

		if cell := geo.LatLngToCell(e.Point(), geo.H3ResolutionSettlement); cell != 0 {
			g.byCell[cell] = append(g.byCell[cell], e)
		}
	}

	g.names = make([]string, 0, len(nameSet))
	for name := range nameSet {
		g.names = append(g.names, name)
	}
	sort.Strings(g.names)

	return g, nil
}

// insert registers a normalized key, resolving collisions deterministically:
// higher population wins, ties break on the lexicographically smaller id.
func (g *Gazetteer) insert(key string, e *Entry) {
	existing, ok := g.byName[key]
	if !ok {
		g.byName[key] = e
		return
	}
	if e.Population > existing.Population ||
		(e.Population == existing.Population && e.ID < existing.ID) {
		g.byName[key] = e
	}
}

// Lookup resolves a user-written label to a settlement entry. A miss returns
// (nil, false); it never errors.
func (g *Gazetteer) Lookup(label string) (*Entry, bool) {
	key := Normalize(label)
	if key == "" {
		return nil, false
	}
	if e, ok := g.byName[key]; ok {
		return e, true
	}

	// Longest-token-preferred fallback: try contiguous token runs of the
	// label, longest first, so "קיבוץ גברעם" still resolves to גברעם.
	tokens := strings.Fields(key)
	for length := len(tokens) - 1; length >= 1; length-- {
		for start := 0; start+length <= len(tokens); start++ {
			if e, ok := g.byName[strings.Join(tokens[start:start+length], " ")]; ok {
				return e, true
			}
		}
	}
	return nil, false
}

// LookupPoint resolves a label directly to coordinates.
func (g *Gazetteer) LookupPoint(label string) (geo.Point, bool) {
	e, ok := g.Lookup(label)
	if !ok {
		return geo.Point{}, false
	}
	return e.Point(), true
}

// SameSettlement reports whether two labels resolve to the same entry.
func (g *Gazetteer) SameSettlement(a, b string) bool {
	ea, ok := g.Lookup(a)
	if !ok {
		return false
	}
	eb, ok := g.Lookup(b)
	if !ok {
		return false
	}
	return ea.ID == eb.ID
}

// Nearest returns the settlement closest to p, searched through the H3 cell
// index with an expanding ring. Returns false when nothing lies within a few
// rings (~10 km at the settlement resolution).
func (g *Gazetteer) Nearest(p geo.Point) (*Entry, bool) {
	origin := geo.LatLngToCell(p, geo.H3ResolutionSettlement)
	if origin == 0 {
		return nil, false
	}

	const maxRing = 8
	for k := 0; k <= maxRing; k++ {
		disk, err := h3.GridDisk(origin, k)
		if err != nil {
			break
		}

		var best *Entry
		bestKm := 0.0
		for _, cell := range disk {
			for _, e := range g.byCell[cell] {
				d := geo.Haversine(p, e.Point())
				if best == nil || d < bestKm {
					best, bestKm = e, d
				}
			}
		}
		if best != nil {
			return best, true
		}
	}
	return nil, false
}

// KnownNames returns all names and aliases in sorted order, for diagnostics.
func (g *Gazetteer) KnownNames() []string {
	return g.names
}

// Len returns the number of loaded entries.
func (g *Gazetteer) Len() int {
	return len(g.entries)
}

var punctReplacer = strings.NewReplacer(
	"-", " ", "_", " ",
	"'", "", "`", "", "\"", "",
	"׳", "", "״", "",
	".", "", ",", "", "!", "", "?", "",
	"(", " ", ")", " ", "/", " ",
)

// Normalize folds a label for matching: lowercase, dash and slash to space,
// apostrophes and punctuation stripped, whitespace collapsed.
func Normalize(label string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	s = punctReplacer.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
