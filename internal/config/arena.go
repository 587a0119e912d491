// Package config loads the arena calibration document and the service
// settings.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DefaultArenaPath is where the calibration tool writes the arena document.
const DefaultArenaPath = "config_arena_pac_man.json"

// DefaultStopMinArea is the smallest stop-colour region, in px², that halts the arena.
const DefaultStopMinArea = 500

const maxArenaFileSize = 1 << 20

// ErrInvalidArena is wrapped by every validation failure of the arena document.
var ErrInvalidArena = errors.New("invalid arena configuration")

// Rect is a rectangle stored as [x, y, width, height].
type Rect struct {
	X, Y, W, H int
}

// UnmarshalJSON decodes the four-element array form.
func (r *Rect) UnmarshalJSON(b []byte) error {
	var v []int
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if len(v) != 4 {
		return fmt.Errorf("rectangle needs 4 values [x, y, w, h], got %d", len(v))
	}
	r.X, r.Y, r.W, r.H = v[0], v[1], v[2], v[3]
	return nil
}

// MarshalJSON encodes r in the four-element array form.
func (r Rect) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{r.X, r.Y, r.W, r.H})
}

// HSV is a hue, saturation, value triple in OpenCV units.
type HSV [3]float64

// ColorRange is a closed HSV range.
type ColorRange struct {
	Lower HSV `json:"lower"`
	Upper HSV `json:"upper"`
}

// StopColor configures the optional colour that marks the arena halted.
type StopColor struct {
	ColorRange
	MinArea float64 `json:"min_area,omitempty"`
}

// Arena is the calibration document.
type Arena struct {
	ROI     Rect                  `json:"ROI"`
	Markers map[string]ColorRange `json:"Cores"`
	Zones   map[string]Rect       `json:"Zonas,omitempty"`
	Stop    *StopColor            `json:"Parada,omitempty"`
}

// LoadArena reads and validates the arena document at path.
func LoadArena(path string) (*Arena, error) {
	cleanPath := filepath.Clean(path)

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("arena config: %w", err)
	}
	if info.Size() > maxArenaFileSize {
		return nil, fmt.Errorf("arena config too large: %d bytes (max %d)", info.Size(), maxArenaFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("arena config: %w", err)
	}
	return ParseArena(data)
}

// ParseArena decodes and validates an arena document.
func ParseArena(data []byte) (*Arena, error) {
	var a Arena
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArena, err)
	}
	if a.Zones == nil {
		a.Zones = map[string]Rect{}
	}
	if a.Stop != nil && a.Stop.MinArea == 0 {
		a.Stop.MinArea = DefaultStopMinArea
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate checks the document for values the pipeline cannot work with.
func (a *Arena) Validate() error {
	if a.ROI.X < 0 || a.ROI.Y < 0 || a.ROI.W <= 0 || a.ROI.H <= 0 {
		return fmt.Errorf("%w: ROI %v must have a non-negative origin and positive size", ErrInvalidArena, a.ROI)
	}
	if len(a.Markers) == 0 {
		return fmt.Errorf("%w: no markers under \"Cores\"", ErrInvalidArena)
	}
	for _, id := range a.MarkerIDs() {
		if id == "" {
			return fmt.Errorf("%w: empty marker identifier", ErrInvalidArena)
		}
		if err := a.Markers[id].validate(); err != nil {
			return fmt.Errorf("%w: marker %q: %v", ErrInvalidArena, id, err)
		}
	}
	for id, z := range a.Zones {
		if z.W < 0 || z.H < 0 {
			return fmt.Errorf("%w: zone %q has negative size", ErrInvalidArena, id)
		}
	}
	if a.Stop != nil {
		if err := a.Stop.validate(); err != nil {
			return fmt.Errorf("%w: stop colour: %v", ErrInvalidArena, err)
		}
		if a.Stop.MinArea < 0 {
			return fmt.Errorf("%w: stop colour min_area must be positive", ErrInvalidArena)
		}
	}
	return nil
}

// MarkerIDs returns the marker identifiers in processing order.
func (a *Arena) MarkerIDs() []string {
	ids := make([]string, 0, len(a.Markers))
	for id := range a.Markers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c ColorRange) validate() error {
	for i := range c.Lower {
		lo, hi := c.Lower[i], c.Upper[i]
		if lo < 0 || hi > 255 {
			return fmt.Errorf("component %d out of [0, 255]: %v..%v", i, lo, hi)
		}
		if lo > hi {
			return fmt.Errorf("component %d lower bound %v above upper bound %v", i, lo, hi)
		}
	}
	return nil
}
