package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRectContainsInclusiveEdges(t *testing.T) {
	r := Rect{X: 100, Y: 50, W: 40, H: 20}

	tests := []struct {
		name   string
		px, py int
		want   bool
	}{
		{"top left corner", 100, 50, true},
		{"bottom right corner", 140, 70, true},
		{"top right corner", 140, 50, true},
		{"bottom left corner", 100, 70, true},
		{"centre", 120, 60, true},
		{"left of edge", 99, 60, false},
		{"right of edge", 141, 60, false},
		{"above", 120, 49, false},
		{"below", 120, 71, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Contains(tt.px, tt.py))
		})
	}
}

func TestClassifyZones(t *testing.T) {
	zones := map[string]Rect{
		"zona_1": {X: 0, Y: 0, W: 100, H: 100},
		"zona_2": {X: 50, Y: 50, W: 100, H: 100},
		"zona_3": {X: 500, Y: 500, W: 10, H: 10},
	}

	t.Run("overlapping zones", func(t *testing.T) {
		got := ClassifyZones(&MarkerPose{Marker: "pac-man", X: 75, Y: 75}, zones)
		assert.Equal(t, map[string]bool{"zona_1": true, "zona_2": true, "zona_3": false}, got)
	})

	t.Run("corner counts as inside", func(t *testing.T) {
		got := ClassifyZones(&MarkerPose{Marker: "pac-man", X: 510, Y: 510}, zones)
		assert.True(t, got["zona_3"])
	})

	t.Run("absent primary", func(t *testing.T) {
		got := ClassifyZones(nil, zones)
		assert.Len(t, got, len(zones))
		for id, occupied := range got {
			assert.False(t, occupied, id)
		}
	})

	t.Run("no zones", func(t *testing.T) {
		got := ClassifyZones(&MarkerPose{X: 1, Y: 1}, nil)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
}

func TestRectImage(t *testing.T) {
	r := Rect{X: 5, Y: 6, W: 10, H: 20}
	img := r.Image()
	assert.Equal(t, 5, img.Min.X)
	assert.Equal(t, 26, img.Max.Y)
}
