package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/geekprojects/blackbox/pkg/telemetry"
)

func TestDistanceKm(t *testing.T) {
	tests := []struct {
		name  string
		a, b  telemetry.Position
		want  float64
		delta float64
	}{
		{
			name:  "same point",
			a:     telemetry.Position{Latitude: 51.47, Longitude: -0.46},
			b:     telemetry.Position{Latitude: 51.47, Longitude: -0.46},
			want:  0,
			delta: 1e-9,
		},
		{
			name:  "one degree of latitude",
			a:     telemetry.Position{Latitude: 0, Longitude: 0},
			b:     telemetry.Position{Latitude: 1, Longitude: 0},
			want:  111.195,
			delta: 0.01,
		},
		{
			name:  "heathrow to charles de gaulle",
			a:     telemetry.Position{Latitude: 51.4700, Longitude: -0.4543},
			b:     telemetry.Position{Latitude: 49.0097, Longitude: 2.5479},
			want:  347.0,
			delta: 1.0,
		},
		{
			name:  "across the dateline",
			a:     telemetry.Position{Latitude: 0, Longitude: 179.5},
			b:     telemetry.Position{Latitude: 0, Longitude: -179.5},
			want:  111.195,
			delta: 0.01,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, DistanceKm(tt.a, tt.b), tt.delta)
			assert.InDelta(t, tt.want, DistanceKm(tt.b, tt.a), tt.delta)
		})
	}
}
