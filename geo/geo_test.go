// Copyright 2025 Cachet Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package geo_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cachet-io/cachet/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceSamePoint(t *testing.T) {
	p := geo.Point{Latitude: 40_748_400, Longitude: -73_985_700}
	assert.Equal(t, uint64(0), geo.Distance(p, p))
}

func TestDistanceKnownValues(t *testing.T) {
	testDefs := []struct {
		name     string
		a        geo.Point
		b        geo.Point
		expected uint64
	}{
		{
			name:     "one degree latitude",
			a:        geo.Point{Latitude: 0, Longitude: 0},
			b:        geo.Point{Latitude: 1_000_000, Longitude: 0},
			expected: 111_320,
		},
		{
			name:     "one degree longitude at equator",
			a:        geo.Point{Latitude: 0, Longitude: 0},
			b:        geo.Point{Latitude: 0, Longitude: -1_000_000},
			expected: 111_320,
		},
		{
			// axis legs of 33396m and 44528m share the common factor
			// 11132, so the hypotenuse is exactly 5*11132
			name:     "pythagorean diagonal",
			a:        geo.Point{Latitude: 10_000_000, Longitude: 10_000_000},
			b:        geo.Point{Latitude: 10_300_000, Longitude: 10_400_000},
			expected: 55_660,
		},
		{
			name:     "thousand meters north",
			a:        geo.Point{Latitude: 40_748_400, Longitude: -73_985_700},
			b:        geo.Point{Latitude: 40_757_384, Longitude: -73_985_700},
			expected: 1000,
		},
		{
			name:     "fifty meter radius edge",
			a:        geo.Point{Latitude: 40_748_400, Longitude: -73_985_700},
			b:        geo.Point{Latitude: 40_748_849, Longitude: -73_985_700},
			expected: 49,
		},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			assert.Equal(t, testDef.expected, geo.Distance(testDef.a, testDef.b))
		})
	}
}

func TestDistanceSymmetry(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for range 1000 {
		a := randomPoint(rng)
		b := randomPoint(rng)
		require.Equal(t, geo.Distance(a, b), geo.Distance(b, a))
	}
}

// Compares the integer approximation against a float haversine reference for
// short spans near the equator, where the fixed conversion factor is honest
// for both axes
func TestDistanceNearHaversine(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for range 2000 {
		a := geo.Point{
			Latitude:  rng.Int63n(10_000_000) - 5_000_000,
			Longitude: rng.Int63n(10_000_000) - 5_000_000,
		}
		b := geo.Point{
			Latitude:  a.Latitude + rng.Int63n(40_000) - 20_000,
			Longitude: a.Longitude + rng.Int63n(40_000) - 20_000,
		}
		got := float64(geo.Distance(a, b))
		want := haversine(a, b)
		// integer flooring on each axis plus the root can shave up to
		// ~2.4m from the result
		tolerance := 3.0 + want*0.03
		require.InDelta(
			t,
			want,
			got,
			tolerance,
			"points %+v %+v",
			a,
			b,
		)
	}
}

func TestPointValid(t *testing.T) {
	testDefs := []struct {
		name     string
		point    geo.Point
		expected bool
	}{
		{"origin", geo.Point{}, true},
		{"north pole", geo.Point{Latitude: 90_000_000}, true},
		{"past north pole", geo.Point{Latitude: 90_000_001}, false},
		{"south bound", geo.Point{Latitude: -90_000_000}, true},
		{"date line", geo.Point{Longitude: 180_000_000}, true},
		{"past date line", geo.Point{Longitude: -180_000_001}, false},
	}
	for _, testDef := range testDefs {
		t.Run(testDef.name, func(t *testing.T) {
			assert.Equal(t, testDef.expected, testDef.point.Valid())
		})
	}
}

func randomPoint(rng *rand.Rand) geo.Point {
	return geo.Point{
		Latitude:  rng.Int63n(2*geo.MaxLatitude+1) - geo.MaxLatitude,
		Longitude: rng.Int63n(2*geo.MaxLongitude+1) - geo.MaxLongitude,
	}
}

func haversine(a, b geo.Point) float64 {
	const earthRadius = 6_371_000.0
	lat1 := float64(a.Latitude) / geo.MicroDegree * math.Pi / 180
	lat2 := float64(b.Latitude) / geo.MicroDegree * math.Pi / 180
	dLat := lat2 - lat1
	dLon := float64(b.Longitude-a.Longitude) / geo.MicroDegree * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadius * math.Asin(math.Sqrt(h))
}
