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

// Package geo computes approximate ground distances between coordinates
// expressed as fixed-point micro-degrees. The math is integer-only so that
// every node evaluates a claim to the same meter count.
package geo

const (
	// MicroDegree is the fixed-point scale factor for coordinates
	MicroDegree = 1_000_000

	// MetersPerDegree is the equirectangular conversion factor. It treats
	// one degree along either axis as 111,320 meters, which holds to within
	// a few percent over the radius range claims are verified at (5-1000m)
	// and overestimates longitude spans away from the equator. The
	// overestimate can only reject a borderline claim, never accept one
	// from outside the radius.
	MetersPerDegree = 111_320

	MaxLatitude  = 90 * MicroDegree
	MaxLongitude = 180 * MicroDegree
)

// Point is a coordinate pair in micro-degrees
type Point struct {
	Latitude  int64
	Longitude int64
}

// Valid reports whether the point lies within the coordinate domain
func (p Point) Valid() bool {
	if p.Latitude < -MaxLatitude || p.Latitude > MaxLatitude {
		return false
	}
	if p.Longitude < -MaxLongitude || p.Longitude > MaxLongitude {
		return false
	}
	return true
}

// Distance returns the approximate ground distance between two points in
// whole meters using a planar projection: each axis delta converts to meters
// at MetersPerDegree and the result is the Euclidean norm of the pair.
// Pure and total over the valid coordinate domain.
func Distance(a, b Point) uint64 {
	latMeters := deltaMeters(a.Latitude, b.Latitude)
	lonMeters := deltaMeters(a.Longitude, b.Longitude)
	return isqrt(latMeters*latMeters + lonMeters*lonMeters)
}

// deltaMeters converts a micro-degree delta along one axis to meters
func deltaMeters(a, b int64) uint64 {
	d := a - b
	if d < 0 {
		d = -d
	}
	// max delta is 360 degrees, so the product stays well inside 64 bits
	return uint64(d) * MetersPerDegree / MicroDegree
}

// isqrt returns the integer square root via Newton's method, terminating
// when the iterate stops decreasing
func isqrt(n uint64) uint64 {
	if n < 2 {
		return n
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}
