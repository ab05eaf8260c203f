package kvadrere

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQuadKey is returned when a quadkey contains a digit outside 0..3.
	ErrInvalidQuadKey = errors.New("invalid quadkey")
	// ErrTopology is returned by a Kernel when a ring is malformed.
	ErrTopology = errors.New("topology failure")
	// ErrUnsupportedGeometry is returned for inputs that are neither Point,
	// Polygon nor MultiPolygon.
	ErrUnsupportedGeometry = errors.New("unsupported geometry type")
)

// TileError records where in the descent tiling failed.
type TileError struct {
	Key   QuadKey
	Depth int
	Err   error
}

func (e *TileError) Error() string {
	return fmt.Sprintf("tiling quadkey %q at depth %d: %v", e.Key, e.Depth, e.Err)
}

func (e *TileError) Unwrap() error {
	return e.Err
}
