package kvadrere

import (
	"fmt"
	"math/bits"
)

// rotate lays out a quadrant on the hilbert curve.
//
// ry=1 no change
// ry=0,rx=0 swap
// ry=0,rx=1 rotate 180degree
func rotate(n, x, y, rx, ry uint64) (uint64, uint64) {
	if ry == 0 {
		if rx != 0 {
			return n - 1 - y, n - 1 - x
		}
		return y, x
	}
	return x, y
}

// levelOffset is the number of tiles on all levels above zoom.
func levelOffset(zoom int) uint64 {
	return (uint64(1)<<(2*zoom) - 1) / 3
}

// HilbertTileID returns the PMTiles tile id of t at zoom. Ids order tiles
// by zoom first and along a hilbert curve within a zoom.
func HilbertTileID(t TileCoord, zoom int) (uint64, error) {
	if zoom < 0 || zoom > MaxZoom {
		return 0, fmt.Errorf("zoom %d outside of [0, %d]", zoom, MaxZoom)
	}
	if t.X >= 1<<zoom || t.Y >= 1<<zoom {
		return 0, fmt.Errorf("tile x/y (%d/%d) outside of bounds for zoom %d", t.X, t.Y, zoom)
	}

	id := levelOffset(zoom)
	x, y := t.X, t.Y
	for pos := zoom - 1; pos >= 0; pos-- {
		s := uint64(1) << pos
		rx := x & s
		ry := y & s
		id += ((3 * rx) ^ ry) << pos
		x, y = rotate(s, x, y, rx, ry)
	}
	return id, nil
}

// TileFromHilbertID is the inverse of HilbertTileID.
func TileFromHilbertID(id uint64) (TileCoord, int, error) {
	zoom := (bits.Len64(3*id+1) - 1) / 2
	if zoom > MaxZoom {
		return TileCoord{}, 0, fmt.Errorf("tile id %d resolves to zoom %d beyond %d", id, zoom, MaxZoom)
	}

	code := id - levelOffset(zoom)
	var x, y uint64
	for s := uint64(1); s < 1<<zoom; s <<= 1 {
		rx := (code >> 1) & 1
		ry := (code ^ rx) & 1
		x, y = rotate(s, x, y, rx, ry)
		x += rx * s
		y += ry * s
		code >>= 2
	}
	return TileCoord{X: x, Y: y}, zoom, nil
}

// TileID returns the PMTiles tile id of k.
func (k QuadKey) TileID() (uint64, error) {
	t, err := k.Tile()
	if err != nil {
		return 0, err
	}
	return HilbertTileID(t, k.Zoom())
}

// QuadKeyFromTileID returns the quadkey addressed by a PMTiles tile id.
func QuadKeyFromTileID(id uint64) (QuadKey, error) {
	t, zoom, err := TileFromHilbertID(id)
	if err != nil {
		return "", err
	}
	return TileToQuadKey(t, zoom), nil
}
