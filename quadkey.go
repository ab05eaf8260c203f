package kvadrere

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

const (
	TileSize     = 256
	MinLatitude  = -85.05112878
	MaxLatitude  = 85.05112878
	MinLongitude = -180
	MaxLongitude = 180
	MinZoom      = 1
	MaxZoom      = 23
)

// PixelCoord is a pixel position at some zoom level.
type PixelCoord struct {
	X uint64 `json:"x"`
	Y uint64 `json:"y"`
}

// TileCoord is a tile index at some zoom level.
type TileCoord struct {
	X uint64 `json:"x"`
	Y uint64 `json:"y"`
}

// ValidZoom reports whether zoom lies within [MinZoom, MaxZoom].
func ValidZoom(zoom int) bool {
	return zoom >= MinZoom && zoom <= MaxZoom
}

// MapSize returns the width and height of the map in pixels at zoom.
// zoom is clamped to [0, MaxZoom].
func MapSize(zoom int) uint64 {
	zoom = min(max(zoom, 0), MaxZoom)
	return uint64(TileSize) << zoom
}

// clampf clamps n to [minValue, maxValue]. NaN clamps to minValue.
func clampf(n, minValue, maxValue float64) float64 {
	if math.IsNaN(n) {
		return minValue
	}
	return math.Min(math.Max(n, minValue), maxValue)
}

// GeoToPixel converts a WGS-84 longitude/latitude in degrees into pixel
// coordinates at zoom. Out of range coordinates are clamped, never rejected.
func GeoToPixel(lon, lat float64, zoom int) PixelCoord {
	lat = clampf(lat, MinLatitude, MaxLatitude)
	lon = clampf(lon, MinLongitude, MaxLongitude)

	x := (lon + 180) / 360
	sinLat := math.Sin(lat * math.Pi / 180)
	y := 0.5 - math.Log((1+sinLat)/(1-sinLat))/(4*math.Pi)

	size := float64(MapSize(zoom))
	// round half up, then clamp
	return PixelCoord{
		X: uint64(clampf(x*size+0.5, 0, size-1)),
		Y: uint64(clampf(y*size+0.5, 0, size-1)),
	}
}

// PixelToTile returns the tile containing pixel p.
func PixelToTile(p PixelCoord) TileCoord {
	return TileCoord{X: p.X / TileSize, Y: p.Y / TileSize}
}

// TileToPixel returns the upper-left pixel of tile t.
func TileToPixel(t TileCoord) PixelCoord {
	return PixelCoord{X: t.X * TileSize, Y: t.Y * TileSize}
}

// pixelToGeo is the inverse Mercator transform for a pixel corner on a map
// of the given size.
func pixelToGeo(px, py, size float64) (lon, lat float64) {
	x := clampf(px, 0, size)/size - 0.5
	y := 0.5 - clampf(py, 0, size)/size

	lat = 90 - 360*math.Atan(math.Exp(-y*2*math.Pi))/math.Pi
	lon = 360 * x
	return lon, lat
}

// QuadKey identifies a single tile of the quadtree. Its length is the zoom
// level the key was produced at.
type QuadKey string

// TileToQuadKey encodes tile t at zoom into a quadkey of length zoom.
func TileToQuadKey(t TileCoord, zoom int) QuadKey {
	if zoom <= 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(zoom)
	for i := zoom; i > 0; i-- {
		digit := byte('0')
		mask := uint64(1) << (i - 1)
		if t.X&mask != 0 {
			digit++
		}
		if t.Y&mask != 0 {
			digit += 2
		}
		b.WriteByte(digit)
	}
	return QuadKey(b.String())
}

// GeoToQuadKey returns the key of the tile containing lon/lat at zoom.
func GeoToQuadKey(lon, lat float64, zoom int) QuadKey {
	return TileToQuadKey(PixelToTile(GeoToPixel(lon, lat, zoom)), zoom)
}

// ParseQuadKey validates s and returns it as a QuadKey.
func ParseQuadKey(s string) (QuadKey, error) {
	k := QuadKey(strings.TrimSpace(s))
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

func (k QuadKey) String() string {
	return string(k)
}

// Zoom returns the level of detail of k.
func (k QuadKey) Zoom() int {
	return len(k)
}

// Validate reports an ErrInvalidQuadKey if k holds a digit outside 0..3
// or is deeper than MaxZoom.
func (k QuadKey) Validate() error {
	if len(k) > MaxZoom {
		return fmt.Errorf("%w: length %d exceeds zoom %d", ErrInvalidQuadKey, len(k), MaxZoom)
	}
	for i := 0; i < len(k); i++ {
		if k[i] < '0' || k[i] > '3' {
			return fmt.Errorf("%w: digit %q at index %d", ErrInvalidQuadKey, k[i], i)
		}
	}
	return nil
}

// UnmarshalText decodes and validates a quadkey.
func (k *QuadKey) UnmarshalText(text []byte) error {
	parsed, err := ParseQuadKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Tile decodes k into tile coordinates at zoom k.Zoom().
func (k QuadKey) Tile() (TileCoord, error) {
	if err := k.Validate(); err != nil {
		return TileCoord{}, err
	}

	var t TileCoord
	z := len(k)
	for i := z; i > 0; i-- {
		mask := uint64(1) << (i - 1)
		switch k[z-i] {
		case '1':
			t.X |= mask
		case '2':
			t.Y |= mask
		case '3':
			t.X |= mask
			t.Y |= mask
		}
	}
	return t, nil
}

// Bound returns the geographic bounds of the tile k.
func (k QuadKey) Bound() (orb.Bound, error) {
	t, err := k.Tile()
	if err != nil {
		return orb.Bound{}, err
	}

	upperLeft := TileToPixel(t)
	size := float64(MapSize(k.Zoom()))

	west, north := pixelToGeo(float64(upperLeft.X), float64(upperLeft.Y), size)
	east, south := pixelToGeo(float64(upperLeft.X+TileSize), float64(upperLeft.Y+TileSize), size)

	return orb.Bound{
		Min: orb.Point{west, south},
		Max: orb.Point{east, north},
	}, nil
}

// Box returns the tile k as a polygon with a single closed ring
// NW, NE, SE, SW, NW.
func (k QuadKey) Box() (orb.Polygon, error) {
	b, err := k.Bound()
	if err != nil {
		return nil, err
	}
	return boundToBox(b), nil
}

func boundToBox(b orb.Bound) orb.Polygon {
	nw := orb.Point{b.Min[0], b.Max[1]}
	ne := orb.Point{b.Max[0], b.Max[1]}
	se := orb.Point{b.Max[0], b.Min[1]}
	sw := orb.Point{b.Min[0], b.Min[1]}
	return orb.Polygon{orb.Ring{nw, ne, se, sw, nw}}
}
