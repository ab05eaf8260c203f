package kvadrere

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

const epsilon = 1e-9

func TestMapSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		zoom     int
		expected uint64
	}{
		{zoom: 0, expected: 256},
		{zoom: 1, expected: 512},
		{zoom: 12, expected: 1048576},
		{zoom: 23, expected: 2147483648},
		{zoom: -3, expected: 256},
		{zoom: 40, expected: 2147483648},
	}

	for _, tt := range tests {
		if got := MapSize(tt.zoom); got != tt.expected {
			t.Errorf("MapSize(%d) = %d, expected %d", tt.zoom, got, tt.expected)
		}
	}
}

func TestClampf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		n        float64
		expected float64
	}{
		{name: "inside", n: 0.5, expected: 0.5},
		{name: "below", n: -3, expected: -1},
		{name: "above", n: 7, expected: 2},
		{name: "lower edge", n: -1, expected: -1},
		{name: "upper edge", n: 2, expected: 2},
		{name: "nan", n: math.NaN(), expected: -1},
		{name: "negative infinity", n: math.Inf(-1), expected: -1},
		{name: "positive infinity", n: math.Inf(1), expected: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := clampf(tt.n, -1, 2); got != tt.expected {
				t.Errorf("clampf(%v) = %v, expected %v", tt.n, got, tt.expected)
			}
		})
	}
}

func TestTileToQuadKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		tile     TileCoord
		zoom     int
		expected QuadKey
	}{
		{name: "bit decomposition", tile: TileCoord{X: 3, Y: 5}, zoom: 4, expected: "0213"},
		{name: "bing reference", tile: TileCoord{X: 3, Y: 5}, zoom: 3, expected: "213"},
		{name: "north west", tile: TileCoord{X: 0, Y: 0}, zoom: 1, expected: "0"},
		{name: "north east", tile: TileCoord{X: 1, Y: 0}, zoom: 1, expected: "1"},
		{name: "south west", tile: TileCoord{X: 0, Y: 1}, zoom: 1, expected: "2"},
		{name: "south east", tile: TileCoord{X: 1, Y: 1}, zoom: 1, expected: "3"},
		{name: "origin deep", tile: TileCoord{X: 0, Y: 0}, zoom: 5, expected: "00000"},
		{name: "max tile", tile: TileCoord{X: 1<<23 - 1, Y: 1<<23 - 1}, zoom: 23, expected: "33333333333333333333333"},
		{name: "zero zoom", tile: TileCoord{}, zoom: 0, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := TileToQuadKey(tt.tile, tt.zoom)
			if got != tt.expected {
				t.Fatalf("TileToQuadKey(%v, %d) = %q, expected %q", tt.tile, tt.zoom, got, tt.expected)
			}
			if got.Zoom() != tt.zoom {
				t.Fatalf("expected key length %d, got %d", tt.zoom, got.Zoom())
			}
		})
	}
}

func TestQuadKeyTileRoundTrip(t *testing.T) {
	t.Parallel()

	for zoom := MinZoom; zoom <= MaxZoom; zoom++ {
		n := uint64(1) << zoom
		step := max(n/37, 1)
		for x := uint64(0); x < n; x += step {
			for y := uint64(0); y < n; y += step {
				want := TileCoord{X: x, Y: y}
				key := TileToQuadKey(want, zoom)
				got, err := key.Tile()
				if err != nil {
					t.Fatalf("Tile() of %q returned error: %v", key, err)
				}
				if got != want {
					t.Fatalf("round trip at zoom %d: expected %v, got %v", zoom, want, got)
				}
			}
		}
	}
}

func TestQuadKeyTileInvalid(t *testing.T) {
	t.Parallel()

	for _, key := range []QuadKey{"0124", "abc", "3 1", "000000000000000000000000"} {
		if _, err := key.Tile(); !errors.Is(err, ErrInvalidQuadKey) {
			t.Errorf("Tile() of %q: expected ErrInvalidQuadKey, got %v", key, err)
		}
		if _, err := key.Box(); !errors.Is(err, ErrInvalidQuadKey) {
			t.Errorf("Box() of %q: expected ErrInvalidQuadKey, got %v", key, err)
		}
	}
}

func TestGeoToPixelClamping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		lon, lat float64
		expected PixelCoord
	}{
		{name: "north pole", lon: 0, lat: 90, expected: PixelCoord{X: 256, Y: 0}},
		{name: "south pole", lon: 0, lat: -90, expected: PixelCoord{X: 256, Y: 511}},
		{name: "far east", lon: 200, lat: 0, expected: PixelCoord{X: 511, Y: 256}},
		{name: "far west", lon: -200, lat: 0, expected: PixelCoord{X: 0, Y: 256}},
		{name: "nan", lon: math.NaN(), lat: math.NaN(), expected: PixelCoord{X: 0, Y: 511}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := GeoToPixel(tt.lon, tt.lat, 1)
			if got != tt.expected {
				t.Fatalf("GeoToPixel(%v, %v, 1) = %v, expected %v", tt.lon, tt.lat, got, tt.expected)
			}
		})
	}

	for zoom := MinZoom; zoom <= MaxZoom; zoom++ {
		size := MapSize(zoom)
		for _, c := range [][2]float64{{-180, 90}, {180, -90}, {200, 100}, {-200, -100}} {
			p := GeoToPixel(c[0], c[1], zoom)
			if p.X >= size || p.Y >= size {
				t.Fatalf("GeoToPixel(%v, %v, %d) = %v escapes map size %d", c[0], c[1], zoom, p, size)
			}
		}
	}
}

func TestPixelTileConversion(t *testing.T) {
	t.Parallel()

	tile := PixelToTile(PixelCoord{X: 767, Y: 256})
	if tile != (TileCoord{X: 2, Y: 1}) {
		t.Fatalf("expected tile 2/1, got %v", tile)
	}
	upperLeft := TileToPixel(tile)
	if upperLeft != (PixelCoord{X: 512, Y: 256}) {
		t.Fatalf("expected pixel 512/256, got %v", upperLeft)
	}
}

func TestGeoToQuadKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		lon, lat float64
		zoom     int
		expected QuadKey
	}{
		// the origin rounds half up into the south east quadrant
		{name: "origin", lon: 0, lat: 0, zoom: 1, expected: "3"},
		{name: "origin z2", lon: 0, lat: 0, zoom: 2, expected: "30"},
		{name: "north west", lon: -90, lat: 45, zoom: 1, expected: "0"},
		{name: "north east", lon: 90, lat: 45, zoom: 1, expected: "1"},
		{name: "south west", lon: -90, lat: -45, zoom: 1, expected: "2"},
		{name: "south east", lon: 90, lat: -45, zoom: 1, expected: "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := GeoToQuadKey(tt.lon, tt.lat, tt.zoom)
			if got != tt.expected {
				t.Fatalf("GeoToQuadKey(%v, %v, %d) = %q, expected %q", tt.lon, tt.lat, tt.zoom, got, tt.expected)
			}
			if again := GeoToQuadKey(tt.lon, tt.lat, tt.zoom); again != got {
				t.Fatalf("expected deterministic key, got %q and %q", got, again)
			}
		})
	}
}

func TestGeoToQuadKeyMatchesMaptile(t *testing.T) {
	t.Parallel()

	points := []orb.Point{
		{13.404954, 52.520008},
		{-73.935242, 40.730610},
		{151.209900, -33.865143},
		{-58.381592, -34.603722},
	}

	for _, p := range points {
		for zoom := MinZoom; zoom <= 18; zoom++ {
			mt := maptile.At(p, maptile.Zoom(zoom))
			want := TileToQuadKey(TileCoord{X: uint64(mt.X), Y: uint64(mt.Y)}, zoom)

			// tile centers sit far from the edges, rounding cannot move them
			c := mt.Center()
			if got := GeoToQuadKey(c[0], c[1], zoom); got != want {
				t.Errorf("GeoToQuadKey(%v, %d) = %q, expected %q", c, zoom, got, want)
			}
		}
	}
}

func TestQuadKeyBoundMatchesMaptile(t *testing.T) {
	t.Parallel()

	for _, key := range []QuadKey{"0", "3", "213", "0231", "1202102332221212", "33333333333333333333333"} {
		tile, err := key.Tile()
		if err != nil {
			t.Fatalf("Tile() of %q returned error: %v", key, err)
		}

		got, err := key.Bound()
		if err != nil {
			t.Fatalf("Bound() of %q returned error: %v", key, err)
		}
		want := maptile.New(uint32(tile.X), uint32(tile.Y), maptile.Zoom(key.Zoom())).Bound()

		if !boundsEqual(got, want, epsilon) {
			t.Errorf("Bound() of %q = %v, expected %v", key, got, want)
		}
	}
}

func TestQuadKeyBox(t *testing.T) {
	t.Parallel()

	box, err := QuadKey("").Box()
	if err != nil {
		t.Fatalf("Box() of root returned error: %v", err)
	}
	if len(box) != 1 || len(box[0]) != 5 {
		t.Fatalf("expected a single ring of 5 points, got %v", box)
	}

	ring := box[0]
	if !ring.Closed() {
		t.Fatal("expected a closed ring")
	}
	nw, ne, se, sw := ring[0], ring[1], ring[2], ring[3]
	if nw[0] != -180 || ne[0] != 180 || se[0] != 180 || sw[0] != -180 {
		t.Errorf("unexpected longitudes in %v", ring)
	}
	if math.Abs(nw[1]-MaxLatitude) > 1e-6 || math.Abs(sw[1]-MinLatitude) > 1e-6 {
		t.Errorf("unexpected latitudes in %v", ring)
	}
	if nw[1] != ne[1] || sw[1] != se[1] {
		t.Errorf("expected horizontal north and south edges, got %v", ring)
	}
}

func TestQuadKeyUnmarshalText(t *testing.T) {
	t.Parallel()

	var doc struct {
		Key QuadKey `json:"key"`
	}
	if err := json.Unmarshal([]byte(`{"key":"0231"}`), &doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Key != "0231" {
		t.Fatalf("expected 0231, got %q", doc.Key)
	}

	err := json.Unmarshal([]byte(`{"key":"0291"}`), &doc)
	if !errors.Is(err, ErrInvalidQuadKey) {
		t.Fatalf("expected ErrInvalidQuadKey, got %v", err)
	}
}

func boundsEqual(a, b orb.Bound, eps float64) bool {
	return math.Abs(a.Min[0]-b.Min[0]) <= eps &&
		math.Abs(a.Min[1]-b.Min[1]) <= eps &&
		math.Abs(a.Max[0]-b.Max[0]) <= eps &&
		math.Abs(a.Max[1]-b.Max[1]) <= eps
}

func boundWithin(inner, outer orb.Bound, eps float64) bool {
	return inner.Min[0] >= outer.Min[0]-eps &&
		inner.Min[1] >= outer.Min[1]-eps &&
		inner.Max[0] <= outer.Max[0]+eps &&
		inner.Max[1] <= outer.Max[1]+eps
}

func BenchmarkGeoToQuadKey(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		_ = GeoToQuadKey(13.404954, 52.520008, 18)
	}
}

func BenchmarkQuadKeyBox(b *testing.B) {
	key := QuadKey("120210233222121")
	b.ReportAllocs()
	for b.Loop() {
		_, _ = key.Box()
	}
}
