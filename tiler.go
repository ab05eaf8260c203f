package kvadrere

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
)

// Slice is one piece of a tiled geometry together with its tile key.
type Slice struct {
	Key      QuadKey      `json:"quadkey"`
	Geometry orb.Geometry `json:"-"`
}

// TilerConfig holds customization options for a Tiler.
type TilerConfig struct {
	kernel        Kernel
	adaptiveStart bool
	boxes         BoxCache
}

// TilerOption is a functional option for configuring a Tiler.
type TilerOption = func(config *TilerConfig)

// WithKernel replaces the geometry kernel. Defaults to OrbKernel.
func WithKernel(k Kernel) TilerOption {
	return func(config *TilerConfig) {
		config.kernel = k
	}
}

// WithAdaptiveStart toggles the starting zoom selection. When disabled
// descent always starts at MinZoom.
func WithAdaptiveStart(enabled bool) TilerOption {
	return func(config *TilerConfig) {
		config.adaptiveStart = enabled
	}
}

// WithBoxCache memoizes tile boxes across calls.
func WithBoxCache(c BoxCache) TilerOption {
	return func(config *TilerConfig) {
		config.boxes = c
	}
}

// Tiler decomposes geometries into per tile slices. A Tiler holds no
// mutable state of its own and is safe for concurrent use, provided the
// configured BoxCache is.
type Tiler struct {
	kernel   Kernel
	adaptive bool
	boxes    BoxCache
}

func NewTiler(options ...TilerOption) *Tiler {
	config := &TilerConfig{
		kernel:        OrbKernel{},
		adaptiveStart: true,
	}
	for _, o := range options {
		o(config)
	}

	return &Tiler{
		kernel:   config.kernel,
		adaptive: config.adaptiveStart,
		boxes:    config.boxes,
	}
}

// Tile returns every slice of g at maxZoom, each clipped to its tile box.
//
// A zoom outside [MinZoom, MaxZoom] or an empty geometry yields no slices
// and no error. A Point yields exactly one slice holding g unchanged.
// Failures abort the whole call, no partial result is returned.
func (t *Tiler) Tile(ctx context.Context, g orb.Geometry, maxZoom int) ([]Slice, error) {
	if !ValidZoom(maxZoom) {
		return nil, nil
	}

	switch kind := t.kernel.Kind(g); kind {
	case KindEmpty:
		return nil, nil
	case KindPoint:
		p := g.Bound().Min
		return []Slice{{Key: GeoToQuadKey(p[0], p[1], maxZoom), Geometry: g}}, nil
	case KindPolygon, KindMultiPolygon:
		return t.tileArea(ctx, g, maxZoom)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, geometryType(g, kind))
	}
}

func (t *Tiler) tileArea(ctx context.Context, g orb.Geometry, maxZoom int) ([]Slice, error) {
	bound := t.kernel.Envelope(g).Bound()
	start := t.StartZoom(bound, maxZoom)
	lo, hi := coveringRange(bound, start)

	d := descent{Tiler: t, maxZoom: maxZoom, start: start}
	for y := lo.Y; y <= hi.Y; y++ {
		for x := lo.X; x <= hi.X; x++ {
			key := TileToQuadKey(TileCoord{X: x, Y: y}, start)
			if err := d.visit(ctx, key, g); err != nil {
				return nil, err
			}
		}
	}
	return d.out, nil
}

// StartZoom returns the coarsest zoom at or below maxZoom at which b spans
// more than one tile on both axes. Without adaptive start it is MinZoom.
func (t *Tiler) StartZoom(b orb.Bound, maxZoom int) int {
	zoom := MinZoom
	if !t.adaptive {
		return zoom
	}
	for zoom < maxZoom {
		lo, hi := tileRange(b, zoom)
		if lo.X != hi.X && lo.Y != hi.Y {
			break
		}
		zoom++
	}
	return zoom
}

// tileRange maps the corners of b to an inclusive tile range at zoom.
func tileRange(b orb.Bound, zoom int) (lo, hi TileCoord) {
	lo = PixelToTile(GeoToPixel(b.Min[0], b.Max[1], zoom))
	hi = PixelToTile(GeoToPixel(b.Max[0], b.Min[1], zoom))
	return lo, hi
}

// coveringRange widens tileRange by one tile on each side. Corner pixels
// are rounded half up, which can push a corner lying in the last half
// pixel of a tile into its neighbour.
func coveringRange(b orb.Bound, zoom int) (lo, hi TileCoord) {
	lo, hi = tileRange(b, zoom)
	last := MapSize(zoom)/TileSize - 1
	if lo.X > 0 {
		lo.X--
	}
	if lo.Y > 0 {
		lo.Y--
	}
	hi.X = min(hi.X+1, last)
	hi.Y = min(hi.Y+1, last)
	return lo, hi
}

// descent walks the quadtree below the starting tiles, collecting slices
// depth first.
type descent struct {
	*Tiler
	maxZoom int
	start   int
	out     []Slice
}

// visit clips shape to the tile key and either emits the slice at maxZoom
// or recurses into the four children. Branches whose slice has no area
// are pruned.
func (d *descent) visit(ctx context.Context, key QuadKey, shape orb.Geometry) error {
	if err := ctx.Err(); err != nil {
		return d.fail(key, err)
	}

	box, err := d.box(key)
	if err != nil {
		return d.fail(key, err)
	}

	slice, err := d.kernel.Intersect(box, shape)
	if err != nil {
		return d.fail(key, err)
	}
	slice = Normalize(d.kernel, slice)

	if d.kernel.Area(slice) <= 0 {
		return nil
	}

	if key.Zoom() == d.maxZoom {
		d.out = append(d.out, Slice{Key: key, Geometry: slice})
		return nil
	}

	for _, child := range key.Children() {
		if err := d.visit(ctx, child, slice); err != nil {
			return err
		}
	}
	return nil
}

func (d *descent) fail(key QuadKey, err error) error {
	return &TileError{Key: key, Depth: key.Zoom() - d.start, Err: err}
}

func (t *Tiler) box(key QuadKey) (orb.Polygon, error) {
	if t.boxes != nil {
		if b, ok := t.boxes.Get(key); ok {
			return b, nil
		}
	}

	b, err := key.Box()
	if err != nil {
		return nil, err
	}

	if t.boxes != nil {
		_ = t.boxes.Set(key, b)
	}
	return b, nil
}

func geometryType(g orb.Geometry, kind Kind) string {
	if g == nil {
		return kind.String()
	}
	return g.GeoJSONType()
}
