package kvadrere

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
)

// Kind discriminates the geometries the tiler deals with.
// The zero value is KindEmpty.
type Kind uint8

const (
	// KindEmpty is a nil or coordinate-less geometry.
	KindEmpty Kind = iota
	// KindPoint is a single position.
	KindPoint
	// KindPolygon is a polygon with at least an outer ring.
	KindPolygon
	// KindMultiPolygon is a multipolygon with at least one non-empty member.
	KindMultiPolygon
	// KindMixed is a heterogeneous collection.
	KindMixed
	// KindUnsupported is any other geometry type.
	KindUnsupported
)

var kindOptions = map[Kind]string{
	KindEmpty:        "empty",
	KindPoint:        "point",
	KindPolygon:      "polygon",
	KindMultiPolygon: "multipolygon",
	KindMixed:        "mixed",
	KindUnsupported:  "unsupported",
}

func (k Kind) String() string {
	str, ok := kindOptions[k]
	if !ok {
		return kindOptions[KindUnsupported]
	}
	return str
}

// MarshalJSON marshals the Kind as a JSON string (e.g. "polygon").
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Kernel is the planar geometry capability the tiler relies on.
type Kernel interface {
	// Kind classifies g.
	Kind(g orb.Geometry) Kind
	// Intersect returns box ∩ g. box is an axis-aligned tile box as returned
	// by QuadKey.Box. Malformed rings in g are reported as ErrTopology.
	Intersect(box orb.Polygon, g orb.Geometry) (orb.Geometry, error)
	// Area returns the planar area of g, zero for non polygonal geometries.
	Area(g orb.Geometry) float64
	// Envelope returns the bounding box of g as a closed 5 point ring.
	Envelope(g orb.Geometry) orb.Polygon
}

// Normalize collapses a mixed collection into its envelope. Any other
// geometry is returned unchanged.
func Normalize(k Kernel, g orb.Geometry) orb.Geometry {
	if k.Kind(g) == KindMixed {
		return k.Envelope(g)
	}
	return g
}

// OrbKernel implements Kernel on top of github.com/paulmach/orb.
type OrbKernel struct{}

var _ Kernel = OrbKernel{}

func (OrbKernel) Kind(g orb.Geometry) Kind {
	switch v := g.(type) {
	case nil:
		return KindEmpty
	case orb.Point:
		return KindPoint
	case orb.Polygon:
		if len(v) == 0 || len(v[0]) == 0 {
			return KindEmpty
		}
		return KindPolygon
	case orb.MultiPolygon:
		for _, p := range v {
			if len(p) > 0 && len(p[0]) > 0 {
				return KindMultiPolygon
			}
		}
		return KindEmpty
	case orb.Collection:
		if len(v) == 0 {
			return KindEmpty
		}
		return KindMixed
	default:
		return KindUnsupported
	}
}

func (k OrbKernel) Intersect(box orb.Polygon, g orb.Geometry) (orb.Geometry, error) {
	b := box.Bound()

	switch v := g.(type) {
	case nil:
		return orb.Polygon{}, nil
	case orb.Point:
		if b.Contains(v) {
			return v, nil
		}
		return orb.Polygon{}, nil
	case orb.Polygon:
		if err := validatePolygon(v); err != nil {
			return nil, err
		}
		// clip uses its input as scratch space
		return sanitizePolygon(clip.Polygon(b, v.Clone())), nil
	case orb.MultiPolygon:
		for i, p := range v {
			if err := validatePolygon(p); err != nil {
				return nil, fmt.Errorf("polygon %d: %w", i, err)
			}
		}
		clipped := clip.MultiPolygon(b, v.Clone())
		out := make(orb.MultiPolygon, 0, len(clipped))
		for _, p := range clipped {
			if p = sanitizePolygon(p); len(p) > 0 {
				out = append(out, p)
			}
		}
		return out, nil
	case orb.Collection:
		out := make(orb.Collection, 0, len(v))
		for _, member := range v {
			part, err := k.Intersect(box, member)
			if err != nil {
				return nil, err
			}
			if k.Kind(part) != KindEmpty {
				out = append(out, part)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, g.GeoJSONType())
	}
}

func (k OrbKernel) Area(g orb.Geometry) float64 {
	switch v := g.(type) {
	case orb.Polygon:
		return polygonArea(v)
	case orb.MultiPolygon:
		var area float64
		for _, p := range v {
			area += polygonArea(p)
		}
		return area
	case orb.Collection:
		var area float64
		for _, member := range v {
			area += k.Area(member)
		}
		return area
	default:
		return 0
	}
}

func (k OrbKernel) Envelope(g orb.Geometry) orb.Polygon {
	if k.Kind(g) == KindEmpty {
		return orb.Polygon{}
	}
	return boundToBox(g.Bound())
}

// polygonArea is the outer ring area minus its holes, independent of
// ring orientation.
func polygonArea(p orb.Polygon) float64 {
	if len(p) == 0 {
		return 0
	}
	area := math.Abs(planar.Area(p[0]))
	for _, hole := range p[1:] {
		area -= math.Abs(planar.Area(hole))
	}
	return math.Max(area, 0)
}

func validatePolygon(p orb.Polygon) error {
	for i, r := range p {
		if err := validateRing(r); err != nil {
			return fmt.Errorf("ring %d: %w", i, err)
		}
	}
	return nil
}

func validateRing(r orb.Ring) error {
	if len(r) == 0 {
		return nil
	}
	if len(r) < 4 {
		return fmt.Errorf("%w: ring has %d points, need at least 4", ErrTopology, len(r))
	}
	for _, pt := range r {
		if !finite(pt[0]) || !finite(pt[1]) {
			return fmt.Errorf("%w: non finite coordinate %v", ErrTopology, pt)
		}
	}
	if !r.Closed() {
		return fmt.Errorf("%w: ring is not closed", ErrTopology)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// sanitizePolygon closes clipped rings and drops the ones that collapsed.
// A polygon whose outer ring collapsed is dropped entirely.
func sanitizePolygon(p orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, 0, len(p))
	for i, r := range p {
		if len(r) > 0 && !r.Closed() {
			r = append(r, r[0])
		}
		if len(r) < 4 {
			if i == 0 {
				return orb.Polygon{}
			}
			continue
		}
		out = append(out, r)
	}
	return out
}
