package kvadrere

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb/geojson"
)

const DefaultQuadKeyProperty = "quadkey"

// FeatureConfig controls how tiled features are shaped.
type FeatureConfig struct {
	quadKeyProperty string
	tileIDProperty  string
}

// FeatureOption is a functional option for TileFeature.
type FeatureOption = func(config *FeatureConfig)

// WithQuadKeyProperty sets the property the quadkey is stamped into.
// An empty name disables stamping.
func WithQuadKeyProperty(name string) FeatureOption {
	return func(config *FeatureConfig) {
		config.quadKeyProperty = name
	}
}

// WithTileIDProperty stamps the PMTiles tile id of each slice into name.
// Disabled by default.
func WithTileIDProperty(name string) FeatureOption {
	return func(config *FeatureConfig) {
		config.tileIDProperty = name
	}
}

// TiledFeature is a slice of an input feature and the key of its tile.
type TiledFeature struct {
	Key     QuadKey
	Feature *geojson.Feature
}

// TileFeature tiles the geometry of f and returns one feature per slice.
// Every output carries f's ID and a copy of its properties; f itself is
// left untouched.
func (t *Tiler) TileFeature(
	ctx context.Context,
	f *geojson.Feature,
	zoom int,
	options ...FeatureOption,
) ([]TiledFeature, error) {
	config := &FeatureConfig{
		quadKeyProperty: DefaultQuadKeyProperty,
	}
	for _, o := range options {
		o(config)
	}

	slices, err := t.Tile(ctx, f.Geometry, zoom)
	if err != nil {
		return nil, err
	}

	features := make([]TiledFeature, 0, len(slices))
	for _, s := range slices {
		out := geojson.NewFeature(s.Geometry)
		out.ID = f.ID
		out.Properties = f.Properties.Clone()
		if out.Properties == nil {
			out.Properties = geojson.Properties{}
		}

		if config.quadKeyProperty != "" {
			out.Properties[config.quadKeyProperty] = s.Key.String()
		}
		if config.tileIDProperty != "" {
			id, err := s.Key.TileID()
			if err != nil {
				return nil, fmt.Errorf("resolving tile id of %q: %w", s.Key, err)
			}
			out.Properties[config.tileIDProperty] = id
		}
		features = append(features, TiledFeature{Key: s.Key, Feature: out})
	}
	return features, nil
}

// DecodeFeature parses a GeoJSON Feature or a bare GeoJSON geometry.
// Bare geometries are wrapped in a feature without properties.
func DecodeFeature(data []byte) (*geojson.Feature, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decoding geojson: %w", err)
	}

	switch head.Type {
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("decoding feature: %w", err)
		}
		return f, nil
	case "":
		return nil, fmt.Errorf("decoding geojson: missing type")
	case "FeatureCollection":
		return nil, fmt.Errorf("decoding geojson: expected a single feature, got %s", head.Type)
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("decoding geometry: %w", err)
		}
		return geojson.NewFeature(g.Geometry()), nil
	}
}
