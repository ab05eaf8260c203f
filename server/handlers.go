package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/iwpnd/kvadrere"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
)

// handleTile tiles a Feature, FeatureCollection or bare geometry body
// and responds with a FeatureCollection of slices.
func (s *Server) handleTile(c *fiber.Ctx) error {
	zoom, err := strconv.Atoi(c.Params("zoom"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid zoom %q", c.Params("zoom")))
	}

	body := c.Body()
	key := inflightKey(zoom, body)
	// fasthttp reuses the body buffer once the handler returns
	payload := append([]byte(nil), body...)
	ctx := c.UserContext()
	logger := s.logger.With(zap.String("request_id", requestID(c)), zap.Int("zoom", zoom))

	data, err, shared := s.inflight.Do(key, func() ([]byte, error) {
		return s.tileBody(ctx, logger, payload, zoom)
	})
	if shared {
		s.metrics.shared.Inc()
	}
	if err != nil {
		s.metrics.failures.WithLabelValues(failureReason(err)).Inc()
		return err
	}

	c.Set(fiber.HeaderContentType, "application/geo+json")
	return c.Send(data)
}

func (s *Server) tileBody(ctx context.Context, logger *zap.Logger, body []byte, zoom int) ([]byte, error) {
	started := time.Now()
	logger.Debug("request handling started", zap.Int("bytes", len(body)))

	features, err := decodeFeatures(body)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	fc := geojson.NewFeatureCollection()
	for i, f := range features {
		tiled, err := s.tiler.TileFeature(ctx, f, zoom, s.features...)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		for _, tf := range tiled {
			fc.Append(tf.Feature)
		}
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding feature collection: %w", err)
	}

	s.metrics.slices.Add(float64(len(fc.Features)))
	s.metrics.duration.Observe(time.Since(started).Seconds())
	logger.Debug("request handling finished", zap.Int("slices", len(fc.Features)))
	return data, nil
}

func decodeFeatures(body []byte) ([]*geojson.Feature, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, fmt.Errorf("decoding geojson: %w", err)
	}

	if head.Type == "FeatureCollection" {
		fc, err := geojson.UnmarshalFeatureCollection(body)
		if err != nil {
			return nil, fmt.Errorf("decoding feature collection: %w", err)
		}
		return fc.Features, nil
	}

	f, err := kvadrere.DecodeFeature(body)
	if err != nil {
		return nil, err
	}
	return []*geojson.Feature{f}, nil
}

func inflightKey(zoom int, body []byte) string {
	buf := make([]byte, 0, 48)
	buf = strconv.AppendInt(buf, int64(zoom), 10)
	buf = append(buf, ':')
	buf = strconv.AppendUint(buf, xxhash.Sum64(body), 16)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, int64(len(body)), 10)
	return string(buf)
}

func failureReason(err error) string {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return "bad_request"
	case errors.Is(err, kvadrere.ErrTopology):
		return "topology"
	case errors.Is(err, kvadrere.ErrUnsupportedGeometry):
		return "unsupported_geometry"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}

type quadKeyResponse struct {
	QuadKey kvadrere.QuadKey `json:"quadkey"`
	Zoom    int              `json:"zoom"`
	X       uint64           `json:"x"`
	Y       uint64           `json:"y"`
}

func (s *Server) handleQuadKey(c *fiber.Ctx) error {
	zoom, err := strconv.Atoi(c.Params("zoom"))
	if err != nil || !kvadrere.ValidZoom(zoom) {
		return fiber.NewError(fiber.StatusBadRequest,
			fmt.Sprintf("zoom must be within [%d, %d]", kvadrere.MinZoom, kvadrere.MaxZoom))
	}

	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid lon")
	}
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid lat")
	}

	tile := kvadrere.PixelToTile(kvadrere.GeoToPixel(lon, lat, zoom))
	return c.JSON(quadKeyResponse{
		QuadKey: kvadrere.TileToQuadKey(tile, zoom),
		Zoom:    zoom,
		X:       tile.X,
		Y:       tile.Y,
	})
}

func (s *Server) handleBox(c *fiber.Ctx) error {
	key, err := kvadrere.ParseQuadKey(c.Params("quadkey"))
	if err != nil {
		return err
	}

	box, err := key.Box()
	if err != nil {
		return err
	}
	tile, err := key.Tile()
	if err != nil {
		return err
	}

	f := geojson.NewFeature(box)
	f.ID = key.String()
	f.Properties["quadkey"] = key.String()
	f.Properties["zoom"] = key.Zoom()
	f.Properties["x"] = tile.X
	f.Properties["y"] = tile.Y

	data, err := f.MarshalJSON()
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "application/geo+json")
	return c.Send(data)
}

type childrenResponse struct {
	QuadKey  kvadrere.QuadKey   `json:"quadkey"`
	Children []kvadrere.QuadKey `json:"children"`
}

func (s *Server) handleChildren(c *fiber.Ctx) error {
	key, err := kvadrere.ParseQuadKey(c.Params("quadkey"))
	if err != nil {
		return err
	}
	if key.Zoom() >= kvadrere.MaxZoom {
		return fiber.NewError(fiber.StatusBadRequest,
			fmt.Sprintf("quadkey at zoom %d has no children", kvadrere.MaxZoom))
	}

	children := key.Children()
	return c.JSON(childrenResponse{QuadKey: key, Children: children[:]})
}
