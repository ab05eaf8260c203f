package kvadrere_test

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/iwpnd/kvadrere"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const polygonRecord = `{"type":"Feature","id":"berlin","properties":{"name":"Berlin"},"geometry":{"type":"Polygon","coordinates":[[[13.0,52.3],[13.8,52.3],[13.8,52.7],[13.0,52.7],[13.0,52.3]]]}}`

func TestBatchRun(t *testing.T) {
	zoom := 9
	input := strings.Join([]string{
		polygonRecord,
		`{"type":`,
		``,
		`{"type":"LineString","coordinates":[[0,0],[1,1]]}`,
		`   `,
		`{"type":"Point","coordinates":[0,0]}`,
	}, "\n")

	f, err := geojson.UnmarshalFeature([]byte(polygonRecord))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected, err := kvadrere.NewTiler().Tile(t.Context(), f.Geometry, zoom)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	core, logs := observer.New(zapcore.InfoLevel)
	batch := &kvadrere.Batch{
		Zoom:    zoom,
		Workers: 2,
		Logger:  zap.New(core),
	}

	var out strings.Builder
	stats, err := batch.Run(t.Context(), strings.NewReader(input), &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.RunID == "" {
		t.Error("expected a run id")
	}
	if stats.Records != 4 {
		t.Errorf("expected 4 records, got %d", stats.Records)
	}
	if stats.Failed != 2 {
		t.Errorf("expected 2 failed records, got %d", stats.Failed)
	}
	if want := int64(len(expected) + 1); stats.Slices != want {
		t.Errorf("expected %d slices, got %d", want, stats.Slices)
	}

	keys := make(map[kvadrere.QuadKey]int)
	scanner := bufio.NewScanner(strings.NewReader(out.String()))
	for scanner.Scan() {
		key, data, ok := strings.Cut(scanner.Text(), "\t")
		if !ok {
			t.Fatalf("expected a tab separated line, got %q", scanner.Text())
		}
		feature, err := geojson.UnmarshalFeature([]byte(data))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := feature.Properties.MustString(kvadrere.DefaultQuadKeyProperty); got != key {
			t.Errorf("line key %q does not match property %q", key, got)
		}
		keys[kvadrere.QuadKey(key)]++
	}
	for _, s := range expected {
		if keys[s.Key] == 0 {
			t.Errorf("missing slice %q", s.Key)
		}
	}
	if point := kvadrere.GeoToQuadKey(0, 0, zoom); keys[point] != 1 {
		t.Errorf("expected the point at %q", point)
	}

	failures := logs.FilterMessage("record tiling failed").All()
	if len(failures) != 2 {
		t.Fatalf("expected 2 failure logs, got %d", len(failures))
	}
	lines := make(map[int64]bool)
	for _, entry := range failures {
		lines[entry.ContextMap()["line"].(int64)] = true
	}
	if !lines[2] || !lines[4] {
		t.Errorf("expected failures on lines 2 and 4, got %v", lines)
	}
	if logs.FilterMessage("batch finished").Len() != 1 {
		t.Error("expected a batch finished log")
	}
}

func TestBatchRunSkipsOversizedRecords(t *testing.T) {
	huge := `{"type":"Feature","properties":{"pad":"` + strings.Repeat("x", 100_000) + `"},"geometry":null}`
	input := polygonRecord + "\r\n" +
		huge + "\n" +
		`{"type":"Point","coordinates":[0,0]}` + "\n" +
		huge

	core, logs := observer.New(zapcore.ErrorLevel)
	batch := &kvadrere.Batch{
		Zoom:          8,
		Workers:       2,
		Logger:        zap.New(core),
		MaxRecordSize: len(polygonRecord),
	}

	var out strings.Builder
	stats, err := batch.Run(t.Context(), strings.NewReader(input), &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Records != 4 || stats.Failed != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if !strings.Contains(out.String(), `"berlin"`) {
		t.Error("expected the record at the size limit to be tiled")
	}
	if point := kvadrere.GeoToQuadKey(0, 0, 8); !strings.Contains(out.String(), string(point)+"\t") {
		t.Errorf("expected the record after the oversized line at %q", point)
	}

	lines := make(map[int64]bool)
	for _, entry := range logs.FilterMessage("record tiling failed").All() {
		lines[entry.ContextMap()["line"].(int64)] = true
	}
	if len(lines) != 2 || !lines[2] || !lines[4] {
		t.Errorf("expected failures on lines 2 and 4, got %v", lines)
	}
}

func TestBatchRunTopologyFailureIsLogged(t *testing.T) {
	broken := `{"type":"Polygon","coordinates":[[[13.0,52.3],[13.8,52.3],[13.8,52.7],[13.0,52.7]]]}`

	core, logs := observer.New(zapcore.ErrorLevel)
	batch := &kvadrere.Batch{Zoom: 10, Workers: 1, Logger: zap.New(core)}

	var out strings.Builder
	stats, err := batch.Run(t.Context(), strings.NewReader(broken+"\n"+polygonRecord+"\n"), &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Failed != 1 || stats.Records != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if out.Len() == 0 {
		t.Error("expected the valid record to be tiled")
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one error log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if _, ok := fields["quadkey"]; !ok {
		t.Errorf("expected the failing quadkey to be logged, got %v", fields)
	}
	if depth, ok := fields["depth"].(int64); !ok || depth != 0 {
		t.Errorf("expected depth 0, got %v", fields["depth"])
	}
}

func TestBatchRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	batch := &kvadrere.Batch{Zoom: 10}
	var out strings.Builder
	_, err := batch.Run(ctx, strings.NewReader(polygonRecord+"\n"), &out)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

var errWrite = errors.New("disk full")

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errWrite }

func TestBatchRunWriteError(t *testing.T) {
	batch := &kvadrere.Batch{Zoom: 5, Workers: 1}
	_, err := batch.Run(t.Context(), strings.NewReader(polygonRecord+"\n"), failingWriter{})
	if !errors.Is(err, errWrite) {
		t.Fatalf("expected write error, got %v", err)
	}
}

func TestBatchRunFeatureOptions(t *testing.T) {
	batch := &kvadrere.Batch{
		Tiler: kvadrere.NewTiler(kvadrere.WithAdaptiveStart(false)),
		Zoom:  6,
		FeatureOptions: []kvadrere.FeatureOption{
			kvadrere.WithQuadKeyProperty("qk"),
			kvadrere.WithTileIDProperty("tile_id"),
		},
	}

	var out strings.Builder
	stats, err := batch.Run(t.Context(), strings.NewReader(polygonRecord), &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Slices == 0 {
		t.Fatal("expected slices")
	}

	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		key, data, _ := strings.Cut(line, "\t")
		feature, err := geojson.UnmarshalFeature([]byte(data))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if feature.Properties.MustString("qk") != key {
			t.Errorf("expected qk=%q, got %v", key, feature.Properties["qk"])
		}
		id, err := kvadrere.QuadKey(key).TileID()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := feature.Properties.MustFloat64("tile_id"); got != float64(id) {
			t.Errorf("expected tile_id %d, got %v", id, got)
		}
		if _, ok := feature.Geometry.(orb.Polygon); !ok {
			t.Errorf("expected a polygon slice, got %T", feature.Geometry)
		}
	}
}
