package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/iwpnd/kvadrere"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var tileCmd = &cobra.Command{
	Use:   "tile <input-uri>",
	Short: "Tile newline delimited GeoJSON features from a file or s3 URI",
	Long: `Reads one GeoJSON Feature (or geometry) per line and writes one
"quadkey<TAB>feature" line per tile slice. Inputs ending in .gz are
decompressed. s3://bucket/key inputs use the default AWS credential chain.`,
	Args: cobra.ExactArgs(1),
	RunE: runTile,
}

var quadKeyCmd = &cobra.Command{
	Use:   "quadkey <lon> <lat>",
	Short: "Print the quadkey of a point",
	Args:  cobra.ExactArgs(2),
	RunE:  runQuadKey,
}

var boxCmd = &cobra.Command{
	Use:   "box <quadkey>",
	Short: "Print the bounding polygon of a quadkey as GeoJSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runBox,
}

var childrenCmd = &cobra.Command{
	Use:   "children <quadkey>",
	Short: "Print the four child quadkeys",
	Args:  cobra.ExactArgs(1),
	RunE:  runChildren,
}

func init() {
	tileCmd.Flags().IntP("zoom", "z", 0, "target zoom, overrides the config")
	tileCmd.Flags().IntP("workers", "w", 0, "number of concurrent records, overrides the config")
	tileCmd.Flags().StringP("output", "o", "", "output file, defaults to stdout")

	quadKeyCmd.Flags().IntP("zoom", "z", 0, "zoom, overrides the config")
}

func runTile(cmd *cobra.Command, args []string) error {
	cfg, err := configFromCmd(cmd)
	if err != nil {
		return fmt.Errorf("new config: %w", err)
	}
	if cmd.Flags().Changed("zoom") {
		cfg.Zoom, _ = cmd.Flags().GetInt("zoom") //nolint:errcheck
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers, _ = cmd.Flags().GetInt("workers") //nolint:errcheck
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	logger, err := cfg.newLogger()
	if err != nil {
		return fmt.Errorf("new logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	var client kvadrere.S3Client
	if strings.HasPrefix(strings.ToLower(args[0]), "s3://") {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("loading aws config: %w", err)
		}
		client = s3.NewFromConfig(awsCfg)
	}

	in, err := kvadrere.OpenInput(ctx, args[0], client)
	if err != nil {
		return err
	}
	defer in.Close()

	tiler, release, err := cfg.newTiler()
	if err != nil {
		return err
	}
	defer release()

	out, closeOut, err := openOutput(cmd)
	if err != nil {
		return err
	}

	batch := &kvadrere.Batch{
		Tiler:          tiler,
		Zoom:           cfg.Zoom,
		Workers:        cfg.Workers,
		Logger:         logger,
		FeatureOptions: cfg.featureOptions(),
	}

	stats, err := batch.Run(ctx, in, out)
	if cerr := closeOut(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("tiling %s: %w", args[0], err)
	}

	logger.Info("tiling finished",
		zap.String("input", args[0]),
		zap.String("run_id", stats.RunID),
		zap.Int64("failed", stats.Failed),
	)
	return nil
}

func openOutput(cmd *cobra.Command) (io.Writer, func() error, error) {
	path, _ := cmd.Flags().GetString("output") //nolint:errcheck
	if path == "" {
		w := bufio.NewWriter(cmd.OutOrStdout())
		return w, w.Flush, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating output %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	return w, func() error {
		if err := w.Flush(); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	}, nil
}

func runQuadKey(cmd *cobra.Command, args []string) error {
	cfg, err := configFromCmd(cmd)
	if err != nil {
		return fmt.Errorf("new config: %w", err)
	}
	zoom := cfg.Zoom
	if z, _ := cmd.Flags().GetInt("zoom"); z != 0 { //nolint:errcheck
		zoom = z
	}
	if !kvadrere.ValidZoom(zoom) {
		return fmt.Errorf("zoom %d outside of [%d, %d]", zoom, kvadrere.MinZoom, kvadrere.MaxZoom)
	}

	lon, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("parsing lon: %w", err)
	}
	lat, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("parsing lat: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), kvadrere.GeoToQuadKey(lon, lat, zoom))
	return err
}

func runBox(cmd *cobra.Command, args []string) error {
	key, err := kvadrere.ParseQuadKey(args[0])
	if err != nil {
		return err
	}
	box, err := key.Box()
	if err != nil {
		return err
	}

	f := geojson.NewFeature(box)
	f.Properties["quadkey"] = key.String()
	data, err := f.MarshalJSON()
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func runChildren(cmd *cobra.Command, args []string) error {
	key, err := kvadrere.ParseQuadKey(args[0])
	if err != nil {
		return err
	}
	for _, child := range key.Children() {
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), child); err != nil {
			return err
		}
	}
	return nil
}
