package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const configFlag = "config"

var rootCmd = &cobra.Command{
	Use:           "kvadrere",
	Short:         "Quadkey indexing and tiling of GeoJSON geometries",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringP(configFlag, "c", "", "path to YAML config file (defaults to $"+configEnv+")")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tileCmd)
	rootCmd.AddCommand(quadKeyCmd)
	rootCmd.AddCommand(boxCmd)
	rootCmd.AddCommand(childrenCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func configFromCmd(cmd *cobra.Command) (*Config, error) {
	path, err := cmd.Flags().GetString(configFlag)
	if err != nil {
		return nil, fmt.Errorf("get config flag: %w", err)
	}
	return loadConfig(path)
}
