package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-dev/lumenstream/internal/config"
	"github.com/vango-dev/lumenstream/internal/errors"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or check a configuration file",
	}
	cmd.AddCommand(configInitCmd(), configCheckCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with the defaults",
		Long: `Write a configuration file holding every default value. The format
follows the extension: .toml or .json.

Examples:
  lumen config init
  lumen config init studio.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultFileName
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return errors.New("E303").
					WithDetail(path + " already exists").
					WithSuggestion("Pass --force to overwrite it")
			}
			if err := config.New().SaveTo(path); err != nil {
				return err
			}
			success("Wrote %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	return cmd
}

func configCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [path]",
		Short: "Load and validate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultFileName
			if len(args) == 1 {
				path = args[0]
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if unknown := cfg.UnknownKeys(); len(unknown) > 0 {
				warn("unknown keys: %s", strings.Join(unknown, ", "))
			}
			success("%s is valid", path)
			info("stream   udp %s, %dx%d at %d Hz", cfg.Listen, cfg.Matrix.Width, cfg.Matrix.Height, cfg.RateHz)
			if cfg.Admin.Listen != "" {
				info("admin    http://%s", cfg.Admin.Listen)
			}
			if cfg.Archive.Bucket != "" {
				info("archive  s3://%s/%s", cfg.Archive.Bucket, cfg.Archive.Prefix)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
}
