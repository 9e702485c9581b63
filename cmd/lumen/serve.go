package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vango-dev/lumenstream/internal/admin"
	"github.com/vango-dev/lumenstream/internal/archive"
	"github.com/vango-dev/lumenstream/internal/config"
	"github.com/vango-dev/lumenstream/internal/demo"
	"github.com/vango-dev/lumenstream/internal/errors"
	"github.com/vango-dev/lumenstream/pkg/compress"
	"github.com/vango-dev/lumenstream/pkg/transport"
)

type serveOptions struct {
	configPath    string
	listen        string
	adminAddr     string
	rate          int
	width         int
	height        int
	noCompression bool
	logLevel      string
	logFormat     string
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the streaming server",
		Long: `Run the streaming server with the built-in animated test pattern.

Settings come from lumen.toml in the working directory (or --config),
and flags override the file.

Examples:
  lumen serve
  lumen serve --listen :9000 --rate 60
  lumen serve --config studio.toml --admin 127.0.0.1:9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			opts.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Config file (default ./"+config.DefaultFileName+" if present)")
	f.StringVarP(&opts.listen, "listen", "l", "", "UDP listen address")
	f.StringVar(&opts.adminAddr, "admin", "", "HTTP admin listen address")
	f.IntVarP(&opts.rate, "rate", "r", 0, "Update rate in Hz (1-120)")
	f.IntVar(&opts.width, "width", 0, "Matrix width")
	f.IntVar(&opts.height, "height", 0, "Matrix height")
	f.BoolVar(&opts.noCompression, "no-compression", false, "Disable payload compression")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	f.StringVar(&opts.logFormat, "log-format", "", "Log format (text, json)")

	return cmd
}

// apply copies the flags the user set onto cfg.
func (o *serveOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("listen") {
		cfg.Listen = o.listen
	}
	if f.Changed("admin") {
		cfg.Admin.Listen = o.adminAddr
	}
	if f.Changed("rate") {
		cfg.RateHz = o.rate
	}
	if f.Changed("width") {
		cfg.Matrix.Width = o.width
	}
	if f.Changed("height") {
		cfg.Matrix.Height = o.height
	}
	if o.noCompression {
		cfg.Compression.Enabled = false
	}
	if f.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if f.Changed("log-format") {
		cfg.Log.Format = o.logFormat
	}
}

// loadConfig loads path, or the default file when it exists, or defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultFileName); err != nil {
			return config.New(), nil
		}
		path = config.DefaultFileName
	}
	return config.Load(path)
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)
	if unknown := cfg.UnknownKeys(); len(unknown) > 0 {
		logger.Warn("unknown config keys ignored", "keys", unknown, "file", cfg.Path())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pattern := demo.New(demo.Config{
		Geometry: cfg.Geometry(),
		Bands:    cfg.SpectrumBands,
		Logger:   logger,
	})

	tc := cfg.Transport(logger)
	tc.Metrics = transport.NewMetrics(transport.WithRegistry(reg))
	srv := transport.New(tc, pattern)
	if cfg.SpectrumBands > 0 {
		srv.SetSpectrumSource(pattern)
	}
	srv.SetCommandHandler(pattern)

	conn, err := net.ListenPacket("udp", cfg.Listen)
	if err != nil {
		return errors.New("E300").WithDetail("udp " + cfg.Listen).Wrap(err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		fail error
	)
	background := func(name string, run func(context.Context) error, code string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil {
				logger.Error(name+" stopped", "error", err)
				mu.Lock()
				if fail == nil {
					fail = errors.New(code).Wrap(err)
				}
				mu.Unlock()
				stop()
			}
		}()
	}

	if cfg.Admin.Listen != "" {
		adm := admin.New(srv, admin.Config{
			Addr:     cfg.Admin.Listen,
			Gatherer: reg,
			Logger:   logger,
		})
		background("admin", adm.ListenAndServe, "E304")
		info("admin    http://%s", cfg.Admin.Listen)
	}

	if cfg.Archive.Bucket != "" {
		var codec compress.Codec
		if cfg.Compression.Enabled {
			z, err := compress.NewZstd(0)
			if err != nil {
				conn.Close()
				return errors.New("E305").Wrap(err)
			}
			defer z.Close()
			codec = z
		}
		client := archive.NewS3Client(archive.S3Config{
			Region:   cfg.Archive.Region,
			Endpoint: cfg.Archive.Endpoint,
		})
		arch := archive.New(client, srv, archive.Config{
			Bucket:   cfg.Archive.Bucket,
			Prefix:   cfg.Archive.Prefix,
			Interval: cfg.Archive.Interval.Std(),
			Codec:    codec,
			Logger:   logger,
		})
		background("archive", arch.Run, "E305")
		info("archive  s3://%s/%s every %s", cfg.Archive.Bucket, cfg.Archive.Prefix, cfg.Archive.Interval.Std())
	}

	success("Streaming %dx%d at %d Hz on udp %s", cfg.Matrix.Width, cfg.Matrix.Height, cfg.RateHz, conn.LocalAddr())

	err = srv.Run(ctx, conn)
	stop()
	wg.Wait()
	if err != nil {
		return err
	}
	if fail != nil {
		return fail
	}
	info("stopped")
	return nil
}
