// Package config loads the lumen daemon configuration.
//
// The file may be TOML (lumen.toml) or JSON (lumen.json); the extension
// picks the decoder. Keys that are absent keep their defaults.
//
// # Configuration File Structure
//
//	listen = ":8081"
//	rate_hz = 40
//	keepalive = "30s"
//	session_timeout = "60s"
//	keyframe_interval = "2s"
//	reassembly_ttl = "5s"
//	max_sessions = 0
//	max_sessions_per_ip = 0
//	diff_threshold = 0.25
//	spectrum_bands = 16
//
//	[compression]
//	enabled = true
//	min_ratio = 0.25
//	min_size = 64
//
//	[matrix]
//	width = 32
//	height = 32
//
//	[admin]
//	listen = "127.0.0.1:9090"
//
//	[archive]
//	bucket = "lumen-frames"
//	prefix = "studio-a/"
//	region = "eu-west-1"
//	interval = "1m"
//
//	[log]
//	level = "info"
//	format = "text"
//
// # Usage
//
//	cfg, err := config.Load("lumen.toml")
//	if err != nil {
//	    errors.Print(os.Stderr, err)
//	    os.Exit(1)
//	}
//	srv := transport.New(cfg.Transport(logger), source)
package config
