// Package archive periodically stores the most recent full frame of a
// stream in S3-compatible object storage.
//
// Each object holds one frame in the wire FrameData layout (geometry header
// then pixels), optionally zstd-compressed:
//
//	client := archive.NewS3Client(archive.S3Config{Region: "eu-west-1"})
//	a := archive.New(client, srv, archive.Config{
//	    Bucket:   "lumen-frames",
//	    Prefix:   "studio-a/",
//	    Interval: time.Minute,
//	})
//	go a.Run(ctx)
//
// A frame identical to the last one uploaded is skipped.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vango-dev/lumenstream/pkg/compress"
	"github.com/vango-dev/lumenstream/pkg/protocol"
	"github.com/vango-dev/lumenstream/pkg/transport"
)

// ContentType is the media type of archived frames.
const ContentType = "application/x-lumen-frame"

// ErrNoFrame is returned by ArchiveOnce before any full frame was sent.
var ErrNoFrame = errors.New("archive: no frame yet")

// PutObjectAPI is the subset of *s3.Client the archiver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Source supplies the frame to archive. *transport.Server implements it.
type Source interface {
	LastFull() (transport.FrameState, bool)
}

// Config configures an Archiver.
type Config struct {
	// Bucket is the destination bucket. Required.
	Bucket string

	// Prefix is prepended to every object key.
	Prefix string

	// Interval is the time between uploads. Default: 1 minute.
	Interval time.Duration

	// Timeout bounds each upload. Default: 30 seconds.
	Timeout time.Duration

	// Codec compresses object bodies when set.
	Codec compress.Codec

	// Logger receives upload diagnostics. Default: slog.Default().
	Logger *slog.Logger

	// Now is the clock used for object keys. Default: time.Now.
	Now func() time.Time
}

// Stats counts archive attempts.
type Stats struct {
	Uploaded uint64 `json:"uploaded"`
	Skipped  uint64 `json:"skipped"`
	Failed   uint64 `json:"failed"`
	LastKey  string `json:"last_key,omitempty"`
}

// Archiver uploads frames from a Source.
type Archiver struct {
	client PutObjectAPI
	source Source
	config Config
	logger *slog.Logger

	mu    sync.Mutex
	last  []byte
	stats Stats
}

// New creates an Archiver.
func New(client PutObjectAPI, source Source, config Config) *Archiver {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Archiver{
		client: client,
		source: source,
		config: config,
		logger: config.Logger.With("component", "archive"),
	}
}

// Run uploads every Interval until ctx is done. Upload failures are logged
// and retried at the next tick.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	a.logger.Info("archiver started", "bucket", a.config.Bucket, "prefix", a.config.Prefix,
		"interval", a.config.Interval.String())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := a.ArchiveOnce(ctx); err != nil && !errors.Is(err, ErrNoFrame) {
				a.logger.Warn("archive failed", "error", err)
			}
		}
	}
}

// ArchiveOnce uploads the current frame and returns its key. It returns an
// empty key and a nil error when the frame is unchanged.
func (a *Archiver) ArchiveOnce(ctx context.Context) (string, error) {
	frame, ok := a.source.LastFull()
	if !ok {
		return "", ErrNoFrame
	}

	a.mu.Lock()
	unchanged := a.last != nil && bytes.Equal(a.last, frame.Pixels)
	if unchanged {
		a.stats.Skipped++
	}
	a.mu.Unlock()
	if unchanged {
		return "", nil
	}

	body := protocol.EncodeFrameData(&protocol.FrameData{Geometry: frame.Geometry, Pixels: frame.Pixels})
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.config.Bucket),
		Key:         aws.String(a.key()),
		ContentType: aws.String(ContentType),
		Metadata: map[string]string{
			"width":       strconv.Itoa(int(frame.Geometry.Width)),
			"height":      strconv.Itoa(int(frame.Geometry.Height)),
			"format":      frame.Geometry.Format.String(),
			"captured-at": a.config.Now().UTC().Format(time.RFC3339Nano),
		},
	}
	if a.config.Codec != nil {
		body = a.config.Codec.Compress(nil, body)
		input.ContentEncoding = aws.String("zstd")
	}
	input.Body = bytes.NewReader(body)
	input.ContentLength = aws.Int64(int64(len(body)))

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()
	if _, err := a.client.PutObject(ctx, input); err != nil {
		a.mu.Lock()
		a.stats.Failed++
		a.mu.Unlock()
		return "", fmt.Errorf("archive: put %s: %w", aws.ToString(input.Key), err)
	}

	key := aws.ToString(input.Key)
	a.mu.Lock()
	a.last = frame.Pixels
	a.stats.Uploaded++
	a.stats.LastKey = key
	a.mu.Unlock()
	a.logger.Debug("frame archived", "key", key, "bytes", len(body))
	return key, nil
}

// Stats returns a copy of the counters.
func (a *Archiver) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// key names objects by capture time so a listing sorts chronologically.
func (a *Archiver) key() string {
	return a.config.Prefix + a.config.Now().UTC().Format("2006/01/02/150405.000000") + ".frame"
}

// S3Config configures NewS3Client.
type S3Config struct {
	// Region is the bucket region. Default: $AWS_REGION, then "us-east-1".
	Region string

	// Endpoint overrides the S3 endpoint for S3-compatible stores.
	Endpoint string
}

// NewS3Client builds an S3 client that reads static credentials from
// AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and AWS_SESSION_TOKEN.
func NewS3Client(config S3Config) *s3.Client {
	region := config.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:      region,
		Credentials: aws.NewCredentialsCache(envCredentials()),
	}
	if config.Endpoint != "" {
		opts.BaseEndpoint = aws.String(config.Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

func envCredentials() aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
		if id == "" || secret == "" {
			return aws.Credentials{}, errors.New("archive: AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
		}
		return aws.Credentials{
			AccessKeyID:     id,
			SecretAccessKey: secret,
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			Source:          "Environment",
		}, nil
	})
}
