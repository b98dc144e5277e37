// Package media downloads webhook attachments into temporary files.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"transcribebot/internal/domain"
	"transcribebot/internal/metrics"
)

const (
	defaultFetchTimeout = 60 * time.Second
	defaultChunkSize    = 8192
)

var (
	// ErrMissingURL is returned when an attachment has no URL.
	ErrMissingURL = errors.New("media url is empty")
	// ErrTooLarge indicates the payload exceeds the configured limit.
	ErrTooLarge = errors.New("media too large")
)

// FetcherConfig configures the media fetcher.
type FetcherConfig struct {
	TempDir   string        // defaults to os.TempDir()
	Timeout   time.Duration // whole request including body
	ChunkSize int
	MaxBytes  int64 // 0 = unlimited

	// Basic auth credentials, applied only when both are set.
	Username string
	Password string

	Client *http.Client // optional; its Timeout is overridden
	Logger *slog.Logger
}

// Fetcher streams media URLs to disk.
type Fetcher struct {
	tempDir   string
	chunkSize int
	maxBytes  int64
	username  string
	password  string
	client    *http.Client
	logger    *slog.Logger
}

// NewFetcher creates a fetcher with the given configuration.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFetchTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := &http.Client{}
	if cfg.Client != nil {
		c := *cfg.Client
		client = &c
	}
	client.Timeout = cfg.Timeout

	return &Fetcher{
		tempDir:   cfg.TempDir,
		chunkSize: cfg.ChunkSize,
		maxBytes:  cfg.MaxBytes,
		username:  cfg.Username,
		password:  cfg.Password,
		client:    client,
		logger:    cfg.Logger,
	}
}

// Fetch downloads mediaURL into a new temporary file and hands ownership of
// it to the caller. On error no file is left behind.
func (f *Fetcher) Fetch(ctx context.Context, mediaURL, contentType string) (*domain.TemporaryMedia, error) {
	if strings.TrimSpace(mediaURL) == "" {
		return nil, domain.NewError(domain.KindFetch, "fetch", ErrMissingURL)
	}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, domain.NewError(domain.KindFetch, "build request", err)
	}
	if f.username != "" && f.password != "" {
		req.SetBasicAuth(f.username, f.password)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, domain.NewError(domain.KindFetch, "get", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, domain.NewError(domain.KindFetch, "get", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	file, err := os.CreateTemp(f.tempDir, "media-*"+extensionFor(contentType))
	if err != nil {
		return nil, domain.NewError(domain.KindFetch, "create temp file", err)
	}
	metrics.TempFiles.Inc()

	size, err := f.copyChunks(file, resp.Body)
	if cerr := file.Close(); err == nil && cerr != nil {
		err = cerr
	}
	media := domain.NewTemporaryMedia(file.Name(), size, contentType, metrics.TempFiles.Dec)
	if err != nil {
		if rerr := media.Release(); rerr != nil {
			f.logger.Warn("cannot remove partial media", "path", media.Path(), "err", rerr)
		}
		return nil, domain.NewError(domain.KindFetch, "download", err)
	}

	metrics.MediaBytes.Add(size)
	metrics.FetchLatency.ObserveSince(start)
	f.logger.Debug("media fetched",
		"bytes", size,
		"content_type", contentType,
		"elapsed", time.Since(start),
	)

	return media, nil
}

// copyChunks streams src into dst one fixed-size buffer at a time.
func (f *Fetcher) copyChunks(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, f.chunkSize)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if f.maxBytes > 0 && written+int64(n) > f.maxBytes {
				return written, fmt.Errorf("%w: max %d bytes", ErrTooLarge, f.maxBytes)
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// knownExtensions covers the codecs messaging platforms deliver for voice notes.
var knownExtensions = map[string]string{
	"audio/ogg":   ".ogg",
	"audio/opus":  ".opus",
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/mp4":   ".m4a",
	"audio/aac":   ".aac",
	"audio/amr":   ".amr",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/webm":  ".webm",
	"audio/3gpp":  ".3gp",
	"audio/x-m4a": ".m4a",
	"audio/flac":  ".flac",
}

// extensionFor picks a file extension so engines that sniff by name see the
// right codec. Unknown types get ".tmp".
func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".tmp"
	}
	if ext, ok := knownExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".tmp"
}
