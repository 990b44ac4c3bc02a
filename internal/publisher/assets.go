package publisher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/couchcryptid/storm-alert-relay/internal/domain"
	"github.com/couchcryptid/storm-alert-relay/internal/observability"
)

const maxAssetBytes = 5 << 20

// iconImages maps formatter icon keys to static image files.
var iconImages = map[string]string{
	"tornado":      "tornado.png",
	"hurricane":    "hurricane.png",
	"thunderstorm": "thunderstorm.png",
	"flood":        "flood.png",
	"winter":       "winter.png",
	"heat":         "heat.png",
	"wind":         "wind.png",
	"fire":         "fire.png",
	"fog":          "fog.png",
	"dust":         "dust.png",
	"tsunami":      "tsunami.png",
	"hail":         "hail.png",
	"extreme":      "extreme.png",
	"severe":       "severe.png",
	"moderate":     "moderate.png",
	"minor":        "minor.png",

	domain.IconUnknown: "unknown.png",
	domain.IconWarning: "warning.png",
}

type asset struct {
	data        []byte
	contentType string
	name        string
}

// assetStore downloads alert icons with retries and keeps recent ones in memory.
type assetStore struct {
	baseURL string
	client  *retryablehttp.Client
	cache   *lruCache[asset]
	tempDir string
	metrics *observability.Metrics
	logger  *slog.Logger
}

func newAssetStore(cfg Config, metrics *observability.Metrics, logger *slog.Logger) *assetStore {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.AssetRetryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = nil

	return &assetStore{
		baseURL: strings.TrimRight(cfg.AssetBaseURL, "/"),
		client:  client,
		cache:   newLRUCache[asset](cfg.AssetCacheSize),
		tempDir: cfg.TempDir,
		metrics: metrics,
		logger:  logger,
	}
}

// imageURL resolves an icon key, falling back to the warning image.
func (s *assetStore) imageURL(icon string) string {
	file, ok := iconImages[icon]
	if !ok {
		file = iconImages[domain.IconWarning]
	}
	return s.baseURL + "/" + file
}

// fetch returns the image at url from cache or the network. Every failure
// wraps domain.ErrAssetFetch.
func (s *assetStore) fetch(ctx context.Context, url string) (asset, error) {
	if a, ok := s.cache.get(url); ok {
		s.metrics.AssetCache.WithLabelValues("hit").Inc()
		return a, nil
	}
	s.metrics.AssetCache.WithLabelValues("miss").Inc()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return asset{}, fmt.Errorf("%w: create request: %v", domain.ErrAssetFetch, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return asset{}, fmt.Errorf("%w: download %s: %v", domain.ErrAssetFetch, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return asset{}, fmt.Errorf("%w: download %s: status %d", domain.ErrAssetFetch, url, resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return asset{}, fmt.Errorf("%w: %s is not an image (content-type %q)", domain.ErrAssetFetch, url, contentType)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
	if err != nil {
		return asset{}, fmt.Errorf("%w: read %s: %v", domain.ErrAssetFetch, url, err)
	}

	a := asset{data: data, contentType: mediaType, name: path.Base(url)}
	s.cache.put(url, a)
	return a, nil
}

// writeTemp stores a in a new temporary file. The caller must call the
// returned cleanup on every path.
func (s *assetStore) writeTemp(a asset) (string, func(), error) {
	f, err := os.CreateTemp(s.tempDir, "alert-*"+path.Ext(a.name))
	if err != nil {
		return "", func() {}, fmt.Errorf("%w: create temp file: %v", domain.ErrAssetFetch, err)
	}
	name := f.Name()
	cleanup := func() {
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove temp image failed", "path", name, "error", err)
		}
	}
	if _, err := f.Write(a.data); err != nil {
		f.Close()
		cleanup()
		return "", func() {}, fmt.Errorf("%w: write temp file: %v", domain.ErrAssetFetch, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("%w: close temp file: %v", domain.ErrAssetFetch, err)
	}
	return name, cleanup, nil
}
