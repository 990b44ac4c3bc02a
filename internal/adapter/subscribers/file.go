// Package subscribers loads subscriber snapshots for direct alert delivery.
package subscribers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/couchcryptid/storm-alert-relay/internal/domain"
)

// FileSource reads a JSON array of subscribers from disk on every call, so
// edits made by the preferences service are picked up without a restart.
type FileSource struct {
	path   string
	logger *slog.Logger
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	return &FileSource{path: path, logger: logger}
}

// Subscribers returns the current snapshot. Entries without a user id are
// dropped.
func (s *FileSource) Subscribers(ctx context.Context) ([]domain.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read subscribers file: %w", err)
	}

	var all []domain.Subscriber
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("decode subscribers file %s: %w", s.path, err)
	}

	subs := all[:0]
	for i, sub := range all {
		sub.UserID = strings.TrimSpace(sub.UserID)
		if sub.UserID == "" {
			s.logger.Warn("subscriber without user id skipped", "path", s.path, "index", i)
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
