package subscribers_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/storm-alert-relay/internal/adapter/subscribers"
	"github.com/couchcryptid/storm-alert-relay/internal/domain"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "subscribers.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newSource(path string) *subscribers.FileSource {
	return subscribers.NewFileSource(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFileSource_Subscribers(t *testing.T) {
	path := writeFile(t, `[
		{
			"userId": "u1",
			"location": {"lat": 35.4676, "lon": -97.5164},
			"preferences": {"minSeverity": "severe", "alertTypes": ["tornado"], "mutedSenders": ["NWS Test"]}
		},
		{"userId": "  u2  "},
		{"userId": "", "location": {"lat": 1, "lon": 1}}
	]`)

	got, err := newSource(path).Subscribers(context.Background())
	require.NoError(t, err)

	want := []domain.Subscriber{
		{
			UserID:   "u1",
			Location: &domain.Location{Lat: 35.4676, Lon: -97.5164},
			Preferences: domain.Preferences{
				MinSeverity:  domain.SeveritySevere,
				AlertTypes:   []string{"tornado"},
				MutedSenders: []string{"NWS Test"},
			},
		},
		{UserID: "u2"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("subscribers mismatch (-want +got):\n%s", diff)
	}
}

func TestFileSource_RereadsOnEveryCall(t *testing.T) {
	path := writeFile(t, `[{"userId": "u1"}]`)
	src := newSource(path)

	first, err := src.Subscribers(context.Background())
	require.NoError(t, err)
	assert.Len(t, first, 1)

	require.NoError(t, os.WriteFile(path, []byte(`[{"userId": "u1"}, {"userId": "u2"}]`), 0o600))
	second, err := src.Subscribers(context.Background())
	require.NoError(t, err)
	assert.Len(t, second, 2)
}

func TestFileSource_Errors(t *testing.T) {
	_, err := newSource(filepath.Join(t.TempDir(), "missing.json")).Subscribers(context.Background())
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = newSource(writeFile(t, `{"userId": "u1"}`)).Subscribers(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode subscribers file")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = newSource(writeFile(t, `[]`)).Subscribers(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
