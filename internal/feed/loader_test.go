package feed

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/taxrules/internal/fetcher/mocks"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		source  string
		want    Format
		wantErr bool
	}{
		{"items.csv", FormatCSV, false},
		{"/data/ITEMS.JSON", FormatJSON, false},
		{"export.xlsx", FormatXLSX, false},
		{"https://example.com/feed/items.csv?token=abc", FormatCSV, false},
		{"https://example.com/feed", "", true},
		{"items.parquet", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			got, err := DetectFormat(tt.source)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoader_LocalCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	l := &Loader{}
	items, err := l.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestLoader_LocalMissing(t *testing.T) {
	l := &Loader{}
	_, err := l.Load(context.Background(), filepath.Join(t.TempDir(), "gone.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed: load")
}

func TestLoader_RemoteJSON(t *testing.T) {
	f := mocks.NewMockFetcher(t)
	url := "https://example.com/items.json"
	f.On("Download", mock.Anything, url).
		Return(io.NopCloser(strings.NewReader(`[{"tax_year":2024,"key":"k","value":"v","section":"standard_deduction"}]`)), nil)

	l := &Loader{Fetcher: f}
	items, err := l.Load(context.Background(), url)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "k", *items[0].Key)
}

func TestLoader_RemoteXLSX(t *testing.T) {
	src := writeXLSX(t, [][]string{
		{"tax_year", "section", "key", "value"},
		{"2024", "standard_deduction", "k", "v"},
	})
	data, err := os.ReadFile(src)
	require.NoError(t, err)

	f := mocks.NewMockFetcher(t)
	url := "https://example.com/export.xlsx"
	f.On("DownloadToFile", mock.Anything, url, mock.AnythingOfType("string")).
		Return(func(_ context.Context, _ string, path string) (int64, error) {
			return int64(len(data)), os.WriteFile(path, data, 0o644)
		})

	l := &Loader{Fetcher: f, TempDir: t.TempDir()}
	items, err := l.Load(context.Background(), url)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2024, *items[0].TaxYear)
}

func TestLoader_RemoteDownloadError(t *testing.T) {
	f := mocks.NewMockFetcher(t)
	url := "https://example.com/items.csv"
	f.On("Download", mock.Anything, url).Return(nil, assert.AnError)

	l := &Loader{Fetcher: f}
	_, err := l.Load(context.Background(), url)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestLoader_RemoteWithoutFetcher(t *testing.T) {
	l := &Loader{}
	_, err := l.Load(context.Background(), "https://example.com/items.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no fetcher configured")
}

func TestLoader_FingerprintRemote(t *testing.T) {
	f := mocks.NewMockFetcher(t)
	f.On("HeadETag", mock.Anything, "https://example.com/items.csv").Return(`"v2"`, nil)

	l := &Loader{Fetcher: f}
	fp, err := l.Fingerprint(context.Background(), "https://example.com/items.csv")
	require.NoError(t, err)
	assert.Equal(t, `"v2"`, fp)
}

func TestLoader_FingerprintLocalChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.csv")
	require.NoError(t, os.WriteFile(path, []byte("a\n"), 0o644))

	l := &Loader{}
	first, err := l.Fingerprint(context.Background(), path)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	require.NoError(t, os.WriteFile(path, []byte("a\nb\n"), 0o644))
	second, err := l.Fingerprint(context.Background(), path)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
