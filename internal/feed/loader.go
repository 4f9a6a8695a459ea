package feed

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxrules/internal/fetcher"
	"github.com/sells-group/taxrules/internal/rules"
)

// Format is the encoding of a feed source.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// DetectFormat infers the format from the source's file extension. URL query
// strings are ignored.
func DetectFormat(source string) (Format, error) {
	p := source
	if u, err := url.Parse(source); err == nil && isRemote(u) {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("feed: cannot infer format of %q", source)
	}
}

// Loader reads RevProcItems from local paths or http(s) URLs.
type Loader struct {
	Fetcher fetcher.Fetcher
	Charset string // CSV source encoding
	TempDir string // where remote workbooks are staged; "" = os.TempDir()
}

// Load reads every item of one source.
func (l *Loader) Load(ctx context.Context, source string) ([]rules.RevProcItem, error) {
	log := zap.L().With(zap.String("component", "feed"), zap.String("source", source))

	format, err := DetectFormat(source)
	if err != nil {
		return nil, err
	}

	var items []rules.RevProcItem
	if remote(source) {
		items, err = l.loadRemote(ctx, source, format)
	} else {
		items, err = l.loadLocal(ctx, source, format)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "feed: load %s", source)
	}

	log.Info("feed loaded", zap.String("format", string(format)), zap.Int("items", len(items)))
	return items, nil
}

// Fingerprint identifies the current content of a source without reading it:
// the ETag for URLs, size and modification time for local files. An empty
// fingerprint means the source cannot tell.
func (l *Loader) Fingerprint(ctx context.Context, source string) (string, error) {
	if remote(source) {
		if l.Fetcher == nil {
			return "", eris.New("feed: no fetcher configured for remote source")
		}
		etag, err := l.Fetcher.HeadETag(ctx, source)
		if err != nil {
			return "", eris.Wrapf(err, "feed: head %s", source)
		}
		return etag, nil
	}

	info, err := os.Stat(source)
	if err != nil {
		return "", eris.Wrapf(err, "feed: stat %s", source)
	}
	return fmt.Sprintf("%d-%d", info.Size(), info.ModTime().UnixNano()), nil
}

func (l *Loader) loadLocal(ctx context.Context, source string, format Format) ([]rules.RevProcItem, error) {
	if format == FormatXLSX {
		return ReadXLSX(source, fetcher.XLSXOptions{})
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, eris.Wrap(err, "open")
	}
	defer f.Close() //nolint:errcheck

	return l.decode(ctx, f, format)
}

func (l *Loader) loadRemote(ctx context.Context, source string, format Format) ([]rules.RevProcItem, error) {
	if l.Fetcher == nil {
		return nil, eris.New("no fetcher configured for remote source")
	}

	if format == FormatXLSX {
		dir, err := os.MkdirTemp(l.TempDir, "taxrules-feed-")
		if err != nil {
			return nil, eris.Wrap(err, "create temp dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck

		local := filepath.Join(dir, "feed.xlsx")
		if _, err := l.Fetcher.DownloadToFile(ctx, source, local); err != nil {
			return nil, err
		}
		return ReadXLSX(local, fetcher.XLSXOptions{})
	}

	body, err := l.Fetcher.Download(ctx, source)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	return l.decode(ctx, body, format)
}

func (l *Loader) decode(ctx context.Context, r io.Reader, format Format) ([]rules.RevProcItem, error) {
	switch format {
	case FormatJSON:
		return ReadJSON(ctx, r)
	default:
		return ReadCSV(ctx, r, l.Charset)
	}
}

func remote(source string) bool {
	u, err := url.Parse(source)
	return err == nil && isRemote(u)
}

func isRemote(u *url.URL) bool {
	return u.Scheme == "http" || u.Scheme == "https"
}
