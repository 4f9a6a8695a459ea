package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune            // default ','
	HasHeader  bool            // first record goes to HeaderCh instead of the row channel
	HeaderCh   chan<- []string // optional
	Comment    rune            // 0 = none
	LazyQuotes bool
	TrimSpace  bool
	Charset    string // encoding label such as "windows-1252"; empty = UTF-8
}

// StreamCSV parses r in a goroutine and sends each record on the returned
// channel. The error channel carries at most one error. Both channels are
// closed when parsing stops.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		if err := streamCSV(ctx, r, opts, rowCh); err != nil {
			errCh <- err
		}
	}()

	return rowCh, errCh
}

func streamCSV(ctx context.Context, r io.Reader, opts CSVOptions, rowCh chan<- []string) error {
	reader, err := newCSVReader(r, opts)
	if err != nil {
		return err
	}

	for n := 0; ; n++ {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "csv: context cancelled")
		}

		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "csv: read row")
		}
		if opts.TrimSpace {
			for i := range record {
				record[i] = strings.TrimSpace(record[i])
			}
		}

		out := rowCh
		if n == 0 && opts.HasHeader {
			if opts.HeaderCh == nil {
				continue
			}
			out = opts.HeaderCh
		}
		if err := send(ctx, out, record); err != nil {
			return eris.Wrap(err, "csv: context cancelled")
		}
	}
}

func newCSVReader(r io.Reader, opts CSVOptions) (*csv.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Charset)) {
	case "", "utf-8", "utf8":
	default:
		enc, err := htmlindex.Get(opts.Charset)
		if err != nil {
			return nil, eris.Wrapf(err, "csv: unsupported charset %q", opts.Charset)
		}
		r = enc.NewDecoder().Reader(r)
	}

	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.Comment = opts.Comment
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1 // extraction exports are ragged
	return reader, nil
}
