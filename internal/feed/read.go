package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/taxrules/internal/fetcher"
	"github.com/sells-group/taxrules/internal/rules"
)

// ReadCSV decodes a header-mapped CSV export. charset is an encoding label
// such as "windows-1252"; empty means UTF-8.
func ReadCSV(ctx context.Context, r io.Reader, charset string) ([]rules.RevProcItem, error) {
	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		HasHeader:  true,
		HeaderCh:   headerCh,
		LazyQuotes: true,
		Charset:    charset,
	})

	var colIdx map[string]int
	var items []rules.RevProcItem
	for row := range rowCh {
		if colIdx == nil {
			colIdx = mapColumns(<-headerCh)
		}
		items = append(items, parseRow(row, colIdx))
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "feed: read csv")
	}
	return items, nil
}

// ReadJSON decodes a JSON array of objects keyed by column name.
func ReadJSON(ctx context.Context, r io.Reader) ([]rules.RevProcItem, error) {
	ch, errCh := fetcher.DecodeJSONArray[map[string]any](ctx, r)

	var items []rules.RevProcItem
	for obj := range ch {
		fields := make(map[string]string, len(obj))
		for k, v := range obj {
			c := canonicalColumn(k)
			if _, dup := fields[c]; !dup {
				fields[c] = jsonString(v)
			}
		}
		items = append(items, ParseRecord(func(col string) string {
			return strings.TrimSpace(fields[col])
		}))
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "feed: read json")
	}
	return items, nil
}

// ReadXLSX decodes the first sheet (or opts.SheetName) of a workbook whose
// first non-skipped row is the header.
func ReadXLSX(path string, opts fetcher.XLSXOptions) ([]rules.RevProcItem, error) {
	rows, err := fetcher.ReadXLSX(path, opts)
	if err != nil {
		return nil, eris.Wrap(err, "feed: read xlsx")
	}
	if len(rows) == 0 {
		return nil, nil
	}

	colIdx := mapColumns(rows[0])
	items := make([]rules.RevProcItem, 0, len(rows)-1)
	for _, row := range rows[1:] {
		items = append(items, parseRow(row, colIdx))
	}
	return items, nil
}

func jsonString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
