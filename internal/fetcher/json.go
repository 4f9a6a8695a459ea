package fetcher

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// DecodeJSONArray streams the elements of a top-level JSON array. Numbers
// decode as json.Number so callers keep the source precision. Empty input
// yields no elements.
func DecodeJSONArray[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		if err := decodeArray(ctx, r, outCh); err != nil {
			errCh <- err
		}
	}()

	return outCh, errCh
}

func decodeArray[T any](ctx context.Context, r io.Reader, outCh chan<- T) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "json: read opening token")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return eris.Errorf("json: expected '[', got %v", tok)
	}

	for i := 0; dec.More(); i++ {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "json: context cancelled")
		}

		var item T
		if err := dec.Decode(&item); err != nil {
			return eris.Wrapf(err, "json: decode element %d", i)
		}
		if err := send(ctx, outCh, item); err != nil {
			return eris.Wrap(err, "json: context cancelled")
		}
	}

	if _, err := dec.Token(); err != nil && err != io.EOF {
		return eris.Wrap(err, "json: read closing token")
	}
	return nil
}
