package fetcher

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectJSON[T any](t *testing.T, ch <-chan T, errCh <-chan error) ([]T, error) {
	t.Helper()
	var out []T
	for v := range ch {
		out = append(out, v)
	}
	for err := range errCh {
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func TestDecodeJSONArray_Maps(t *testing.T) {
	input := `[{"tax_year":2024,"key":"standard_deduction_single"},{"tax_year":2025,"key":"x"}]`
	ch, errCh := DecodeJSONArray[map[string]any](context.Background(), strings.NewReader(input))
	records, err := collectJSON(t, ch, errCh)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, json.Number("2024"), records[0]["tax_year"])
	assert.Equal(t, "x", records[1]["key"])
}

func TestDecodeJSONArray_EmptyArrayAndInput(t *testing.T) {
	for _, input := range []string{`[]`, ``} {
		ch, errCh := DecodeJSONArray[map[string]any](context.Background(), strings.NewReader(input))
		records, err := collectJSON(t, ch, errCh)
		require.NoError(t, err)
		assert.Empty(t, records)
	}
}

func TestDecodeJSONArray_NotAnArray(t *testing.T) {
	ch, errCh := DecodeJSONArray[map[string]any](context.Background(), strings.NewReader(`{"a":1}`))
	_, err := collectJSON(t, ch, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected '['")
}

func TestDecodeJSONArray_BadElement(t *testing.T) {
	ch, errCh := DecodeJSONArray[map[string]any](context.Background(), strings.NewReader(`[{"a":1}, 7]`))
	records, err := collectJSON(t, ch, errCh)
	require.Error(t, err)
	assert.Len(t, records, 1)
}

func TestDecodeJSONArray_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch, errCh := DecodeJSONArray[map[string]any](ctx, strings.NewReader(`[{"a":1}]`))
	_, err := collectJSON(t, ch, errCh)
	require.Error(t, err)
}
