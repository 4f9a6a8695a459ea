package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxrules/internal/rules"
)

// packageJSON holds the JSON-encoded document columns of a package row.
type packageJSON struct {
	standardDeduction string
	taxBrackets       string
	sources           string
}

func encodePackage(p rules.RulesPackage) (packageJSON, error) {
	sd, err := json.Marshal(p.StandardDeduction)
	if err != nil {
		return packageJSON{}, eris.Wrapf(err, "store: marshal standard_deduction for %s", p.PackageID)
	}
	tb, err := json.Marshal(p.TaxBrackets)
	if err != nil {
		return packageJSON{}, eris.Wrapf(err, "store: marshal tax_brackets for %s", p.PackageID)
	}
	sources := p.Sources
	if sources == nil {
		sources = []rules.Source{}
	}
	src, err := json.Marshal(sources)
	if err != nil {
		return packageJSON{}, eris.Wrapf(err, "store: marshal sources for %s", p.PackageID)
	}
	return packageJSON{standardDeduction: string(sd), taxBrackets: string(tb), sources: string(src)}, nil
}

func decodePackage(p *rules.RulesPackage, sd, tb, sources []byte) error {
	if err := json.Unmarshal(sd, &p.StandardDeduction); err != nil {
		return eris.Wrapf(err, "store: unmarshal standard_deduction for %s", p.PackageID)
	}
	if err := json.Unmarshal(tb, &p.TaxBrackets); err != nil {
		return eris.Wrapf(err, "store: unmarshal tax_brackets for %s", p.PackageID)
	}
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &p.Sources); err != nil {
			return eris.Wrapf(err, "store: unmarshal sources for %s", p.PackageID)
		}
	}
	return nil
}

func marshalMetadata(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal build metadata")
	}
	return b, nil
}

func unmarshalMetadata(b []byte) map[string]any {
	if len(b) == 0 {
		return nil
	}
	var meta map[string]any
	if err := json.Unmarshal(b, &meta); err != nil {
		zap.L().Warn("store: decode build metadata",
			zap.String("component", "store"),
			zap.Int("bytes", len(b)),
			zap.Error(err),
		)
		return nil
	}
	return meta
}

// dateOnly truncates a timestamp to its UTC calendar date.
func dateOnly(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}
