package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// checksumPayload is the canonical form hashed by Checksum. Field order is
// fixed by the struct, so equal content always serializes identically.
type checksumPayload struct {
	StandardDeduction StandardDeduction `json:"standard_deduction"`
	TaxBrackets       TaxBrackets       `json:"tax_brackets"`
}

// Checksum returns the hex SHA-256 of the standard deduction and tax bracket
// content. Sources, dates and flags are not covered: two packages with the
// same rule values hash equal even when cited from different documents. The
// checksum detects duplicate content; it does not fingerprint a whole package.
func Checksum(sd StandardDeduction, tb TaxBrackets) string {
	b, err := json.Marshal(checksumPayload{StandardDeduction: sd, TaxBrackets: tb.normalized()})
	if err != nil {
		// Only non-finite floats fail to marshal and staging strips those.
		b = []byte(fmt.Sprintf("%v|%v", sd, tb.normalized()))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// normalized replaces nil lists with empty ones so "no brackets" has one
// serialized form.
func (tb TaxBrackets) normalized() TaxBrackets {
	orEmpty := func(b []Bracket) []Bracket {
		if b == nil {
			return []Bracket{}
		}
		return b
	}
	return TaxBrackets{
		Single:                  orEmpty(tb.Single),
		MarriedFilingJointly:    orEmpty(tb.MarriedFilingJointly),
		MarriedFilingSeparately: orEmpty(tb.MarriedFilingSeparately),
		HeadOfHousehold:         orEmpty(tb.HeadOfHousehold),
	}
}
