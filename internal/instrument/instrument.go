// Package instrument normalizes and validates instrument codes and kinds
// before they reach the ledger.
package instrument

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/yushukk/trading-custody-sub000/internal/model"
)

// codeRegex matches exchange tickers and fund codes: AAPL, BRK.B, 510300, IF2409-C-3800.
var codeRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,31}$`)

var (
	ErrInvalidCode = errors.New("instrument: invalid code format")
	ErrInvalidKind = errors.New("instrument: unsupported asset type")
)

// kindAliases maps accepted spellings to the canonical kind.
var kindAliases = map[string]model.InstrumentKind{
	"equity":     model.KindEquity,
	"stock":      model.KindEquity,
	"derivative": model.KindDerivative,
	"future":     model.KindDerivative,
	"futures":    model.KindDerivative,
	"option":     model.KindDerivative,
	"fund":       model.KindFund,
}

// NormalizeCode trims and upper-cases a code and checks its format.
func NormalizeCode(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if !codeRegex.MatchString(c) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	return c, nil
}

// ParseKind resolves an asset type name, case-insensitively.
func ParseKind(kind string) (model.InstrumentKind, error) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	return k, nil
}

// Parse validates both halves of an instrument identity.
func Parse(code, kind string) (model.Instrument, error) {
	c, err := NormalizeCode(code)
	if err != nil {
		return model.Instrument{}, err
	}
	k, err := ParseKind(kind)
	if err != nil {
		return model.Instrument{}, err
	}
	return model.Instrument{Code: c, Kind: k}, nil
}
