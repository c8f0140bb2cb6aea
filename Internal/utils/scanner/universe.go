package scanner

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/fazecat/breakoutscan/Internal/utils/config"
)

// AssetLister enumerates a broker's tradable symbols.
type AssetLister interface {
	TradableSymbols(ctx context.Context) ([]string, error)
}

var (
	usSymbolPattern = regexp.MustCompile(`^[A-Z.\-]{1,7}$`)
	hkCodePattern   = regexp.MustCompile(`^(\d{1,5})(\.HK)?$`)
)

// Universe returns the symbols a market run starts from, sorted and capped
// at the market's MaxSymbols.
func Universe(ctx context.Context, lister AssetLister, m config.Market) ([]string, error) {
	switch m.Universe {
	case config.UniverseStatic:
		return StaticUniverse(m.Symbols, m.MaxSymbols), nil
	case config.UniverseAlpaca:
		if lister == nil {
			return nil, fmt.Errorf("universe %q needs an asset lister", m.Universe)
		}
		symbols, err := lister.TradableSymbols(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list tradable assets: %w", err)
		}
		return FilterUSSymbols(symbols, m.MaxSymbols), nil
	default:
		return nil, fmt.Errorf("unknown universe %q", m.Universe)
	}
}

// FilterUSSymbols keeps plain common-stock tickers: upper-case letters,
// dots and dashes, at most seven characters.
func FilterUSSymbols(symbols []string, max int) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if usSymbolPattern.MatchString(s) {
			out = append(out, s)
		}
	}
	return capSorted(out, max)
}

// StaticUniverse normalises a configured list. Numeric codes are treated as
// HKEX listings and zero-padded to four digits with a .HK suffix.
func StaticUniverse(symbols []string, max int) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if hk, ok := NormalizeHKSymbol(s); ok {
			s = hk
		}
		out = append(out, s)
	}
	return capSorted(out, max)
}

// NormalizeHKSymbol turns "700", "0700" or "0700.HK" into "0700.HK".
func NormalizeHKSymbol(s string) (string, bool) {
	m := hkCodePattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if m == nil {
		return "", false
	}
	code := m[1]
	if len(code) < 4 {
		code = strings.Repeat("0", 4-len(code)) + code
	}
	return code + ".HK", true
}

func capSorted(symbols []string, max int) []string {
	sort.Strings(symbols)
	out := symbols[:0]
	for i, s := range symbols {
		if i > 0 && s == symbols[i-1] {
			continue
		}
		out = append(out, s)
	}
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
