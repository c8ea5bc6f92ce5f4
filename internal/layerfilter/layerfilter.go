// Package layerfilter resolves a layer filter expression against a map
// configuration into an ascending list of layer indices.
package layerfilter

import (
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"

	"tilecore/internal/mapconfig"
)

// ErrInvalidFilter is returned for every rejected filter. Callers cannot tell
// the causes apart from the message.
var ErrInvalidFilter = &filterError{}

type filterError struct{}

func (*filterError) Error() string     { return "Invalid layer filtering" }
func (*filterError) ErrorCode() string { return "INVALID_LAYER_FILTER" }

// Config is the read-only view of a map configuration the filter needs.
type Config interface {
	LayerCount() int
	LayerKind(index int) mapconfig.Kind
	LayerByID(id string) (int, error)
}

// Keyword is a reserved filter alias.
type Keyword string

const (
	KeywordAll    Keyword = "all"
	KeywordMapnik Keyword = "mapnik"
	KeywordTorque Keyword = "torque"
	KeywordHTTP   Keyword = "http"
	KeywordPlain  Keyword = "plain"
)

// DefaultKeyword is used when the request carries no filter.
const DefaultKeyword = KeywordMapnik

func keywordOf(s string) (Keyword, bool) {
	switch Keyword(s) {
	case KeywordAll, KeywordMapnik, KeywordTorque, KeywordHTTP, KeywordPlain:
		return Keyword(s), true
	}
	return "", false
}

func (k Keyword) kind() mapconfig.Kind {
	switch k {
	case KeywordTorque:
		return mapconfig.KindTorque
	case KeywordHTTP:
		return mapconfig.KindHTTP
	case KeywordPlain:
		return mapconfig.KindPlain
	}
	return mapconfig.KindMapnik
}

type exprType int

const (
	exprAbsent exprType = iota
	exprString
	exprNumbers
)

// Filter is a request-scoped filter expression. The zero value is the
// absent filter.
type Filter struct {
	typ  exprType
	str  string
	nums []float64
}

// Default is the absent filter.
var Default = Filter{}

// FromString wraps a filter given as text: a keyword such as "all", a comma
// separated list of layer indices, or a comma separated list of layer ids.
func FromString(s string) Filter {
	return Filter{typ: exprString, str: s}
}

// FromIndex selects the single layer at index n.
func FromIndex(n float64) Filter {
	return Filter{typ: exprNumbers, nums: []float64{n}}
}

// FromIndices selects the layers at the given indices. The slice is copied.
func FromIndices(nums ...float64) Filter {
	return Filter{typ: exprNumbers, nums: append([]float64(nil), nums...)}
}

// Parse builds a Filter from a decoded JSON value. Array elements that are
// not numbers are kept as NaN so that Resolve rejects them.
func Parse(v any) Filter {
	switch t := v.(type) {
	case nil:
		return Default
	case string:
		return FromString(t)
	case float64:
		return FromIndex(t)
	case int:
		return FromIndex(float64(t))
	case []float64:
		return FromIndices(t...)
	case []int:
		nums := make([]float64, len(t))
		for i, n := range t {
			nums[i] = float64(n)
		}
		return FromIndices(nums...)
	case []any:
		nums := make([]float64, len(t))
		for i, item := range t {
			switch n := item.(type) {
			case float64:
				nums[i] = n
			case int:
				nums[i] = float64(n)
			default:
				nums[i] = math.NaN()
			}
		}
		return FromIndices(nums...)
	}
	return FromIndex(math.NaN())
}

// IsDefault reports whether f is the absent filter, which resolves to the
// "mapnik" keyword.
func (f Filter) IsDefault() bool { return f.typ == exprAbsent }

// String renders the filter as it would appear in a tile URL.
func (f Filter) String() string {
	switch f.typ {
	case exprString:
		return f.str
	case exprNumbers:
		parts := make([]string, len(f.nums))
		for i, n := range f.nums {
			parts[i] = strconv.FormatFloat(n, 'f', -1, 64)
		}
		return strings.Join(parts, ",")
	}
	return string(DefaultKeyword)
}

// Resolve returns the ascending layer indices selected by f. Repeated
// indices are kept.
func Resolve(cfg Config, f Filter) ([]int, error) {
	if f.typ == exprAbsent {
		f = FromString(string(DefaultKeyword))
	}

	var selected []float64
	if f.typ == exprString {
		var err error
		selected, err = resolveString(cfg, f.str)
		if err != nil {
			return nil, err
		}
	} else {
		selected = append([]float64(nil), f.nums...)
	}

	for _, n := range selected {
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return nil, ErrInvalidFilter
		}
	}
	if len(selected) == 0 {
		return nil, ErrInvalidFilter
	}

	sort.SliceStable(selected, func(i, j int) bool { return selected[i] < selected[j] })

	// The list is sorted and every element is finite, so the extremes bound
	// the whole list.
	if selected[0] < 0 || selected[len(selected)-1] >= float64(cfg.LayerCount()) {
		return nil, ErrInvalidFilter
	}

	out := make([]int, len(selected))
	for i, n := range selected {
		out[i] = int(n)
	}
	return out, nil
}

func resolveString(cfg Config, s string) ([]float64, error) {
	if kw, ok := keywordOf(s); ok {
		return resolveKeyword(cfg, kw), nil
	}
	return resolveList(cfg, strings.Split(s, ","))
}

func resolveKeyword(cfg Config, kw Keyword) []float64 {
	var out []float64
	for i := 0; i < cfg.LayerCount(); i++ {
		if kw == KeywordAll || cfg.LayerKind(i) == kw.kind() {
			out = append(out, float64(i))
		}
	}
	return out
}

func resolveList(cfg Config, tokens []string) ([]float64, error) {
	nums := make([]float64, len(tokens))
	finite, nan := 0, 0
	for i, tok := range tokens {
		n := toNumber(tok)
		switch {
		case math.IsNaN(n):
			nan++
		case !math.IsInf(n, 0):
			finite++
		}
		nums[i] = n
	}

	switch {
	case finite == len(tokens):
		return nums, nil
	case nan == len(tokens):
		for i, id := range tokens {
			idx, err := cfg.LayerByID(id)
			if err != nil {
				nums[i] = math.NaN()
				continue
			}
			nums[i] = float64(idx)
		}
		return nums, nil
	}
	return nil, ErrInvalidFilter
}

// toNumber converts a list token, yielding NaN for anything that is not a
// number. A blank token counts as 0, so "1," selects layers 0 and 1.
func toNumber(tok string) float64 {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return 0
	}
	n, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return math.NaN()
	}
	return n
}

// Key renders resolved indices in the canonical form used in cache keys.
func Key(indices []int) string {
	parts := make([]string, len(indices))
	for i, n := range indices {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

// IsInvalidFilter reports whether err is the filter rejection.
func IsInvalidFilter(err error) bool {
	return errors.Is(err, ErrInvalidFilter)
}
