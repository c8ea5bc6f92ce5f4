package mapconfig

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Layer is one entry of a map configuration. Values returned by MapConfig
// carry their own copy of Options.
type Layer struct {
	Kind    Kind
	ID      string
	Options map[string]any
}

// String returns the named string option, or "" when absent.
func (l Layer) String(name string) string {
	s, _ := l.Options[name].(string)
	return s
}

// Float returns the named numeric option.
func (l Layer) Float(name string) (float64, bool) {
	f, ok := l.Options[name].(float64)
	return f, ok
}

func (l Layer) Bool(name string) bool {
	b, _ := l.Options[name].(bool)
	return b
}

// Strings returns a list option. A plain string is split into characters,
// which is how "abc" style subdomain lists are written.
func (l Layer) Strings(name string) []string {
	switch v := l.Options[name].(type) {
	case string:
		out := make([]string, 0, len(v))
		for _, r := range v {
			out = append(out, string(r))
		}
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Color returns the parsed "color" option of a plain layer.
func (l Layer) Color() (color.NRGBA, bool) {
	v, ok := l.Options["color"]
	if !ok {
		return color.NRGBA{}, false
	}
	c, err := ParseColor(v)
	if err != nil {
		return color.NRGBA{}, false
	}
	return c, true
}

func (l Layer) clone() Layer {
	return Layer{Kind: l.Kind, ID: l.ID, Options: cloneMap(l.Options)}
}

// ParseColor accepts "#rgb", "#rrggbb", [r,g,b] or [r,g,b,a].
func ParseColor(v any) (color.NRGBA, error) {
	switch c := v.(type) {
	case string:
		return parseHexColor(c)
	case []any:
		if len(c) != 3 && len(c) != 4 {
			return color.NRGBA{}, fmt.Errorf("color must have 3 or 4 components")
		}
		comps := [4]uint8{0, 0, 0, 255}
		for i, item := range c {
			f, ok := item.(float64)
			if !ok || f < 0 || f > 255 {
				return color.NRGBA{}, fmt.Errorf("invalid color component %v", item)
			}
			comps[i] = uint8(f)
		}
		return color.NRGBA{R: comps[0], G: comps[1], B: comps[2], A: comps[3]}, nil
	}
	return color.NRGBA{}, fmt.Errorf("invalid color %v", v)
}

func parseHexColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 || !strings.HasPrefix(s, "#") {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	n, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	return color.NRGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 255}, nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}
