// Package mapconfig holds the immutable map configuration model: an ordered
// list of layers, validated once at construction against its version.
package mapconfig

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Definition is the wire shape of a map configuration.
type Definition struct {
	Version string            `json:"version"`
	Layers  []LayerDefinition `json:"layers"`
}

type LayerDefinition struct {
	Type    string         `json:"type,omitempty"`
	ID      string         `json:"id,omitempty"`
	Options map[string]any `json:"options"`
}

// MapConfig is safe for concurrent use; nothing mutates it after New returns.
type MapConfig struct {
	version   Version
	layers    []Layer
	ids       map[string]int
	canonical []byte
	id        string
}

// Create parses and validates a JSON map configuration.
func Create(raw []byte) (*MapConfig, error) {
	var def Definition
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&def); err != nil {
		return nil, invalidf("malformed map configuration: %v", err)
	}
	return New(def)
}

// New validates def and builds a MapConfig from a private copy of it.
func New(def Definition) (*MapConfig, error) {
	version, err := ParseVersion(def.Version)
	if err != nil {
		return nil, invalidf("Invalid mapconfig version: %q", def.Version)
	}
	if version.Less(MinVersion) || MaxVersion.Less(version) {
		return nil, invalidf("Unsupported mapconfig version: %s", version)
	}
	if len(def.Layers) == 0 {
		return nil, invalidf("Missing layers array from layergroup config")
	}

	cfg := &MapConfig{
		version: version,
		layers:  make([]Layer, 0, len(def.Layers)),
		ids:     make(map[string]int),
	}

	for i, ld := range def.Layers {
		layer, err := buildLayer(version, i, ld)
		if err != nil {
			return nil, err
		}
		if layer.ID != "" {
			if prev, dup := cfg.ids[layer.ID]; dup {
				return nil, invalidf("Duplicated layer id %q in layers %d and %d", layer.ID, prev, i)
			}
			cfg.ids[layer.ID] = i
		}
		cfg.layers = append(cfg.layers, layer)
	}

	canonical, err := json.Marshal(cfg.definition())
	if err != nil {
		return nil, fmt.Errorf("serialize map configuration: %w", err)
	}
	sum := sha256.Sum256(canonical)
	cfg.canonical = canonical
	cfg.id = hex.EncodeToString(sum[:])[:32]

	return cfg, nil
}

func buildLayer(version Version, index int, ld LayerDefinition) (Layer, error) {
	kind := KindMapnik
	if ld.Type != "" {
		k, ok := ParseKind(ld.Type)
		if !ok {
			return Layer{}, invalidf("Invalid type for layer %d: %s", index, ld.Type)
		}
		kind = k
	}
	if version.Less(minKindVersion[kind]) {
		return Layer{}, invalidf("Layer %d: type %s requires mapconfig version %s or later", index, kind, minKindVersion[kind])
	}
	if ld.Options == nil {
		return Layer{}, invalidf("Missing options for layer %d", index)
	}
	layer := Layer{Kind: kind, ID: ld.ID, Options: cloneMap(ld.Options)}
	if err := validateOptions(index, layer); err != nil {
		return Layer{}, err
	}
	return layer, nil
}

func validateOptions(index int, l Layer) error {
	switch l.Kind {
	case KindMapnik, KindTorque:
		for _, name := range []string{"sql", "cartocss"} {
			if strings.TrimSpace(l.String(name)) == "" {
				return invalidf("Missing %s for layer %d options", name, index)
			}
		}
		if v, ok := l.Options["cartocss_version"]; ok {
			if s, _ := v.(string); s == "" {
				return invalidf("Invalid cartocss_version for layer %d", index)
			}
		}
		if l.Kind == KindTorque {
			for _, name := range []string{"step", "resolution"} {
				if v, ok := l.Options[name]; ok {
					if _, isNum := v.(float64); !isNum {
						return invalidf("Invalid %s for torque layer %d", name, index)
					}
				}
			}
		}
	case KindHTTP:
		tpl := l.String("urlTemplate")
		if tpl == "" {
			return invalidf("Missing mandatory \"urlTemplate\" option for layer %d", index)
		}
		if !strings.Contains(tpl, "{z}") || !strings.Contains(tpl, "{x}") ||
			!(strings.Contains(tpl, "{y}") || strings.Contains(tpl, "{-y}")) {
			return invalidf("Invalid urlTemplate for layer %d: %s", index, tpl)
		}
		if v, ok := l.Options["subdomains"]; ok {
			switch s := v.(type) {
			case string:
			case []any:
				for _, item := range s {
					if _, isStr := item.(string); !isStr {
						return invalidf("Invalid subdomains for layer %d", index)
					}
				}
			default:
				return invalidf("Invalid subdomains for layer %d", index)
			}
		}
	case KindPlain:
		c, hasColor := l.Options["color"]
		img := l.String("imageUrl")
		if !hasColor && img == "" {
			return invalidf("Plain layer %d: color or imageUrl is mandatory", index)
		}
		if hasColor {
			if _, err := ParseColor(c); err != nil {
				return invalidf("Plain layer %d: %v", index, err)
			}
		}
	}
	return nil
}

func (c *MapConfig) definition() Definition {
	def := Definition{Version: c.version.String(), Layers: make([]LayerDefinition, len(c.layers))}
	for i, l := range c.layers {
		def.Layers[i] = LayerDefinition{Type: l.Kind.String(), ID: l.ID, Options: l.Options}
	}
	return def
}

func (c *MapConfig) Version() Version { return c.version }

func (c *MapConfig) LayerCount() int { return len(c.layers) }

// LayerKind returns the kind of the layer at index. The index must be valid.
func (c *MapConfig) LayerKind(index int) Kind { return c.layers[index].Kind }

// Layer returns a copy of the layer at index. The index must be valid.
func (c *MapConfig) Layer(index int) Layer { return c.layers[index].clone() }

// LayerByID returns the index of the layer with the given id.
func (c *MapConfig) LayerByID(id string) (int, error) {
	if i, ok := c.ids[id]; ok {
		return i, nil
	}
	return -1, fmt.Errorf("%w: %q", ErrLayerNotFound, id)
}

// ID is the content identity of the configuration: two configurations with
// the same canonical serialization share it.
func (c *MapConfig) ID() string { return c.id }

// MarshalJSON returns the canonical serialization.
func (c *MapConfig) MarshalJSON() ([]byte, error) {
	out := make([]byte, len(c.canonical))
	copy(out, c.canonical)
	return out, nil
}

// Equal reports structural equality.
func (c *MapConfig) Equal(o *MapConfig) bool {
	if c == nil || o == nil {
		return c == o
	}
	return bytes.Equal(c.canonical, o.canonical)
}
