package mapconfig

import (
	"errors"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const staticMapConfig = `{
	"version": "1.2.0",
	"layers": [
		{"type": "http", "options": {"urlTemplate": "http://127.0.0.1:8033/{s}/{z}/{x}/{y}.png", "subdomains": ["abcd"]}},
		{"type": "mapnik", "id": "places", "options": {"sql": "SELECT * FROM populated_places_simple_reduced", "cartocss": "#layer { marker-fill:red; }", "cartocss_version": "2.3.0"}}
	]
}`

func TestCreate(t *testing.T) {
	cfg, err := Create([]byte(staticMapConfig))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.LayerCount())
	assert.Equal(t, KindHTTP, cfg.LayerKind(0))
	assert.Equal(t, KindMapnik, cfg.LayerKind(1))
	assert.Equal(t, Version{1, 2, 0}, cfg.Version())
	assert.Len(t, cfg.ID(), 32)

	idx, err := cfg.LayerByID("places")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	_, err = cfg.LayerByID("wadus")
	assert.True(t, errors.Is(err, ErrLayerNotFound))
}

func TestCreateDefaultsToMapnik(t *testing.T) {
	cfg, err := Create([]byte(`{"version":"1.0.1","layers":[{"options":{"sql":"select the_geom from test_table limit 1","cartocss":"#layer { marker-fill:red }","cartocss_version":"2.0.1"}}]}`))
	require.NoError(t, err)
	assert.Equal(t, KindMapnik, cfg.LayerKind(0))
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"version":`},
		{"bad version", `{"version":"one","layers":[{"options":{"sql":"a","cartocss":"b"}}]}`},
		{"version too old", `{"version":"0.9.0","layers":[{"options":{"sql":"a","cartocss":"b"}}]}`},
		{"version too new", `{"version":"2.0.0","layers":[{"options":{"sql":"a","cartocss":"b"}}]}`},
		{"no layers", `{"version":"1.0.0","layers":[]}`},
		{"unknown type", `{"version":"1.2.0","layers":[{"type":"wadus","options":{}}]}`},
		{"missing options", `{"version":"1.2.0","layers":[{"type":"mapnik"}]}`},
		{"missing sql", `{"version":"1.2.0","layers":[{"options":{"cartocss":"b"}}]}`},
		{"missing cartocss", `{"version":"1.2.0","layers":[{"options":{"sql":"a"}}]}`},
		{"http before 1.2.0", `{"version":"1.1.0","layers":[{"type":"http","options":{"urlTemplate":"http://a/{z}/{x}/{y}.png"}}]}`},
		{"torque before 1.1.0", `{"version":"1.0.0","layers":[{"type":"torque","options":{"sql":"a","cartocss":"b"}}]}`},
		{"http without template", `{"version":"1.2.0","layers":[{"type":"http","options":{}}]}`},
		{"http template without z", `{"version":"1.2.0","layers":[{"type":"http","options":{"urlTemplate":"http://a/{x}/{y}.png"}}]}`},
		{"http bad subdomains", `{"version":"1.2.0","layers":[{"type":"http","options":{"urlTemplate":"http://a/{z}/{x}/{y}.png","subdomains":[1,2]}}]}`},
		{"plain without color", `{"version":"1.2.0","layers":[{"type":"plain","options":{}}]}`},
		{"plain bad color", `{"version":"1.2.0","layers":[{"type":"plain","options":{"color":"red"}}]}`},
		{"torque bad step", `{"version":"1.2.0","layers":[{"type":"torque","options":{"sql":"a","cartocss":"b","step":"x"}}]}`},
		{"duplicated id", `{"version":"1.2.0","layers":[{"id":"a","options":{"sql":"a","cartocss":"b"}},{"id":"a","options":{"sql":"a","cartocss":"b"}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Create([]byte(tt.raw))
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.True(t, IsValidationError(err), "got %T: %v", err, err)
		})
	}
}

func TestLayerIsCopiedOnAccess(t *testing.T) {
	cfg, err := Create([]byte(staticMapConfig))
	require.NoError(t, err)

	l := cfg.Layer(0)
	l.Options["urlTemplate"] = "http://evil/{z}/{x}/{y}.png"
	l.Options["subdomains"].([]any)[0] = "zzz"

	again := cfg.Layer(0)
	assert.Equal(t, "http://127.0.0.1:8033/{s}/{z}/{x}/{y}.png", again.String("urlTemplate"))
	assert.Equal(t, []string{"abcd"}, again.Strings("subdomains"))
}

func TestCanonicalRoundTrip(t *testing.T) {
	cfg, err := Create([]byte(staticMapConfig))
	require.NoError(t, err)

	raw, err := cfg.MarshalJSON()
	require.NoError(t, err)

	again, err := Create(raw)
	require.NoError(t, err)
	assert.True(t, cfg.Equal(again))
	assert.Equal(t, cfg.ID(), again.ID())
}

func TestIDDependsOnContent(t *testing.T) {
	a, err := Create([]byte(`{"version":"1.0.0","layers":[{"options":{"sql":"a","cartocss":"b"}}]}`))
	require.NoError(t, err)
	b, err := Create([]byte(`{"version":"1.0.0","layers":[{"options":{"sql":"a2","cartocss":"b"}}]}`))
	require.NoError(t, err)
	c, err := Create([]byte(`{"layers":[{"type":"cartodb","options":{"cartocss":"b","sql":"a"}}],"version":"1.0.0"}`))
	require.NoError(t, err)

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, a.ID(), c.ID())
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#f00")
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, c)

	c, err = ParseColor("#00ff80")
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{G: 255, B: 128, A: 255}, c)

	c, err = ParseColor([]any{10.0, 20.0, 30.0, 40.0})
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 40}, c)

	_, err = ParseColor("00ff80")
	assert.Error(t, err)
	_, err = ParseColor([]any{300.0, 0.0, 0.0})
	assert.Error(t, err)
}

func TestVersionCompare(t *testing.T) {
	v, err := ParseVersion("1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", v.String())
	assert.True(t, Version{1, 1, 9}.Less(v))
	assert.False(t, v.Less(Version{1, 2, 3}))

	// numeric, not lexicographic
	assert.True(t, Version{1, 2, 0}.Less(Version{1, 10, 0}))
	assert.Equal(t, 0, Version{1, 8, 0}.Compare(MaxVersion))

	for _, bad := range []string{"1.2", "1", "1.-2.0", "v1.2.0", "1.2.0-rc1", "1.2.0+build", "01.2.0", "a.b.c", ""} {
		_, err = ParseVersion(bad)
		assert.Error(t, err, bad)
	}
}
