package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tilecore/internal/cache"
	"tilecore/internal/config"
	"tilecore/internal/engine"
	"tilecore/internal/layerfilter"
	"tilecore/internal/mapconfig"
	"tilecore/internal/mapstore"
	"tilecore/internal/renderer"
	"tilecore/internal/staticmap"
	"tilecore/internal/tiler"
	"tilecore/internal/tilecache"
)

const testMap = `{
	"version": "1.2.0",
	"layers": [
		{"type": "plain", "options": {"color": [0, 0, 255]}},
		{"type": "mapnik", "id": "places", "options": {"sql": "select * from places", "cartocss": "#layer { marker-fill: red; }"}},
		{"type": "torque", "id": "broken", "options": {"sql": "select wadus from places", "cartocss": "#layer { marker-fill: red; }"}}
	]
}`

func newServer(t *testing.T) *httptest.Server {
	eng := engine.Func(func(ctx context.Context, req *engine.Request) (*engine.Response, error) {
		for _, l := range req.Layers {
			if strings.Contains(l.SQL, "wadus") {
				return nil, &engine.Error{Status: 400, Message: `column "wadus" does not exist`}
			}
		}
		if req.Format == string(renderer.FormatGrid) {
			return &engine.Response{Data: []byte(`{"grid":[],"keys":[],"data":{}}`)}, nil
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, req.Width, req.Height))); err != nil {
			return nil, err
		}
		return &engine.Response{Data: buf.Bytes(), ContentType: "image/png"}, nil
	})

	log := zap.NewNop()
	store := mapstore.New(mapstore.NewMemoryBackend(), mapstore.Options{}, log)
	pool := cache.NewPool(cache.Options{}, log)
	svc := tiler.New(store, renderer.NewFactory(eng, nil, log), pool, tilecache.NewNoopCache(), tiler.Options{}, log)
	t.Cleanup(func() { _ = svc.Close() })

	h := New(&config.Config{}, log, svc)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func createMap(t *testing.T, srv *httptest.Server) string {
	resp, err := http.Post(srv.URL+"/api/v1/map", "application/json", strings.NewReader(testMap))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info struct {
		Token   string `json:"layergroupid"`
		Existed bool   `json:"existed"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	require.NotEmpty(t, info.Token)
	return info.Token
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func decodeError(t *testing.T, body []byte) errorResponse {
	var e errorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	return e
}

func TestMapLifecycle(t *testing.T) {
	srv := newServer(t)
	token := createMap(t, srv)

	resp, body := get(t, srv.URL+"/api/v1/map/"+token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"places"`)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/map/"+token, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	resp, body = get(t, srv.URL+"/api/v1/map/"+token)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	e := decodeError(t, body)
	assert.Equal(t, []string{"Invalid or nonexistent map configuration token '" + token + "'"}, e.Errors)
	assert.Equal(t, "MAP_NOT_FOUND", e.Code)
}

func TestCreateMapInvalid(t *testing.T) {
	srv := newServer(t)
	resp, err := http.Post(srv.URL+"/api/v1/map", "application/json", strings.NewReader(`{"version":"1.2.0","layers":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "INVALID_MAPCONFIG", decodeError(t, body).Code)
}

func TestTiles(t *testing.T) {
	srv := newServer(t)
	token := createMap(t, srv)
	base := srv.URL + "/api/v1/map/" + token

	tests := []struct {
		name        string
		path        string
		status      int
		contentType string
		width       int
	}{
		{"default filter", "/-/0/0/0.png", http.StatusOK, "image/png", 256},
		{"retina", "/places/1/0/1@2x.png", http.StatusOK, "image/png", 512},
		{"index list", "/0,1/1/1/1.png", http.StatusOK, "image/png", 256},
		{"grid", "/places/0/0/0.grid.json", http.StatusOK, "application/json; charset=utf-8", 0},
		{"plain only", "/plain/2/1/1.png", http.StatusOK, "image/png", 256},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := get(t, base+tt.path)
			require.Equal(t, tt.status, resp.StatusCode, string(body))
			assert.Equal(t, tt.contentType, resp.Header.Get("Content-Type"))
			if tt.width > 0 {
				cfg, err := png.DecodeConfig(bytes.NewReader(body))
				require.NoError(t, err)
				assert.Equal(t, tt.width, cfg.Width)
			}
		})
	}
}

func TestTileETag(t *testing.T) {
	srv := newServer(t)
	token := createMap(t, srv)
	url := srv.URL + "/api/v1/map/" + token + "/-/0/0/0.png"

	resp, _ := get(t, url)
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("If-None-Match", etag)
	cached, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	cached.Body.Close()
	assert.Equal(t, http.StatusNotModified, cached.StatusCode)
}

func TestTileErrors(t *testing.T) {
	srv := newServer(t)
	token := createMap(t, srv)
	base := srv.URL + "/api/v1/map/" + token

	tests := []struct {
		name   string
		path   string
		status int
		code   string
		msg    string
	}{
		{"bad filter", "/7/0/0/0.png", http.StatusBadRequest, "INVALID_LAYER_FILTER", "Invalid layer filtering"},
		{"mixed filter", "/0,places/0/0/0.png", http.StatusBadRequest, "INVALID_LAYER_FILTER", "Invalid layer filtering"},
		{"engine error", "/broken/0/0/0.png", http.StatusBadRequest, "RENDER_ERROR", `column "wadus" does not exist`},
		{"bad coordinates", "/-/a/0/0.png", http.StatusBadRequest, "BAD_REQUEST", "Invalid tile coordinates"},
		{"bad scale", "/-/0/0/0@9x.png", http.StatusBadRequest, "BAD_REQUEST", "Invalid tile coordinates"},
		{"bad format", "/-/0/0/0.gif", http.StatusBadRequest, "BAD_REQUEST", "Invalid format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := get(t, base+tt.path)
			assert.Equal(t, tt.status, resp.StatusCode)
			e := decodeError(t, body)
			assert.Equal(t, tt.code, e.Code)
			require.Len(t, e.Errors, 1)
			assert.Contains(t, e.Errors[0], tt.msg)
		})
	}

	resp, body := get(t, srv.URL+"/api/v1/map/unexistent/-/0/0/0.png")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "MAP_NOT_FOUND", decodeError(t, body).Code)
}

func TestStaticMaps(t *testing.T) {
	srv := newServer(t)
	token := createMap(t, srv)

	// out of range latitude still renders at the requested size
	resp, body := get(t, srv.URL+"/api/v1/map/static/center/"+token+"/4/3000/0/400/3000.png?layer=0,1")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	cfg, err := png.DecodeConfig(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.Width)
	assert.Equal(t, 3000, cfg.Height)

	resp, body = get(t, srv.URL+"/api/v1/map/static/bbox/"+token+"/-10,35,5,45/300/200.jpg?layer=places")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	resp, body = get(t, srv.URL+"/api/v1/map/static/center/"+token+"/4/0/0/9000/10.png")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_STATIC_SIZE", decodeError(t, body).Code)

	resp, _ = get(t, srv.URL+"/api/v1/map/static/bbox/"+token+"/1,2,3/300/200.png")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv := newServer(t)
	resp, body := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health healthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
}

func TestCORS(t *testing.T) {
	srv := newServer(t)
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/map", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", &mapstore.NotFoundError{Token: "abc"}, http.StatusNotFound},
		{"store failure", &mapstore.StoreError{Op: "get", Err: errors.New("connection refused")}, http.StatusServiceUnavailable},
		{"invalid filter", layerfilter.ErrInvalidFilter, http.StatusBadRequest},
		{"invalid config", &mapconfig.ValidationError{Msg: "Missing layers array"}, http.StatusBadRequest},
		{"render", &renderer.RenderError{Kind: mapconfig.KindMapnik, Err: errors.New("boom")}, http.StatusBadRequest},
		{"static size", staticmap.ErrInvalidSize, http.StatusBadRequest},
		{"wrapped", fmt.Errorf("tile: %w", &mapstore.NotFoundError{Token: "abc"}), http.StatusNotFound},
		{"untyped", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, statusFor(tt.err))
		})
	}
}

func TestSplitScale(t *testing.T) {
	row, scale, ok := splitScale("12@2x")
	assert.True(t, ok)
	assert.Equal(t, "12", row)
	assert.Equal(t, 2.0, scale)

	_, _, ok = splitScale("12@x")
	assert.False(t, ok)
	_, _, ok = splitScale("12@2")
	assert.False(t, ok)
}
