// Package engine is the client side of the external rendering engine that
// rasterizes data-backed layers.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Layer is one styled data source passed to the engine.
type Layer struct {
	ID              string         `json:"id,omitempty"`
	SQL             string         `json:"sql"`
	CartoCSS        string         `json:"cartocss"`
	CartoCSSVersion string         `json:"cartocss_version,omitempty"`
	Options         map[string]any `json:"options,omitempty"`
}

// Request asks the engine to draw layers over a Web Mercator extent.
type Request struct {
	Kind        string     `json:"kind"` // mapnik or torque
	Layers      []Layer    `json:"layers"`
	Format      string     `json:"format"`
	Z           int        `json:"z"`
	X           int        `json:"x"`
	Y           int        `json:"y"`
	Extent      [4]float64 `json:"extent"` // minx, miny, maxx, maxy in EPSG:3857 meters
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	ScaleFactor float64    `json:"scale_factor"`
}

type Response struct {
	Data        []byte
	ContentType string
}

type Engine interface {
	Render(ctx context.Context, req *Request) (*Response, error)
}

// Error carries the engine's own failure text, unmodified.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

// Func adapts a function to the Engine interface.
type Func func(ctx context.Context, req *Request) (*Response, error)

func (f Func) Render(ctx context.Context, req *Request) (*Response, error) { return f(ctx, req) }

// HTTPEngine posts render requests as JSON to a remote engine.
type HTTPEngine struct {
	url    string
	client *http.Client
}

func NewHTTPEngine(baseURL string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		url:    strings.TrimRight(baseURL, "/") + "/render",
		client: &http.Client{Timeout: timeout},
	}
}

func (e *HTTPEngine) Render(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode render request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rendering engine unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read engine response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Status: resp.StatusCode, Message: errorMessage(data, resp.Status)}
	}
	return &Response{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

// errorMessage extracts the engine message from an {"error": "..."} body,
// falling back to the raw body.
func errorMessage(body []byte, status string) string {
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return "rendering engine returned " + status
}
