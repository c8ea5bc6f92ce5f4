package http

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tilecore/internal/cache"
	"tilecore/internal/config"
	"tilecore/internal/layerfilter"
	"tilecore/internal/mapconfig"
	"tilecore/internal/mapstore"
	"tilecore/internal/renderer"
	"tilecore/internal/staticmap"
	"tilecore/internal/tiler"
)

const maxScaleFactor = 4

type Handlers struct {
	config *config.Config
	logger *zap.Logger
	tiler  *tiler.Service
}

func New(config *config.Config, logger *zap.Logger, svc *tiler.Service) *Handlers {
	return &Handlers{
		config: config,
		logger: logger,
		tiler:  svc,
	}
}

// Routes registers every endpoint and wraps them in the CORS and request
// logging middlewares.
func (h *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/map", h.HandleCreateMap)
	mux.HandleFunc("GET /api/v1/map/{token}", h.HandleGetMap)
	mux.HandleFunc("DELETE /api/v1/map/{token}", h.HandleDeleteMap)
	mux.HandleFunc("GET /api/v1/map/{token}/{filter}/{z}/{x}/{file}", h.HandleTile)
	mux.HandleFunc("GET /api/v1/map/static/center/{token}/{z}/{lat}/{lng}/{width}/{file}", h.HandleStaticCenter)
	mux.HandleFunc("GET /api/v1/map/static/bbox/{token}/{bbox}/{width}/{file}", h.HandleStaticBBox)
	mux.HandleFunc("GET /healthz", h.HandleHealthz)

	return h.CORSMiddleware(h.RequestLoggingMiddleware(mux))
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-Id", requestID)
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", extractIP(r)),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""

		switch {
		case h.config.AllowedOrigin != "":
			allowedOrigin = h.config.AllowedOrigin
		case origin == "":
			allowedOrigin = "*"
		case strings.HasPrefix(origin, "http://"+r.Host) || strings.HasPrefix(origin, "https://"+r.Host):
			allowedOrigin = origin
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) HandleCreateMap(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Map configuration too large", "PAYLOAD_TOO_LARGE")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read request body", "BAD_REQUEST")
		return
	}

	info, err := h.tiler.CreateMap(r.Context(), body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handlers) HandleGetMap(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.tiler.GetMap(r.Context(), r.PathValue("token"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handlers) HandleDeleteMap(w http.ResponseWriter, r *http.Request) {
	if err := h.tiler.DeleteMap(r.Context(), r.PathValue("token")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) HandleTile(w http.ResponseWriter, r *http.Request) {
	z, errZ := strconv.Atoi(r.PathValue("z"))
	x, errX := strconv.Atoi(r.PathValue("x"))
	name, ext, _ := strings.Cut(r.PathValue("file"), ".")
	yPart, scale, ok := splitScale(name)
	y, errY := strconv.Atoi(yPart)
	if errZ != nil || errX != nil || errY != nil || !ok {
		writeError(w, http.StatusBadRequest, "Invalid tile coordinates", "BAD_REQUEST")
		return
	}
	format, ok := renderer.ParseFormat(ext)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid format", "BAD_REQUEST")
		return
	}

	tile, err := h.tiler.GetTile(r.Context(), tiler.TileRequest{
		Token:       r.PathValue("token"),
		Filter:      filterFromPath(r.PathValue("filter")),
		Z:           z,
		X:           x,
		Y:           y,
		Format:      format,
		ScaleFactor: scale,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	etag := `"` + generateETag(tile.Data) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=31536000")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeBody(w, r, tile.ContentType, tile.Data)
}

func (h *Handlers) HandleStaticCenter(w http.ResponseWriter, r *http.Request) {
	z, errZ := strconv.Atoi(r.PathValue("z"))
	lat, errLat := strconv.ParseFloat(r.PathValue("lat"), 64)
	lng, errLng := strconv.ParseFloat(r.PathValue("lng"), 64)
	width, height, format, ok := parseStaticSize(r.PathValue("width"), r.PathValue("file"))
	if errZ != nil || errLat != nil || errLng != nil || !ok {
		writeError(w, http.StatusBadRequest, "Invalid static map parameters", "BAD_REQUEST")
		return
	}

	img, err := h.tiler.StaticCenter(r.Context(), tiler.StaticCenterRequest{
		Token:  r.PathValue("token"),
		Filter: filterFromQuery(r),
		Zoom:   z,
		Lon:    lng,
		Lat:    lat,
		Width:  width,
		Height: height,
		Format: format,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeBody(w, r, img.ContentType, img.Data)
}

func (h *Handlers) HandleStaticBBox(w http.ResponseWriter, r *http.Request) {
	bbox, ok := parseBBox(r.PathValue("bbox"))
	width, height, format, okSize := parseStaticSize(r.PathValue("width"), r.PathValue("file"))
	if !ok || !okSize {
		writeError(w, http.StatusBadRequest, "Invalid static map parameters", "BAD_REQUEST")
		return
	}

	img, err := h.tiler.StaticBBox(r.Context(), tiler.StaticBBoxRequest{
		Token:  r.PathValue("token"),
		Filter: filterFromQuery(r),
		West:   bbox[0],
		South:  bbox[1],
		East:   bbox[2],
		North:  bbox[3],
		Width:  width,
		Height: height,
		Format: format,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeBody(w, r, img.ContentType, img.Data)
}

type healthResponse struct {
	Status string      `json:"status"`
	Pool   cache.Stats `json:"pool"`
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.tiler.Ping(r.Context()); err != nil {
		h.logger.Warn("Health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Pool: h.tiler.Stats()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Pool: h.tiler.Stats()})
}

func (h *Handlers) maxBodySize() int64 {
	if h.config.MaxMapConfigSize > 0 {
		return h.config.MaxMapConfigSize
	}
	return 1 << 20
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := tiler.ErrorCode(err)
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", code),
			zap.Error(err),
		)
	}
	writeError(w, status, err.Error(), code)
}

// statusFor maps the error taxonomy onto HTTP. A failing map store is
// reported as unavailable; anything untyped is a 500.
func statusFor(err error) int {
	switch {
	case mapstore.IsNotFound(err):
		return http.StatusNotFound
	case mapstore.IsStoreError(err):
		return http.StatusServiceUnavailable
	case layerfilter.IsInvalidFilter(err),
		mapconfig.IsValidationError(err),
		renderer.IsRenderError(err),
		staticmap.IsInvalidSize(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// filterFromPath maps the tile URL filter segment; "-" selects the default.
func filterFromPath(s string) layerfilter.Filter {
	if s == "-" || s == "" {
		return layerfilter.Default
	}
	return layerfilter.FromString(s)
}

func filterFromQuery(r *http.Request) layerfilter.Filter {
	return filterFromPath(r.URL.Query().Get("layer"))
}

// splitScale separates a retina suffix such as "@2x" from a tile row.
func splitScale(s string) (string, float64, bool) {
	row, suffix, found := strings.Cut(s, "@")
	if !found {
		return s, 1, true
	}
	if !strings.HasSuffix(suffix, "x") {
		return "", 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(suffix, "x"))
	if err != nil || n < 1 || n > maxScaleFactor {
		return "", 0, false
	}
	return row, float64(n), true
}

func parseStaticSize(widthPart, file string) (int, int, renderer.Format, bool) {
	name, ext, _ := strings.Cut(file, ".")
	width, errW := strconv.Atoi(widthPart)
	height, errH := strconv.Atoi(name)
	format, ok := renderer.ParseFormat(ext)
	if errW != nil || errH != nil || !ok {
		return 0, 0, "", false
	}
	return width, height, format, true
}

func parseBBox(s string) ([4]float64, bool) {
	var out [4]float64
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return out, false
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return out, false
		}
		out[i] = v
	}
	return out, true
}

type errorResponse struct {
	Errors []string `json:"errors"`
	Code   string   `json:"code"`
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorResponse{Errors: []string{msg}, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeBody(w http.ResponseWriter, r *http.Request, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))

	// HEAD request doesn't send body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Write(data)
}

// Tiles never change under a token, so the content hash is a stable tag.
func generateETag(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])[:16]
}

// Not for real production use due to potential spoofing
func extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
