// Package server is the HTTP surface spec.md §1 lists as an external
// collaborator referenced only by interface: it turns query parameters
// into pipeline calls and pipeline results into HTTP responses. The
// pipeline itself stays transport-agnostic.
//
// Grounded on _examples/original_source/src/main.rs/server.rs (route
// shape, ImageQuery/MetadataQuery field names, options_from_query,
// ImageFormats::format preference-list resolution, ImageDebug,
// NAME_VERSION/"server" header) translated from axum extractors into
// net/http.HandlerFunc, matching the teacher's own net/http-based
// cmd/server/main.go rather than introducing a web framework dependency
// nowhere else in the pack is used for this purpose.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/imaged/imaged-go/internal/exif"
	"github.com/imaged/imaged-go/internal/fingerprint"
	"github.com/imaged/imaged-go/internal/logger"
	"github.com/imaged/imaged-go/internal/pipeline"
	"github.com/imaged/imaged-go/internal/verifier"
)

// NameVersion is sent as the "server" response header, matching
// NAME_VERSION in the original.
const NameVersion = "imaged/1.0"

var mimeTypes = map[fingerprint.OutputFormat]string{
	fingerprint.FormatAVIF: "image/avif",
	fingerprint.FormatJPEG: "image/jpeg",
	fingerprint.FormatPNG:  "image/png",
	fingerprint.FormatTIFF: "image/tiff",
	fingerprint.FormatWEBP: "image/webp",
}

// Server wires the pipeline and verifier into net/http handlers.
type Server struct {
	pipeline *pipeline.Pipeline
	verifier *verifier.Verifier
}

func New(p *pipeline.Pipeline, v *verifier.Verifier) *Server {
	return &Server{pipeline: p, verifier: v}
}

// Mux builds the route table: "/" (image), "/metadata", "/health".
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleImage)
	mux.HandleFunc("/metadata", s.handleMetadata)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("server", NameVersion)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()

	if err := s.verifier.Verify(r.URL.Path, r.URL.RawQuery, q.Get("s")); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	url := q.Get("url")
	if url == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}

	opts := optionsFromQuery(q, r.Header.Get("accept"))
	fp := fingerprint.New(url, opts.Width, opts.Height, opts.Format, opts.Quality, opts.Blur)

	shouldCache := !isEnabled(q.Get("nocache"))
	wantTiming := isEnabled(q.Get("timing"))

	entry, status, timing, err := s.pipeline.GetImage(r.Context(), fp, shouldCache, wantTiming)
	if err != nil {
		logger.Errorf("server: get_image failed for %s: %v", url, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("server", NameVersion)
	w.Header().Set("content-type", mimeType(entry.Format))
	if timing.ShouldShow() {
		w.Header().Set("server-timing", timing.Header())
	}
	if isEnabled(q.Get("debug")) {
		raw, _ := json.Marshal(debugInfo{
			OriginalHeight: entry.OrigHeight,
			OriginalWidth:  entry.OrigWidth,
			OriginalSize:   entry.OrigSize,
			OriginalFormat: string(entry.OrigFormat),
		})
		w.Header().Set("x-image-debug", string(raw))
	}
	if status != pipeline.CacheAbsent {
		w.Header().Set("x-cache-status", string(status))
	}
	w.Header().Set("x-image-height", strconv.Itoa(entry.Height))
	w.Header().Set("x-image-width", strconv.Itoa(entry.Width))
	w.Write(entry.Buf.Bytes())
}

type debugInfo struct {
	OriginalHeight int    `json:"original_height"`
	OriginalWidth  int    `json:"original_width"`
	OriginalSize   int64  `json:"original_size"`
	OriginalFormat string `json:"original_format"`
}

type metadataJSON struct {
	Format    string        `json:"format"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Size      int64         `json:"size"`
	ThumbHash string        `json:"thumbhash,omitempty"`
	EXIF      *exif.Summary `json:"exif,omitempty"`
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if err := s.verifier.Verify(r.URL.Path, r.URL.RawQuery, q.Get("s")); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	url := q.Get("url")
	if url == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}

	wantThumbHash := isEnabled(q.Get("thumbhash"))
	wantTiming := isEnabled(q.Get("timing"))

	meta, exifSummary, timing, err := s.pipeline.GetMetadata(r.Context(), url, wantThumbHash, wantTiming)
	if err != nil {
		logger.Errorf("server: get_metadata failed for %s: %v", url, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("server", NameVersion)
	w.Header().Set("content-type", "application/json")
	if timing.ShouldShow() {
		w.Header().Set("server-timing", timing.Header())
	}

	out := metadataJSON{
		Format:    string(meta.Format),
		Width:     meta.Width,
		Height:    meta.Height,
		Size:      meta.Size,
		ThumbHash: meta.ThumbHash,
		EXIF:      exifSummary,
	}

	var body []byte
	if isEnabled(q.Get("pretty")) {
		body, err = json.MarshalIndent(out, "", "  ")
	} else {
		body, err = json.Marshal(out)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(body)
}

func mimeType(f fingerprint.OutputFormat) string {
	if m, ok := mimeTypes[f]; ok {
		return m
	}
	return "application/octet-stream"
}

// isEnabled matches ImageQuery::is_enabled: present and not the literal
// string "false".
func isEnabled(v string) bool {
	return v != "" && v != "false"
}

type resolvedOptions struct {
	Width   int
	Height  int
	Format  fingerprint.OutputFormat
	Quality int
	Blur    int
}

// optionsFromQuery ports options_from_query/ImageFormats::format: a
// single format token is used directly; a comma-separated preference
// list picks the first entry whose MIME type appears as a substring of
// the Accept header, falling back to the list's last entry.
func optionsFromQuery(q map[string][]string, accept string) resolvedOptions {
	get := func(key string) string {
		if v, ok := q[key]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}

	width, _ := strconv.Atoi(get("width"))
	height, _ := strconv.Atoi(get("height"))
	quality, _ := strconv.Atoi(get("quality"))
	blur, _ := strconv.Atoi(get("blur"))

	return resolvedOptions{
		Width:   width,
		Height:  height,
		Format:  resolveFormat(get("format"), accept),
		Quality: quality,
		Blur:    blur,
	}
}

func resolveFormat(raw, accept string) fingerprint.OutputFormat {
	if raw == "" {
		return fingerprint.FormatNone
	}
	tokens := strings.Split(raw, ",")
	if len(tokens) == 1 {
		return parseFormat(strings.TrimSpace(tokens[0]))
	}

	var parsed []fingerprint.OutputFormat
	for _, t := range tokens {
		if f := parseFormat(strings.TrimSpace(t)); f != fingerprint.FormatNone {
			parsed = append(parsed, f)
		}
	}
	if len(parsed) == 0 {
		return fingerprint.FormatNone
	}
	last := parsed[len(parsed)-1]
	if accept == "" {
		return last
	}
	for _, f := range parsed[:len(parsed)-1] {
		if strings.Contains(accept, mimeType(f)) {
			return f
		}
	}
	return last
}

func parseFormat(tok string) fingerprint.OutputFormat {
	switch strings.ToLower(tok) {
	case "avif":
		return fingerprint.FormatAVIF
	case "jpeg", "jpg":
		return fingerprint.FormatJPEG
	case "png":
		return fingerprint.FormatPNG
	case "tiff":
		return fingerprint.FormatTIFF
	case "webp":
		return fingerprint.FormatWEBP
	default:
		return fingerprint.FormatNone
	}
}
