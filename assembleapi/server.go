// Package assembleapi exposes the assembler as a small HTTP service: one
// endpoint that takes Glulx assembly source and returns either the
// assembled story file or the list of errors that kept it from
// assembling. It is a deliberately narrowed version of the toolchain's
// usual HTTP API layer — no sessions, no live WebSocket event stream,
// no broadcaster — because assembly is a single request/response
// operation with no intermediate state worth exposing.
package assembleapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/GrenDrake/glulx-assemble/emitter"
	"github.com/GrenDrake/glulx-assemble/parser"
	"github.com/GrenDrake/glulx-assemble/stringtable"
)

// Server is the assembly HTTP service.
type Server struct {
	mux            *http.ServeMux
	server         *http.Server
	port           int
	allowCORS      bool
	maxRequestSize int64
}

// Options configures a Server. A zero Options is usable: it falls back
// to a 1 MiB request cap and CORS left off.
type Options struct {
	Port           int
	AllowCORS      bool
	MaxRequestSize int
}

func NewServer(opts Options) *Server {
	maxSize := int64(opts.MaxRequestSize)
	if maxSize <= 0 {
		maxSize = 1 << 20
	}
	s := &Server{
		mux:            http.NewServeMux(),
		port:           opts.Port,
		allowCORS:      opts.AllowCORS,
		maxRequestSize: maxSize,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/assemble", s.handleAssemble)
}

// Handler returns the HTTP handler, with CORS middleware applied if
// enabled.
func (s *Server) Handler() http.Handler {
	if !s.allowCORS {
		return s.mux
	}
	return s.corsMiddleware(s.mux)
}

// Start runs the server until it is shut down or fails to bind.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.Printf("assembleapi: listening on http://127.0.0.1:%d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isAllowedOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	if strings.HasPrefix(origin, "file://") {
		return true
	}
	return strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "https://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1") ||
		strings.HasPrefix(origin, "https://127.0.0.1")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// assembleRequest is the /assemble endpoint's request body.
type assembleRequest struct {
	Source       string `json:"source"`
	Filename     string `json:"filename"`
	StackSize    uint32 `json:"stack_size"`
	StartAddress uint32 `json:"start_address"`
}

// assembleResponse reports either a successful image or the diagnostics
// that prevented one.
type assembleResponse struct {
	Success  bool     `json:"success"`
	Image    string   `json:"image,omitempty"` // base64, present only on success
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (s *Server) handleAssemble(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxRequestSize)

	var req assembleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Source == "" {
		http.Error(w, "source must not be empty", http.StatusBadRequest)
		return
	}
	filename := req.Filename
	if filename == "" {
		filename = "input.ga"
	}

	resp := Assemble(req.Source, filename, req.StackSize, req.StartAddress)
	w.Header().Set("Content-Type", "application/json")
	if !resp.Success {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	json.NewEncoder(w).Encode(resp)
}

// Assemble runs one full assembly of source in memory, for use by both
// the HTTP handler and tests: no filesystem round trip is needed since
// the whole pipeline already works against in-memory buffers until the
// very last step.
func Assemble(source, filename string, stackSize, startAddress uint32) assembleResponse {
	errs := &parser.ErrorList{}
	lx := parser.NewLexer(filename, []byte(source), errs)
	tokens := lx.Lex()

	tbl := stringtable.New()
	pp := parser.NewPreprocessor(".", tbl, errs)
	pp.Process(tokens, filename)
	tbl.Build()

	st := emitter.NewState(parser.NewSymbolTable(), tbl, errs)
	st.BaseDir = "."
	emitter.Emit(tokens, st)
	emitter.Finalize(st, &startAddress, stackSize, 0)

	resp := assembleResponse{}
	for _, e := range errs.Errors {
		resp.Errors = append(resp.Errors, e.Error())
	}
	for _, w := range errs.Warnings {
		resp.Warnings = append(resp.Warnings, w.String())
	}
	if errs.HasErrors() {
		return resp
	}
	resp.Success = true
	resp.Image = base64.StdEncoding.EncodeToString(st.Buf.Bytes())
	return resp
}
