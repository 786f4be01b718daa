package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sourcegraph/conc/panics"

	apierrors "ollama-claude-proxy/internal/errors"
	"ollama-claude-proxy/internal/gateway"
	"ollama-claude-proxy/internal/metrics"
	"ollama-claude-proxy/internal/redact"
	"ollama-claude-proxy/internal/requestctx"
)

const (
	maxBodyBytes      = 10 << 20
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
	// writeSlack keeps the write deadline past the upstream timeout so a
	// 504 can still be delivered.
	writeSlack = 15 * time.Second
)

type Server struct {
	httpServer *http.Server
}

type Options struct {
	Addr            string
	UpstreamTimeout time.Duration
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

func New(opts Options, service *gateway.Service) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           NewHandler(opts.Logger, opts.Metrics, service),
			ReadHeaderTimeout: readHeaderTimeout,
			WriteTimeout:      opts.UpstreamTimeout + writeSlack,
			IdleTimeout:       idleTimeout,
		},
	}
}

// NewHandler wires the Ollama routes. m may be nil, which disables /metrics.
func NewHandler(logger *slog.Logger, m *metrics.Metrics, service *gateway.Service) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", service.HandleRoot)
	mux.HandleFunc("/api/tags", service.HandleTags)
	mux.HandleFunc("/api/show", service.HandleShow)
	mux.HandleFunc("/api/chat", service.HandleChat)
	mux.HandleFunc("/api/version", service.HandleVersion)
	if m != nil {
		mux.Handle("/metrics", m.Handler())
	}

	logger = logger.With("component", "http")
	return withRequestID(withLogging(withRecovery(withBodyLimit(mux), logger), logger, m))
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestctx.Header))
		if requestID == "" {
			requestID = requestctx.NewRequestID()
		}
		w.Header().Set(requestctx.Header, requestID)

		ctx := requestctx.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func withBodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func withRecovery(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		var pc panics.Catcher
		pc.Try(func() { next.ServeHTTP(rw, r) })
		if rec := pc.Recovered(); rec != nil {
			logger.Error("internal server error",
				"request_id", requestctx.RequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"panic", rec.Value,
				"stack", string(rec.Stack),
			)
			if !rw.wroteHeader {
				apierrors.Write(rw, http.StatusInternalServerError, "Internal server error")
			}
		}
	})
}

func withLogging(next http.Handler, logger *slog.Logger, m *metrics.Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := requestctx.RequestID(r.Context())
		logger.Info("incoming request", "method", r.Method, "path", r.URL.Path, "request_id", requestID)
		logger.Debug("request headers",
			"headers", redact.Headers(r.Header),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
			"request_id", requestID,
		)

		rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		elapsed := time.Since(start)
		m.ObserveHTTP(r.Method, metrics.Route(r.URL.Path), rw.statusCode, elapsed.Seconds())
		logger.Info(
			"http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", requestID,
		)
		logger.Debug("response headers", "headers", redact.Headers(rw.Header()), "request_id", requestID)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	if !r.wroteHeader {
		r.statusCode = statusCode
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.wroteHeader = true
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
