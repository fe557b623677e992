package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"

	"github.com/JustVugg/msgboard/internal/config"
)

// Headers applies the configured response headers. Added headers are set
// before the handler runs, so a handler that sets the same header wins.
// Removals happen when the status line is written.
func Headers(cfg *config.HeadersConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if cfg == nil || (len(cfg.Add) == 0 && len(cfg.Remove) == 0) {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for k, v := range cfg.Add {
				w.Header().Set(k, v)
			}

			next.ServeHTTP(&headersResponseWriter{ResponseWriter: w, remove: cfg.Remove}, r)
		})
	}
}

type headersResponseWriter struct {
	http.ResponseWriter
	remove      []string
	wroteHeader bool
}

func (w *headersResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		for _, h := range w.remove {
			w.Header().Del(h)
		}
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *headersResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *headersResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}
