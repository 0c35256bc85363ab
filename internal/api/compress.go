package api

import (
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/nutripublic/portal/internal/gziputil"
)

// gzipCompressor compresses responses for clients that accept gzip. Event
// streams are passed through untouched.
func gzipCompressor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") ||
			strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Add("Vary", "Accept-Encoding")
		gw := &gzipResponseWriter{ResponseWriter: w}
		defer gw.close()
		next.ServeHTTP(gw, r)
	})
}

// gzipResponseWriter decides on compression when the status is written:
// bodiless statuses and already-encoded responses go out as-is.
type gzipResponseWriter struct {
	http.ResponseWriter
	gw      *gzip.Writer
	started bool
}

func (w *gzipResponseWriter) WriteHeader(code int) {
	if !w.started {
		w.start(code)
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *gzipResponseWriter) start(code int) {
	w.started = true
	h := w.Header()
	if h.Get("Content-Encoding") != "" || code < 200 || code == http.StatusNoContent || code == http.StatusNotModified ||
		strings.HasPrefix(h.Get("Content-Type"), "text/event-stream") {
		return
	}
	h.Set("Content-Encoding", "gzip")
	h.Del("Content-Length")
	w.gw = gziputil.AcquireWriter(w.ResponseWriter)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if !w.started {
		w.WriteHeader(http.StatusOK)
	}
	if w.gw != nil {
		return w.gw.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

func (w *gzipResponseWriter) Flush() {
	if w.gw != nil {
		_ = w.gw.Flush()
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *gzipResponseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *gzipResponseWriter) close() {
	if w.gw == nil {
		return
	}
	_ = w.gw.Close()
	gziputil.ReleaseWriter(w.gw)
	w.gw = nil
}
