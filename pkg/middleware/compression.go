package middleware

import (
	"compress/gzip"
	"io"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// gzipPool reuses writers across requests.
var gzipPool = sync.Pool{
	New: func() interface{} {
		gz, _ := gzip.NewWriterLevel(io.Discard, gzip.DefaultCompression)
		return gz
	},
}

var compressiblePrefixes = []string{
	"application/json",
	"application/javascript",
	"application/xml",
	"text/html",
	"text/css",
	"text/plain",
	"text/xml",
}

// compressibleContentType excludes streams: SSE frames and raw blobs
// must pass through unbuffered.
func compressibleContentType(contentType string) bool {
	if strings.Contains(contentType, "text/event-stream") ||
		strings.Contains(contentType, "application/octet-stream") {
		return false
	}
	for _, prefix := range compressiblePrefixes {
		if strings.Contains(contentType, prefix) {
			return true
		}
	}
	return false
}

// lazyGzipWriter defers the compress-or-not decision until the response
// actually starts, when Content-Type and the X-No-Compression marker are
// known. This is what lets route groups opt out after the global
// middleware has already run.
type lazyGzipWriter struct {
	gin.ResponseWriter
	gz      *gzip.Writer
	decided bool
	engaged bool
}

func (w *lazyGzipWriter) decide() {
	if w.decided {
		return
	}
	w.decided = true

	header := w.ResponseWriter.Header()
	if header.Get("X-No-Compression") == "1" {
		header.Del("X-No-Compression")
		return
	}
	if header.Get("Content-Encoding") != "" || !compressibleContentType(header.Get("Content-Type")) {
		return
	}

	w.gz = gzipPool.Get().(*gzip.Writer)
	w.gz.Reset(w.ResponseWriter)
	header.Set("Content-Encoding", "gzip")
	header.Set("Vary", "Accept-Encoding")
	header.Del("Content-Length")
	w.engaged = true
}

// WriteHeader only records the status: gin sends headers on the first
// Write, and renderers set Content-Type after the status, so the
// compression decision waits for Write.
func (w *lazyGzipWriter) WriteHeader(code int) {
	w.ResponseWriter.WriteHeader(code)
}

func (w *lazyGzipWriter) Write(data []byte) (int, error) {
	w.decide()
	if w.engaged {
		return w.gz.Write(data)
	}
	return w.ResponseWriter.Write(data)
}

func (w *lazyGzipWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *lazyGzipWriter) Flush() {
	if w.engaged {
		_ = w.gz.Flush()
	}
	w.ResponseWriter.Flush()
}

// close releases the gzip writer back to the pool.
func (w *lazyGzipWriter) close() {
	if !w.engaged {
		return
	}
	_ = w.gz.Close()
	gzipPool.Put(w.gz)
	w.gz = nil
	w.engaged = false
}

// CompressionMiddleware gzips responses for clients that accept it. The
// decision per response happens at first write; routes wrapped in
// NoCompressionMiddleware are left alone.
func CompressionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == "HEAD" ||
			c.Request.Header.Get("Connection") == "Upgrade" ||
			!strings.Contains(c.Request.Header.Get("Accept-Encoding"), "gzip") {
			c.Next()
			return
		}

		wrapped := &lazyGzipWriter{ResponseWriter: c.Writer}
		c.Writer = wrapped
		defer wrapped.close()

		c.Next()
	}
}

// NoCompressionMiddleware marks the response so the compression layer
// passes it through: uploads, audio chunks, and the SSE stream.
func NoCompressionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("X-No-Compression", "1")
		c.Next()
	}
}
