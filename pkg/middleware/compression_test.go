package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compressionRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CompressionMiddleware())

	r.GET("/json", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"text": strings.Repeat("hola mundo ", 64)})
	})

	r.GET("/stream", func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.String(http.StatusOK, "event: delta\ndata: hola\n\n")
	})

	opted := r.Group("", NoCompressionMiddleware())
	opted.GET("/raw", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"text": strings.Repeat("hola mundo ", 64)})
	})

	return r
}

func doGet(r *gin.Engine, path string, acceptGzip bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if acceptGzip {
		req.Header.Set("Accept-Encoding", "gzip")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCompressesJSONForGzipClients(t *testing.T) {
	rec := doGet(compressionRouter(), "/json", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hola mundo")
}

func TestSkipsClientsWithoutGzip(t *testing.T) {
	rec := doGet(compressionRouter(), "/json", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Contains(t, rec.Body.String(), "hola mundo")
}

func TestSkipsEventStreams(t *testing.T) {
	rec := doGet(compressionRouter(), "/stream", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Contains(t, rec.Body.String(), "event: delta")
}

func TestHonorsNoCompressionOptOut(t *testing.T) {
	rec := doGet(compressionRouter(), "/raw", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Empty(t, rec.Header().Get("X-No-Compression"))
	assert.Contains(t, rec.Body.String(), "hola mundo")
}
