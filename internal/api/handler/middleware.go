package handler

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aikewa/govledger/internal/privacy"
)

const publicCache = "public, max-age=300"

// CacheControl sets a five minute public cache window on reads and
// disables caching for everything else.
func CacheControl() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			c.Header("Cache-Control", publicCache)
		} else {
			c.Header("Cache-Control", "no-store")
		}
		c.Next()
	}
}

// RequestLogger logs method, path, status and latency for each request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// bufferedWriter holds the response until the privacy scan has run.
type bufferedWriter struct {
	gin.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (w *bufferedWriter) WriteHeader(code int) { w.status = code }
func (w *bufferedWriter) WriteHeaderNow()      {}
func (w *bufferedWriter) Write(b []byte) (int, error) {
	return w.buf.Write(b)
}
func (w *bufferedWriter) WriteString(s string) (int, error) {
	return w.buf.WriteString(s)
}
func (w *bufferedWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
func (w *bufferedWriter) Size() int     { return w.buf.Len() }
func (w *bufferedWriter) Written() bool { return w.status != 0 || w.buf.Len() > 0 }

// PrivacyGuard refuses to send any public read response that carries an
// email address, an IP literal or an identifier-shaped key. The offending
// body is dropped and replaced with a 500. Write requests pass through.
func PrivacyGuard(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}
		orig := c.Writer
		bw := &bufferedWriter{ResponseWriter: orig}
		c.Writer = bw
		c.Next()
		c.Writer = orig

		body := bw.buf.Bytes()
		if len(body) > 0 && strings.HasPrefix(orig.Header().Get("Content-Type"), "application/json") {
			findings, err := privacy.ScanJSON(body)
			if err == nil && len(findings) > 0 {
				paths := make([]string, 0, len(findings))
				for _, f := range findings {
					paths = append(paths, f.Path)
				}
				logger.Error("privacy guard blocked response",
					zap.String("path", c.Request.URL.Path),
					zap.Strings("fields", paths),
				)
				orig.Header().Set("Cache-Control", "no-store")
				orig.WriteHeader(http.StatusInternalServerError)
				_, _ = orig.Write([]byte(`{"error":"response withheld: contains identifying data"}`))
				return
			}
		}

		if bw.status != 0 {
			orig.WriteHeader(bw.status)
		}
		if len(body) > 0 {
			_, _ = orig.Write(body)
		}
	}
}
