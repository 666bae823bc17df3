package middleware

import (
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// WithLogging logs every request once it completed: 5xx as errors, 4xx as
// warnings, everything else at info.
func WithLogging(wrappedHandler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		lrw := newLoggingResponseWriter(w)
		wrappedHandler.ServeHTTP(lrw, req)

		statusCode := lrw.statusCode
		entry := log.WithFields(log.Fields{"remoteAddr": req.RemoteAddr, "hostAddr": req.Host,
			"statusCode": statusCode, "path": req.URL.Path, "method": req.Method,
			"duration": time.Since(start).String()})
		if userID := req.Header.Get(HeaderUserID); userID != "" {
			entry = entry.WithField("userId", userID)
		}

		s := fmt.Sprintf("%s %s %d", req.Method, req.URL.Path, statusCode)
		switch {
		case statusCode < 400:
			entry.Info(s)
		case statusCode < 500:
			entry.Warn(s)
		default:
			entry.Error(s)
		}
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newLoggingResponseWriter(w http.ResponseWriter) *loggingResponseWriter {
	// WriteHeader(int) is not called if our response implicitly returns 200 OK, so
	// we default to that status code.
	return &loggingResponseWriter{w, http.StatusOK}
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}
