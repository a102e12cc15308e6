package httpapi

import (
	"context"
	"net/http"
	"time"

	"callpanion-core/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	clientIPKey
)

// RequestIDFromContext 取当前请求 ID
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requestLogger 附带 request_id 字段
func requestLogger(r *http.Request, logger *zap.Logger) *zap.Logger {
	if id := RequestIDFromContext(r.Context()); id != "" {
		return logger.With(zap.String("request_id", id))
	}
	return logger
}

// withRequestID 沿用上游的 X-Request-Id，没有则生成
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// statusRecorder 记录响应状态码
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// withMetrics path 使用注册时的路由模式，避免高基数
func withMetrics(m *metrics.Metrics, path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		m.ObserveHTTP(r.Method, path, rec.status, time.Since(start))
	}
}
