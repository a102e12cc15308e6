package httpapi

import (
	"math"
	"net/http"
	"strconv"

	"callpanion-core/internal/domain"

	"go.uber.org/zap"
)

// statusFor ErrorKind -> HTTP 状态码
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindUnauthorized, domain.KindForbiddenOrigin:
		return http.StatusForbidden
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindAlreadyClaimed:
		return http.StatusConflict
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

// writeError 领域错误按 Kind 输出；其余错误按 persistence_failure 处理，不暴露内部细节
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	de := domain.AsError(err)
	status := statusFor(de.Kind)

	if de.Kind == domain.KindRateLimited && de.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(de.RetryAfter.Seconds()))))
	}

	message := de.Message
	if de.Kind == domain.KindPersistenceFailure {
		requestLogger(r, logger).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		message = "temporarily unavailable, please retry"
	}
	if message == "" {
		message = string(de.Kind)
	}
	writeJSON(w, status, Fail(string(de.Kind), message))
}
