package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"callpanion-core/internal/domain"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// readBodyJSON 空请求体保持 out 不变；JSON 错误返回 InvalidArgument
func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return domain.InvalidArgument("failed to read request body")
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.InvalidArgument("invalid JSON body: " + err.Error())
	}
	return nil
}
