package httpapi

import (
	"net/http"
	"strings"

	"callpanion-core/internal/metrics"

	"go.uber.org/zap"
)

// Router 基于 ServeMux 的路由封装
type Router struct {
	mux     *http.ServeMux
	logger  *zap.Logger
	origins []string
	ips     *ClientIPResolver
	metrics *metrics.Metrics
}

// NewRouter origins 用于 CORS 预检回显；为空或包含 * 时回显任意来源
func NewRouter(logger *zap.Logger, origins []string, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	normalized := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/"); o != "" {
			normalized = append(normalized, o)
		}
	}
	return &Router{mux: http.NewServeMux(), logger: logger, origins: normalized, metrics: m}
}

func (r *Router) Handle(path string, handler http.HandlerFunc) {
	r.mux.HandleFunc(path, withMetrics(r.metrics, path, handler))
}

func (r *Router) HandleHandler(path string, handler http.Handler) {
	r.mux.Handle(path, handler)
}

// TrustProxies 设置可信反向代理（IP 或 CIDR）；未设置时只使用直连地址
func (r *Router) TrustProxies(proxies []string) error {
	resolver, err := NewClientIPResolver(proxies)
	if err != nil {
		return err
	}
	r.ips = resolver
	return nil
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	withRequestID(withClientIP(r.ips, r.mux)).ServeHTTP(w, req)
}

// post 只接受 POST；OPTIONS 预检返回 204
func (r *Router) post(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.writeCORS(w, req)
		switch req.Method {
		case http.MethodPost:
			handler(w, req)
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Header().Set("Allow", "POST, OPTIONS")
			writeJSON(w, http.StatusMethodNotAllowed, Fail("method_not_allowed", "method not allowed"))
		}
	}
}

func (r *Router) writeCORS(w http.ResponseWriter, req *http.Request) {
	origin := req.Header.Get("Origin")
	if origin == "" || !r.corsAllowed(origin) {
		return
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-Id, X-Webhook-Secret")
	h.Set("Access-Control-Max-Age", "600")
	h.Add("Vary", "Origin")
}

func (r *Router) corsAllowed(origin string) bool {
	if len(r.origins) == 0 {
		return true
	}
	o := strings.TrimRight(strings.ToLower(strings.TrimSpace(origin)), "/")
	for _, allowed := range r.origins {
		if allowed == "*" || allowed == o {
			return true
		}
	}
	return false
}

// RegisterFamilyRoutes 家庭端 API
func (r *Router) RegisterFamilyRoutes(pairing *PairingHandler, calls *CallStatusHandler, alerts *AlertEventHandler) {
	if pairing != nil {
		r.Handle("/family/api/v1/pairing/initiate", r.post(pairing.Initiate))
		r.Handle("/family/api/v1/pairing/lookup", r.post(pairing.Lookup))
		r.Handle("/family/api/v1/pairing/claim", r.post(pairing.Claim))
	}
	if calls != nil {
		r.Handle("/family/api/v1/calls/status", r.post(calls.UpdateStatus))
	}
	if alerts != nil {
		r.Handle("/family/api/v1/alerts/events", r.post(alerts.ProcessEvent))
	}
}

// RegisterOpsRoutes 健康检查与指标
func (r *Router) RegisterOpsRoutes(metricsHandler http.Handler) {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			writeJSON(w, http.StatusMethodNotAllowed, Fail("method_not_allowed", "method not allowed"))
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
	if metricsHandler != nil {
		r.HandleHandler("/metrics", metricsHandler)
	}
}
