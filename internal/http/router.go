package httpapi

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（promhttp 等）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterTrackingRoutes 注册定位接入与订阅路由
func (r *Router) RegisterTrackingRoutes(loc *LocationHandler, emg *EmergencyHandler, ws *WSHandler) {
	r.Handle("/api/v1/locations", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		loc.SubmitLocation(w, req)
	})

	// agents/{agent_id}/location
	r.Handle("/api/v1/agents/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet || !strings.HasSuffix(req.URL.Path, "/location") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		loc.GetAgentLocation(w, req)
	})

	r.Handle("/api/v1/emergency", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		emg.RaiseEmergency(w, req)
	})

	r.Handle("/api/v1/ws", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ws.Subscribe(w, req)
	})
}

// RegisterAdminRoutes 注册生命周期运维路由
func (r *Router) RegisterAdminRoutes(admin *AdminHandler) {
	r.Handle("/admin/api/v1/violations", admin.Violations)
	r.Handle("/admin/api/v1/violations/", admin.Violations)

	r.Handle("/admin/api/v1/alerts", admin.Alerts)
	r.Handle("/admin/api/v1/alerts/", admin.Alerts)

	r.Handle("/admin/api/v1/zones/refresh", admin.RefreshZones)
	r.Handle("/admin/api/v1/validations", admin.RecordValidation)
}

// RegisterOpsRoutes 注册探针与指标路由
func (r *Router) RegisterOpsRoutes(health *HealthHandler) {
	r.Handle("/health", health.Health)
	r.Handle("/ready", health.Ready)
	r.HandleHandler("/metrics", promhttp.Handler())
}
