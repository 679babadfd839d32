// Package admin implements the read/write admin REST surface over the
// core's state: whitelist/blacklist mutation, CAPTCHA verification, stats,
// and health, served over a ServeMux with bearer-token auth.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sentrygate/internal/audit"
	"sentrygate/internal/captcha"
	"sentrygate/internal/health"
	"sentrygate/internal/ipstore"
)

// Handler serves the admin REST surface.
type Handler struct {
	store     ipstore.Store
	auditDB   *audit.SQLiteStore
	sink      *audit.Sink
	verifier  *captcha.Verifier
	prober    *health.Prober
	stream    *LogStream
	logger    *slog.Logger
	mux       *http.ServeMux
	authKey   string
	authOn    bool

	blacklistTTL time.Duration
}

// Config carries the pieces Handler needs that aren't themselves stores.
type Config struct {
	AuthEnabled      bool
	APIKey           string
	BlacklistTTL     time.Duration
}

// New builds the admin Handler and registers all routes, including the
// websocket log-tail stream.
func New(store ipstore.Store, auditDB *audit.SQLiteStore, sink *audit.Sink, verifier *captcha.Verifier, prober *health.Prober, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	stream := NewLogStream(logger)
	sink.SetSubscriber(stream)
	h := &Handler{
		store:        store,
		auditDB:      auditDB,
		sink:         sink,
		verifier:     verifier,
		prober:       prober,
		stream:       stream,
		logger:       logger,
		authKey:      cfg.APIKey,
		authOn:       cfg.AuthEnabled,
		blacklistTTL: cfg.BlacklistTTL,
	}
	h.mux = http.NewServeMux()
	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /api/rate-limit/status", h.handleStatus)
	h.mux.HandleFunc("POST /api/rate-limit/verify-captcha", h.handleVerifyCaptcha)
	h.mux.HandleFunc("POST /api/rate-limit/admin/whitelist/{ip}", h.handleAddWhitelist)
	h.mux.HandleFunc("DELETE /api/rate-limit/admin/whitelist/{ip}", h.handleRemoveWhitelist)
	h.mux.HandleFunc("POST /api/rate-limit/admin/blacklist/{ip}", h.handleAddBlacklist)
	h.mux.HandleFunc("DELETE /api/rate-limit/admin/blacklist/{ip}", h.handleRemoveBlacklist)
	h.mux.HandleFunc("GET /api/rate-limit/admin/blacklist/check/{ip}", h.handleCheckBlacklist)
	h.mux.HandleFunc("POST /api/rate-limit/admin/reset-captcha", h.handleResetCaptcha)
	h.mux.HandleFunc("GET /api/rate-limit/admin/stats", h.handleStats)
	h.mux.HandleFunc("GET /api/rate-limit/health/redis", h.handleHealthRedis)
	h.mux.HandleFunc("GET /admin/rate-limit-logs/by-ip", h.handleLogsByIP)
	h.mux.HandleFunc("GET /admin/rate-limit-logs/count", h.handleLogsCount)
	h.mux.HandleFunc("GET /admin/rate-limit-logs/ddos", h.handleLogsDDoS)
	h.mux.HandleFunc("GET /admin/rate-limit-logs/stream", h.stream.ServeHTTP)
}

// ServeHTTP enforces bearer/X-API-Key auth on every route before
// delegating to the mux.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.authOn && !h.checkAuth(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) checkAuth(r *http.Request) bool {
	if key := r.Header.Get("X-API-Key"); key == h.authKey {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.TrimPrefix(auth, "Bearer ") == h.authKey && auth != ""
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "ip query parameter required"})
		return
	}
	ctx := r.Context()
	whitelisted, _ := h.store.ExistsFlag(ctx, "white_list:"+ip)
	reason, blacklisted, _ := h.store.GetFlag(ctx, "black_list:"+ip)
	writeJSON(w, http.StatusOK, map[string]any{
		"ip":             ip,
		"in_whitelist":   whitelisted,
		"in_blacklist":   blacklisted,
		"blacklist_info": reason,
	})
}

func (h *Handler) handleVerifyCaptcha(w http.ResponseWriter, r *http.Request) {
	ip := clientIPFromRequest(r)
	captchaText := r.URL.Query().Get("captcha")
	ok, err := h.verifier.Verify(r.Context(), ip, captchaText)
	if err != nil {
		h.logger.Error("admin: captcha verify failed", "error", err)
	}
	dest := "/"
	if !ok {
		dest = "/captcha"
	}
	http.Redirect(w, r, dest, http.StatusFound)
}

func (h *Handler) handleAddWhitelist(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	ttl := 5 * time.Minute
	if err := h.store.SetFlag(r.Context(), "white_list:"+ip, "true", ttl); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ip": ip, "whitelisted": true})
}

func (h *Handler) handleRemoveWhitelist(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	if err := h.store.DeleteFlag(r.Context(), "white_list:"+ip); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ip": ip, "whitelisted": false})
}

func (h *Handler) handleAddBlacklist(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "ADMIN_MANUAL"
	}
	ttl := h.blacklistTTL
	if mins := r.URL.Query().Get("durationMinutes"); mins != "" {
		if n, err := strconv.Atoi(mins); err == nil {
			ttl = time.Duration(n) * time.Minute
		}
	}
	value := "reason:" + reason + ",timestamp:" + strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := h.store.SetFlag(r.Context(), "black_list:"+ip, value, ttl); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ip": ip, "blacklisted": true, "reason": reason})
}

func (h *Handler) handleRemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	if err := h.store.DeleteFlag(r.Context(), "black_list:"+ip); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ip": ip, "blacklisted": false})
}

func (h *Handler) handleCheckBlacklist(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	reason, blacklisted, err := h.store.GetFlag(r.Context(), "black_list:"+ip)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ip": ip, "blacklisted": blacklisted, "info": reason})
}

func (h *Handler) handleResetCaptcha(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteFlag(r.Context(), "captcha_required"); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"captcha_required": false})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	rateLimited, _ := h.auditDB.CountRateLimited()
	writeJSON(w, http.StatusOK, map[string]any{
		"rate_limited_total": rateLimited,
		"dropped_records":    h.sink.Dropped(),
	})
}

func (h *Handler) handleHealthRedis(w http.ResponseWriter, r *http.Request) {
	status := h.prober.Status()
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (h *Handler) handleLogsByIP(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ip")
	count, err := h.auditDB.CountByIP(ip)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ip": ip, "count": count})
}

func (h *Handler) handleLogsCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.auditDB.CountRateLimited()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rate_limited_count": count})
}

func (h *Handler) handleLogsDDoS(w http.ResponseWriter, r *http.Request) {
	active, err := h.store.ExistsFlag(r.Context(), "captcha_required")
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"captcha_mode_active": active})
}

func clientIPFromRequest(r *http.Request) string {
	if mock := r.Header.Get("Mock-IP"); mock != "" {
		return mock
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
