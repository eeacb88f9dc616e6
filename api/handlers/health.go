package handlers

import (
	"fmt"
	"net/http"
)

const landingPage = `<!DOCTYPE html>
<html>
<head><title>LumeAI</title></head>
<body>
<h1>LumeAI</h1>
<p>Voice assistant relay. Connect a microphone stream to <code>/ws/stream</code>.</p>
</body>
</html>`

// Landing 首页。
// GET /
func (h *Handlers) Landing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, landingPage)
}

// Healthz 存活探针。
// GET /healthz
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Version 返回服务版本。
// GET /version
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"service": "lumeai",
		"version": h.version,
	})
}
