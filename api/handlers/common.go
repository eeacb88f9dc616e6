// =============================================================================
// 🌐 HTTP 处理器公共设施
// =============================================================================
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/lumeai/llm"
	"github.com/BaSui01/lumeai/session"
	"github.com/BaSui01/lumeai/skills"
)

// TTSGenerator 非流式语音合成抽象
type TTSGenerator interface {
	Generate(ctx context.Context, text, voiceID string) (string, error)
}

// AudioTranscriber 整段音频转写抽象
type AudioTranscriber interface {
	Transcribe(ctx context.Context, audio io.Reader) (string, error)
}

// SkillRunner 技能执行抽象
type SkillRunner interface {
	Execute(ctx context.Context, intent *skills.Intent, keys skills.Keys) (string, error)
	Status() map[string]bool
}

// Handlers 聚合 REST 面的全部处理器。
// WebSocket 流式链路独立于此，见 session.Coordinator。
type Handlers struct {
	registry    *session.Registry
	provider    llm.Provider
	classifier  *skills.Classifier
	skills      SkillRunner
	tts         TTSGenerator
	transcriber AudioTranscriber
	uploadsDir  string
	version     string
	logger      *zap.Logger
}

// NewHandlers 创建 REST 处理器集合
func NewHandlers(
	registry *session.Registry,
	provider llm.Provider,
	classifier *skills.Classifier,
	runner SkillRunner,
	tts TTSGenerator,
	transcriber AudioTranscriber,
	uploadsDir string,
	version string,
	logger *zap.Logger,
) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if uploadsDir == "" {
		uploadsDir = "uploads"
	}
	return &Handlers{
		registry:    registry,
		provider:    provider,
		classifier:  classifier,
		skills:      runner,
		tts:         tts,
		transcriber: transcriber,
		uploadsDir:  uploadsDir,
		version:     version,
		logger:      logger.With(zap.String("component", "http_handlers")),
	}
}

// RegisterRoutes 注册全部 REST 路由
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /version", h.Version)

	mux.HandleFunc("POST /text-to-speech", h.TextToSpeech)
	mux.HandleFunc("POST /tts/echo", h.TTSEcho)
	mux.HandleFunc("POST /upload-audio", h.UploadAudio)

	mux.HandleFunc("POST /llm/query-text", h.QueryText)
	mux.HandleFunc("POST /agent/chat/{session_id}", h.AgentChat)
	mux.HandleFunc("POST /chat-smart", h.ChatSmart)
	mux.HandleFunc("POST /agent/reset/{session_id}", h.ResetSession)
	mux.HandleFunc("GET /agent/history/{session_id}", h.SessionHistory)

	mux.HandleFunc("GET /skills/status", h.SkillsStatus)
	mux.HandleFunc("POST /skills/query", h.SkillQuery)
	mux.HandleFunc("GET /skills/weather", h.skillPassthrough(skills.IntentWeather, "city", "London"))
	mux.HandleFunc("GET /skills/news", h.skillPassthrough(skills.IntentNews, "topic", "general"))
	mux.HandleFunc("GET /skills/movies", h.skillPassthrough(skills.IntentMovies, "query", "popular"))
	mux.HandleFunc("GET /skills/anime", h.skillPassthrough(skills.IntentAnime, "query", "naruto"))
	mux.HandleFunc("GET /skills/quote", h.skillPassthrough(skills.IntentQuote, "category", "motivational"))

	mux.HandleFunc("GET /{$}", h.Landing)
}

// -----------------------------------------------------------------------------
// 响应辅助
// -----------------------------------------------------------------------------

// writeJSON 写出 JSON 响应
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

// writeError 写出错误响应
func (h *Handlers) writeError(w http.ResponseWriter, status int, format string, args ...any) {
	h.writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

// decodeJSONBody 解码请求体，拒绝未知字段
func decodeJSONBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return fmt.Errorf("empty request body")
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// openUploadedFile 取出 multipart 表单里的音频文件
func openUploadedFile(r *http.Request) (io.ReadCloser, string, string, int64, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, "", "", 0, fmt.Errorf("invalid multipart form: %w", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", "", 0, fmt.Errorf("missing form file %q: %w", "file", err)
	}
	return file, header.Filename, header.Header.Get("Content-Type"), header.Size, nil
}

// requestContext 给无超时的请求上下文加一层上限
func requestContext(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}

// skillKeys 取会话登记的技能凭据，没有会话时返回零值（回落到进程默认 Key）
func skillKeys(registry *session.Registry, sessionID string) skills.Keys {
	if sessionID == "" {
		return skills.Keys{}
	}
	creds := registry.Credentials(sessionID)
	return skills.Keys{Weather: creds.Weather, News: creds.News, TMDB: creds.TMDB}
}
