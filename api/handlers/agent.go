package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/lumeai/config"
	"github.com/BaSui01/lumeai/llm"
	"github.com/BaSui01/lumeai/session"
)

var errEmptyReply = errors.New("llm returned empty reply")

// =============================================================================
// 🤖 对话接口
// =============================================================================

// LLMQuery 文本查询请求体
type LLMQuery struct {
	Prompt string `json:"prompt"`
}

// chatResponse 多轮对话响应。AudioFile 为空指针表示本接口不做合成。
type chatResponse struct {
	YouSaid   string         `json:"you_said"`
	LLMReply  string         `json:"llm_reply"`
	History   []session.Turn `json:"chat_history"`
	AudioFile *string        `json:"audioFile"`
}

// QueryText 单轮无状态文本问答。
// POST /llm/query-text
func (h *Handlers) QueryText(w http.ResponseWriter, r *http.Request) {
	var in LLMQuery
	if err := decodeJSONBody(r, &in); err != nil {
		h.writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if strings.TrimSpace(in.Prompt) == "" {
		h.writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	ctx, cancel := requestContext(r, time.Minute)
	defer cancel()

	resp, err := h.provider.Completion(ctx, &llm.ChatRequest{Prompt: in.Prompt})
	if err != nil {
		h.logger.Warn("llm query failed", zap.Error(err))
		h.writeJSON(w, http.StatusOK, map[string]string{"response": config.FallbackText})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"response": resp.Content})
}

// AgentChat 语音输入的多轮对话：转写、生成回复、合成回复音频。
// POST /agent/chat/{session_id}（multipart，字段名 file）
func (h *Handlers) AgentChat(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	file, _, _, _, err := openUploadedFile(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	defer file.Close()

	ctx, cancel := requestContext(r, 3*time.Minute)
	defer cancel()

	transcript, err := h.transcriber.Transcribe(ctx, file)
	if err != nil || strings.TrimSpace(transcript) == "" {
		if err != nil {
			h.logger.Warn("chat transcription failed",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
		h.writeChatFallback(w, sessionID, "")
		return
	}

	h.registry.AppendTurn(sessionID, "user", transcript)

	reply, err := h.generateReply(ctx, sessionID)
	if err != nil {
		h.logger.Warn("chat generation failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		h.writeChatFallback(w, sessionID, transcript)
		return
	}
	h.registry.AppendTurn(sessionID, "assistant", reply)

	audioURL, err := h.tts.Generate(ctx, reply, "")
	if err != nil {
		h.logger.Warn("chat synthesis failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		audioURL = config.FallbackAudioURL
	}

	h.writeJSON(w, http.StatusOK, chatResponse{
		YouSaid:   transcript,
		LLMReply:  reply,
		History:   h.registry.History(sessionID),
		AudioFile: &audioURL,
	})
}

// ChatSmart 文本输入的多轮对话，技能意图优先，未命中走 LLM。
// 不做语音合成，audioFile 恒为 null。
// POST /chat-smart?session_id=<id>
func (h *Handlers) ChatSmart(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = "default"
	}

	var in LLMQuery
	if err := decodeJSONBody(r, &in); err != nil {
		h.writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		h.writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	ctx, cancel := requestContext(r, time.Minute)
	defer cancel()

	h.registry.AppendTurn(sessionID, "user", prompt)

	var reply string
	if intent := h.classifier.Detect(prompt); intent != nil {
		skillReply, err := h.skills.Execute(ctx, intent, skillKeys(h.registry, sessionID))
		if err == nil {
			reply = skillReply
		} else {
			h.logger.Warn("skill execution failed, falling back to llm",
				zap.String("skill", intent.Name),
				zap.Error(err))
		}
	}

	if reply == "" {
		generated, err := h.generateReply(ctx, sessionID)
		if err != nil {
			h.logger.Warn("smart chat generation failed",
				zap.String("session_id", sessionID),
				zap.Error(err))
			h.registry.AppendTurn(sessionID, "assistant", config.FallbackText)
			h.writeJSON(w, http.StatusOK, chatResponse{
				YouSaid:   prompt,
				LLMReply:  config.FallbackText,
				History:   h.registry.History(sessionID),
				AudioFile: nil,
			})
			return
		}
		reply = generated
	}

	h.registry.AppendTurn(sessionID, "assistant", reply)

	h.writeJSON(w, http.StatusOK, chatResponse{
		YouSaid:   prompt,
		LLMReply:  reply,
		History:   h.registry.History(sessionID),
		AudioFile: nil,
	})
}

// ResetSession 清空会话历史与凭据。
// POST /agent/reset/{session_id}
func (h *Handlers) ResetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	cleared := h.registry.Reset(sessionID)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"cleared":    cleared,
	})
}

// SessionHistory 查看会话历史（调试用）。
// GET /agent/history/{session_id}
func (h *Handlers) SessionHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	persona := h.registry.PersonaName(sessionID)
	if persona == "" {
		persona = "None set"
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"session_id":   sessionID,
		"persona":      persona,
		"chat_history": h.registry.History(sessionID),
	})
}

// generateReply 用会话历史拼提示词并请求一次补全
func (h *Handlers) generateReply(ctx context.Context, sessionID string) (string, error) {
	prompt := session.BuildPrompt(h.registry, sessionID)

	creds := h.registry.Credentials(sessionID)
	llmCtx := llm.WithCredentialOverride(ctx, llm.CredentialOverride{APIKey: creds.Gemini})

	resp, err := h.provider.Completion(llmCtx, &llm.ChatRequest{Prompt: prompt})
	if err != nil {
		return "", err
	}
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", errEmptyReply
	}
	return reply, nil
}

// writeChatFallback 统一的对话兜底响应，同时把兜底文案记入历史
func (h *Handlers) writeChatFallback(w http.ResponseWriter, sessionID, youSaid string) {
	h.registry.AppendTurn(sessionID, "assistant", config.FallbackText)
	audioURL := config.FallbackAudioURL
	h.writeJSON(w, http.StatusOK, chatResponse{
		YouSaid:   youSaid,
		LLMReply:  config.FallbackText,
		History:   h.registry.History(sessionID),
		AudioFile: &audioURL,
	})
}
