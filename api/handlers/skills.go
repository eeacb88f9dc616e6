package handlers

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/lumeai/skills"
)

// =============================================================================
// 🛠️ 技能接口
// =============================================================================

// SkillsStatus 报告各技能是否配置可用。
// GET /skills/status
func (h *Handlers) SkillsStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"skills": h.skills.Status()})
}

// skillPassthrough 生成单技能直查处理器。
// 查询参数缺省时沿用意图分类器的默认参数。
func (h *Handlers) skillPassthrough(name, param, fallback string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		arg := strings.TrimSpace(r.URL.Query().Get(param))
		if arg == "" {
			arg = fallback
		}

		ctx, cancel := requestContext(r, 30*time.Second)
		defer cancel()

		reply, err := h.skills.Execute(ctx, &skills.Intent{Name: name, Arg: arg}, skillKeys(h.registry, r.URL.Query().Get("session_id")))
		if err != nil {
			h.logger.Warn("skill passthrough failed",
				zap.String("skill", name),
				zap.Error(err))
			h.writeError(w, http.StatusBadGateway, "skill %s failed", name)
			return
		}

		h.writeJSON(w, http.StatusOK, skillQueryResponse{Intent: name, Arg: arg, Reply: reply})
	}
}

// skillQueryInput 技能直查请求体
type skillQueryInput struct {
	Text string `json:"text"`
}

type skillQueryResponse struct {
	Intent string `json:"intent,omitempty"`
	Arg    string `json:"arg,omitempty"`
	Reply  string `json:"reply"`
}

// SkillQuery 对一段文本做意图识别并直接执行命中的技能，
// 绕过会话与 LLM，主要用于前端调试技能配置。
// POST /skills/query
func (h *Handlers) SkillQuery(w http.ResponseWriter, r *http.Request) {
	var in skillQueryInput
	if err := decodeJSONBody(r, &in); err != nil {
		h.writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if strings.TrimSpace(in.Text) == "" {
		h.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	intent := h.classifier.Detect(in.Text)
	if intent == nil {
		h.writeJSON(w, http.StatusOK, skillQueryResponse{
			Reply: "I'm not sure how to help with that.",
		})
		return
	}

	ctx, cancel := requestContext(r, 30*time.Second)
	defer cancel()

	reply, err := h.skills.Execute(ctx, intent, skillKeys(h.registry, r.URL.Query().Get("session_id")))
	if err != nil {
		h.logger.Warn("skill query failed",
			zap.String("skill", intent.Name),
			zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "skill %s failed", intent.Name)
		return
	}

	h.writeJSON(w, http.StatusOK, skillQueryResponse{
		Intent: intent.Name,
		Arg:    intent.Arg,
		Reply:  reply,
	})
}
