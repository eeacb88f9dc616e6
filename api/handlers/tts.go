package handlers

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/lumeai/config"
)

// =============================================================================
// 🔊 语音合成接口
// =============================================================================

// TextInput 合成请求体
type TextInput struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId"`
}

// ttsResponse 合成响应。合成失败时 AudioFile 指向预置兜底音频，
// 并附带 FallbackText 供前端展示。
type ttsResponse struct {
	AudioFile    string `json:"audioFile"`
	FallbackText string `json:"fallback_text,omitempty"`
	Transcript   string `json:"transcript,omitempty"`
}

// TextToSpeech 把一段文本合成为音频并返回音频地址。
// POST /text-to-speech
func (h *Handlers) TextToSpeech(w http.ResponseWriter, r *http.Request) {
	var in TextInput
	if err := decodeJSONBody(r, &in); err != nil {
		h.writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if strings.TrimSpace(in.Text) == "" {
		h.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	ctx, cancel := requestContext(r, 30*time.Second)
	defer cancel()

	audioURL, err := h.tts.Generate(ctx, in.Text, in.VoiceID)
	if err != nil {
		h.logger.Warn("tts generate failed", zap.Error(err))
		h.writeJSON(w, http.StatusOK, ttsResponse{
			AudioFile:    config.FallbackAudioURL,
			FallbackText: config.FallbackText,
		})
		return
	}

	h.writeJSON(w, http.StatusOK, ttsResponse{AudioFile: audioURL})
}

// TTSEcho 转写上传的音频再用合成声音念回来。
// POST /tts/echo（multipart，字段名 file）
func (h *Handlers) TTSEcho(w http.ResponseWriter, r *http.Request) {
	file, _, _, _, err := openUploadedFile(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	defer file.Close()

	ctx, cancel := requestContext(r, 2*time.Minute)
	defer cancel()

	transcript, err := h.transcriber.Transcribe(ctx, file)
	if err != nil || strings.TrimSpace(transcript) == "" {
		if err != nil {
			h.logger.Warn("echo transcription failed", zap.Error(err))
		}
		h.writeJSON(w, http.StatusOK, ttsResponse{
			AudioFile:    config.FallbackAudioURL,
			FallbackText: config.FallbackText,
		})
		return
	}

	audioURL, err := h.tts.Generate(ctx, transcript, "")
	if err != nil {
		h.logger.Warn("echo synthesis failed", zap.Error(err))
		h.writeJSON(w, http.StatusOK, ttsResponse{
			AudioFile:    config.FallbackAudioURL,
			FallbackText: config.FallbackText,
			Transcript:   transcript,
		})
		return
	}

	h.writeJSON(w, http.StatusOK, ttsResponse{AudioFile: audioURL, Transcript: transcript})
}
