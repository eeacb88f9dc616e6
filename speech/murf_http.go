package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🔊 一次性语音合成（HTTP）
// =============================================================================

// GenerateProvider 一次性合成客户端。
// 提交整段文本，返回托管音频文件的 URL，适合非实时场景。
type GenerateProvider struct {
	endpoint string
	apiKey   string
	voiceID  string
	client   *http.Client
	logger   *zap.Logger
}

// NewGenerateProvider 创建一次性合成客户端
func NewGenerateProvider(endpoint, apiKey, voiceID string, timeout time.Duration, logger *zap.Logger) *GenerateProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GenerateProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		voiceID:  voiceID,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With(zap.String("component", "tts_generate")),
	}
}

type generateRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId"`
}

type generateResponse struct {
	AudioFile string `json:"audioFile"`
}

// Generate 合成整段文本，返回音频文件 URL
func (p *GenerateProvider) Generate(ctx context.Context, text, voiceID string) (string, error) {
	if p.apiKey == "" {
		return "", ErrMissingAPIKey
	}
	if voiceID == "" {
		voiceID = p.voiceID
	}

	body, err := json.Marshal(generateRequest{Text: text, VoiceID: voiceID})
	if err != nil {
		return "", fmt.Errorf("tts generate: marshal failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("tts generate: request build failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tts generate: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		p.logger.Warn("tts generate returned non-200",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", data))
		return "", fmt.Errorf("tts generate: status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("tts generate: decode failed: %w", err)
	}
	if out.AudioFile == "" {
		return "", fmt.Errorf("tts generate: empty audio URL in response")
	}

	return out.AudioFile, nil
}
