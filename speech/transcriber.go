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
// 🎤 批量语音识别（HTTP 上传 + 轮询）
// =============================================================================

// Transcriber 批量识别客户端。
// 上传完整音频文件，创建识别任务后轮询直到完成。
type Transcriber struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewTranscriber 创建批量识别客户端
func NewTranscriber(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Transcriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseURL == "" {
		baseURL = "https://api.assemblyai.com"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Transcriber{
		baseURL:      baseURL,
		apiKey:       apiKey,
		client:       &http.Client{Timeout: timeout},
		pollInterval: 2 * time.Second,
		logger:       logger.With(zap.String("component", "transcriber")),
	}
}

type transcriptStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

// Transcribe 上传音频并等待识别完成，返回全文转写
func (t *Transcriber) Transcribe(ctx context.Context, audio io.Reader) (string, error) {
	if t.apiKey == "" {
		return "", fmt.Errorf("transcriber: missing API key")
	}

	uploadURL, err := t.upload(ctx, audio)
	if err != nil {
		return "", err
	}

	id, err := t.create(ctx, uploadURL)
	if err != nil {
		return "", err
	}

	return t.poll(ctx, id)
}

// upload 上传原始音频字节，返回服务端生成的临时 URL
func (t *Transcriber) upload(ctx context.Context, audio io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v2/upload", audio)
	if err != nil {
		return "", fmt.Errorf("transcriber: upload request build failed: %w", err)
	}
	req.Header.Set("Authorization", t.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcriber: upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcriber: upload status %d", resp.StatusCode)
	}

	var out struct {
		UploadURL string `json:"upload_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("transcriber: upload decode failed: %w", err)
	}
	return out.UploadURL, nil
}

// create 创建识别任务
func (t *Transcriber) create(ctx context.Context, audioURL string) (string, error) {
	body, _ := json.Marshal(map[string]string{"audio_url": audioURL})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v2/transcript", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("transcriber: create request build failed: %w", err)
	}
	req.Header.Set("Authorization", t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcriber: create failed: %w", err)
	}
	defer resp.Body.Close()

	var out transcriptStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("transcriber: create decode failed: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("transcriber: create returned no transcript id")
	}
	return out.ID, nil
}

// poll 轮询任务直到 completed 或 error
func (t *Transcriber) poll(ctx context.Context, id string) (string, error) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/v2/transcript/"+id, nil)
		if err != nil {
			return "", fmt.Errorf("transcriber: poll request build failed: %w", err)
		}
		req.Header.Set("Authorization", t.apiKey)

		resp, err := t.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("transcriber: poll failed: %w", err)
		}

		var status transcriptStatus
		decodeErr := json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()
		if decodeErr != nil {
			return "", fmt.Errorf("transcriber: poll decode failed: %w", decodeErr)
		}

		switch status.Status {
		case "completed":
			return status.Text, nil
		case "error":
			return "", fmt.Errorf("transcriber: transcription failed: %s", status.Error)
		}

		t.logger.Debug("transcription pending",
			zap.String("transcript_id", id),
			zap.String("status", status.Status))

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
