package handlers

import (
	"io"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// =============================================================================
// 📁 文件接口
// =============================================================================

// uploadResponse 上传结果
type uploadResponse struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// UploadAudio 保存上传的音频到上传目录。
// POST /upload-audio（multipart，字段名 file）
func (h *Handlers) UploadAudio(w http.ResponseWriter, r *http.Request) {
	file, filename, contentType, _, err := openUploadedFile(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	defer file.Close()

	// 只保留文件名部分，丢掉客户端可能携带的路径
	filename = filepath.Base(filename)
	if filename == "." || filename == string(filepath.Separator) {
		h.writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	if err := os.MkdirAll(h.uploadsDir, 0o755); err != nil {
		h.logger.Error("failed to create uploads dir", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}

	dst, err := os.Create(filepath.Join(h.uploadsDir, filename))
	if err != nil {
		h.logger.Error("failed to create upload file", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}
	defer dst.Close()

	written, err := io.Copy(dst, file)
	if err != nil {
		h.logger.Error("failed to write upload", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "could not store upload")
		return
	}

	h.logger.Info("audio uploaded",
		zap.String("filename", filename),
		zap.Int64("size", written))

	h.writeJSON(w, http.StatusOK, uploadResponse{
		Filename:    filename,
		ContentType: contentType,
		Size:        written,
	})
}
