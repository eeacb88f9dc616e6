// Package session 管理语音会话的状态、回合处理与客户端连接协调。
package session

// NoticeType 下行消息类型
type NoticeType string

const (
	NoticeInfo          NoticeType = "info"
	NoticeError         NoticeType = "error"
	NoticeTranscript    NoticeType = "transcript"
	NoticeLLMChunk      NoticeType = "llm_chunk"
	NoticeLLMResponse   NoticeType = "llm_response"
	NoticeAudioStart    NoticeType = "audio_start"
	NoticeAudioChunk    NoticeType = "audio_chunk"
	NoticeAudioComplete NoticeType = "audio_complete"
	NoticeAudioError    NoticeType = "audio_error"
	NoticeEcho          NoticeType = "echo"
)

// 回复来源
const (
	SourceSkill = "skill"
	SourceLLM   = "llm"
)

// Notice 发往客户端的下行消息。
// type 字段区分消息种类，其余字段按需填充。
type Notice struct {
	Type NoticeType `json:"type"`

	// Message info/error/echo 的文本内容
	Message string `json:"message,omitempty"`

	// Text transcript/llm_response 的正文
	Text string `json:"text,omitempty"`

	// Delta llm_chunk 的增量文本
	Delta string `json:"delta,omitempty"`

	// Source 回复来源：skill 或 llm
	Source string `json:"source,omitempty"`

	// Final 转写是否为最终结果
	Final bool `json:"final,omitempty"`

	// Audio audio_chunk 的 base64 音频
	Audio string `json:"audio,omitempty"`

	// Index audio_chunk 序号，Final 标记末块
	Index int `json:"index,omitempty"`

	// Chunks audio_complete 时交付的块总数
	Chunks int `json:"chunks,omitempty"`

	// SessionID 会话标识
	SessionID string `json:"session_id,omitempty"`
}

func InfoNotice(message string) Notice {
	return Notice{Type: NoticeInfo, Message: message}
}

func ErrorNotice(message string) Notice {
	return Notice{Type: NoticeError, Message: message}
}

func TranscriptNotice(text string, final bool) Notice {
	return Notice{Type: NoticeTranscript, Text: text, Final: final}
}

func LLMChunkNotice(delta string) Notice {
	return Notice{Type: NoticeLLMChunk, Delta: delta}
}

func LLMResponseNotice(text, source string) Notice {
	return Notice{Type: NoticeLLMResponse, Text: text, Source: source}
}

func AudioStartNotice() Notice {
	return Notice{Type: NoticeAudioStart}
}

func AudioChunkNotice(audioB64 string, index int, final bool) Notice {
	return Notice{Type: NoticeAudioChunk, Audio: audioB64, Index: index, Final: final}
}

func AudioCompleteNotice(chunks int) Notice {
	return Notice{Type: NoticeAudioComplete, Chunks: chunks}
}

func AudioErrorNotice(message string) Notice {
	return Notice{Type: NoticeAudioError, Message: message}
}

func EchoNotice(message string) Notice {
	return Notice{Type: NoticeEcho, Message: message}
}
