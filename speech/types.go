// Package speech 封装语音识别与语音合成的外部服务客户端。
//
// 识别侧通过 WebSocket 持续推送音频并接收转写事件流；
// 合成侧支持流式（WebSocket 分块）与一次性（HTTP 返回音频 URL）两种模式。
package speech

import "time"

// EventType 识别事件类型
type EventType string

const (
	// EventBegin 识别会话已建立
	EventBegin EventType = "Begin"
	// EventTurn 一段转写（可能是中间结果，也可能是最终结果）
	EventTurn EventType = "Turn"
	// EventTermination 识别会话已终止
	EventTermination EventType = "Termination"
	// EventError 连接或协议错误，事件流随后关闭
	EventError EventType = "Error"
)

// Event 识别服务推送的单个事件。
// Turn 事件中 EndOfTurn 与 Formatted 同时为 true 才是可消费的最终转写。
type Event struct {
	// Type 事件类型
	Type EventType

	// SessionID 识别服务分配的会话标识（Begin 事件携带）
	SessionID string

	// ExpiresAt 识别会话过期时间（Begin 事件携带）
	ExpiresAt time.Time

	// Transcript 当前转写文本（Turn 事件携带）
	Transcript string

	// EndOfTurn 识别服务判定本轮说话已结束
	EndOfTurn bool

	// Formatted 文本是否已做标点与大小写整理
	Formatted bool

	// AudioDuration 已处理的音频时长（Termination 事件携带）
	AudioDuration time.Duration

	// Err 错误详情（仅 Error 事件）
	Err error
}

// SynthesisChunk 合成流中的一个音频块
type SynthesisChunk struct {
	// Audio 解码后的原始音频字节
	Audio []byte

	// Index 块序号，从 0 开始
	Index int

	// Final 是否为本段文本的最后一块
	Final bool
}
