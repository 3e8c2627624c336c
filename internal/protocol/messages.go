package protocol

import (
	"encoding/json"
	"fmt"

	"GoCmdLogServer/internal/iolog"
)

// ExecMessage 会话开始消息，客户端连接后的第一条消息
type ExecMessage struct {
	StartTime int64            `json:"start_time"`
	Info      []iolog.InfoItem `json:"info"`
}

// RestartMessage 续录消息，log_id 为服务端先前下发的会话标识
type RestartMessage struct {
	LogID       string         `json:"log_id"`
	ResumePoint iolog.TimeSpec `json:"resume_point"`
}

// IoBufferMessage 数据块消息，data 在 JSON 中以 base64 编码
type IoBufferMessage struct {
	Stream int            `json:"stream"`
	Delay  iolog.TimeSpec `json:"delay"`
	Data   []byte         `json:"data"`
}

// SuspendMessage 命令挂起消息
type SuspendMessage struct {
	Signal string         `json:"signal"`
	Delay  iolog.TimeSpec `json:"delay"`
}

// WinsizeMessage 终端窗口变更消息
type WinsizeMessage struct {
	Rows  int            `json:"rows"`
	Cols  int            `json:"cols"`
	Delay iolog.TimeSpec `json:"delay"`
}

// ExitMessage 命令结束消息
type ExitMessage struct {
	ExitStatus int    `json:"exit_status"`
	Error      string `json:"error,omitempty"`
}

// LogIDMessage 服务端下发的会话标识，客户端保存用于续录
type LogIDMessage struct {
	LogID string `json:"log_id"`
}

// CommitPointMessage 服务端确认已落盘的累计时长
type CommitPointMessage struct {
	Elapsed iolog.TimeSpec `json:"elapsed"`
}

// ErrorMessage 服务端错误应答，发送后连接即关闭
type ErrorMessage struct {
	Message string `json:"message"`
}

// EncodeMessage 将消息体序列化并装入协议帧
func EncodeMessage(opcode uint16, msg any) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", OpcodeToString(opcode), err)
	}
	return EncodeFrame(opcode, body), nil
}

// DecodeBody 解析帧消息体
func DecodeBody(opcode uint16, body []byte, msg any) error {
	if err := json.Unmarshal(body, msg); err != nil {
		return fmt.Errorf("unmarshal %s: %w", OpcodeToString(opcode), err)
	}
	return nil
}
