package protocol

// 操作码定义 - 用于识别日志协议中不同类型的消息
const (
	// 会话生命周期
	OpExec    uint16 = 1001
	OpRestart uint16 = 1002
	OpExit    uint16 = 1003

	// 录制事件
	OpIoBuffer uint16 = 2001
	OpSuspend  uint16 = 2002
	OpWinsize  uint16 = 2003

	// 服务端应答
	OpLogID       uint16 = 3001
	OpCommitPoint uint16 = 3002

	// 错误应答
	OpError uint16 = 9999
)

// OpcodeToString 将操作码转换为可读字符串，用于调试和日志
func OpcodeToString(op uint16) string {
	switch op {
	case OpExec:
		return "EXEC"
	case OpRestart:
		return "RESTART"
	case OpExit:
		return "EXIT"
	case OpIoBuffer:
		return "IO_BUFFER"
	case OpSuspend:
		return "SUSPEND"
	case OpWinsize:
		return "WINSIZE"
	case OpLogID:
		return "LOG_ID"
	case OpCommitPoint:
		return "COMMIT_POINT"
	case OpError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// IsValidOpcode 检查操作码是否有效
func IsValidOpcode(op uint16) bool {
	switch op {
	case OpExec, OpRestart, OpExit,
		OpIoBuffer, OpSuspend, OpWinsize,
		OpLogID, OpCommitPoint, OpError:
		return true
	default:
		return false
	}
}
