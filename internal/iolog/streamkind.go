package iolog

// StreamKind 会话的六种逻辑流，前五种为数据流，最后一种为定时控制流
type StreamKind int

const (
	StreamStdin StreamKind = iota
	StreamStdout
	StreamStderr
	StreamTTYIn
	StreamTTYOut
	StreamTiming

	// numStreams 哨兵值，仅作为句柄数组的编译期边界
	numStreams
)

// 磁盘上定时记录的事件码。数据流直接使用 0..4，控制事件使用固定码；
// 6 是旧版格式遗留的事件码，这里视为解析错误。
const (
	eventCodeWinsize = 5
	eventCodeSuspend = 7
)

// streamNames 流文件相对会话目录的文件名，按 StreamKind 顺序索引
var streamNames = [numStreams]string{
	"stdin",
	"stdout",
	"stderr",
	"ttyin",
	"ttyout",
	"timing",
}

// IsData 检查是否是数据流（承载原始捕获字节）
func (k StreamKind) IsData() bool {
	return k >= StreamStdin && k <= StreamTTYOut
}

// valid 检查是否落在六种流之内
func (k StreamKind) valid() bool {
	return k >= StreamStdin && k < numStreams
}

// String 返回磁盘上的流文件名
func (k StreamKind) String() string {
	if !k.valid() {
		return "unknown"
	}
	return streamNames[k]
}
