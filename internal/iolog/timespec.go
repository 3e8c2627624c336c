package iolog

import "fmt"

// nsecPerSec 纳秒进位阈值
const nsecPerSec = 1000000000

// TimeSpec 秒+纳秒表示的时长，始终保持规范化（0 <= Nsec < 1e9）
type TimeSpec struct {
	Sec  int64 `json:"sec"`
	Nsec int64 `json:"nsec"`
}

// Add 累加 delta 并重新规范化
func (ts *TimeSpec) Add(delta TimeSpec) {
	ts.Sec += delta.Sec
	ts.Nsec += delta.Nsec
	for ts.Nsec >= nsecPerSec {
		ts.Sec++
		ts.Nsec -= nsecPerSec
	}
}

// Compare 比较两个时长，返回 -1、0 或 1
func (ts TimeSpec) Compare(other TimeSpec) int {
	switch {
	case ts.Sec < other.Sec:
		return -1
	case ts.Sec > other.Sec:
		return 1
	case ts.Nsec < other.Nsec:
		return -1
	case ts.Nsec > other.Nsec:
		return 1
	default:
		return 0
	}
}

// IsNegative 检查是否包含负分量（协议层输入校验用）
func (ts TimeSpec) IsNegative() bool {
	return ts.Sec < 0 || ts.Nsec < 0
}

// String 定时日志中的文本形式，纳秒固定 9 位
func (ts TimeSpec) String() string {
	return fmt.Sprintf("%d.%09d", ts.Sec, ts.Nsec)
}
