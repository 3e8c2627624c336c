package iolog

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// MaxTimingLine 单条定时记录的防御性长度上限，真实负载远达不到
const MaxTimingLine = 1024

// TimingPayload 定时记录的事件负载，三种实现分别对应数据写入、挂起信号、窗口变更
type TimingPayload interface {
	eventCode() int
	payloadText() string
	// validate 拒绝解码器不认的负载，保证编码/解码互逆
	validate() error
}

// DataPayload 数据事件：某条数据流新写入的字节数
type DataPayload struct {
	Stream StreamKind
	Bytes  int64
}

func (p DataPayload) eventCode() int      { return int(p.Stream) }
func (p DataPayload) payloadText() string { return strconv.FormatInt(p.Bytes, 10) }

func (p DataPayload) validate() error {
	if p.Bytes < 0 {
		return fmt.Errorf("%w: negative byte count %d", ErrValidation, p.Bytes)
	}
	return nil
}

// SuspendPayload 挂起事件：命令被信号暂停
type SuspendPayload struct {
	Signal string
}

func (p SuspendPayload) eventCode() int      { return eventCodeSuspend }
func (p SuspendPayload) payloadText() string { return p.Signal }

func (p SuspendPayload) validate() error {
	if p.Signal == "" || strings.ContainsFunc(p.Signal, unicode.IsSpace) {
		return fmt.Errorf("%w: bad signal name %q", ErrValidation, p.Signal)
	}
	return nil
}

// WinsizePayload 窗口变更事件：新的终端行列数
type WinsizePayload struct {
	Rows int
	Cols int
}

func (p WinsizePayload) eventCode() int      { return eventCodeWinsize }
func (p WinsizePayload) payloadText() string { return fmt.Sprintf("%d %d", p.Rows, p.Cols) }

func (p WinsizePayload) validate() error {
	if p.Rows < 0 || p.Cols < 0 {
		return fmt.Errorf("%w: negative window size %dx%d", ErrValidation, p.Rows, p.Cols)
	}
	return nil
}

// TimingRecord 定时日志中的一行：事件负载 + 距上一事件的间隔
type TimingRecord struct {
	Delay   TimeSpec
	Payload TimingPayload
}

// EncodeTiming 编码一条以换行结尾的定时记录
// 行格式: "<事件码> <秒>.<9位纳秒> <负载>\n"
func EncodeTiming(rec TimingRecord) ([]byte, error) {
	if err := rec.Payload.validate(); err != nil {
		return nil, err
	}
	line := fmt.Sprintf("%d %s %s\n",
		rec.Payload.eventCode(), rec.Delay, rec.Payload.payloadText())
	if len(line) > MaxTimingLine {
		return nil, fmt.Errorf("%w: %d bytes", ErrFormat, len(line))
	}
	return []byte(line), nil
}

// DecodeTiming 解析一行定时记录（不含换行符）
func DecodeTiming(line string) (TimingRecord, error) {
	var rec TimingRecord

	fields := strings.Fields(line)
	if len(fields) < 3 {
		return rec, fmt.Errorf("%w: %q", ErrParse, line)
	}

	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return rec, fmt.Errorf("%w: bad event code %q", ErrParse, fields[0])
	}

	delay, err := parseDelay(fields[1])
	if err != nil {
		return rec, err
	}
	rec.Delay = delay

	switch {
	case code >= int(StreamStdin) && code <= int(StreamTTYOut):
		if len(fields) != 3 {
			return rec, fmt.Errorf("%w: %q", ErrParse, line)
		}
		nbytes, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil || nbytes < 0 {
			return rec, fmt.Errorf("%w: bad byte count %q", ErrParse, fields[2])
		}
		rec.Payload = DataPayload{Stream: StreamKind(code), Bytes: nbytes}
	case code == eventCodeSuspend:
		if len(fields) != 3 {
			return rec, fmt.Errorf("%w: %q", ErrParse, line)
		}
		rec.Payload = SuspendPayload{Signal: fields[2]}
	case code == eventCodeWinsize:
		if len(fields) != 4 {
			return rec, fmt.Errorf("%w: %q", ErrParse, line)
		}
		rows, err := strconv.Atoi(fields[2])
		if err != nil || rows < 0 {
			return rec, fmt.Errorf("%w: bad rows %q", ErrParse, fields[2])
		}
		cols, err := strconv.Atoi(fields[3])
		if err != nil || cols < 0 {
			return rec, fmt.Errorf("%w: bad cols %q", ErrParse, fields[3])
		}
		rec.Payload = WinsizePayload{Rows: rows, Cols: cols}
	default:
		return rec, fmt.Errorf("%w: unknown event code %d", ErrParse, code)
	}

	return rec, nil
}

// parseDelay 解析 "<秒>.<纳秒>" 形式的间隔，拒绝负值与非数字
func parseDelay(field string) (TimeSpec, error) {
	var delay TimeSpec

	sec, frac, ok := strings.Cut(field, ".")
	if !ok {
		return delay, fmt.Errorf("%w: bad delay %q", ErrParse, field)
	}
	if sec == "" || sec[0] == '-' || sec[0] == '+' {
		return delay, fmt.Errorf("%w: bad delay %q", ErrParse, field)
	}
	secs, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return delay, fmt.Errorf("%w: bad delay %q", ErrParse, field)
	}
	if len(frac) == 0 || len(frac) > 9 || frac[0] == '-' || frac[0] == '+' {
		return delay, fmt.Errorf("%w: bad delay %q", ErrParse, field)
	}
	nsec, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return delay, fmt.Errorf("%w: bad delay %q", ErrParse, field)
	}
	// 不足 9 位时按十进制位补齐
	for i := len(frac); i < 9; i++ {
		nsec *= 10
	}

	delay.Sec = secs
	delay.Nsec = nsec
	return delay, nil
}
