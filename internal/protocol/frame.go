package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// 帧头长度：操作码(2字节) + 数据长度(4字节)
	FrameHeaderSize = 6
	// 最大帧大小限制（防止恶意长度字段撑爆内存）
	MaxFrameSize = 2 * 1024 * 1024
	// 最小帧大小（只有头部）
	MinFrameSize = FrameHeaderSize
)

var (
	ErrFrameTooSmall = errors.New("frame too small")
	ErrFrameTooLarge = errors.New("frame too large")
	ErrInvalidFrame  = errors.New("invalid frame format")
)

// Frame 表示一个完整的协议帧
type Frame struct {
	Opcode uint16 // 操作码
	Body   []byte // 消息体（JSON序列化后的数据）
}

// EncodeFrame 将操作码和消息体编码为二进制帧格式
// 帧格式: | opcode(2字节) | length(4字节) | body(变长) |
func EncodeFrame(opcode uint16, body []byte) []byte {
	buf := make([]byte, FrameHeaderSize+len(body))
	binary.BigEndian.PutUint16(buf[0:2], opcode)
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(body)))
	copy(buf[FrameHeaderSize:], body)
	return buf
}

// DecodeFrame 从二进制数据中解码出操作码和消息体
func DecodeFrame(raw []byte) (opcode uint16, body []byte, err error) {
	if len(raw) < MinFrameSize {
		return 0, nil, ErrFrameTooSmall
	}
	if len(raw) > MaxFrameSize {
		return 0, nil, ErrFrameTooLarge
	}

	opcode = binary.BigEndian.Uint16(raw[0:2])
	bodyLength := binary.BigEndian.Uint32(raw[2:6])

	// 验证帧完整性
	if len(raw) != FrameHeaderSize+int(bodyLength) {
		return 0, nil, fmt.Errorf("%w: expected %d bytes, got %d",
			ErrInvalidFrame, FrameHeaderSize+int(bodyLength), len(raw))
	}

	if bodyLength > 0 {
		body = make([]byte, bodyLength)
		copy(body, raw[FrameHeaderSize:])
	}
	return opcode, body, nil
}

// FrameDecoder 从字节流中逐步解码帧（TCP等流式传输用）
type FrameDecoder struct {
	buffer     []byte
	headerRead bool
	frameSize  int
}

// NewFrameDecoder 创建新的帧解码器
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{
		buffer: make([]byte, 0, 1024),
	}
}

// Feed 向解码器输入数据
func (fd *FrameDecoder) Feed(data []byte) {
	fd.buffer = append(fd.buffer, data...)
}

// Next 尝试解码下一个完整的帧，数据不足时返回 nil, nil
func (fd *FrameDecoder) Next() (*Frame, error) {
	if !fd.headerRead {
		if len(fd.buffer) < FrameHeaderSize {
			return nil, nil
		}
		bodyLength := binary.BigEndian.Uint32(fd.buffer[2:6])
		fd.frameSize = FrameHeaderSize + int(bodyLength)
		if fd.frameSize > MaxFrameSize {
			return nil, ErrFrameTooLarge
		}
		fd.headerRead = true
	}

	if len(fd.buffer) < fd.frameSize {
		return nil, nil
	}

	opcode, body, err := DecodeFrame(fd.buffer[:fd.frameSize])
	if err != nil {
		return nil, err
	}

	// 移除已处理的数据
	fd.buffer = fd.buffer[fd.frameSize:]
	fd.headerRead = false
	fd.frameSize = 0

	return &Frame{Opcode: opcode, Body: body}, nil
}

// Reset 重置解码器状态
func (fd *FrameDecoder) Reset() {
	fd.buffer = fd.buffer[:0]
	fd.headerRead = false
	fd.frameSize = 0
}
