package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoCmdLogServer/internal/iolog"
)

// TestEncodeDecodeFrame 测试帧编解码往返
func TestEncodeDecodeFrame(t *testing.T) {
	body := []byte(`{"log_id":"/var/log/cmdlog/web01/alice/a1b2c3"}`)
	raw := EncodeFrame(OpLogID, body)

	require.Len(t, raw, FrameHeaderSize+len(body))

	opcode, decoded, err := DecodeFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, uint16(OpLogID), opcode)
	assert.Equal(t, body, decoded)
}

// TestDecodeFrameEmptyBody 测试空消息体的帧
func TestDecodeFrameEmptyBody(t *testing.T) {
	raw := EncodeFrame(OpExit, nil)

	opcode, body, err := DecodeFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, uint16(OpExit), opcode)
	assert.Nil(t, body)
}

// TestDecodeFrameErrors 测试畸形帧被拒绝
func TestDecodeFrameErrors(t *testing.T) {
	// 不足一个帧头
	_, _, err := DecodeFrame([]byte{0x03, 0xE9})
	assert.ErrorIs(t, err, ErrFrameTooSmall)

	// 长度字段与实际不符
	raw := EncodeFrame(OpExec, []byte("xyz"))
	_, _, err = DecodeFrame(raw[:len(raw)-1])
	assert.ErrorIs(t, err, ErrInvalidFrame)

	// 超过最大帧限制
	huge := make([]byte, MaxFrameSize+1)
	_, _, err = DecodeFrame(huge)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

// TestFrameDecoderStreaming 测试流式解码器分段投喂
func TestFrameDecoderStreaming(t *testing.T) {
	fd := NewFrameDecoder()

	frame1 := EncodeFrame(OpIoBuffer, []byte(`{"stream":1}`))
	frame2 := EncodeFrame(OpCommitPoint, []byte(`{"elapsed":{"sec":1,"nsec":0}}`))

	// 第一帧一个字节一个字节投喂
	for i := 0; i < len(frame1)-1; i++ {
		fd.Feed(frame1[i : i+1])
		f, err := fd.Next()
		require.NoError(t, err)
		assert.Nil(t, f)
	}
	fd.Feed(frame1[len(frame1)-1:])

	f, err := fd.Next()
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, uint16(OpIoBuffer), f.Opcode)

	// 第二帧整体投喂
	fd.Feed(frame2)
	f, err = fd.Next()
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, uint16(OpCommitPoint), f.Opcode)

	// 没有更多数据
	f, err = fd.Next()
	require.NoError(t, err)
	assert.Nil(t, f)
}

// TestFrameDecoderReset 测试重置丢弃半帧
func TestFrameDecoderReset(t *testing.T) {
	fd := NewFrameDecoder()
	fd.Feed(EncodeFrame(OpExec, []byte("{}"))[:4])
	fd.Reset()

	fd.Feed(EncodeFrame(OpExit, []byte("{}")))
	f, err := fd.Next()
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, uint16(OpExit), f.Opcode)
}

// TestEncodeDecodeMessage 测试消息体序列化往返
func TestEncodeDecodeMessage(t *testing.T) {
	msg := IoBufferMessage{
		Stream: int(iolog.StreamStdout),
		Delay:  iolog.TimeSpec{Sec: 1, Nsec: 250000000},
		Data:   []byte("hello\n"),
	}

	raw, err := EncodeMessage(OpIoBuffer, msg)
	require.NoError(t, err)

	opcode, body, err := DecodeFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, uint16(OpIoBuffer), opcode)

	var decoded IoBufferMessage
	require.NoError(t, DecodeBody(opcode, body, &decoded))
	assert.Equal(t, msg, decoded)
}

// TestDecodeBodyRejectsGarbage 测试非JSON消息体报错并带上操作码名
func TestDecodeBodyRejectsGarbage(t *testing.T) {
	var msg ExecMessage
	err := DecodeBody(OpExec, []byte("not json"), &msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), OpcodeToString(OpExec))
}

// TestOpcodeToString 测试操作码名称映射
func TestOpcodeToString(t *testing.T) {
	assert.Equal(t, "EXEC", OpcodeToString(OpExec))
	assert.Equal(t, "RESTART", OpcodeToString(OpRestart))
	assert.Equal(t, "COMMIT_POINT", OpcodeToString(OpCommitPoint))
	assert.True(t, IsValidOpcode(OpIoBuffer))
	assert.False(t, IsValidOpcode(0x1234))
}
