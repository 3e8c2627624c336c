package logclient

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"GoCmdLogServer/internal/iolog"
)

// TestClientStateString 测试状态名映射
func TestClientStateString(t *testing.T) {
	assert.Equal(t, "DISCONNECTED", StateDisconnected.String())
	assert.Equal(t, "CONNECTING", StateConnecting.String())
	assert.Equal(t, "CONNECTED", StateConnected.String())
	assert.Equal(t, "RECONNECTING", StateReconnecting.String())
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "UNKNOWN", ClientState(99).String())
}

// TestClientRejectsSendWhenDisconnected 测试未连接时发送被拒绝
func TestClientRejectsSendWhenDisconnected(t *testing.T) {
	client := New(DefaultClientConfig("ws://127.0.0.1:1/log"))

	err := client.StoreData(iolog.StreamStdout, []byte("x"), iolog.TimeSpec{})
	assert.Error(t, err)

	err = client.Exit(0)
	assert.Error(t, err)
}

// TestClientCloseIdempotent 测试重复关闭无副作用
func TestClientCloseIdempotent(t *testing.T) {
	client := New(DefaultClientConfig("ws://127.0.0.1:1/log"))
	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close())
	assert.Equal(t, StateClosed, client.State())
}
