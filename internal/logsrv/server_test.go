package logsrv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestStartRejectsBusyAddr 测试端口被占用时启动立即报错
func TestStartRejectsBusyAddr(t *testing.T) {
	s1 := New(DefaultServerConfig(":19099", t.TempDir()), nil)
	require.NoError(t, s1.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s1.Shutdown(ctx)
	})

	s2 := New(DefaultServerConfig(":19099", t.TempDir()), nil)
	err := s2.Start()
	require.Error(t, err)
	require.ErrorContains(t, err, "listen")

	// 绑定失败后状态复位，再次Start报的仍是绑定错误而非重复启动
	err = s2.Start()
	require.Error(t, err)
	require.ErrorContains(t, err, "listen")
}

// TestStartTwice 测试重复启动被拒绝
func TestStartTwice(t *testing.T) {
	s := New(DefaultServerConfig(":19101", t.TempDir()), nil)
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})

	require.Error(t, s.Start())
}
