package iolog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func str(s string) *string { return &s }
func num(n int64) *int64   { return &n }

// TestFillDetails 测试完整键集合的填充
func TestFillDetails(t *testing.T) {
	info := []InfoItem{
		{Key: "command", Str: str("/bin/ls")},
		{Key: "submituser", Str: str("alice")},
		{Key: "submithost", Str: str("web01")},
		{Key: "runuser", Str: str("root")},
		{Key: "rungroup", Str: str("wheel")},
		{Key: "ttyname", Str: str("/dev/pts/3")},
		{Key: "cwd", Str: str("/home/alice")},
		{Key: "lines", Num: num(48)},
		{Key: "columns", Num: num(120)},
		{Key: "runargv", StrList: []string{"ls", "-l"}},
	}

	d, warnings, err := FillDetails(1756200000, info)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, int64(1756200000), d.StartTime)
	assert.Equal(t, "/bin/ls", d.Command)
	assert.Equal(t, "alice", d.SubmitUser)
	assert.Equal(t, "web01", d.SubmitHost)
	assert.Equal(t, "root", d.RunUser)
	assert.Equal(t, "wheel", d.RunGroup)
	assert.Equal(t, "/dev/pts/3", d.TTYName)
	assert.Equal(t, "/home/alice", d.Cwd)
	assert.Equal(t, 48, d.Lines)
	assert.Equal(t, 120, d.Columns)
	assert.Equal(t, []string{"ls", "-l"}, d.Argv)
}

// TestFillDetailsDefaults 测试可选键缺失时的缺省值
func TestFillDetailsDefaults(t *testing.T) {
	info := []InfoItem{
		{Key: "command", Str: str("/usr/bin/id")},
		{Key: "submituser", Str: str("bob")},
		{Key: "submithost", Str: str("db02")},
	}

	d, warnings, err := FillDetails(100, info)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, 24, d.Lines)
	assert.Equal(t, 80, d.Columns)
	assert.Empty(t, d.RunUser)
	assert.Empty(t, d.Argv)
}

// TestFillDetailsMissingRequired 测试必填键缺失报校验错误并列出键名
func TestFillDetailsMissingRequired(t *testing.T) {
	_, _, err := FillDetails(100, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "submituser")
	assert.Contains(t, err.Error(), "submithost")
	assert.Contains(t, err.Error(), "command")

	// 只缺一个键时只列该键
	info := []InfoItem{
		{Key: "command", Str: str("/bin/true")},
		{Key: "submituser", Str: str("alice")},
	}
	_, _, err = FillDetails(100, info)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "submithost")
	assert.NotContains(t, err.Error(), "submituser")
}

// TestFillDetailsBadValues 测试类型不符与越界的键降级为警告
func TestFillDetailsBadValues(t *testing.T) {
	info := []InfoItem{
		{Key: "command", Str: str("/bin/ls")},
		{Key: "submituser", Str: str("alice")},
		{Key: "submithost", Str: str("web01")},
		{Key: "lines", Str: str("not-a-number")}, // 类型不符
		{Key: "columns", Num: num(0)},            // 越界
		{Key: "ttyname", Num: num(3)},            // 类型不符
	}

	d, warnings, err := FillDetails(100, info)
	require.NoError(t, err)
	assert.Len(t, warnings, 3)

	// 坏值不覆盖缺省值
	assert.Equal(t, 24, d.Lines)
	assert.Equal(t, 80, d.Columns)
	assert.Empty(t, d.TTYName)
}

// TestFillDetailsUnknownKeys 测试不识别的键被静默忽略
func TestFillDetailsUnknownKeys(t *testing.T) {
	info := []InfoItem{
		{Key: "command", Str: str("/bin/ls")},
		{Key: "submituser", Str: str("alice")},
		{Key: "submithost", Str: str("web01")},
		{Key: "umask", Str: str("022")},
		{Key: "lines@typo", Num: num(99)},
	}

	d, warnings, err := FillDetails(100, info)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, 24, d.Lines)
}
