package iolog

import "errors"

// 核心错误类别 - 调用方通过 errors.Is 分类处理，文件系统错误原样包装返回
var (
	ErrValidation     = errors.New("invalid session metadata")
	ErrConflict       = errors.New("log file already exists")
	ErrParse          = errors.New("malformed timing record")
	ErrCorruptState   = errors.New("stored log is inconsistent")
	ErrResumeMismatch = errors.New("resume point does not match stored log")
	ErrFormat         = errors.New("timing record exceeds maximum length")
)
