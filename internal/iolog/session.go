package iolog

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// descriptorName 会话目录内描述文件的固定名
const descriptorName = "log"

// Manager 负责会话目录的创建与重开，base 目录来自服务器配置
type Manager struct {
	baseDir string
}

// NewManager 创建会话目录管理器
func NewManager(baseDir string) *Manager {
	return &Manager{baseDir: baseDir}
}

// Session 一次命令录制。独占持有目录句柄与最多六个流文件句柄，
// 所有操作由所属连接串行调用，内部不加锁。
type Session struct {
	// LogID 会话目录的绝对路径，作为续录标识返回给对端
	LogID string

	root      *os.Root
	files     [numStreams]*os.File
	elapsed   TimeSpec
	closeOnce sync.Once
}

// Create 创建 <base>/<host>/<user>/<随机后缀> 会话目录，写入描述文件，
// 并急切创建 timing/stdout/stderr/ttyout 四个流文件。任一步失败时
// 已打开的句柄全部释放后再返回错误。
func (m *Manager) Create(d *Details) (*Session, error) {
	parent := filepath.Join(m.baseDir, d.SubmitHost, d.SubmitUser)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", parent, err)
	}

	// 随机叶子目录冲突视为致命错误，不换后缀重试
	suffix, err := randomSuffix()
	if err != nil {
		return nil, fmt.Errorf("generate session suffix: %w", err)
	}
	dir := filepath.Join(parent, suffix)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	// LogID 以绝对路径返回给对端，续录时原样带回
	if dir, err = filepath.Abs(dir); err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dir, err)
	}

	s := &Session{LogID: dir, root: root}
	if err := s.writeDescriptor(d); err != nil {
		s.Close()
		return nil, err
	}

	// stdin/ttyin 延迟到首次写入时创建，避免无输入命令留下空文件
	for _, kind := range []StreamKind{StreamTiming, StreamStdout, StreamStderr, StreamTTYOut} {
		if err := s.openStream(kind); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

// writeDescriptor 写三行描述文件：元数据行、工作目录行、命令行。
// O_EXCL 保证一个会话只可能写一次；短写按失败处理。
func (s *Session) writeDescriptor(d *Details) error {
	f, err := s.root.OpenFile(descriptorName, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrConflict, descriptorName)
		}
		return fmt.Errorf("create %s: %w", descriptorName, err)
	}

	runUser := d.RunUser
	if runUser == "" {
		runUser = RunUserDefault
	}
	ttyName := d.TTYName
	if ttyName == "" {
		ttyName = "unknown"
	}
	cwd := d.Cwd
	if cwd == "" {
		cwd = "unknown"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d:%s:%s:%s:%s:%d:%d\n%s\n",
		d.StartTime, d.SubmitUser, runUser, d.RunGroup, ttyName,
		d.Lines, d.Columns, cwd)
	sb.WriteString(d.Command)
	// argv[0] 即命令名，不重复存储
	for i := 1; i < len(d.Argv); i++ {
		sb.WriteByte(' ')
		sb.WriteString(d.Argv[i])
	}
	sb.WriteByte('\n')

	n, err := f.WriteString(sb.String())
	if err == nil && n != sb.Len() {
		err = io.ErrShortWrite
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", descriptorName, err)
	}
	return nil
}

// openStream 以独占创建方式新建某条流文件，已存在说明会话被重复初始化
func (s *Session) openStream(kind StreamKind) error {
	f, err := s.root.OpenFile(kind.String(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrConflict, kind)
		}
		return fmt.Errorf("create %s: %w", kind, err)
	}
	s.files[kind] = f
	return nil
}

// writeFile 在当前偏移处追加，短写按失败处理，不重试
func (s *Session) writeFile(kind StreamKind, data []byte) error {
	n, err := s.files[kind].Write(data)
	if err != nil {
		return fmt.Errorf("write %s: %w", kind, err)
	}
	if n != len(data) {
		return fmt.Errorf("write %s: %w", kind, io.ErrShortWrite)
	}
	return nil
}

// Elapsed 当前累计录制时长
func (s *Session) Elapsed() TimeSpec {
	return s.elapsed
}

// Close 关闭所有仍打开的句柄。尽力而为：单个句柄关闭失败不影响其余。
// 无论会话正常结束、失败或被放弃，都只会生效一次。
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		for i, f := range s.files {
			if f == nil {
				continue
			}
			f.Close()
			s.files[i] = nil
		}
		if s.root != nil {
			s.root.Close()
		}
	})
}

// randomSuffix 生成 6 个十六进制字符的会话目录后缀
func randomSuffix() (string, error) {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
