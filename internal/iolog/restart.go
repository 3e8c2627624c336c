package iolog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Reopen 重新打开已有会话并定位到 target 续录点。logID 由对端带回，
// 先校验其仍落在配置的日志根目录之下，再逐条回放定时日志重建累计
// 时长与各数据流的字节偏移，把 target 之后的内容截掉。失败时已打开
// 的句柄全部释放。
func (m *Manager) Reopen(logID string, target TimeSpec) (*Session, error) {
	dir, err := m.resolveLogID(logID)
	if err != nil {
		return nil, err
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dir, err)
	}
	s := &Session{LogID: dir, root: root}

	// 打开已有的流文件。从未写过的数据流没有文件，句柄留空；
	// 回放中引用到空句柄即为存储损坏。
	for kind := StreamStdin; kind < numStreams; kind++ {
		f, err := root.OpenFile(kind.String(), os.O_RDWR, 0o600)
		if err != nil {
			if kind.IsData() && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			s.Close()
			if kind == StreamTiming && errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: timing log missing in %s", ErrCorruptState, dir)
			}
			return nil, fmt.Errorf("open %s: %w", kind, err)
		}
		s.files[kind] = f
	}

	if err := s.seekTo(target); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// resolveLogID 把对端提供的会话标识解析为绝对路径并校验归属。
// 原始实现原样信任该路径，这里收紧为必须位于日志根目录之下。
func (m *Manager) resolveLogID(logID string) (string, error) {
	dir := logID
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(m.baseDir, dir)
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", logID, err)
	}
	base, err := filepath.Abs(m.baseDir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", m.baseDir, err)
	}
	if dir != base && !strings.HasPrefix(dir, base+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: log id %q escapes %q", ErrValidation, logID, m.baseDir)
	}
	return dir, nil
}

// seekTo 从头扫描定时日志直到累计时长恰好等于 target。
// 数据事件沿途把对应流的句柄前移并截断，使每条流的偏移始终等于
// 前缀记录隐含的字节数；到达 target 后把定时流截断并定位到续写点。
func (s *Session) seekTo(target TimeSpec) error {
	tf := s.files[StreamTiming]
	br := bufio.NewReader(tf)

	s.elapsed = TimeSpec{}
	var off int64 // 已消费的定时日志字节数
	for {
		line, err := br.ReadString('\n')
		if err == io.EOF {
			if len(line) > 0 {
				return fmt.Errorf("%w: truncated final line %q", ErrParse, line)
			}
			// 日志在到达续录点之前就读完了
			return fmt.Errorf("%w: timing log ends at %s before resume point %s",
				ErrCorruptState, s.elapsed, target)
		}
		if err != nil {
			return fmt.Errorf("read timing log: %w", err)
		}
		off += int64(len(line))

		rec, err := DecodeTiming(strings.TrimSuffix(line, "\n"))
		if err != nil {
			return err
		}
		s.elapsed.Add(rec.Delay)

		if payload, ok := rec.Payload.(DataPayload); ok {
			f := s.files[payload.Stream]
			if f == nil {
				return fmt.Errorf("%w: %s referenced but file missing",
					ErrCorruptState, payload.Stream)
			}
			// 跳过本条记录已知写入的字节，然后在此处截断；
			// 同一条流的下一次截断继续沿用该偏移
			length, err := f.Seek(payload.Bytes, io.SeekCurrent)
			if err != nil {
				return fmt.Errorf("seek %s: %w", payload.Stream, err)
			}
			if err := f.Truncate(length); err != nil {
				return fmt.Errorf("truncate %s: %w", payload.Stream, err)
			}
		}

		switch cmp := s.elapsed.Compare(target); {
		case cmp == 0:
			// 续录点必须恰好落在某条记录的边界上
			if _, err := tf.Seek(off, io.SeekStart); err != nil {
				return fmt.Errorf("seek %s: %w", StreamTiming, err)
			}
			if err := tf.Truncate(off); err != nil {
				return fmt.Errorf("truncate %s: %w", StreamTiming, err)
			}
			return nil
		case cmp > 0:
			return fmt.Errorf("%w: target %s, have %s", ErrResumeMismatch, target, s.elapsed)
		}
	}
}
