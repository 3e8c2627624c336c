package iolog

import "fmt"

// StoreIoBuffer 追加一段捕获数据及其定时记录，并推进累计时长。
// 三步按序执行：数据写失败则跳过后两步；定时行写失败时数据已落盘，
// 不回滚，不一致性通过错误上抛交由调用方处置。
func (s *Session) StoreIoBuffer(kind StreamKind, data []byte, delay TimeSpec) error {
	if !kind.IsData() {
		return fmt.Errorf("%w: stream %d is not a data stream", ErrValidation, kind)
	}
	if delay.IsNegative() {
		return fmt.Errorf("%w: negative delay", ErrValidation)
	}

	// 先整行格式化，定时行无法构造时数据一个字节都不写
	line, err := EncodeTiming(TimingRecord{
		Delay:   delay,
		Payload: DataPayload{Stream: kind, Bytes: int64(len(data))},
	})
	if err != nil {
		return err
	}

	// 输入类流按需创建
	if s.files[kind] == nil {
		if err := s.openStream(kind); err != nil {
			return err
		}
	}

	if err := s.writeFile(kind, data); err != nil {
		return err
	}
	if err := s.writeFile(StreamTiming, line); err != nil {
		return err
	}
	s.elapsed.Add(delay)
	return nil
}

// StoreSuspend 追加一条挂起事件定时记录，不涉及数据流
func (s *Session) StoreSuspend(signal string, delay TimeSpec) error {
	return s.storeControl(SuspendPayload{Signal: signal}, delay)
}

// StoreWinsize 追加一条窗口变更定时记录，不涉及数据流
func (s *Session) StoreWinsize(rows, cols int, delay TimeSpec) error {
	return s.storeControl(WinsizePayload{Rows: rows, Cols: cols}, delay)
}

func (s *Session) storeControl(payload TimingPayload, delay TimeSpec) error {
	if delay.IsNegative() {
		return fmt.Errorf("%w: negative delay", ErrValidation)
	}
	line, err := EncodeTiming(TimingRecord{Delay: delay, Payload: payload})
	if err != nil {
		return err
	}
	if err := s.writeFile(StreamTiming, line); err != nil {
		return err
	}
	s.elapsed.Add(delay)
	return nil
}
