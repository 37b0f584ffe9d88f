package connector

import "fmt"

// ProtocolError 连接器协议错误
// 功能：描述与仿真器交换数据时发生的传输或协议故障
// 说明：Timeout为true时表示对端未在限定时间内应答，
// 桥接侧将其视为仿真器崩溃处理，不做重试
type ProtocolError struct {
	Op      string // 出错的操作（start/step/close）
	Timeout bool   // 是否为超时
	Err     error  // 底层错误
}

// Error 实现error接口
func (e *ProtocolError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("connector: %s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("connector: %s failed: %v", e.Op, e.Err)
}

// Unwrap 返回底层错误
func (e *ProtocolError) Unwrap() error {
	return e.Err
}
