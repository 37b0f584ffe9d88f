package env

import "fmt"

// InvalidStateError 生命周期状态错误
// 说明：终局状态下调用Step即得到该错误，回合必须经Reset重开
type InvalidStateError struct {
	Op     string // 被拒绝的操作
	Status Status // 调用时的状态
}

// Error 实现error接口
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("env: %s is not allowed in status %s", e.Op, e.Status)
}
