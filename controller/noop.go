package controller

// NoOp 恒零纵向策略
// 说明：始终输出零加速度，用于匀速背景车
type NoOp struct{}

// Decide 输出零加速度
func (NoOp) Decide(now float64) (Action, error) {
	a := NewAction()
	a.A = 0
	return a, nil
}
