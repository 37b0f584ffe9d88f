package controller

// External 外部注入纵向策略
// 功能：输出由学习回路注入的加速度动作
// 说明：动作在每步决策前注入，决策时消费；某一步没有注入动作时
// 记录告警并输出零加速度，绝不沿用上一步的动作
type External struct {
	id  int32
	a   float64
	has bool
}

// NewExternal 创建外部注入策略
func NewExternal(id int32) *External {
	return &External{id: id}
}

// Inject 注入本步动作
func (c *External) Inject(a float64) {
	c.a, c.has = a, true
}

// drop 丢弃未消费的注入动作
func (c *External) drop() {
	c.a, c.has = 0, false
}

// Decide 输出已注入的动作
func (c *External) Decide(now float64) (Action, error) {
	act := NewAction()
	if !c.has {
		log.Warnf("vehicle %d: no external action injected for this step, commanding zero acceleration", c.id)
		act.A = 0
		return act, nil
	}
	act.A = c.a
	c.a, c.has = 0, false
	return act, nil
}
