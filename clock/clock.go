// 仿真时钟：回合内的步数与时间推进
package clock

import (
	"fmt"

	"github.com/tsinghua-fib-lab/trafficgym-go/utils/config"
)

// Clock 仿真时钟
// 功能：维护回合的当前步数与当前时间，为控制与观测提供统一时间轴
// 说明：模拟区间[START, END)，当前时间始终由步数重新计算，
// 避免逐步累加的浮点漂移
type Clock struct {
	DT         float64 // 每步时间间隔（秒）
	START_STEP int32   // 起始步
	END_STEP   int32   // 结束步

	Step int32   // 当前步数
	T    float64 // 当前时间（秒）
}

// New 根据配置创建新的时钟实例
// 参数：stepConfig-控制步配置
func New(stepConfig config.ControlStep) *Clock {
	c := &Clock{
		DT:         stepConfig.Interval,
		START_STEP: stepConfig.Start,
		END_STEP:   stepConfig.Start + stepConfig.Total,
	}
	c.Init()
	return c
}

// Init 重置时钟状态到起始步
func (c *Clock) Init() {
	c.Step = c.START_STEP
	c.T = float64(c.Step) * c.DT
}

// Tick 推进一步
func (c *Clock) Tick() {
	c.Step++
	c.T = float64(c.Step) * c.DT
}

// Done 模拟区间是否已走完
func (c *Clock) Done() bool {
	return c.Step >= c.END_STEP
}

// String 获取时钟的字符串表示
// 返回：格式化的时间字符串（HH:MM:SS）
func (c *Clock) String() string {
	t := c.T
	h := int(t / 3600)
	t -= float64(h * 3600)
	m := int(t / 60)
	t -= float64(m * 60)
	s := int(t)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
