// 回合奖励函数
//
// 奖励标签构成封闭集合，在环境装配时解析，未知标签为配置错误。
package reward

import (
	"math"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/config"
)

// Input 单步奖励计算的输入
// 说明：全部字段取自指令生效之后仿真器回报的状态，
// 不假定指令被精确执行
type Input struct {
	Speeds       []float64 // 在网车辆的速度（米/秒）
	Actions      []float64 // 本步注入的外控动作
	Target       float64   // 期望速度（米/秒）
	AccelPenalty float64   // 外控动作幅度惩罚系数
}

// Func 奖励函数
type Func func(in *Input) float64

// 奖励标签的封闭集合
var funcs = map[string]Func{
	config.RewardDesiredVelocity: DesiredVelocity,
}

// New 按标签解析奖励函数
// 返回：奖励函数，未知标签返回*config.Error
func New(kind string) (Func, error) {
	f, ok := funcs[kind]
	if !ok {
		return nil, config.NewError("reward.kind", "unknown reward %q", kind)
	}
	return f, nil
}

// DesiredVelocity 期望速度奖励
// 功能：全体车速越接近期望速度奖励越高，外控动作越大惩罚越高
// 算法说明：
// 1. 基础项max(0, 1-sqrt(mean((v-v*)²))/v*)，全体车速等于期望速度时为1
// 2. 惩罚项accelPenalty*mean(|a|)，只对注入的外控动作计算
// 3. 场上无车时奖励为0
func DesiredVelocity(in *Input) float64 {
	if len(in.Speeds) == 0 {
		return 0
	}
	sq := lo.SumBy(in.Speeds, func(v float64) float64 {
		return (v - in.Target) * (v - in.Target)
	})
	r := math.Max(0, 1-math.Sqrt(sq/float64(len(in.Speeds)))/in.Target)
	if in.AccelPenalty > 0 && len(in.Actions) > 0 {
		r -= in.AccelPenalty * lo.SumBy(in.Actions, math.Abs) / float64(len(in.Actions))
	}
	return r
}
