// 控制器层：把注册表中的车辆镜像状态翻译为下一步的控制指令
//
// 每辆车绑定纵向、路径、换道三个策略，按固定顺序决策后合并为单条
// 指令，整批推送给连接器。层内全部随机性来自回合的随机数引擎，
// 同一种子下决策序列完全可复现。
package controller

import (
	"github.com/tsinghua-fib-lab/trafficgym-go/connector"
)

// Policy 单辆车的单项控制策略
// 参数：now-当前仿真时刻（秒）
// 返回：本策略给出的动作片段与错误
type Policy interface {
	Decide(now float64) (Action, error)
}

// Action 控制器输出的动作片段
// 说明：纵向、路径、换道策略各自产出片段，按序合并
type Action struct {
	A          float64 // 加速度（米/秒²），INF表示无约束
	LC         int     // 变道方向（network.LEFT/RIGHT），NoLaneChange表示不变道
	RouteEdges []int32 // 替换后的既定路径，nil表示保持
}

// NewAction 创建空动作
func NewAction() Action {
	return Action{A: inf, LC: connector.NoLaneChange}
}

// Update 合并动作片段
// 算法说明：
// 1. 加速度取所有片段的最小值（最保守的制动）
// 2. 变道目标与路径更新冲突时记录错误并采用后来者
func (a *Action) Update(others ...Action) {
	for _, o := range others {
		if o.A < a.A {
			a.A = o.A
		}
		if o.LC != connector.NoLaneChange {
			if a.LC != connector.NoLaneChange {
				log.Error("lane change conflict")
			}
			a.LC = o.LC
		}
		if o.RouteEdges != nil {
			if a.RouteEdges != nil {
				log.Error("route update conflict")
			}
			a.RouteEdges = o.RouteEdges
		}
	}
}
