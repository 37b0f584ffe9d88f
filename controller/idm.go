package controller

import (
	"math"

	"github.com/tsinghua-fib-lab/trafficgym-go/vehicle"
)

// IDM 跟驰纵向策略
// 功能：根据前车信息用智能驾驶模型计算加速度
// 说明：目标速度取车辆最大速度与当前车道限速的较小值；
// 前方无车时按自由流计算
type IDM struct {
	reg   *vehicle.Registry
	veh   *vehicle.Vehicle
	model carModel
}

// NewIDM 创建跟驰策略
func NewIDM(reg *vehicle.Registry, veh *vehicle.Vehicle) *IDM {
	return &IDM{reg: reg, veh: veh, model: newCarModel(veh.Attr())}
}

// Decide 计算跟驰加速度
func (c *IDM) Decide(now float64) (Action, error) {
	a := NewAction()
	rt := c.veh.Snapshot()
	lane := c.reg.Net().Edge(rt.EdgeID).Lane(rt.LaneIndex)
	targetV := math.Min(c.model.maxV, lane.MaxV())
	gap, leaderV, found, err := c.reg.Leader(c.veh.ID())
	if err != nil {
		return a, err
	}
	if !found {
		gap, leaderV = inf, 0
	}
	a.A = c.model.follow(rt.V, targetV, leaderV, gap)
	return a, nil
}
