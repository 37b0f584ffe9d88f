package controller

import (
	"github.com/tsinghua-fib-lab/trafficgym-go/network"
	"github.com/tsinghua-fib-lab/trafficgym-go/vehicle"
)

// ConstantRoute 既定路径维护策略
// 功能：保证车辆的既定路径永远有后续可走
// 算法说明：
// 1. 闭合路径自身循环，无需维护
// 2. 开放路径上车辆行驶到最后一条边时，沿直行方向追加一条边，
//    同时更新注册表镜像中的路径并把新路径下发给仿真器
// 3. 追加失败（没有直行后继）说明场景对该车辆的循环行驶假设
//    不成立，报RouteExhaustionError
type ConstantRoute struct {
	net *network.Network
	veh *vehicle.Vehicle
}

// NewConstantRoute 创建路径维护策略
func NewConstantRoute(net *network.Network, veh *vehicle.Vehicle) *ConstantRoute {
	return &ConstantRoute{net: net, veh: veh}
}

// Decide 维护既定路径
func (c *ConstantRoute) Decide(now float64) (Action, error) {
	a := NewAction()
	route := c.veh.Route()
	if route == nil || route.Closed() {
		return a, nil
	}
	if c.veh.RouteCursor() < route.Len()-1 {
		return a, nil
	}
	ids := route.EdgeIDs()
	added := network.ExtendStraight(c.net, ids, 1)
	if len(added) == 0 {
		return a, &RouteExhaustionError{VehicleID: c.veh.ID(), EdgeID: route.At(route.Len() - 1)}
	}
	extended := make([]int32, 0, len(ids)+len(added))
	extended = append(extended, ids...)
	extended = append(extended, added...)
	newRoute, err := network.NewRoute(c.net, extended)
	if err != nil {
		return a, err
	}
	c.veh.SetRoute(newRoute, c.veh.RouteCursor())
	log.Debugf("vehicle %d: route extended with edge %d", c.veh.ID(), added[0])
	a.RouteEdges = extended
	return a, nil
}
