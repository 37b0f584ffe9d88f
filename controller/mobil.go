package controller

import (
	"math"

	"github.com/tsinghua-fib-lab/trafficgym-go/network"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/container"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/randengine"
	"github.com/tsinghua-fib-lab/trafficgym-go/vehicle"
)

const (
	lcSafeBrakingABias = 1
	lcLaneEnd          = 20 // 车道最末端禁止主动变道的距离
)

// MOBIL 换道策略
// 功能：按MOBIL判据决定是否换道以及换道方向
// 算法说明：
// 1. 距车道末端过近或距上次换道时间过短时不换道
// 2. 对左右两侧分别计算换道后本车、原车道后车、目标车道后车的
//    加速度变化，目标车道后车被迫急刹的一侧直接否决
// 3. 整体加速度增益 delta = deltaA0 + 0.1*(deltaA2+deltaA3)，
//    增益为正的一侧进入候选
// 4. 按总增益分档得到换道概率，命中后按各侧增益加权抽取方向
// 说明：对侧方车辆的模型参数采用本车的值去推断
type MOBIL struct {
	reg        *vehicle.Registry
	veh        *vehicle.Vehicle
	model      carModel
	eng        *randengine.Engine
	lastLCTime float64
}

// NewMOBIL 创建换道策略
func NewMOBIL(reg *vehicle.Registry, veh *vehicle.Vehicle, eng *randengine.Engine) *MOBIL {
	return &MOBIL{
		reg:        reg,
		veh:        veh,
		model:      newCarModel(veh.Attr()),
		eng:        eng,
		lastLCTime: -inf,
	}
}

// Decide 计算换道动作
func (c *MOBIL) Decide(now float64) (Action, error) {
	a := NewAction()
	rt := c.veh.Snapshot()
	lane := c.reg.Net().Edge(rt.EdgeID).Lane(rt.LaneIndex)
	// 前方车道距离过近
	if lane.Length()-rt.S < lcLaneEnd {
		return a, nil
	}
	// 距离上次变道时间过短
	if now-c.lastLCTime < c.eng.Float64()*2+4 {
		return a, nil
	}
	var aheads, behinds [2]*container.ListNode[*vehicle.Vehicle]
	var hasLane [2]bool
	for _, side := range [2]int{network.LEFT, network.RIGHT} {
		ahead, behind, ok, err := c.reg.Neighbors(c.veh.ID(), side)
		if err != nil {
			return a, err
		}
		aheads[side], behinds[side], hasLane[side] = ahead, behind, ok
	}
	// 没有变道的可能
	if !hasLane[network.LEFT] && !hasLane[network.RIGHT] {
		return a, nil
	}
	// MOBIL变道算法
	// -----------------------
	//      [3]   [n0] [4]  现在假设0->n0的变道(n = next)
	// -----------------------
	//  [2]      [0]    [1]
	// -----------------------
	// 要求变道后：
	// 1. [3]不会追尾本车，即[3]的预期加速度（刹车）不能小于安全加速度
	// 2. 整体加速度提升大于阈值: \Delta_a0 + p(\Delta_a2+\Delta_a3) > a_threshold
	maxV := lane.MaxV()
	targetV := math.Min(c.model.maxV, maxV)
	gap1, v1 := inf, inf
	if g, lv, found, err := c.reg.Leader(c.veh.ID()); err != nil {
		return a, err
	} else if found {
		gap1, v1 = g, lv
	}
	a0 := c.model.follow(rt.V, targetV, v1, gap1)
	deltaA2 := 0.0
	if gapB, v2, found, err := c.reg.Follower(c.veh.ID()); err != nil {
		return a, err
	} else if found {
		// 如果2号车存在，计算2号车的预期加速度变化值
		deltaA2 = c.model.follow(v2, maxV, v1, gap1+c.model.length+gapB) -
			c.model.follow(v2, maxV, rt.V, gapB)
	}
	deltas := [2]float64{}
	an0s := [2]float64{}
	for _, side := range [2]int{network.LEFT, network.RIGHT} {
		if !hasLane[side] {
			continue
		}
		// 本车变道后的预期加速度
		v4, gap4 := inf, inf
		if node := aheads[side]; node != nil {
			v4 = node.V()
			gap4 = node.S - node.L() - rt.S
		}
		an0 := c.model.follow(rt.V, targetV, v4, gap4)
		an0s[side] = an0
		deltaA0 := an0 - a0
		// 3号车变道后的预期加速度
		deltaA3 := 0.0
		if node := behinds[side]; node != nil {
			v3 := node.V()
			gap3 := rt.S - c.model.length - node.S
			an3 := c.model.follow(v3, maxV, rt.V, gap3)
			// 判决规则1: 如果3号车会追尾本车，那么不变道
			if an3 < c.model.usualBrakingA+lcSafeBrakingABias {
				continue
			}
			deltaA3 = an3 - c.model.follow(v3, maxV, v4, gap4+c.model.length+gap3)
		}
		// 主判决规则
		if delta := deltaA0 + 0.1*(deltaA2+deltaA3); delta > 0 {
			deltas[side] = delta
		}
	}
	u := deltas[network.LEFT] + deltas[network.RIGHT]
	pLC := 2e-8
	if u >= 1 {
		pLC = 0.9
	} else if u > 0 {
		pLC = (0.9 - 2e-8) * u
	} else {
		// u <= 0, 意味着两侧增益均为0
		// 为了保证0值体现车道不存在，进行修正
		if hasLane[network.LEFT] {
			deltas[network.LEFT] = 1
		}
		if hasLane[network.RIGHT] {
			deltas[network.RIGHT] = 1
		}
	}
	// 按概率决定是否变道
	if c.eng.PTrue(pLC) {
		// 再按照deltas的大小来按概率决定变道方向
		side := int(c.eng.DiscreteDistribution(deltas[:]))
		c.lastLCTime = now
		a.A = an0s[side]
		a.LC = side
	}
	return a, nil
}
