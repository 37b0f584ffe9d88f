package controller

import (
	"fmt"
	"math"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/trafficgym-go/connector"
	"github.com/tsinghua-fib-lab/trafficgym-go/scenario"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/config"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/randengine"
	"github.com/tsinghua-fib-lab/trafficgym-go/vehicle"
)

// binding 一辆车与它的策略组
type binding struct {
	veh        *vehicle.Vehicle
	acc        Policy    // 纵向策略
	routing    Policy    // 路径维护策略，可为nil
	laneChange Policy    // 换道策略，可为nil
	ext        *External // 外控时与acc指向同一策略，否则为nil
	noiseA     float64   // 执行噪声幅度
}

// Hierarchy 控制器层次
// 功能：为场景中每辆车装配策略组，按步产出整批控制指令
// 说明：装配顺序与场景定义中车辆的放置顺序一致，层内全部随机性
// 来自回合的随机数引擎
type Hierarchy struct {
	reg       *vehicle.Registry
	eng       *randengine.Engine
	bindings  []*binding
	externals map[int32]*External
}

// NewHierarchy 按场景定义装配控制器层次
// 说明：注册表须已完成场景中全部车辆的注册
func NewHierarchy(reg *vehicle.Registry, def *scenario.Definition, eng *randengine.Engine) (*Hierarchy, error) {
	net, err := def.Network()
	if err != nil {
		return nil, err
	}
	h := &Hierarchy{
		reg:       reg,
		eng:       eng,
		externals: make(map[int32]*External),
	}
	for _, p := range def.Placements {
		veh, err := reg.Get(p.VehicleID)
		if err != nil {
			return nil, err
		}
		b := &binding{veh: veh, noiseA: p.NoiseA}
		switch p.Acc {
		case config.AccIDM:
			b.acc = NewIDM(reg, veh)
		case config.AccExternal:
			b.ext = NewExternal(p.VehicleID)
			b.acc = b.ext
			h.externals[p.VehicleID] = b.ext
		case config.AccNoOp:
			b.acc = NoOp{}
		default:
			return nil, fmt.Errorf("controller: unknown acc controller %q for vehicle %d", p.Acc, p.VehicleID)
		}
		switch p.Routing {
		case config.RoutingConstant:
			b.routing = NewConstantRoute(net, veh)
		case config.RoutingNone:
		default:
			return nil, fmt.Errorf("controller: unknown routing controller %q for vehicle %d", p.Routing, p.VehicleID)
		}
		switch p.LaneChange {
		case config.LaneChangeMOBIL:
			b.laneChange = NewMOBIL(reg, veh, eng)
		case config.LaneChangeNone:
		default:
			return nil, fmt.Errorf("controller: unknown lane change controller %q for vehicle %d", p.LaneChange, p.VehicleID)
		}
		h.bindings = append(h.bindings, b)
	}
	return h, nil
}

// ExternalIDs 获取外控车辆ID，顺序与场景放置顺序一致
func (h *Hierarchy) ExternalIDs() []int32 {
	return lo.FilterMap(h.bindings, func(b *binding, _ int) (int32, bool) {
		return b.veh.ID(), b.ext != nil
	})
}

// Decide 产出一步的控制指令批
// 功能：分阶段执行全部策略并合并为按放置顺序排列的指令批
// 参数：step-指令批对应的仿真步，now-当前仿真时刻（秒），
// injected-外控车辆本步注入的加速度
// 算法说明：
// 1. 校验注入目标均为外控车辆，之后写入对应策略
// 2. 内置纵向策略先行，外控纵向策略其后，再依次是路径维护与换道；
//    每个阶段都跳过已离场的车辆
// 3. 合并各策略的动作片段，裁剪加速度到物理范围并施加执行噪声
func (h *Hierarchy) Decide(step int32, now float64, injected map[int32]float64) (*connector.CommandBatch, error) {
	for id := range injected {
		if _, ok := h.externals[id]; !ok {
			return nil, fmt.Errorf("controller: vehicle %d is not externally controlled", id)
		}
	}
	for id, a := range injected {
		h.externals[id].Inject(a)
	}
	alive := lo.Map(h.bindings, func(b *binding, _ int) bool {
		return h.reg.Has(b.veh.ID())
	})
	actions := lo.Map(h.bindings, func(*binding, int) Action {
		return NewAction()
	})
	for i, b := range h.bindings {
		if b.ext != nil || !alive[i] {
			continue
		}
		a, err := b.acc.Decide(now)
		if err != nil {
			return nil, err
		}
		actions[i].Update(a)
	}
	for i, b := range h.bindings {
		if b.ext == nil {
			continue
		}
		if !alive[i] {
			// 已离场的外控车辆丢弃本步注入
			b.ext.drop()
			continue
		}
		a, err := b.acc.Decide(now)
		if err != nil {
			return nil, err
		}
		actions[i].Update(a)
	}
	for i, b := range h.bindings {
		if b.routing == nil || !alive[i] {
			continue
		}
		a, err := b.routing.Decide(now)
		if err != nil {
			return nil, err
		}
		actions[i].Update(a)
	}
	for i, b := range h.bindings {
		if b.laneChange == nil || !alive[i] {
			continue
		}
		a, err := b.laneChange.Decide(now)
		if err != nil {
			return nil, err
		}
		actions[i].Update(a)
	}
	cmds := make([]connector.Command, 0, len(h.bindings))
	for i, b := range h.bindings {
		if !alive[i] {
			continue
		}
		ac := actions[i]
		attr := b.veh.Attr()
		// 后处理
		ac.A = lo.Clamp(ac.A, attr.MaxBrakingA, attr.MaxA)
		if b.noiseA > 0 {
			// 加速度添加随机扰动
			noise := b.noiseA * lo.Clamp(.5*h.eng.NormFloat64(), -1, 1)
			// 过小的加速度不扰动 扰动不改变加速度符号
			if math.Abs(ac.A) >= zeroAThreshold && math.Signbit(ac.A) == math.Signbit(ac.A+noise) {
				ac.A += noise
			}
		}
		cmds = append(cmds, connector.Command{
			VehicleID:  b.veh.ID(),
			A:          ac.A,
			LC:         ac.LC,
			RouteEdges: ac.RouteEdges,
		})
	}
	return &connector.CommandBatch{Step: step, Commands: cmds}, nil
}
