// 参考仿真引擎：以协议语义在进程内推进车辆运动
//
// 引擎是仿真器侧的真值持有者：以场景定义初始化，逐步接收指令批，
// 按运动学积分推进并报告全量车辆状态。引擎不含任何随机性，相同的
// 场景定义与指令序列必然产生相同的状态序列。
package engine

import (
	"fmt"
	"sort"

	"git.fiblab.net/general/common/v2/parallel"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/trafficgym-go/clock"
	"github.com/tsinghua-fib-lab/trafficgym-go/connector"
	"github.com/tsinghua-fib-lab/trafficgym-go/network"
	"github.com/tsinghua-fib-lab/trafficgym-go/scenario"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/config"
	"github.com/tsinghua-fib-lab/trafficgym-go/vehicle"
)

// Engine 参考仿真引擎
// 功能：持有车辆运动真值，按指令批逐步积分
// 说明：回合内单线程锁步执行；车辆总数在初始化后只减不增
type Engine struct {
	def   *scenario.Definition
	net   *network.Network
	reg   *vehicle.Registry
	clock *clock.Clock
}

// New 以场景定义创建引擎
// 功能：重建路网、按放置列表创建车辆并建立车道索引
// 说明：放置数据不合法时返回error，不panic，
// 引擎可能直接面对外部进程提交的场景定义
func New(def *scenario.Definition) (*Engine, error) {
	net, err := def.Network()
	if err != nil {
		return nil, err
	}
	reg := vehicle.NewRegistry(net)
	for _, p := range def.Placements {
		route, err := network.NewRoute(net, p.RouteEdges)
		if err != nil {
			return nil, fmt.Errorf("engine: vehicle %d: %w", p.VehicleID, err)
		}
		cursor := lo.IndexOf(p.RouteEdges, p.EdgeID)
		if cursor < 0 {
			return nil, fmt.Errorf("engine: vehicle %d: edge %d is not on route %v", p.VehicleID, p.EdgeID, p.RouteEdges)
		}
		edge, err := net.EdgeOrError(p.EdgeID)
		if err != nil {
			return nil, fmt.Errorf("engine: vehicle %d: %w", p.VehicleID, err)
		}
		if p.LaneIndex < 0 || p.LaneIndex >= edge.LaneCount() {
			return nil, fmt.Errorf("engine: vehicle %d: lane index %d out of range [0, %d)", p.VehicleID, p.LaneIndex, edge.LaneCount())
		}
		pos := edge.Lane(p.LaneIndex).GetPositionByS(p.S)
		rt := vehicle.Runtime{
			EdgeID:    p.EdgeID,
			LaneIndex: p.LaneIndex,
			S:         p.S,
			V:         p.V,
			X:         pos.X,
			Y:         pos.Y,
		}
		if err := reg.Add(vehicle.New(p.VehicleID, p.Attr, rt, route, cursor)); err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}
	reg.Commit()
	e := &Engine{
		def: def,
		net: net,
		reg: reg,
		clock: clock.New(config.ControlStep{
			Start:    def.StartStep,
			Total:    def.TotalStep,
			Interval: def.DT,
		}),
	}
	log.Infof("initialized %s scenario with %d vehicles at step %d", def.Topology, reg.Count(), e.clock.Step)
	return e, nil
}

// Step 获取当前仿真步
func (e *Engine) Step() int32 {
	return e.clock.Step
}

// Result 报告当前全量车辆状态
// 说明：状态按车辆ID升序排列
func (e *Engine) Result() *connector.StepResult {
	return e.result(nil, nil)
}

// Advance 接收指令批并推进一步
// 功能：应用路径替换与换道、按指令加速度积分、跨边推进、
// 移除到达车辆并检测追尾
// 算法说明：
// 1. 指令批的步数必须与引擎当前步一致，车辆ID必须已注册
// 2. 加速度裁剪到车辆物理范围；未收到指令的车辆加速度为零
// 3. 换道仅在目标车道上前后净距均为正时生效，否则忽略
// 4. 积分规则：dv=a*dt；v+dv<0时在v²/(2|a|)米内刹停，
//    否则ds=(v+dv/2)*dt
// 5. 越过车道末端时沿既定路径进入下一条边，开放路径走完即到达
// 6. 推进完成后按车道扫描车身重叠，生成碰撞记录
func (e *Engine) Advance(batch *connector.CommandBatch) (*connector.StepResult, error) {
	if batch == nil {
		return nil, fmt.Errorf("engine: nil command batch")
	}
	if batch.Step != e.clock.Step {
		return nil, fmt.Errorf("engine: expected step %d, got %d", e.clock.Step, batch.Step)
	}
	cmds := make(map[int32]connector.Command, len(batch.Commands))
	for _, cmd := range batch.Commands {
		if _, ok := cmds[cmd.VehicleID]; ok {
			return nil, fmt.Errorf("engine: duplicate command for vehicle %d", cmd.VehicleID)
		}
		if !e.reg.Has(cmd.VehicleID) {
			return nil, fmt.Errorf("engine: command for unknown vehicle %d", cmd.VehicleID)
		}
		cmds[cmd.VehicleID] = cmd
	}
	// 路径替换与换道在积分之前生效
	for _, cmd := range batch.Commands {
		if cmd.RouteEdges != nil {
			if err := e.applyRoute(cmd); err != nil {
				return nil, err
			}
		}
	}
	for _, cmd := range batch.Commands {
		if cmd.LC != connector.NoLaneChange {
			if err := e.applyLaneChange(cmd); err != nil {
				return nil, err
			}
		}
	}
	arrived, err := e.integrate(cmds)
	if err != nil {
		return nil, err
	}
	for _, id := range arrived {
		if err := e.reg.Remove(id); err != nil {
			return nil, err
		}
	}
	e.reg.Commit()
	e.clock.Tick()
	collisions := e.scanCollisions()
	if len(collisions) > 0 {
		log.Warnf("step %d: %d rear-end collisions detected", e.clock.Step, len(collisions))
	}
	return e.result(collisions, arrived), nil
}

// applyRoute 应用路径替换指令
// 说明：新路径必须包含车辆当前所在边
func (e *Engine) applyRoute(cmd connector.Command) error {
	veh, err := e.reg.Get(cmd.VehicleID)
	if err != nil {
		return err
	}
	rt := veh.RuntimeState()
	cursor := lo.IndexOf(cmd.RouteEdges, rt.EdgeID)
	if cursor < 0 {
		return fmt.Errorf("engine: vehicle %d: new route %v does not contain current edge %d", cmd.VehicleID, cmd.RouteEdges, rt.EdgeID)
	}
	route, err := network.NewRoute(e.net, cmd.RouteEdges)
	if err != nil {
		return fmt.Errorf("engine: vehicle %d: %w", cmd.VehicleID, err)
	}
	veh.SetRoute(route, cursor)
	return nil
}

// applyLaneChange 应用换道指令
// 功能：目标车道上以自车位置为界的前后净距均为正时切换车道
// 说明：目标车道不存在或净距不足时忽略指令，引擎自身的动力学
// 有权否决控制指令；同一步内多车并入同一间隙时不做互斥，
// 重叠将在碰撞扫描中暴露
func (e *Engine) applyLaneChange(cmd connector.Command) error {
	if cmd.LC != network.LEFT && cmd.LC != network.RIGHT {
		return fmt.Errorf("engine: vehicle %d: bad lane change side %d", cmd.VehicleID, cmd.LC)
	}
	veh, err := e.reg.Get(cmd.VehicleID)
	if err != nil {
		return err
	}
	rt := veh.RuntimeState()
	ahead, behind, hasLane, err := e.reg.Neighbors(cmd.VehicleID, cmd.LC)
	if err != nil {
		return err
	}
	if !hasLane {
		log.Warnf("vehicle %d: lane change ignored, no lane on side %d", cmd.VehicleID, cmd.LC)
		return nil
	}
	if ahead != nil && ahead.S-ahead.L()-rt.S <= 0 {
		return nil
	}
	if behind != nil && rt.S-veh.Length()-behind.S <= 0 {
		return nil
	}
	lane := e.net.Edge(rt.EdgeID).Lane(rt.LaneIndex)
	rt.LaneIndex = lane.NeighborLane(cmd.LC).Index()
	return e.reg.Update(cmd.VehicleID, rt)
}

// integrate 按指令加速度推进全部车辆
// 返回：到达（走完开放路径）的车辆ID列表
func (e *Engine) integrate(cmds map[int32]connector.Command) ([]int32, error) {
	dt := e.clock.DT
	var arrived []int32
	for _, veh := range e.reg.Vehicles() {
		rt := veh.RuntimeState()
		attr := veh.Attr()
		a := lo.Clamp(cmds[veh.ID()].A, attr.MaxBrakingA, attr.MaxA)
		// 速度不越过车辆最大速度
		if maxDV := attr.MaxSpeed - rt.V; a*dt > maxDV {
			a = maxDV / dt
		}
		v, d := computeVAndDistance(rt.V, a, dt)
		s := rt.S + d
		lane := e.net.Edge(rt.EdgeID).Lane(rt.LaneIndex)
		cursor := veh.RouteCursor()
		route := veh.Route()
		done := false
		for s > lane.Length() {
			next, ok := route.Following(cursor)
			if !ok {
				done = true
				break
			}
			cursor++
			if route.Closed() {
				cursor %= route.Len()
			}
			s -= lane.Length()
			edge, err := e.net.EdgeOrError(next)
			if err != nil {
				return nil, err
			}
			li := rt.LaneIndex
			if li >= edge.LaneCount() {
				li = edge.LaneCount() - 1
			}
			rt.EdgeID = next
			rt.LaneIndex = li
			lane = edge.Lane(li)
		}
		if done {
			arrived = append(arrived, veh.ID())
			log.Debugf("vehicle %d: arrived at the end of route", veh.ID())
			continue
		}
		pos := lane.GetPositionByS(s)
		rt.S = s
		rt.V = v
		rt.A = a
		rt.X = pos.X
		rt.Y = pos.Y
		if err := e.reg.Update(veh.ID(), rt); err != nil {
			return nil, err
		}
	}
	return arrived, nil
}

// scanCollisions 扫描追尾碰撞
// 功能：检查每条车道内相邻车辆以及跨车道边界相邻车辆的车身重叠
// 说明：按车道ID升序扫描，碰撞记录顺序确定
func (e *Engine) scanCollisions() []connector.Collision {
	var out []connector.Collision
	for _, lane := range e.net.Lanes() {
		list := e.reg.LaneList(lane.ID())
		if list == nil || list.Len() == 0 {
			continue
		}
		for node := list.First(); node != nil && node.Next() != nil; node = node.Next() {
			leader := node.Next()
			if overlap := node.S - (leader.S - leader.L()); overlap > 0 {
				out = append(out, connector.Collision{
					LaneID:  lane.ID(),
					First:   leader.Value.ID(),
					Second:  node.Value.ID(),
					Overlap: overlap,
				})
			}
		}
		// 车道末端的车与下游车道起点的车
		last := list.Last()
		for _, succ := range lane.Successors() {
			sList := e.reg.LaneList(succ.ID())
			if sList == nil || sList.Len() == 0 {
				continue
			}
			first := sList.First()
			if overlap := last.S - (lane.Length() + first.S - first.L()); overlap > 0 {
				out = append(out, connector.Collision{
					LaneID:  succ.ID(),
					First:   first.Value.ID(),
					Second:  last.Value.ID(),
					Overlap: overlap,
				})
			}
		}
	}
	return out
}

// result 组装当前状态回报
func (e *Engine) result(collisions []connector.Collision, arrived []int32) *connector.StepResult {
	states := parallel.GoMap(e.reg.Vehicles(), func(v *vehicle.Vehicle) connector.VehicleState {
		rt := v.RuntimeState()
		return connector.VehicleState{
			ID:        v.ID(),
			EdgeID:    rt.EdgeID,
			LaneIndex: rt.LaneIndex,
			S:         rt.S,
			V:         rt.V,
			A:         rt.A,
			X:         rt.X,
			Y:         rt.Y,
		}
	})
	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })
	return &connector.StepResult{
		Step:       e.clock.Step,
		T:          e.clock.T,
		States:     states,
		Collisions: collisions,
		Arrived:    arrived,
	}
}

// 计算本时刻的速度与移动距离
// v(t)=v(t-1)+acc*dt, ds=v(t-1)*dt+acc*dt*dt/2
func computeVAndDistance(v, a, dt float64) (float64, float64) {
	dv := a * dt
	if v+dv < 0 {
		// 刹车到停止
		return 0, v * v / 2 / -a
	}
	return v + dv, (v + dv/2) * dt
}
