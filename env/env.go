// 强化学习环境：reset/step/observation/reward/done契约
//
// 环境把场景生成、控制器层次与仿真器连接编排为标准的序列决策接口。
// 回合内完全单线程锁步执行；仿真器故障与碰撞以终局信号（而非错误）
// 返回，注册表与仿真器失配以协议错误上抛，两者都要求经Reset重开。
package env

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/trafficgym-go/clock"
	"github.com/tsinghua-fib-lab/trafficgym-go/connector"
	"github.com/tsinghua-fib-lab/trafficgym-go/controller"
	"github.com/tsinghua-fib-lab/trafficgym-go/engine"
	"github.com/tsinghua-fib-lab/trafficgym-go/env/reward"
	"github.com/tsinghua-fib-lab/trafficgym-go/network"
	"github.com/tsinghua-fib-lab/trafficgym-go/scenario"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/config"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/randengine"
	"github.com/tsinghua-fib-lab/trafficgym-go/vehicle"
)

// 观测中前车净距的上界（米），与注册表的前车检索视距一致
const leaderView = 500.0

// Info 单步附加信息
type Info struct {
	Reason     string                // 终局原因标签，未终局为空串
	Step       int32                 // 当前仿真步
	T          float64               // 当前仿真时刻（秒）
	Collisions []connector.Collision // 本步检出的碰撞
	RunID      string                // 回合标识
}

// StepResult 单步推进结果
type StepResult struct {
	Obs    []float64
	Reward float64
	Done   bool
	Info   Info
}

// Space 观测向量的逐元素取值范围
type Space struct {
	Low  []float64
	High []float64
}

// Env 强化学习环境
// 功能：面向学习回路的回合式环境，内部编排场景生成器、
// 车辆注册表、控制器层次与仿真器连接器
// 说明：连接器归环境所有，Close时释放；
// 同一环境实例不支持并发调用
type Env struct {
	cfg  *config.Config
	gen  *scenario.Generator
	conn connector.Connector
	rew  reward.Func

	// 下一回合的场景种子
	seed uint64

	status    Status
	runID     string
	def       *scenario.Definition
	reg       *vehicle.Registry
	hier      *controller.Hierarchy
	clk       *clock.Clock
	order     []int32 // Reset时采集的观测顺序
	externals []int32 // 外控车辆ID（按放置顺序）
}

// New 按配置创建环境
// 功能：装配连接器与奖励函数，不接触仿真器状态
// 说明：配置不合法时返回*config.Error；状态为UNINITIALIZED，
// 第一次Reset之前不可Step
func New(c *config.Config) (*Env, error) {
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var conn connector.Connector
	switch c.Connector.Kind {
	case config.ConnectorLocal:
		conn = engine.NewLocal()
	case config.ConnectorHTTP:
		var err error
		conn, err = connector.NewHTTP(c.Connector)
		if err != nil {
			return nil, err
		}
	}
	return NewWithConnector(c, conn)
}

// NewWithConnector 以调用方提供的连接器创建环境
// 说明：用于接入自定义仿真器，连接器所有权转移给环境
func NewWithConnector(c *config.Config, conn connector.Connector) (*Env, error) {
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	gen, err := scenario.New(c.Scenario, c.Control.Step)
	if err != nil {
		return nil, err
	}
	rew, err := reward.New(c.Reward.Kind)
	if err != nil {
		return nil, err
	}
	return &Env{
		cfg:    c,
		gen:    gen,
		conn:   conn,
		rew:    rew,
		seed:   c.Scenario.Seed,
		status: StatusUninitialized,
	}, nil
}

// Status 获取生命周期状态
func (e *Env) Status() Status {
	return e.status
}

// RunID 获取当前回合标识
func (e *Env) RunID() string {
	return e.runID
}

// Seed 设定下一回合的场景种子
// 说明：不影响进行中的回合；不调用时沿用配置中的种子，
// 同一种子反复Reset产生逐字节一致的初始观测
func (e *Env) Seed(seed uint64) {
	e.seed = seed
}

// ActionLength 获取动作向量长度，即外控车辆数
func (e *Env) ActionLength() int {
	return lo.SumBy(e.cfg.Scenario.Vehicles, func(g config.VehicleGroup) int {
		return lo.Ternary(g.Acc == config.AccExternal, g.Count, 0)
	})
}

// Space 报告观测空间
// 说明：向量构成为每辆车的[速度, 全局弧长位置]，按放置顺序排列；
// 配置include_leader时附加每辆外控车的[前车净距, 前车速度]；
// 归一化时全部元素落在[0, 1]，否则位置上界未定（环长可随种子重采样）
func (e *Env) Space() *Space {
	norm := e.cfg.Observation.Normalize
	groups := e.cfg.Scenario.Vehicles
	var low, high []float64
	for _, g := range groups {
		vHigh, sHigh := g.Attr.MaxSpeed, math.Inf(1)
		if norm {
			vHigh, sHigh = 1, 1
		}
		for i := 0; i < g.Count; i++ {
			low = append(low, 0, 0)
			high = append(high, vHigh, sHigh)
		}
	}
	if e.cfg.Observation.IncludeLeader {
		gapHigh := leaderView
		vHigh := lo.Max(lo.Map(groups, func(g config.VehicleGroup, _ int) float64 {
			return g.Attr.MaxSpeed
		}))
		if norm {
			gapHigh, vHigh = 1, 1
		}
		for _, g := range groups {
			if g.Acc != config.AccExternal {
				continue
			}
			for i := 0; i < g.Count; i++ {
				low = append(low, 0, 0)
				high = append(high, gapHigh, vHigh)
			}
		}
	}
	return &Space{Low: low, High: high}
}

// Reset 重开回合
// 功能：重新生成场景定义、重启仿真器会话、重建注册表与控制器层次
// 返回：初始观测
// 说明：任意状态下可调用，进行中的回合直接废弃；失败时回到
// UNINITIALIZED状态，成功后为READY
func (e *Env) Reset() ([]float64, error) {
	if e.conn == nil {
		return nil, fmt.Errorf("env: already closed")
	}
	e.status = StatusUninitialized
	def, err := e.gen.Generate(e.seed)
	if err != nil {
		return nil, err
	}
	net, err := def.Network()
	if err != nil {
		return nil, err
	}
	res, err := e.conn.Start(context.Background(), def)
	if err != nil {
		return nil, err
	}

	// 以仿真器回报的初始状态为准建立车辆镜像
	reg := vehicle.NewRegistry(net)
	byID := lo.SliceToMap(def.Placements, func(p scenario.Placement) (int32, scenario.Placement) {
		return p.VehicleID, p
	})
	for _, st := range res.States {
		p, ok := byID[st.ID]
		if !ok {
			return nil, &connector.ProtocolError{Op: "start",
				Err: fmt.Errorf("initial state for unknown vehicle %d", st.ID)}
		}
		route, err := network.NewRoute(net, p.RouteEdges)
		if err != nil {
			return nil, err
		}
		cursor := lo.IndexOf(p.RouteEdges, st.EdgeID)
		if cursor < 0 {
			return nil, &connector.ProtocolError{Op: "start",
				Err: fmt.Errorf("vehicle %d: reported edge %d is not on route %v", st.ID, st.EdgeID, p.RouteEdges)}
		}
		rt := vehicle.Runtime{
			EdgeID:    st.EdgeID,
			LaneIndex: st.LaneIndex,
			S:         st.S,
			V:         st.V,
			A:         st.A,
			X:         st.X,
			Y:         st.Y,
		}
		if err := reg.Add(vehicle.New(st.ID, p.Attr, rt, route, cursor)); err != nil {
			return nil, err
		}
	}
	if len(res.States) != len(def.Placements) {
		return nil, &connector.ProtocolError{Op: "start",
			Err: fmt.Errorf("vehicle count mismatch: %d initial states for %d placements", len(res.States), len(def.Placements))}
	}
	reg.Commit()

	hier, err := controller.NewHierarchy(reg, def, randengine.New(e.seed))
	if err != nil {
		return nil, err
	}

	e.def = def
	e.reg = reg
	e.hier = hier
	e.clk = clock.New(e.cfg.Control.Step)
	e.order = lo.Map(res.States, func(st connector.VehicleState, _ int) int32 { return st.ID })
	e.externals = hier.ExternalIDs()
	e.runID = uuid.NewString()
	e.status = StatusReady
	log.Infof("episode %s: seed %d, %d vehicles (%d externally driven)",
		e.runID, e.seed, reg.Count(), len(e.externals))
	return e.observe(), nil
}

// Step 推进一步
// 功能：注入外控动作、执行控制器级联、与仿真器交换一步、
// 回填注册表并产出观测/奖励/终局信号
// 说明：
// 1. 仅READY/RUNNING状态可调用，终局后调用返回*InvalidStateError
// 2. 仿真器故障（含超时）或检出碰撞时返回终局结果而非错误，
//    原因标签为CRASH，绝不重试
// 3. 注册表与仿真器失配（未知车辆、数量不符、步数错位）以
//    *connector.ProtocolError上抛，回合同时转入终局
func (e *Env) Step(action []float64) (*StepResult, error) {
	if e.status != StatusReady && e.status != StatusRunning {
		return nil, &InvalidStateError{Op: "step", Status: e.status}
	}
	e.status = StatusRunning

	injected, err := e.injection(action)
	if err != nil {
		return nil, err
	}

	// 控制阶段：快照先行，层内全部策略读到同一状态
	e.reg.Prepare()
	batch, err := e.hier.Decide(e.clk.Step, e.clk.T, injected)
	if err != nil {
		e.status = StatusDoneCrash
		return nil, err
	}

	res, err := e.conn.Step(context.Background(), batch)
	if err != nil {
		// 仿真器故障即终局：以信号而非错误返回，学习回路跨回合继续
		e.status = StatusDoneCrash
		e.clk.Tick()
		log.Errorf("episode %s crashed: %v", e.runID, err)
		return e.result(0, nil), nil
	}
	if err := e.reconcile(res); err != nil {
		e.status = StatusDoneCrash
		return nil, err
	}
	e.clk.Tick()
	if res.Step != e.clk.Step {
		e.status = StatusDoneCrash
		return nil, &connector.ProtocolError{Op: "step",
			Err: fmt.Errorf("simulator at step %d, bridge at step %d", res.Step, e.clk.Step)}
	}

	switch {
	case len(res.Collisions) > 0:
		e.status = StatusDoneCrash
		log.Warnf("episode %s crashed: %d collisions at step %d", e.runID, len(res.Collisions), e.clk.Step)
		return e.result(0, res.Collisions), nil
	case e.clk.Done():
		e.status = StatusDoneHorizon
	case e.reg.Count() == 0, e.allExternalsArrived(), e.terminalPredicate():
		e.status = StatusDoneTerminal
	}
	return e.result(e.rewardValue(action), res.Collisions), nil
}

// Close 结束环境并释放连接器
// 说明：终局操作，之后Reset与Step都不再可用
func (e *Env) Close() error {
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	e.status = StatusUninitialized
	return err
}

// injection 把动作向量映射为外控车辆的注入表
// 说明：nil动作失闭处理（外控策略输出零加速度并告警），
// 长度不符为调用方错误，不推进回合
func (e *Env) injection(action []float64) (map[int32]float64, error) {
	if action == nil {
		return nil, nil
	}
	if len(action) != len(e.externals) {
		return nil, fmt.Errorf("env: action length %d, want %d", len(action), len(e.externals))
	}
	m := make(map[int32]float64, len(action))
	for i, id := range e.externals {
		m[id] = action[i]
	}
	return m, nil
}

// reconcile 以仿真器回报回填注册表
// 功能：移除到达车辆、逐车回填状态并校验数量一致
// 说明：回填完成后刷新快照，本步观测与下一步控制读到同一状态
func (e *Env) reconcile(res *connector.StepResult) error {
	for _, id := range res.Arrived {
		if err := e.reg.Remove(id); err != nil {
			return &connector.ProtocolError{Op: "step", Err: err}
		}
		log.Debugf("vehicle %d arrived and left the scenario", id)
	}
	for _, st := range res.States {
		rt := vehicle.Runtime{
			EdgeID:    st.EdgeID,
			LaneIndex: st.LaneIndex,
			S:         st.S,
			V:         st.V,
			A:         st.A,
			X:         st.X,
			Y:         st.Y,
		}
		if err := e.reg.Update(st.ID, rt); err != nil {
			return &connector.ProtocolError{Op: "step", Err: err}
		}
	}
	if len(res.States) != e.reg.Count() {
		return &connector.ProtocolError{Op: "step",
			Err: fmt.Errorf("vehicle count mismatch: %d states for %d registered", len(res.States), e.reg.Count())}
	}
	e.reg.Commit()
	e.reg.Prepare()
	return nil
}

// observe 构建观测向量
// 说明：顺序与长度在Reset时固定，回合内绝不变化；
// 已离场车辆的槽位填零
func (e *Env) observe() []float64 {
	norm := e.cfg.Observation.Normalize
	obs := make([]float64, 0, 2*len(e.order)+2*len(e.externals))
	for _, id := range e.order {
		veh, err := e.reg.Get(id)
		if err != nil {
			obs = append(obs, 0, 0)
			continue
		}
		rt := veh.RuntimeState()
		v, s := rt.V, e.def.GlobalS(rt.EdgeID, rt.S)
		if norm {
			v /= veh.Attr().MaxSpeed
			if l := e.def.OrderLength(); l > 0 {
				s /= l
			}
		}
		obs = append(obs, v, s)
	}
	if e.cfg.Observation.IncludeLeader {
		for _, id := range e.externals {
			veh, err := e.reg.Get(id)
			if err != nil {
				obs = append(obs, 0, 0)
				continue
			}
			gap, leaderV, found, err := e.reg.Leader(id)
			if err != nil || !found {
				// 视距内无前车，按自由流处理
				gap, leaderV = leaderView, veh.RuntimeState().V
			}
			gap = lo.Clamp(gap, 0, leaderView)
			if norm {
				gap /= leaderView
				leaderV /= veh.Attr().MaxSpeed
			}
			obs = append(obs, gap, leaderV)
		}
	}
	return obs
}

// rewardValue 计算本步奖励
func (e *Env) rewardValue(action []float64) float64 {
	return e.rew(&reward.Input{
		Speeds: lo.Map(e.reg.Vehicles(), func(v *vehicle.Vehicle, _ int) float64 {
			return v.RuntimeState().V
		}),
		Actions:      action,
		Target:       e.cfg.Reward.TargetSpeed,
		AccelPenalty: e.cfg.Reward.AccelPenalty,
	})
}

// allExternalsArrived 判断外控车辆是否全部到达
func (e *Env) allExternalsArrived() bool {
	if !e.cfg.Terminal.AllArrived || len(e.externals) == 0 {
		return false
	}
	return lo.NoneBy(e.externals, e.reg.Has)
}

// terminalPredicate 判断配置的终止谓词是否满足
func (e *Env) terminalPredicate() bool {
	t := e.cfg.Terminal
	if t.MinMeanSpeed <= 0 || e.reg.Count() == 0 {
		return false
	}
	if e.clk.Step-e.clk.START_STEP < t.AfterStep {
		return false
	}
	mean := lo.SumBy(e.reg.Vehicles(), func(v *vehicle.Vehicle) float64 {
		return v.RuntimeState().V
	}) / float64(e.reg.Count())
	return mean < t.MinMeanSpeed
}

// result 组装单步结果
func (e *Env) result(rew float64, collisions []connector.Collision) *StepResult {
	return &StepResult{
		Obs:    e.observe(),
		Reward: rew,
		Done:   e.status.Done(),
		Info: Info{
			Reason:     e.status.Reason(),
			Step:       e.clk.Step,
			T:          e.clk.T,
			Collisions: collisions,
			RunID:      e.runID,
		},
	}
}
