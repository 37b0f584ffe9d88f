package controller_test

import (
	"encoding/json"
	"testing"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/trafficgym-go/connector"
	"github.com/tsinghua-fib-lab/trafficgym-go/controller"
	"github.com/tsinghua-fib-lab/trafficgym-go/network"
	"github.com/tsinghua-fib-lab/trafficgym-go/scenario"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/config"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/randengine"
	"github.com/tsinghua-fib-lab/trafficgym-go/vehicle"
)

func testAttr() vehicle.Attribute {
	return vehicle.Attribute{
		Length: 5, Width: 2, MaxSpeed: 30,
		MaxA: 3, MaxBrakingA: -7.5, UsualA: 2, UsualBrakingA: -4.5,
		MinGap: 2, Headway: 1,
	}
}

// singleEdgeNet 一条直路，长300米、限速20
func singleEdgeNet(t *testing.T, lanes int) *network.Network {
	b := network.NewBuilder()
	b.AddNode(1, 0, 0).AddNode(2, 300, 0)
	b.AddEdge(1, 1, 2, lanes, 3.5, 20, []geometry.Point{{X: 0, Y: 0}, {X: 300, Y: 0}})
	net, err := b.Build()
	require.NoError(t, err)
	return net
}

// chainNet 两条首尾相连的直路
func chainNet(t *testing.T) *network.Network {
	b := network.NewBuilder()
	b.AddNode(1, 0, 0).AddNode(2, 100, 0).AddNode(3, 200, 0)
	b.AddEdge(1, 1, 2, 1, 3.5, 20, []geometry.Point{{X: 0, Y: 0}, {X: 100, Y: 0}})
	b.AddEdge(2, 2, 3, 1, 3.5, 20, []geometry.Point{{X: 100, Y: 0}, {X: 200, Y: 0}})
	net, err := b.Build()
	require.NoError(t, err)
	return net
}

// squareNet 四边环形路网，每边100米
func squareNet(t *testing.T) *network.Network {
	b := network.NewBuilder()
	b.AddNode(1, 0, 0).AddNode(2, 100, 0).AddNode(3, 100, 100).AddNode(4, 0, 100)
	b.AddEdge(1, 1, 2, 1, 3.5, 20, []geometry.Point{{X: 0, Y: 0}, {X: 100, Y: 0}})
	b.AddEdge(2, 2, 3, 1, 3.5, 20, []geometry.Point{{X: 100, Y: 0}, {X: 100, Y: 100}})
	b.AddEdge(3, 3, 4, 1, 3.5, 20, []geometry.Point{{X: 100, Y: 100}, {X: 0, Y: 100}})
	b.AddEdge(4, 4, 1, 1, 3.5, 20, []geometry.Point{{X: 0, Y: 100}, {X: 0, Y: 0}})
	net, err := b.Build()
	require.NoError(t, err)
	return net
}

// addVehicle 创建车辆并注册
func addVehicle(
	t *testing.T, reg *vehicle.Registry, net *network.Network,
	id int32, routeEdges []int32, laneIndex int, s, v float64,
) *vehicle.Vehicle {
	route, err := network.NewRoute(net, routeEdges)
	require.NoError(t, err)
	rt := vehicle.Runtime{EdgeID: routeEdges[0], LaneIndex: laneIndex, S: s, V: v}
	veh := vehicle.New(id, testAttr(), rt, route, 0)
	require.NoError(t, reg.Add(veh))
	return veh
}

func TestIDMFreeFlow(t *testing.T) {
	net := singleEdgeNet(t, 1)
	reg := vehicle.NewRegistry(net)
	veh := addVehicle(t, reg, net, 1, []int32{1}, 0, 50, 10)
	reg.Commit()
	reg.Prepare()

	c := controller.NewIDM(reg, veh)
	a, err := c.Decide(0)
	require.NoError(t, err)
	// 无前车，目标速度取车道限速20：a = 3*(1-(10/20)^4)
	assert.InDelta(t, 2.8125, a.A, 1e-9)
	assert.Equal(t, connector.NoLaneChange, a.LC)
	assert.Nil(t, a.RouteEdges)
}

func TestIDMFollowsLeader(t *testing.T) {
	net := singleEdgeNet(t, 1)
	reg := vehicle.NewRegistry(net)
	veh := addVehicle(t, reg, net, 1, []int32{1}, 0, 10, 10)
	addVehicle(t, reg, net, 2, []int32{1}, 0, 50, 5)
	reg.Commit()
	reg.Prepare()

	c := controller.NewIDM(reg, veh)
	a, err := c.Decide(0)
	require.NoError(t, err)
	// 净距35米、前车更慢，减速但未到紧急制动
	assert.InDelta(t, 1.9466, a.A, 1e-3)
	assert.Greater(t, a.A, testAttr().MaxBrakingA)
	assert.Less(t, a.A, 2.8125)
}

func TestIDMEmergencyBrake(t *testing.T) {
	net := singleEdgeNet(t, 1)
	reg := vehicle.NewRegistry(net)
	veh := addVehicle(t, reg, net, 1, []int32{1}, 0, 50, 10)
	addVehicle(t, reg, net, 2, []int32{1}, 0, 52, 10)
	reg.Commit()
	reg.Prepare()

	// 与前车车身重叠，输出裁剪后的最大制动
	c := controller.NewIDM(reg, veh)
	a, err := c.Decide(0)
	require.NoError(t, err)
	assert.Equal(t, testAttr().MaxBrakingA, a.A)
}

func TestExternalInjectionLatch(t *testing.T) {
	c := controller.NewExternal(7)

	// 未注入时输出零加速度
	a, err := c.Decide(0)
	require.NoError(t, err)
	assert.Zero(t, a.A)

	c.Inject(1.5)
	a, err = c.Decide(1)
	require.NoError(t, err)
	assert.Equal(t, 1.5, a.A)

	// 动作一次性消费，不沿用上一步
	a, err = c.Decide(2)
	require.NoError(t, err)
	assert.Zero(t, a.A)
}

func TestNoOp(t *testing.T) {
	a, err := controller.NoOp{}.Decide(0)
	require.NoError(t, err)
	assert.Zero(t, a.A)
	assert.Equal(t, connector.NoLaneChange, a.LC)
	assert.Nil(t, a.RouteEdges)
}

func TestActionUpdate(t *testing.T) {
	a := controller.NewAction()
	a.Update(controller.Action{A: 2, LC: connector.NoLaneChange})
	a.Update(controller.Action{A: -1, LC: network.LEFT})
	a.Update(controller.Action{A: 5, LC: connector.NoLaneChange, RouteEdges: []int32{1, 2}})
	// 加速度取最小值，变道和路径片段不被空片段覆盖
	assert.Equal(t, -1.0, a.A)
	assert.Equal(t, network.LEFT, a.LC)
	assert.Equal(t, []int32{1, 2}, a.RouteEdges)
}

func TestConstantRouteClosedLoop(t *testing.T) {
	net := squareNet(t)
	route, err := network.NewRoute(net, []int32{1, 2, 3, 4})
	require.NoError(t, err)
	require.True(t, route.Closed())
	veh := vehicle.New(1, testAttr(), vehicle.Runtime{EdgeID: 4, S: 90}, route, 3)

	// 闭合路径自身循环，无需续接
	c := controller.NewConstantRoute(net, veh)
	a, err := c.Decide(0)
	require.NoError(t, err)
	assert.Nil(t, a.RouteEdges)
	assert.Same(t, route, veh.Route())
}

func TestConstantRouteExtendsOpenRoute(t *testing.T) {
	net := chainNet(t)
	route, err := network.NewRoute(net, []int32{1})
	require.NoError(t, err)
	veh := vehicle.New(1, testAttr(), vehicle.Runtime{EdgeID: 1, S: 50}, route, 0)

	c := controller.NewConstantRoute(net, veh)
	a, err := c.Decide(0)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2}, a.RouteEdges)
	assert.Equal(t, []int32{1, 2}, veh.Route().EdgeIDs())
	assert.Equal(t, 0, veh.RouteCursor())

	// 不在末边时不再续接
	a, err = c.Decide(1)
	require.NoError(t, err)
	assert.Nil(t, a.RouteEdges)
}

func TestConstantRouteExhaustion(t *testing.T) {
	net := chainNet(t)
	route, err := network.NewRoute(net, []int32{2})
	require.NoError(t, err)
	veh := vehicle.New(9, testAttr(), vehicle.Runtime{EdgeID: 2, S: 10}, route, 0)

	// 末边没有直行后继，循环行驶假设被打破
	c := controller.NewConstantRoute(net, veh)
	_, err = c.Decide(0)
	var exhausted *controller.RouteExhaustionError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, int32(9), exhausted.VehicleID)
	assert.Equal(t, int32(2), exhausted.EdgeID)
}

func TestMOBILChangesToFreeLane(t *testing.T) {
	net := singleEdgeNet(t, 2)
	reg := vehicle.NewRegistry(net)
	veh := addVehicle(t, reg, net, 1, []int32{1}, 0, 50, 10)
	addVehicle(t, reg, net, 2, []int32{1}, 0, 70, 2) // 慢车堵在前方
	reg.Commit()
	reg.Prepare()

	c := controller.NewMOBIL(reg, veh, randengine.New(1))
	changedAt := -1
	var got controller.Action
	for i := 0; i < 50; i++ {
		a, err := c.Decide(float64(i))
		require.NoError(t, err)
		if a.LC != connector.NoLaneChange {
			changedAt, got = i, a
			break
		}
	}
	// 右侧车道空闲，收益远超阈值，变道概率0.9，50步内必然触发
	require.GreaterOrEqual(t, changedAt, 0, "lane change never triggered")
	assert.Equal(t, network.RIGHT, got.LC)
	// 变道动作携带目标车道上的预期加速度（自由流）
	assert.InDelta(t, 2.8125, got.A, 1e-9)

	// 刚变过道，冷却期内不再变道
	a, err := c.Decide(float64(changedAt) + 1)
	require.NoError(t, err)
	assert.Equal(t, connector.NoLaneChange, a.LC)
}

func TestMOBILSafetyVeto(t *testing.T) {
	net := singleEdgeNet(t, 2)
	reg := vehicle.NewRegistry(net)
	veh := addVehicle(t, reg, net, 1, []int32{1}, 0, 50, 10)
	addVehicle(t, reg, net, 2, []int32{1}, 0, 70, 2)  // 慢车堵在前方
	addVehicle(t, reg, net, 3, []int32{1}, 1, 45, 20) // 侧后方快车
	reg.Commit()
	reg.Prepare()

	// 变道会迫使侧后方车辆急刹，判据否决
	c := controller.NewMOBIL(reg, veh, randengine.New(1))
	for i := 0; i < 30; i++ {
		a, err := c.Decide(float64(i))
		require.NoError(t, err)
		assert.Equal(t, connector.NoLaneChange, a.LC)
	}
}

func TestMOBILKeepsLaneWithoutIncentive(t *testing.T) {
	net := singleEdgeNet(t, 2)
	reg := vehicle.NewRegistry(net)
	veh := addVehicle(t, reg, net, 1, []int32{1}, 0, 50, 10)
	reg.Commit()
	reg.Prepare()

	// 本车道即自由流，变道没有收益
	c := controller.NewMOBIL(reg, veh, randengine.New(1))
	for i := 0; i < 30; i++ {
		a, err := c.Decide(float64(i))
		require.NoError(t, err)
		assert.Equal(t, connector.NoLaneChange, a.LC)
	}
}

// ringHierarchy 在230米环上生成3辆IDM车和1辆外控车并装配控制器
func ringHierarchy(t *testing.T, seed uint64) (*controller.Hierarchy, *vehicle.Registry, *scenario.Definition) {
	scn := config.Scenario{
		Topology: config.TopologyRing,
		Ring:     &config.Ring{Length: 230},
		Vehicles: []config.VehicleGroup{
			{Name: "idm", Count: 3, Acc: config.AccIDM, NoiseA: 0.5},
			{Name: "rl", Count: 1, Acc: config.AccExternal},
		},
	}
	g, err := scenario.New(scn, config.ControlStep{Total: 100, Interval: 1})
	require.NoError(t, err)
	def, err := g.Generate(seed)
	require.NoError(t, err)

	net, err := def.Network()
	require.NoError(t, err)
	reg := vehicle.NewRegistry(net)
	for _, p := range def.Placements {
		route, err := network.NewRoute(net, p.RouteEdges)
		require.NoError(t, err)
		cursor := lo.IndexOf(p.RouteEdges, p.EdgeID)
		require.GreaterOrEqual(t, cursor, 0)
		rt := vehicle.Runtime{EdgeID: p.EdgeID, LaneIndex: p.LaneIndex, S: p.S, V: p.V}
		require.NoError(t, reg.Add(vehicle.New(p.VehicleID, p.Attr, rt, route, cursor)))
	}
	reg.Commit()
	reg.Prepare()

	h, err := controller.NewHierarchy(reg, def, randengine.New(seed))
	require.NoError(t, err)
	return h, reg, def
}

func TestHierarchyBatch(t *testing.T) {
	h, _, def := ringHierarchy(t, 42)
	assert.Equal(t, []int32{4}, h.ExternalIDs())
	assert.Equal(t, def.ExternalIDs(), h.ExternalIDs())

	batch, err := h.Decide(5, 5, map[int32]float64{4: 2})
	require.NoError(t, err)
	assert.Equal(t, int32(5), batch.Step)
	require.Len(t, batch.Commands, 4)
	// 指令顺序与场景放置顺序一致
	ids := lo.Map(batch.Commands, func(c connector.Command, _ int) int32 { return c.VehicleID })
	assert.Equal(t, []int32{1, 2, 3, 4}, ids)
	for _, cmd := range batch.Commands {
		// 执行噪声在裁剪之后施加，物理范围要放宽噪声幅度
		assert.GreaterOrEqual(t, cmd.A, testAttr().MaxBrakingA-0.5)
		assert.LessOrEqual(t, cmd.A, testAttr().MaxA+0.5)
		assert.Equal(t, connector.NoLaneChange, cmd.LC)
		// 闭合路径无需续接
		assert.Nil(t, cmd.RouteEdges)
	}
	// 外控车辆组无执行噪声，指令即注入动作
	assert.Equal(t, 2.0, batch.Commands[3].A)
}

func TestHierarchyInjectionValidation(t *testing.T) {
	h, _, _ := ringHierarchy(t, 42)

	_, err := h.Decide(0, 0, map[int32]float64{99: 1})
	require.ErrorContains(t, err, "not externally controlled")
	_, err = h.Decide(0, 0, map[int32]float64{1: 1})
	require.ErrorContains(t, err, "not externally controlled")

	// 未注入时外控车辆输出零加速度
	batch, err := h.Decide(0, 0, nil)
	require.NoError(t, err)
	assert.Zero(t, batch.Commands[3].A)
}

func TestHierarchyDeterminism(t *testing.T) {
	run := func(seed uint64) []byte {
		h, _, _ := ringHierarchy(t, seed)
		var out [][]byte
		for step := int32(0); step < 5; step++ {
			batch, err := h.Decide(step, float64(step), map[int32]float64{4: 1})
			require.NoError(t, err)
			b, err := json.Marshal(batch)
			require.NoError(t, err)
			out = append(out, b)
		}
		return lo.Flatten(out)
	}
	assert.Equal(t, run(7), run(7))
	assert.NotEqual(t, run(7), run(8))
}

func TestHierarchySkipsRemovedVehicles(t *testing.T) {
	h, reg, _ := ringHierarchy(t, 42)
	require.NoError(t, reg.Remove(2))
	reg.Commit()

	batch, err := h.Decide(1, 1, map[int32]float64{4: 0.5})
	require.NoError(t, err)
	ids := lo.Map(batch.Commands, func(c connector.Command, _ int) int32 { return c.VehicleID })
	assert.Equal(t, []int32{1, 3, 4}, ids)
}
