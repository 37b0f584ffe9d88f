package scenario_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/trafficgym-go/network"
	"github.com/tsinghua-fib-lab/trafficgym-go/scenario"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/config"
	"google.golang.org/protobuf/proto"
)

var testStep = config.ControlStep{Total: 100, Interval: 1}

func ringScenario(length float64, groups ...config.VehicleGroup) config.Scenario {
	return config.Scenario{
		Topology: config.TopologyRing,
		Ring:     &config.Ring{Length: length},
		Vehicles: groups,
	}
}

func idmGroup(count int) config.VehicleGroup {
	return config.VehicleGroup{Name: "human", Count: count, Acc: config.AccIDM}
}

func TestRingExactLength(t *testing.T) {
	gen, err := scenario.New(ringScenario(230, idmGroup(1)), testStep)
	require.NoError(t, err)
	def, err := gen.Generate(0)
	require.NoError(t, err)

	assert.True(t, def.Closed)
	assert.Equal(t, []int32{1, 2, 3, 4}, def.EdgeOrder)
	assert.InDelta(t, 230, def.OrderLength(), 1e-9)

	net, err := def.Network()
	require.NoError(t, err)
	for _, e := range net.Edges() {
		assert.InDelta(t, 57.5, e.Length(), 1e-9)
	}
}

func TestUniformPlacementOnRing(t *testing.T) {
	scn := ringScenario(230, idmGroup(21),
		config.VehicleGroup{Name: "rl", Count: 1, Acc: config.AccExternal})
	gen, err := scenario.New(scn, testStep)
	require.NoError(t, err)
	def, err := gen.Generate(42)
	require.NoError(t, err)

	require.Len(t, def.Placements, 22)
	assert.Equal(t, []int32{22}, def.ExternalIDs())

	spacing := 230.0 / 22
	for i, p := range def.Placements {
		assert.Equal(t, int32(i+1), p.VehicleID)
		assert.Equal(t, 0, p.LaneIndex)
		assert.Zero(t, p.V)
		assert.InDelta(t, float64(i)*spacing, def.GlobalS(p.EdgeID, p.S), 1e-9)
		// shared循环顺序：全体车辆共用同一份整环路径
		assert.Equal(t, []int32{1, 2, 3, 4}, p.RouteEdges)
	}
	// 第7辆车跨过第一条边的57.5米边界
	assert.Equal(t, int32(2), def.Placements[6].EdgeID)
}

func TestIndependentRouteRotation(t *testing.T) {
	scn := ringScenario(230, idmGroup(21),
		config.VehicleGroup{Name: "rl", Count: 1, Acc: config.AccExternal})
	scn.RouteRotation = config.RotationIndependent
	gen, err := scenario.New(scn, testStep)
	require.NoError(t, err)
	def, err := gen.Generate(42)
	require.NoError(t, err)

	assert.Equal(t, config.RotationIndependent, def.Rotation)
	// independent循环顺序：每辆车的路径以所在边开头
	assert.Equal(t, []int32{1, 2, 3, 4}, def.Placements[0].RouteEdges)
	assert.Equal(t, []int32{2, 3, 4, 1}, def.Placements[6].RouteEdges)
	for _, p := range def.Placements {
		assert.Equal(t, p.EdgeID, p.RouteEdges[0])
	}
}

func TestGenerateDeterminism(t *testing.T) {
	scn := ringScenario(230, config.VehicleGroup{
		Name: "human", Count: 10, Acc: config.AccIDM, Perturbation: 2,
	})
	gen, err := scenario.New(scn, testStep)
	require.NoError(t, err)

	d1, err := gen.Generate(7)
	require.NoError(t, err)
	d2, err := gen.Generate(7)
	require.NoError(t, err)
	b1, err := json.Marshal(d1)
	require.NoError(t, err)
	b2, err := json.Marshal(d2)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)

	d3, err := gen.Generate(8)
	require.NoError(t, err)
	b3, err := json.Marshal(d3)
	require.NoError(t, err)
	assert.NotEqual(t, b1, b3)
}

func TestUniformOvercapacity(t *testing.T) {
	gen, err := scenario.New(ringScenario(100, idmGroup(22)), testStep)
	require.NoError(t, err)
	_, err = gen.Generate(0)
	var cfgErr *config.Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "scenario.vehicles[0]", cfgErr.Field)
}

func TestLengthRangeResampling(t *testing.T) {
	scn := ringScenario(230, idmGroup(5))
	scn.Ring.LengthRange = []float64{200, 300}
	gen, err := scenario.New(scn, testStep)
	require.NoError(t, err)

	d1, err := gen.Generate(1)
	require.NoError(t, err)
	d2, err := gen.Generate(2)
	require.NoError(t, err)
	d1Again, err := gen.Generate(1)
	require.NoError(t, err)

	for _, d := range []*scenario.Definition{d1, d2} {
		assert.GreaterOrEqual(t, d.OrderLength(), 200.0)
		assert.LessOrEqual(t, d.OrderLength(), 300.0)
	}
	assert.NotEqual(t, d1.OrderLength(), d2.OrderLength())
	assert.Equal(t, d1.OrderLength(), d1Again.OrderLength())
}

func TestCustomPlacement(t *testing.T) {
	mergeScenario := func(positions ...config.Position) config.Scenario {
		return config.Scenario{
			Topology: config.TopologyMerge,
			Merge:    &config.Merge{MainLength: 200, RampLength: 100, OutLength: 150},
			Vehicles: []config.VehicleGroup{{
				Name: "custom", Acc: config.AccIDM,
				Depart: config.DepartCustom, Positions: positions,
			}},
		}
	}

	t.Run("ok", func(t *testing.T) {
		gen, err := scenario.New(mergeScenario(
			config.Position{Edge: 1, S: 50, V: 10},
			config.Position{Edge: 2, S: 20},
		), testStep)
		require.NoError(t, err)
		def, err := gen.Generate(0)
		require.NoError(t, err)
		require.Len(t, def.Placements, 2)
		assert.Equal(t, 10.0, def.Placements[0].V)
		// 匝道车辆沿直行方向续入下游路段
		assert.Equal(t, []int32{2, 3}, def.Placements[1].RouteEdges)
		assert.Equal(t, []int32{1, 3}, def.Placements[0].RouteEdges)
	})

	for _, tc := range []struct {
		name  string
		pos   []config.Position
		field string
	}{
		{"unknown edge", []config.Position{{Edge: 9, S: 1}}, ".edge"},
		{"lane out of range", []config.Position{{Edge: 1, Lane: 2, S: 1}}, ".lane"},
		{"s out of range", []config.Position{{Edge: 1, S: 999}}, ".s"},
		{"negative v", []config.Position{{Edge: 1, S: 1, V: -1}}, ".v"},
		{"overlap", []config.Position{{Edge: 1, S: 10}, {Edge: 1, S: 12}}, "scenario.vehicles"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			gen, err := scenario.New(mergeScenario(tc.pos...), testStep)
			require.NoError(t, err)
			_, err = gen.Generate(0)
			var cfgErr *config.Error
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, cfgErr.Field, tc.field)
		})
	}
}

func TestFigureEightTopology(t *testing.T) {
	scn := config.Scenario{
		Topology:    config.TopologyFigureEight,
		FigureEight: &config.FigureEight{Radius: 30},
		Vehicles:    []config.VehicleGroup{idmGroup(8)},
	}
	gen, err := scenario.New(scn, testStep)
	require.NoError(t, err)
	def, err := gen.Generate(0)
	require.NoError(t, err)

	assert.True(t, def.Closed)
	require.Len(t, def.EdgeOrder, 8)
	// 折线周长略短于两个整圆
	expected := 2 * 2 * 3.14159265 * 30
	assert.InDelta(t, expected, def.OrderLength(), expected*0.01)

	net, err := def.Network()
	require.NoError(t, err)
	// 两环经切点相接成单条回路
	last := net.Edge(def.EdgeOrder[7])
	first := net.Edge(def.EdgeOrder[0])
	assert.Equal(t, last.To().ID(), first.From().ID())
	for _, p := range def.Placements {
		assert.Len(t, p.RouteEdges, 8)
	}
}

func TestGridTopology(t *testing.T) {
	scn := config.Scenario{
		Topology: config.TopologyGrid,
		Grid:     &config.Grid{Rows: 2, Cols: 2, BlockLength: 50},
		Vehicles: []config.VehicleGroup{idmGroup(8)},
	}
	gen, err := scenario.New(scn, testStep)
	require.NoError(t, err)
	def, err := gen.Generate(0)
	require.NoError(t, err)

	assert.False(t, def.Closed)
	assert.Len(t, def.EdgeOrder, 8)
	net, err := def.Network()
	require.NoError(t, err)
	assert.Len(t, net.Edges(), 8)
	assert.Len(t, net.Nodes(), 4)
	for _, e := range net.Edges() {
		assert.InDelta(t, 50, e.Length(), 1e-9)
	}
}

func TestHighwayTopology(t *testing.T) {
	scn := config.Scenario{
		Topology: config.TopologyHighway,
		Highway:  &config.Highway{Length: 400, Segments: 2},
		Vehicles: []config.VehicleGroup{idmGroup(4)},
	}
	gen, err := scenario.New(scn, testStep)
	require.NoError(t, err)
	def, err := gen.Generate(0)
	require.NoError(t, err)

	assert.False(t, def.Closed)
	require.Len(t, def.Placements, 4)
	// 间距100米：前两辆在第一段，后两辆在第二段
	assert.Equal(t, int32(1), def.Placements[0].EdgeID)
	assert.Equal(t, int32(1), def.Placements[1].EdgeID)
	assert.Equal(t, int32(2), def.Placements[2].EdgeID)
	assert.Equal(t, int32(2), def.Placements[3].EdgeID)
	// 开放拓扑的路径沿直行后继延伸，不回绕
	assert.Equal(t, []int32{1, 2}, def.Placements[0].RouteEdges)
	assert.Equal(t, []int32{2}, def.Placements[3].RouteEdges)
}

func TestDefinitionJSONRoundTrip(t *testing.T) {
	gen, err := scenario.New(ringScenario(230, idmGroup(4)), testStep)
	require.NoError(t, err)
	def, err := gen.Generate(3)
	require.NoError(t, err)

	data, err := json.Marshal(def)
	require.NoError(t, err)
	var decoded scenario.Definition
	require.NoError(t, json.Unmarshal(data, &decoded))

	net, err := decoded.Network()
	require.NoError(t, err)
	assert.Len(t, net.Edges(), 4)
	assert.InDelta(t, 230, decoded.OrderLength(), 1e-9)
	assert.InDelta(t, 57.5+5, decoded.GlobalS(2, 5), 1e-9)
	assert.Equal(t, def.Placements, decoded.Placements)
}

func TestToGeoJSON(t *testing.T) {
	gen, err := scenario.New(ringScenario(230, idmGroup(3)), testStep)
	require.NoError(t, err)
	def, err := gen.Generate(0)
	require.NoError(t, err)

	data, err := def.ToGeoJSON()
	require.NoError(t, err)
	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type string `json:"type"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	// 4条车道 + 4个节点 + 3辆车
	assert.Len(t, fc.Features, 11)
	kinds := map[string]int{}
	for _, f := range fc.Features {
		kinds[f.Properties["kind"].(string)]++
	}
	assert.Equal(t, map[string]int{"lane": 4, "node": 4, "vehicle": 3}, kinds)
}

func TestExportCityPersons(t *testing.T) {
	gen, err := scenario.New(ringScenario(230, idmGroup(3)), testStep)
	require.NoError(t, err)
	def, err := gen.Generate(0)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "persons.pb")
	require.NoError(t, def.ExportCityPersons(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var persons personv2.Persons
	require.NoError(t, proto.Unmarshal(raw, &persons))
	require.Len(t, persons.Persons, 3)
	first := persons.Persons[0]
	assert.Equal(t, int32(1), first.Id)
	assert.Equal(t, 5.0, first.VehicleAttribute.Length)
	assert.Equal(t, network.LaneID(def.Placements[0].EdgeID, 0), first.Home.LanePosition.LaneId)
}
