// 场景生成：参数化拓扑、初始车辆摆放与既定路径
//
// 生成器是输入参数与种子的纯函数：同一参数与同一种子下输出逐字节一致。
// 生成产物Definition同时作为桥接侧的场景描述与连接器的初始化载荷。
package scenario

import (
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/trafficgym-go/network"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/config"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/randengine"
	"github.com/tsinghua-fib-lab/trafficgym-go/vehicle"
)

// 生成拓扑的默认车道宽度（米）
const defaultLaneWidth = 3.5

// Placement 单辆车的初始摆放
// 说明：控制器标签只在桥接侧使用，仿真器侧忽略
type Placement struct {
	VehicleID  int32             `json:"vehicle_id"`        // 车辆ID（按摆放顺序从1递增）
	Group      string            `json:"group"`             // 所属车辆组名
	Acc        string            `json:"acc"`               // 纵向控制器标签
	Routing    string            `json:"routing"`           // 路径控制器标签
	LaneChange string            `json:"lane_change"`       // 换道控制器标签
	NoiseA     float64           `json:"noise_a,omitempty"` // IDM执行噪声幅度（米/秒²）
	EdgeID     int32             `json:"edge_id"`           // 初始边
	LaneIndex  int               `json:"lane_index"`        // 初始车道序号
	S          float64           `json:"s"`                 // 初始弧长位置（车头，米）
	V          float64           `json:"v"`                 // 初速度（米/秒）
	Attr       vehicle.Attribute `json:"attr"`              // 物理属性
	RouteEdges []int32           `json:"route_edges"`       // 既定路径
}

// Definition 场景定义
// 功能：一次回合的完整场景：路网、时间参数与初始摆放
// 说明：可JSON序列化，直接作为连接器的初始化载荷发给仿真器
type Definition struct {
	Seed       uint64       `json:"seed"`       // 生成种子
	DT         float64      `json:"dt"`         // 单步时长（秒）
	StartStep  int32        `json:"start_step"` // 起始步
	TotalStep  int32        `json:"total_step"` // 总步数（回合时长上限）
	Topology   string       `json:"topology"`   // 拓扑标签
	Rotation   string       `json:"rotation"`   // 路径循环顺序
	Closed     bool         `json:"closed"`     // 边遍历序是否首尾相接
	EdgeOrder  []int32      `json:"edge_order"` // 摆放与全局弧长使用的边遍历序
	Net        *network.Def `json:"network"`    // 路网（线格式）
	Placements []Placement  `json:"placements"` // 初始摆放

	net          *network.Network
	prefixByEdge map[int32]float64
	orderLen     float64
}

// Network 获取运行时路网
// 说明：JSON反序列化得到的定义在首次调用时由线格式重建，之后缓存
func (d *Definition) Network() (*network.Network, error) {
	if d.net == nil {
		net, err := network.FromDef(d.Net)
		if err != nil {
			return nil, err
		}
		d.net = net
	}
	return d.net, nil
}

// ExternalIDs 获取受外部控制的车辆ID（按摆放顺序）
func (d *Definition) ExternalIDs() []int32 {
	return lo.FilterMap(d.Placements, func(p Placement, _ int) (int32, bool) {
		return p.VehicleID, p.Acc == config.AccExternal
	})
}

// GlobalS 计算沿边遍历序的全局弧长坐标
// 参数：edgeID-所在边，s-边内弧长
// 说明：边不在遍历序内时退化为边内弧长
func (d *Definition) GlobalS(edgeID int32, s float64) float64 {
	d.initPrefix()
	base, ok := d.prefixByEdge[edgeID]
	if !ok {
		return s
	}
	return base + s
}

// OrderLength 获取边遍历序总长度
func (d *Definition) OrderLength() float64 {
	d.initPrefix()
	return d.orderLen
}

// initPrefix 构建边遍历序的前缀长度索引
func (d *Definition) initPrefix() {
	if d.prefixByEdge != nil {
		return
	}
	d.prefixByEdge = make(map[int32]float64, len(d.EdgeOrder))
	net, err := d.Network()
	if err != nil {
		log.Errorf("definition: rebuild network failed: %v", err)
		return
	}
	for _, id := range d.EdgeOrder {
		if _, ok := d.prefixByEdge[id]; !ok {
			d.prefixByEdge[id] = d.orderLen
		}
		d.orderLen += net.Edge(id).Length()
	}
}

// Generator 场景生成器
type Generator struct {
	cfg  config.Scenario
	step config.ControlStep
}

// New 创建场景生成器
// 功能：填充默认值并校验场景与时间控制配置
// 返回：生成器指针与配置错误
func New(scn config.Scenario, step config.ControlStep) (*Generator, error) {
	scn.ApplyDefaults()
	if err := scn.Validate(); err != nil {
		return nil, err
	}
	if err := step.Validate(); err != nil {
		return nil, err
	}
	return &Generator{cfg: scn, step: step}, nil
}

// Generate 生成场景
// 功能：由种子确定性地生成路网、初始摆放与既定路径
// 参数：seed-随机种子
// 返回：场景定义与错误
// 算法说明：
// 1. 构建拓扑（带随机长度的拓扑先由种子重采样参数）
// 2. 均匀组在边遍历序上共享一个等距栅格，逐车按组扰动
// 3. 显式组逐位校验后放入
// 4. 统一做最小间距校验
// 说明：city_map拓扑涉及文件或数据库IO，其余拓扑为纯函数
func (g *Generator) Generate(seed uint64) (*Definition, error) {
	eng := randengine.New(seed)
	top, err := g.build(eng)
	if err != nil {
		return nil, err
	}
	placements, err := g.place(top, eng)
	if err != nil {
		return nil, err
	}
	log.Debugf("generated %s scenario with %d edges and %d vehicles",
		g.cfg.Topology, len(top.net.Edges()), len(placements))
	return &Definition{
		Seed:       seed,
		DT:         g.step.Interval,
		StartStep:  g.step.Start,
		TotalStep:  g.step.Total,
		Topology:   g.cfg.Topology,
		Rotation:   g.cfg.RouteRotation,
		Closed:     top.closed,
		EdgeOrder:  top.order,
		Net:        top.net.Def(),
		Placements: placements,
		net:        top.net,
	}, nil
}

// build 按拓扑标签分发构建
func (g *Generator) build(eng *randengine.Engine) (*topology, error) {
	switch g.cfg.Topology {
	case config.TopologyRing:
		return buildRing(g.cfg.Ring, eng)
	case config.TopologyFigureEight:
		return buildFigureEight(g.cfg.FigureEight)
	case config.TopologyMerge:
		return buildMerge(g.cfg.Merge)
	case config.TopologyGrid:
		return buildGrid(g.cfg.Grid)
	case config.TopologyHighway:
		return buildHighway(g.cfg.Highway)
	case config.TopologyCityMap:
		return loadCityMap(g.cfg.CityMap)
	default:
		return nil, config.NewError("scenario.topology", "unknown topology %q", g.cfg.Topology)
	}
}

// topology 构建完成的拓扑
type topology struct {
	net    *network.Network
	order  []int32 // 摆放与全局弧长使用的边遍历序
	closed bool    // order是否首尾相接成环
}

// prefix 计算边遍历序的长度前缀和，长度为len(order)+1
func (t *topology) prefix() []float64 {
	out := make([]float64, len(t.order)+1)
	for i, id := range t.order {
		out[i+1] = out[i] + t.net.Edge(id).Length()
	}
	return out
}

// locate 把遍历序上的全局弧长换算为（边ID，边内弧长）
func (t *topology) locate(prefix []float64, s float64) (int32, float64) {
	i := sort.SearchFloat64s(prefix, s)
	if i > 0 && (i == len(prefix) || prefix[i] > s) {
		i--
	}
	if i >= len(t.order) {
		i = len(t.order) - 1
	}
	return t.order[i], s - prefix[i]
}

// routeFrom 生成从指定边出发的既定路径
// 说明：闭合遍历序在shared循环顺序下全体车辆共用同一份整环列表，
// independent顺序下取以所在边开头的旋转；开放拓扑沿直行方向行进到头
func (t *topology) routeFrom(edgeID int32, rotation string) []int32 {
	if t.closed {
		if i := lo.IndexOf(t.order, edgeID); i >= 0 {
			out := make([]int32, 0, len(t.order))
			if rotation == config.RotationIndependent {
				out = append(out, t.order[i:]...)
				out = append(out, t.order[:i]...)
			} else {
				out = append(out, t.order...)
			}
			return out
		}
	}
	edges := []int32{edgeID}
	return append(edges, network.ExtendStraight(t.net, edges, len(t.net.Edges()))...)
}

// place 生成初始摆放
// 算法说明：
// 1. 所有均匀组共享一个覆盖遍历序的等距栅格，栅格间距为
//    总长除以均匀车辆总数，逐组检查容量
// 2. 扰动幅度裁剪到(间距-车长-最小车距)/2以内，保证次序与间距不被破坏
// 3. 显式位置逐项检查边、车道、弧长与速度的合法性
// 4. 车辆ID按组序与组内序从1连续分配
func (g *Generator) place(top *topology, eng *randengine.Engine) ([]Placement, error) {
	prefix := top.prefix()
	totalLen := prefix[len(prefix)-1]

	uniformTotal := 0
	for _, grp := range g.cfg.Vehicles {
		if grp.Depart == config.DepartUniform {
			uniformTotal += grp.Count
		}
	}
	spacing := .0
	if uniformTotal > 0 {
		spacing = totalLen / float64(uniformTotal)
	}

	placements := make([]Placement, 0, uniformTotal)
	id := int32(1)
	slot := 0
	for gi, grp := range g.cfg.Vehicles {
		field := fmt.Sprintf("scenario.vehicles[%d]", gi)
		attr := vehicle.AttrFromConfig(*grp.Attr)
		switch grp.Depart {
		case config.DepartUniform:
			need := attr.Length + attr.MinGap
			if spacing < need {
				return nil, config.NewError(field,
					"cannot fit %d vehicles into %.1fm: spacing %.2fm is below vehicle length %.1fm + min gap %.1fm",
					uniformTotal, totalLen, spacing, attr.Length, attr.MinGap)
			}
			limit := (spacing - need) / 2
			for i := 0; i < grp.Count; i++ {
				s := float64(slot) * spacing
				if grp.Perturbation > 0 {
					s += lo.Clamp(eng.Jitter(grp.Perturbation), -limit, limit)
				}
				if top.closed {
					s = math.Mod(s+totalLen, totalLen)
				} else {
					s = lo.Clamp(s, 0, totalLen-1e-6)
				}
				edgeID, localS := top.locate(prefix, s)
				placements = append(placements, g.newPlacement(id, grp, attr, top, edgeID, 0, localS, grp.InitialV))
				id++
				slot++
			}
		case config.DepartCustom:
			for pi, pos := range grp.Positions {
				pf := fmt.Sprintf("%s.positions[%d]", field, pi)
				edge, err := top.net.EdgeOrError(pos.Edge)
				if err != nil {
					return nil, config.NewError(pf+".edge", "%v", err)
				}
				if pos.Lane < 0 || pos.Lane >= edge.LaneCount() {
					return nil, config.NewError(pf+".lane", "lane index %d out of range [0, %d)", pos.Lane, edge.LaneCount())
				}
				laneLen := edge.Lane(pos.Lane).Length()
				if pos.S < 0 || pos.S > laneLen {
					return nil, config.NewError(pf+".s", "must be within [0, %.2f], got %v", laneLen, pos.S)
				}
				if pos.V < 0 {
					return nil, config.NewError(pf+".v", "must be non-negative, got %v", pos.V)
				}
				placements = append(placements, g.newPlacement(id, grp, attr, top, pos.Edge, pos.Lane, pos.S, pos.V))
				id++
			}
		}
	}
	if err := checkSpacing(top, prefix, placements); err != nil {
		return nil, err
	}
	return placements, nil
}

// newPlacement 组装单辆车的摆放
func (g *Generator) newPlacement(id int32, grp config.VehicleGroup, attr vehicle.Attribute,
	top *topology, edgeID int32, laneIndex int, s, v float64) Placement {
	return Placement{
		VehicleID:  id,
		Group:      grp.Name,
		Acc:        grp.Acc,
		Routing:    grp.Routing,
		LaneChange: grp.LaneChange,
		NoiseA:     grp.NoiseA,
		EdgeID:     edgeID,
		LaneIndex:  laneIndex,
		S:          s,
		V:          v,
		Attr:       attr,
		RouteEdges: top.routeFrom(edgeID, g.cfg.RouteRotation),
	}
}

// checkSpacing 校验初始摆放的最小间距
// 算法说明：
// 1. 闭合拓扑把同车道序号的车辆投影到遍历序全局弧长上检查，
//    包括首尾回绕的一对
// 2. 开放拓扑仅检查同一条车道内部
// 说明：间距以前车车尾到后车车头的净距计，阈值取后车的最小车距
func checkSpacing(top *topology, prefix []float64, placements []Placement) error {
	prefixByEdge := make(map[int32]float64, len(top.order))
	for i, id := range top.order {
		if _, ok := prefixByEdge[id]; !ok {
			prefixByEdge[id] = prefix[i]
		}
	}
	totalLen := prefix[len(prefix)-1]

	type slot struct {
		gs float64
		p  *Placement
	}
	groups := make(map[[2]int32][]slot)
	for i := range placements {
		p := &placements[i]
		var key [2]int32
		var gs float64
		if top.closed {
			key = [2]int32{0, int32(p.LaneIndex)}
			gs = prefixByEdge[p.EdgeID] + p.S
		} else {
			key = [2]int32{p.EdgeID, int32(p.LaneIndex)}
			gs = p.S
		}
		groups[key] = append(groups[key], slot{gs: gs, p: p})
	}
	for _, slots := range groups {
		sort.Slice(slots, func(i, j int) bool { return slots[i].gs < slots[j].gs })
		for i := 1; i < len(slots); i++ {
			follower, leader := slots[i-1], slots[i]
			clearance := leader.gs - leader.p.Attr.Length - follower.gs
			if clearance < follower.p.Attr.MinGap {
				return config.NewError("scenario.vehicles",
					"vehicles %d and %d have %.2fm clearance, need at least %.2fm",
					follower.p.VehicleID, leader.p.VehicleID, clearance, follower.p.Attr.MinGap)
			}
		}
		if top.closed && len(slots) > 1 {
			follower, leader := slots[len(slots)-1], slots[0]
			clearance := leader.gs + totalLen - leader.p.Attr.Length - follower.gs
			if clearance < follower.p.Attr.MinGap {
				return config.NewError("scenario.vehicles",
					"vehicles %d and %d have %.2fm clearance across the loop seam, need at least %.2fm",
					follower.p.VehicleID, leader.p.VehicleID, clearance, follower.p.Attr.MinGap)
			}
		}
	}
	return nil
}
