package network

import (
	"fmt"
	"math"

	"git.fiblab.net/general/common/v2/geometry"
)

// 车道ID编码：laneID = edgeID*laneIDStride + 车道序号
const laneIDStride = 100

// LaneID 计算车道ID
func LaneID(edgeID int32, index int) int32 {
	return edgeID*laneIDStride + int32(index)
}

// Builder 路网构建器
// 功能：以编程方式逐步添加节点与边，Build时固化连接关系
// 说明：场景生成器与路网反序列化共用的唯一入口
type Builder struct {
	nodes []*Node
	edges []*pendingEdge
}

// pendingEdge 构建期的边描述
type pendingEdge struct {
	id        int32
	from, to  int32
	laneCount int
	laneWidth float64
	maxV      float64
	line      []geometry.Point
}

// NewBuilder 创建路网构建器
func NewBuilder() *Builder {
	return &Builder{}
}

// AddNode 添加节点
// 参数：id-节点ID，x/y-平面坐标
func (b *Builder) AddNode(id int32, x, y float64) *Builder {
	b.nodes = append(b.nodes, &Node{id: id, pos: geometry.Point{X: x, Y: y}})
	return b
}

// AddEdge 添加边
// 功能：登记一条边及其参考线，车道几何在Build时生成
// 参数：id-边ID，from/to-端点节点ID，laneCount-车道数，
// laneWidth-车道宽度，maxV-限速，line-参考线（0号车道中心线）
func (b *Builder) AddEdge(id, from, to int32, laneCount int, laneWidth, maxV float64, line []geometry.Point) *Builder {
	b.edges = append(b.edges, &pendingEdge{
		id: id, from: from, to: to,
		laneCount: laneCount, laneWidth: laneWidth, maxV: maxV,
		line: line,
	})
	return b
}

// Build 构建路网
// 功能：由已登记的节点与边生成只读路网
// 返回：路网指针与错误
// 算法说明：
// 1. 登记节点，检查重复ID
// 2. 为每条边生成车道：0号车道沿参考线，其余车道向行进方向右侧
//    逐条偏移一个车道宽
// 3. 相邻车道建立左右关系
// 4. 通过共享节点建立边间连接，车道按序号对齐拼接
//    （序号超出对侧车道数时并入对侧最外车道）
// 5. 构建索引并按ID排序
func (b *Builder) Build() (*Network, error) {
	net := &Network{
		nodes: make(map[int32]*Node),
		edges: make(map[int32]*Edge),
		lanes: make(map[int32]*Lane),
	}
	for _, n := range b.nodes {
		if _, ok := net.nodes[n.id]; ok {
			return nil, fmt.Errorf("network: duplicated node %d", n.id)
		}
		net.nodes[n.id] = n
		net.nodeList = append(net.nodeList, n)
	}
	for _, pe := range b.edges {
		if _, ok := net.edges[pe.id]; ok {
			return nil, fmt.Errorf("network: duplicated edge %d", pe.id)
		}
		if pe.id >= math.MaxInt32/laneIDStride {
			return nil, fmt.Errorf("network: edge id %d too large", pe.id)
		}
		if len(pe.line) < 2 {
			return nil, fmt.Errorf("network: edge %d has a degenerate reference line", pe.id)
		}
		if pe.laneCount < 1 {
			return nil, fmt.Errorf("network: edge %d has no lanes", pe.id)
		}
		from, ok := net.nodes[pe.from]
		if !ok {
			return nil, fmt.Errorf("network: edge %d references missing node %d", pe.id, pe.from)
		}
		to, ok := net.nodes[pe.to]
		if !ok {
			return nil, fmt.Errorf("network: edge %d references missing node %d", pe.id, pe.to)
		}

		e := &Edge{id: pe.id, from: from, to: to, maxV: pe.maxV}
		for i := 0; i < pe.laneCount; i++ {
			l := &Lane{
				id:     LaneID(pe.id, i),
				parent: e,
				index:  i,
				width:  pe.laneWidth,
				maxV:   pe.maxV,
			}
			l.initGeometry(offsetPolyline(pe.line, float64(i)*pe.laneWidth))
			if l.length <= 0 {
				return nil, fmt.Errorf("network: lane %d has zero length", l.id)
			}
			e.lanes = append(e.lanes, l)
			net.lanes[l.id] = l
			net.laneList = append(net.laneList, l)
		}
		for i, l := range e.lanes {
			if i > 0 {
				l.leftLane = e.lanes[i-1]
			}
			if i+1 < len(e.lanes) {
				l.rightLane = e.lanes[i+1]
			}
		}
		net.edges[pe.id] = e
		net.edgeList = append(net.edgeList, e)
		from.outEdges = append(from.outEdges, e)
		to.inEdges = append(to.inEdges, e)
	}

	// 车道拼接：边E的终点即边F的起点时，E的车道与F的车道按序号对齐
	for _, e := range net.edgeList {
		for _, f := range e.to.outEdges {
			for i, l := range e.lanes {
				j := i
				if j >= len(f.lanes) {
					j = len(f.lanes) - 1
				}
				next := f.lanes[j]
				l.successors = append(l.successors, next)
				next.predecessors = append(next.predecessors, l)
			}
		}
	}

	net.sortIndexes()
	return net, nil
}

// offsetPolyline 将折线沿行进方向右侧平移
// 参数：line-原始折线，offset-平移距离（米）
// 返回：平移后的折线
// 算法说明：每个顶点沿其所在折线段方向的右法线平移，
// 顶点i使用段min(i, n-2)的方向
func offsetPolyline(line []geometry.Point, offset float64) []geometry.Point {
	if offset == 0 {
		out := make([]geometry.Point, len(line))
		copy(out, line)
		return out
	}
	dirs := geometry.GetPolylineDirections(line)
	out := make([]geometry.Point, len(line))
	for i, p := range line {
		di := i
		if di > len(dirs)-1 {
			di = len(dirs) - 1
		}
		d := dirs[di].Direction
		out[i] = geometry.Point{
			X: p.X + math.Cos(d-math.Pi/2)*offset,
			Y: p.Y + math.Sin(d-math.Pi/2)*offset,
			Z: p.Z,
		}
	}
	return out
}
