// 路网静态模型：节点、边、车道与路径
//
// 路网在场景生成时构建，回合内不可变，可被控制器、引擎与连接器只读共享。
// 车道几何基于common/v2的geometry工具，与城市地图数据的车道语义保持一致。
package network

import (
	"fmt"
	"sort"

	"git.fiblab.net/general/common/v2/geometry"
)

// 车道相邻方向
const (
	LEFT  = 0 // 左侧
	RIGHT = 1 // 右侧
)

// Node 路网节点
// 功能：边的端点，承载边之间的连接关系
type Node struct {
	id       int32
	pos      geometry.Point
	inEdges  []*Edge // 以该节点为终点的边
	outEdges []*Edge // 以该节点为起点的边
}

// ID 获取节点ID
func (n *Node) ID() int32 {
	return n.id
}

// Pos 获取节点位置
func (n *Node) Pos() geometry.Point {
	return n.pos
}

// InEdges 获取入边列表
func (n *Node) InEdges() []*Edge {
	return n.inEdges
}

// OutEdges 获取出边列表
func (n *Node) OutEdges() []*Edge {
	return n.outEdges
}

// Edge 路段
// 功能：一组同向平行车道的集合，等价于城市地图中的道路
type Edge struct {
	id       int32
	from, to *Node
	lanes    []*Lane // 车道，0为最内侧
	maxV     float64
}

// ID 获取边ID
func (e *Edge) ID() int32 {
	return e.id
}

// From 获取起点节点
func (e *Edge) From() *Node {
	return e.from
}

// To 获取终点节点
func (e *Edge) To() *Node {
	return e.to
}

// Lanes 获取车道列表
func (e *Edge) Lanes() []*Lane {
	return e.lanes
}

// Lane 按序号获取车道，越界则panic
func (e *Edge) Lane(index int) *Lane {
	if index < 0 || index >= len(e.lanes) {
		log.Panicf("edge %d: lane index %d out of range [0, %d)", e.id, index, len(e.lanes))
	}
	return e.lanes[index]
}

// LaneCount 获取车道数
func (e *Edge) LaneCount() int {
	return len(e.lanes)
}

// Length 获取边长度（首车道中心线长度）
func (e *Edge) Length() float64 {
	return e.lanes[0].Length()
}

// MaxV 获取限速
func (e *Edge) MaxV() float64 {
	return e.maxV
}

// Successors 获取下游边列表
func (e *Edge) Successors() []*Edge {
	return e.to.outEdges
}

// String 获取边的字符串表示
func (e *Edge) String() string {
	return fmt.Sprintf("Edge{ID:%d, %d->%d}", e.id, e.from.id, e.to.id)
}

// Network 路网
// 功能：节点、边、车道的容器，提供按ID查找
// 说明：构建完成后只读
type Network struct {
	nodes    map[int32]*Node
	edges    map[int32]*Edge
	lanes    map[int32]*Lane
	nodeList []*Node // 按ID升序
	edgeList []*Edge // 按ID升序
	laneList []*Lane // 按ID升序
}

// Nodes 获取全部节点（按ID升序）
func (n *Network) Nodes() []*Node {
	return n.nodeList
}

// Edges 获取全部边（按ID升序）
func (n *Network) Edges() []*Edge {
	return n.edgeList
}

// Lanes 获取全部车道（按ID升序）
func (n *Network) Lanes() []*Lane {
	return n.laneList
}

// Edge 按ID查找边，如果不存在则panic
func (n *Network) Edge(id int32) *Edge {
	e, ok := n.edges[id]
	if !ok {
		log.Panicf("network: no edge %d", id)
	}
	return e
}

// EdgeOrError 按ID查找边，如果不存在则返回error
func (n *Network) EdgeOrError(id int32) (*Edge, error) {
	e, ok := n.edges[id]
	if !ok {
		return nil, fmt.Errorf("network: no edge %d", id)
	}
	return e, nil
}

// Lane 按ID查找车道，如果不存在则panic
func (n *Network) Lane(id int32) *Lane {
	l, ok := n.lanes[id]
	if !ok {
		log.Panicf("network: no lane %d", id)
	}
	return l
}

// LaneOrError 按ID查找车道，如果不存在则返回error
func (n *Network) LaneOrError(id int32) (*Lane, error) {
	l, ok := n.lanes[id]
	if !ok {
		return nil, fmt.Errorf("network: no lane %d", id)
	}
	return l, nil
}

// Node 按ID查找节点，如果不存在则panic
func (n *Network) Node(id int32) *Node {
	v, ok := n.nodes[id]
	if !ok {
		log.Panicf("network: no node %d", id)
	}
	return v
}

// TotalLaneLength 获取全部车道长度之和
// 说明：用于摆放容量检查与观测归一化
func (n *Network) TotalLaneLength() float64 {
	total := .0
	for _, l := range n.laneList {
		total += l.Length()
	}
	return total
}

// sortIndexes 重建有序列表
func (n *Network) sortIndexes() {
	sort.Slice(n.nodeList, func(i, j int) bool { return n.nodeList[i].id < n.nodeList[j].id })
	sort.Slice(n.edgeList, func(i, j int) bool { return n.edgeList[i].id < n.edgeList[j].id })
	sort.Slice(n.laneList, func(i, j int) bool { return n.laneList[i].id < n.laneList[j].id })
}
