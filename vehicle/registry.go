package vehicle

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/trafficgym-go/network"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/container"
)

// 前车检索的最大视距（米）
const viewDistance = 500.0

// Registry 车辆注册表
// 功能：按ID管理车辆镜像，同时维护每条车道上按位置有序的车辆索引
// 说明：添加和删除为延迟操作，Commit时统一生效并恢复车道索引的有序性；
// 遍历顺序与加入顺序一致
type Registry struct {
	net   *network.Network
	arr   *container.IncrementalArray[*Vehicle]
	byID  map[int32]*Vehicle
	lanes map[int32]*container.List[*Vehicle] // 车道ID → 按S有序的车辆链表

	pending map[int32][]*container.ListNode[*Vehicle] // 待并入各车道的节点
}

// NewRegistry 创建车辆注册表
func NewRegistry(net *network.Network) *Registry {
	return &Registry{
		net:     net,
		arr:     container.NewIncrementalArray[*Vehicle](),
		byID:    make(map[int32]*Vehicle),
		lanes:   make(map[int32]*container.List[*Vehicle]),
		pending: make(map[int32][]*container.ListNode[*Vehicle]),
	}
}

// Net 获取注册表绑定的路网
func (r *Registry) Net() *network.Network {
	return r.net
}

// Count 获取车辆数
func (r *Registry) Count() int {
	return len(r.byID)
}

// Add 添加车辆（等到Commit时才会进入遍历序列）
// 说明：ID重复时返回error
func (r *Registry) Add(v *Vehicle) error {
	if _, ok := r.byID[v.id]; ok {
		return fmt.Errorf("vehicle %d already registered", v.id)
	}
	lane, err := r.laneOf(v.runtime)
	if err != nil {
		return err
	}
	r.byID[v.id] = v
	r.arr.Add(v)
	v.laneID = lane.ID()
	v.node.S = v.runtime.S
	r.pending[v.laneID] = append(r.pending[v.laneID], v.node)
	return nil
}

// Get 按ID获取车辆
// 返回：车辆镜像，不存在时返回*UnknownVehicleError
func (r *Registry) Get(id int32) (*Vehicle, error) {
	v, ok := r.byID[id]
	if !ok {
		return nil, &UnknownVehicleError{ID: id}
	}
	return v, nil
}

// Has 判断车辆是否存在
func (r *Registry) Has(id int32) bool {
	_, ok := r.byID[id]
	return ok
}

// IDs 获取全部车辆ID，顺序与加入顺序一致
// 说明：反映上一次Commit之后的成员集合
func (r *Registry) IDs() []int32 {
	return lo.Map(r.arr.Data(), func(v *Vehicle, _ int) int32 { return v.id })
}

// Vehicles 获取全部车辆，顺序与加入顺序一致
// 说明：反映上一次Commit之后的成员集合，调用方不得修改
func (r *Registry) Vehicles() []*Vehicle {
	return r.arr.Data()
}

// Update 回填车辆运行时状态
// 功能：更新车辆镜像并同步车道索引中的位置
// 说明：车辆不存在时返回*UnknownVehicleError；
// 同车道内的次序在Commit时统一恢复
func (r *Registry) Update(id int32, rt Runtime) error {
	v, err := r.Get(id)
	if err != nil {
		return err
	}
	lane, err := r.laneOf(rt)
	if err != nil {
		return err
	}
	if err := v.setRuntime(rt); err != nil {
		return err
	}
	v.node.S = rt.S
	if lane.ID() != v.laneID {
		r.unlink(v)
		v.laneID = lane.ID()
		r.pending[v.laneID] = append(r.pending[v.laneID], v.node)
	}
	return nil
}

// Remove 删除车辆（车道索引立即生效，遍历序列等到Commit时生效）
// 说明：车辆不存在时返回*UnknownVehicleError
func (r *Registry) Remove(id int32) error {
	v, err := r.Get(id)
	if err != nil {
		return err
	}
	delete(r.byID, id)
	r.arr.Remove(v)
	r.unlink(v)
	return nil
}

// Prepare 将所有车辆的运行时状态复制为快照
// 说明：每步控制阶段开始前调用
func (r *Registry) Prepare() {
	for _, v := range r.arr.Data() {
		v.Prepare()
	}
}

// Commit 应用延迟的增删并恢复车道索引的有序性
// 算法说明：
// 1. 应用增量数组中的增删（保序压缩）
// 2. 从每条车道链表中弹出逆序节点
// 3. 将逆序节点与待并入节点一起归并回链表
func (r *Registry) Commit() {
	r.arr.Prepare()
	for laneID := range r.pending {
		r.laneList(laneID)
	}
	for laneID, list := range r.lanes {
		adds := list.PopUnsorted()
		adds = append(adds, r.pending[laneID]...)
		if len(adds) > 0 {
			list.Merge(adds)
		}
	}
	r.pending = make(map[int32][]*container.ListNode[*Vehicle])
}

// LaneList 获取车道上按S有序的车辆链表
// 返回：链表，车道上无车或车道不存在时返回nil；调用方不得修改
func (r *Registry) LaneList(laneID int32) *container.List[*Vehicle] {
	return r.lanes[laneID]
}

// laneList 获取车道链表，不存在时创建
func (r *Registry) laneList(laneID int32) *container.List[*Vehicle] {
	list, ok := r.lanes[laneID]
	if !ok {
		list = &container.List[*Vehicle]{ID: fmt.Sprintf("lane %d", laneID)}
		r.lanes[laneID] = list
	}
	return list
}

// Leader 获取前车信息
// 功能：检索自车前方最近的车辆，包括沿既定路径跨车道检索
// 返回：gap-自车车头到前车车尾的净距（米），leaderV-前车速度，found-是否存在前车
// 算法说明：
// 1. 当前车道链表中的后继节点即前车
// 2. 当前车道前方无车时，沿既定路径逐车道向下游检索
// 3. 闭合路径绕行一圈后检索到自身时，前车即为自己（环上独车）
// 4. 累计距离超过视距时认为前方无车
func (r *Registry) Leader(id int32) (gap, leaderV float64, found bool, err error) {
	v, err := r.Get(id)
	if err != nil {
		return 0, 0, false, err
	}
	node := v.node
	if node.Parent() == nil {
		log.Panicf("vehicle %d not indexed, Commit not called", id)
	}
	if next := node.Next(); next != nil {
		return next.S - next.L() - node.S, next.V(), true, nil
	}
	route := v.route
	if route == nil {
		return 0, 0, false, nil
	}
	lane, err := r.laneOf(v.runtime)
	if err != nil {
		return 0, 0, false, err
	}
	remain := lane.Length() - node.S
	cursor := v.routeCursor
	for step := 0; remain < viewDistance && step < route.Len(); step++ {
		nextEdgeID, ok := route.Following(cursor)
		if !ok {
			break
		}
		cursor++
		if route.Closed() {
			cursor %= route.Len()
		}
		nextEdge, err := r.net.EdgeOrError(nextEdgeID)
		if err != nil {
			return 0, 0, false, err
		}
		li := v.runtime.LaneIndex
		if li >= nextEdge.LaneCount() {
			li = nextEdge.LaneCount() - 1
		}
		nextLane := nextEdge.Lane(li)
		if list := r.lanes[nextLane.ID()]; list != nil && list.Len() > 0 {
			first := list.First()
			if first.Value == v {
				// 环上只有自己
				return route.Length() - v.attr.Length, v.snapshot.V, true, nil
			}
			return remain + first.S - first.L(), first.V(), true, nil
		}
		remain += nextLane.Length()
	}
	return 0, 0, false, nil
}

// Follower 获取同车道后车信息
// 返回：gap-后车车头到自车车尾的净距（米），followerV-后车速度，found-是否存在后车
// 说明：只查当前车道链表，不沿路径向上游回溯
func (r *Registry) Follower(id int32) (gap, followerV float64, found bool, err error) {
	v, err := r.Get(id)
	if err != nil {
		return 0, 0, false, err
	}
	node := v.node
	if node.Parent() == nil {
		log.Panicf("vehicle %d not indexed, Commit not called", id)
	}
	if prev := node.Prev(); prev != nil {
		return node.S - v.attr.Length - prev.S, prev.V(), true, nil
	}
	return 0, 0, false, nil
}

// Neighbors 获取侧向车道上以自车位置为界的前后车节点
// 参数：side-LEFT或RIGHT
// 返回：ahead/behind-前后车节点（可为nil），hasLane-该侧车道是否存在
func (r *Registry) Neighbors(id int32, side int) (ahead, behind *container.ListNode[*Vehicle], hasLane bool, err error) {
	v, err := r.Get(id)
	if err != nil {
		return nil, nil, false, err
	}
	lane, err := r.laneOf(v.runtime)
	if err != nil {
		return nil, nil, false, err
	}
	neighbor := lane.NeighborLane(side)
	if neighbor == nil {
		return nil, nil, false, nil
	}
	list := r.lanes[neighbor.ID()]
	if list == nil {
		return nil, nil, true, nil
	}
	for node := list.First(); node != nil; node = node.Next() {
		if node.S >= v.node.S {
			return node, node.Prev(), true, nil
		}
	}
	return nil, list.Last(), true, nil
}

// laneOf 由运行时状态定位车道
func (r *Registry) laneOf(rt Runtime) (*network.Lane, error) {
	edge, err := r.net.EdgeOrError(rt.EdgeID)
	if err != nil {
		return nil, err
	}
	if rt.LaneIndex < 0 || rt.LaneIndex >= edge.LaneCount() {
		return nil, fmt.Errorf("edge %d: lane index %d out of range [0, %d)", rt.EdgeID, rt.LaneIndex, edge.LaneCount())
	}
	return edge.Lane(rt.LaneIndex), nil
}

// unlink 将车辆节点从车道索引中摘除
func (r *Registry) unlink(v *Vehicle) {
	if v.node.Parent() != nil {
		v.node.Parent().Remove(v.node)
		return
	}
	// 尚未并入链表，从待并入列表中移除
	staged := r.pending[v.laneID]
	for i, n := range staged {
		if n == v.node {
			r.pending[v.laneID] = append(staged[:i], staged[i+1:]...)
			return
		}
	}
}
