// 车辆镜像与注册表
//
// 桥接侧并不拥有车辆运动的真值，真值在仿真器中。本包维护每步从
// 仿真器状态回填的车辆镜像，供控制器与观测读取。控制阶段开始前
// 将运行时状态复制为快照，保证同一步内所有控制器读到一致的状态。
package vehicle

import (
	"fmt"

	"github.com/tsinghua-fib-lab/trafficgym-go/network"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/config"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/container"
)

// Attribute 车辆物理属性
// 说明：字段与城市地图数据的车辆属性语义一致，
// MaxBrakingA与UsualBrakingA为负值
type Attribute struct {
	Length        float64 `json:"length"`          // 车长（米）
	Width         float64 `json:"width"`           // 车宽（米）
	MaxSpeed      float64 `json:"max_speed"`       // 最大速度（米/秒）
	MaxA          float64 `json:"max_a"`           // 最大加速度（米/秒²）
	MaxBrakingA   float64 `json:"max_braking_a"`   // 最大制动加速度（米/秒²）
	UsualA        float64 `json:"usual_a"`         // 常用加速度（米/秒²）
	UsualBrakingA float64 `json:"usual_braking_a"` // 常用制动加速度（米/秒²）
	MinGap        float64 `json:"min_gap"`         // 最小车距（米）
	Headway       float64 `json:"headway"`         // 安全车头时距（秒）
}

// AttrFromConfig 由配置属性生成车辆属性
func AttrFromConfig(a config.VehicleAttr) Attribute {
	return Attribute{
		Length:        a.Length,
		Width:         a.Width,
		MaxSpeed:      a.MaxSpeed,
		MaxA:          a.MaxA,
		MaxBrakingA:   a.MaxBrakingA,
		UsualA:        a.UsualA,
		UsualBrakingA: a.UsualBrakingA,
		MinGap:        a.MinGap,
		Headway:       a.Headway,
	}
}

// Runtime 车辆运行时状态
// 功能：车辆的瞬时运动学状态，每步由仿真器报告回填
type Runtime struct {
	EdgeID    int32   // 所在边ID
	LaneIndex int     // 所在车道序号
	S         float64 // 车头沿车道弧长位置（米）
	V         float64 // 速度（米/秒）
	A         float64 // 加速度（米/秒²）
	X         float64 // 平面坐标X
	Y         float64 // 平面坐标Y
}

// Vehicle 车辆镜像
// 功能：桥接侧对单辆车的全部认知：属性、运行时状态、快照与路径
type Vehicle struct {
	container.IncrementalItemBase // 注册表增量数组中的下标

	id       int32
	attr     Attribute
	runtime  Runtime // 仿真器镜像
	snapshot Runtime // 控制阶段读取的快照

	route       *network.Route // 既定路径
	routeCursor int            // 当前边在路径中的下标

	node   *container.ListNode[*Vehicle] // 车道有序索引中的节点
	laneID int32                         // 节点所在车道ID
}

// New 创建车辆镜像
// 参数：id-车辆ID，attr-物理属性，rt-初始运行时状态，
// route-既定路径，cursor-当前边在路径中的下标
func New(id int32, attr Attribute, rt Runtime, route *network.Route, cursor int) *Vehicle {
	v := &Vehicle{
		id:          id,
		attr:        attr,
		runtime:     rt,
		snapshot:    rt,
		route:       route,
		routeCursor: cursor,
	}
	v.node = &container.ListNode[*Vehicle]{S: rt.S, Value: v}
	return v
}

// String 获取车辆的字符串表示
func (v *Vehicle) String() string {
	return fmt.Sprintf("Vehicle{ID:%d, Edge:%d, S:%.2f, V:%.2f}", v.id, v.runtime.EdgeID, v.runtime.S, v.runtime.V)
}

// ID 获取车辆ID
func (v *Vehicle) ID() int32 {
	return v.id
}

// Attr 获取车辆属性
func (v *Vehicle) Attr() Attribute {
	return v.attr
}

// Snapshot 获取控制阶段快照
func (v *Vehicle) Snapshot() Runtime {
	return v.snapshot
}

// RuntimeState 获取最新运行时状态
func (v *Vehicle) RuntimeState() Runtime {
	return v.runtime
}

// V 获取快照速度，用于车道有序索引的间距计算
func (v *Vehicle) V() float64 {
	return v.snapshot.V
}

// Length 获取车长
func (v *Vehicle) Length() float64 {
	return v.attr.Length
}

// Route 获取既定路径
func (v *Vehicle) Route() *network.Route {
	return v.route
}

// RouteCursor 获取当前边在路径中的下标
func (v *Vehicle) RouteCursor() int {
	return v.routeCursor
}

// SetRoute 重设既定路径
// 参数：route-新路径，cursor-当前边在新路径中的下标
func (v *Vehicle) SetRoute(route *network.Route, cursor int) {
	v.route = route
	v.routeCursor = cursor
}

// Prepare 将运行时状态复制为快照
// 说明：每步控制阶段开始前由注册表统一调用
func (v *Vehicle) Prepare() {
	v.snapshot = v.runtime
}

// setRuntime 回填运行时状态并推进路径游标
// 算法说明：所在边发生变化时在路径中向前检索新边，
// 找到则推进游标，找不到说明状态与路径失配
func (v *Vehicle) setRuntime(rt Runtime) error {
	if rt.EdgeID != v.runtime.EdgeID && v.route != nil {
		moved := false
		cursor := v.routeCursor
		// 一步最多跨过若干条短边，限制在路径长度内向前检索
		for step := 0; step < v.route.Len(); step++ {
			next, ok := v.route.Following(cursor)
			if !ok {
				break
			}
			cursor++
			if v.route.Closed() {
				cursor %= v.route.Len()
			}
			if next == rt.EdgeID {
				v.routeCursor = cursor
				moved = true
				break
			}
		}
		if !moved {
			return fmt.Errorf("vehicle %d: reported edge %d is not ahead on route %v", v.id, rt.EdgeID, v.route.EdgeIDs())
		}
	}
	v.runtime = rt
	return nil
}
