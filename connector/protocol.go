// 仿真器连接层：以场景定义初始化仿真器，按步交换指令批与车辆状态
//
// 协议载荷全部为JSON可序列化结构，进程内连接器与HTTP连接器共用。
package connector

import (
	"context"

	"github.com/tsinghua-fib-lab/trafficgym-go/scenario"
)

// 指令中表示不变道的取值
const NoLaneChange = -1

// Command 单车控制指令
type Command struct {
	VehicleID  int32   `json:"vehicle_id"`
	A          float64 `json:"a"`                     // 加速度（米/秒²）
	LC         int     `json:"lc"`                    // NoLaneChange不变道，否则为目标侧
	RouteEdges []int32 `json:"route_edges,omitempty"` // 非空时替换既定路径
}

// CommandBatch 单步指令批
// 说明：一步恰好推送一批，Step必须与仿真器当前步一致
type CommandBatch struct {
	Step     int32     `json:"step"`
	Commands []Command `json:"commands"`
}

// VehicleState 单车回报状态
type VehicleState struct {
	ID        int32   `json:"id"`
	EdgeID    int32   `json:"edge_id"`
	LaneIndex int     `json:"lane_index"`
	S         float64 `json:"s"` // 车头沿车道弧长（米）
	V         float64 `json:"v"`
	A         float64 `json:"a"` // 实际执行的加速度
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// Collision 碰撞记录
type Collision struct {
	LaneID  int32   `json:"lane_id"`
	First   int32   `json:"first"`   // 前车
	Second  int32   `json:"second"`  // 后车
	Overlap float64 `json:"overlap"` // 车身重叠长度（米）
}

// StepResult 单步推进结果
// 说明：Start返回第0步的初始状态，之后每次Step返回推进后的状态；
// States按车辆ID升序排列
type StepResult struct {
	Step       int32          `json:"step"`
	T          float64        `json:"t"`
	States     []VehicleState `json:"states"`
	Collisions []Collision    `json:"collisions,omitempty"`
	Arrived    []int32        `json:"arrived,omitempty"`
}

// Connector 仿真器连接器
// 功能：桥接环境与仿真器之间的会话抽象
// 说明：Start可在任意时刻再次调用以重置会话；实现不要求并发安全，
// 一个连接器同一时间只服务一个回合
type Connector interface {
	// Start 以场景定义初始化（或重置）仿真器
	// 返回：初始车辆状态
	Start(ctx context.Context, def *scenario.Definition) (*StepResult, error)
	// Step 推送指令批并推进一步
	Step(ctx context.Context, batch *CommandBatch) (*StepResult, error)
	// Close 结束会话并释放资源
	Close() error
}
