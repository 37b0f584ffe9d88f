package network

import (
	"fmt"
	"math"
)

// Route 路径
// 功能：一串首尾相连的边，车辆沿其行驶
// 说明：构建时校验连通性；首尾相接的路径视为闭合，
// 闭合路径可无限循环续接
type Route struct {
	edgeIDs []int32
	closed  bool
	length  float64
}

// NewRoute 创建路径
// 功能：校验边序列的连通性并计算总长度
// 参数：net-路网，edgeIDs-边ID序列
// 返回：路径指针与错误
// 算法说明：
// 1. 序列非空且每条边存在
// 2. 相邻两条边必须通过共享节点相连
// 3. 末边终点与首边起点相同时标记为闭合
func NewRoute(net *Network, edgeIDs []int32) (*Route, error) {
	if len(edgeIDs) == 0 {
		return nil, fmt.Errorf("route: empty edge sequence")
	}
	r := &Route{edgeIDs: append([]int32(nil), edgeIDs...)}
	var prev *Edge
	for i, id := range edgeIDs {
		e, err := net.EdgeOrError(id)
		if err != nil {
			return nil, err
		}
		if prev != nil && prev.to != e.from {
			return nil, fmt.Errorf("route: edge %d does not follow edge %d", id, edgeIDs[i-1])
		}
		r.length += e.Length()
		prev = e
	}
	first := net.Edge(edgeIDs[0])
	r.closed = prev.to == first.from
	return r, nil
}

// EdgeIDs 获取边ID序列
func (r *Route) EdgeIDs() []int32 {
	return r.edgeIDs
}

// Len 获取边数量
func (r *Route) Len() int {
	return len(r.edgeIDs)
}

// At 按下标获取边ID，越界则panic
func (r *Route) At(i int) int32 {
	return r.edgeIDs[i]
}

// Closed 路径是否闭合
func (r *Route) Closed() bool {
	return r.closed
}

// Length 获取路径总长度
func (r *Route) Length() float64 {
	return r.length
}

// Following 获取下标i之后的边ID
// 功能：顺序前进一步，闭合路径在末尾回绕到起点
// 返回：下一条边ID与是否存在
func (r *Route) Following(i int) (int32, bool) {
	if i+1 < len(r.edgeIDs) {
		return r.edgeIDs[i+1], true
	}
	if r.closed {
		return r.edgeIDs[0], true
	}
	return 0, false
}

// String 获取路径的字符串表示
func (r *Route) String() string {
	return fmt.Sprintf("Route{Edges:%v, Closed:%v}", r.edgeIDs, r.closed)
}

// StraightSuccessor 选取与当前边末端方向最接近的下游边
// 功能：沿几何直行方向续接路径时的下一跳选择
// 返回：与末端方向夹角不超过45度的最优下游边，无则返回nil
// 说明：夹角以0号车道折线方向计算，掉头方向自然被排除
func StraightSuccessor(e *Edge) *Edge {
	lane := e.Lane(0)
	inDir := lane.GetDirectionByS(lane.Length()).Direction
	var best *Edge
	bestDiff := math.Pi/4 + 1e-9
	for _, f := range e.Successors() {
		outLane := f.Lane(0)
		outDir := outLane.GetDirectionByS(0).Direction
		diff := math.Abs(angleDiff(outDir, inDir))
		if diff < bestDiff {
			bestDiff = diff
			best = f
		}
	}
	return best
}

// ExtendStraight 沿直行方向延伸边序列
// 功能：从末边出发最多延伸maxEdges条边，不重复访问
// 参数：net-路网，edgeIDs-当前边序列，maxEdges-最多延伸的边数
// 返回：延伸出的边ID（可能为空）
func ExtendStraight(net *Network, edgeIDs []int32, maxEdges int) []int32 {
	if len(edgeIDs) == 0 || maxEdges <= 0 {
		return nil
	}
	visited := make(map[int32]struct{}, len(edgeIDs))
	for _, id := range edgeIDs {
		visited[id] = struct{}{}
	}
	var added []int32
	cur := net.Edge(edgeIDs[len(edgeIDs)-1])
	for len(added) < maxEdges {
		next := StraightSuccessor(cur)
		if next == nil {
			break
		}
		if _, ok := visited[next.ID()]; ok {
			break
		}
		added = append(added, next.ID())
		visited[next.ID()] = struct{}{}
		cur = next
	}
	return added
}

// angleDiff 计算两个方向角的差，归一化到(-π, π]
func angleDiff(a, b float64) float64 {
	return math.Mod(a-b+3*math.Pi, 2*math.Pi) - math.Pi
}
