package network

import (
	"fmt"
	"math"

	"git.fiblab.net/general/common/v2/geometry"
)

// Lane 车道
// 功能：车辆运动的最小载体，带有中心线几何与拼接关系
// 说明：同一条边内的车道相互平行，序号0为最内侧；
// 车道间的前后拼接关系在路网构建时固化
type Lane struct {
	id     int32
	parent *Edge
	index  int // 在边内的序号

	line           []geometry.Point             // 中心线折线
	lineLengths    []float64                    // 中心线折线的长度前缀和
	lineDirections []geometry.PolylineDirection // 中心线折线段每一段的方向（atan2）
	length         float64                      // 车道长度
	width          float64                      // 车道宽度
	maxV           float64                      // 限速

	predecessors []*Lane // 上游拼接车道
	successors   []*Lane // 下游拼接车道
	leftLane     *Lane   // 左侧相邻车道
	rightLane    *Lane   // 右侧相邻车道
}

// String 获取车道的字符串表示
func (l *Lane) String() string {
	return fmt.Sprintf("Lane{ID:%d, Edge:%d, Index:%d}", l.id, l.parent.id, l.index)
}

// ID 获取车道ID
func (l *Lane) ID() int32 {
	return l.id
}

// Parent 获取所在边
func (l *Lane) Parent() *Edge {
	return l.parent
}

// Index 获取车道在边内的序号
func (l *Lane) Index() int {
	return l.index
}

// Length 获取车道长度
func (l *Lane) Length() float64 {
	return l.length
}

// Width 获取车道宽度
func (l *Lane) Width() float64 {
	return l.width
}

// MaxV 获取限速
func (l *Lane) MaxV() float64 {
	return l.maxV
}

// CenterLine 获取车道中心线
func (l *Lane) CenterLine() []geometry.Point {
	return l.line
}

// Predecessors 获取上游拼接车道
func (l *Lane) Predecessors() []*Lane {
	return l.predecessors
}

// Successors 获取下游拼接车道
func (l *Lane) Successors() []*Lane {
	return l.successors
}

// UniqueSuccessor 获取唯一下游拼接车道
// 返回：唯一下游车道，不唯一或不存在时返回error
func (l *Lane) UniqueSuccessor() (*Lane, error) {
	if len(l.successors) != 1 {
		return nil, fmt.Errorf("lane %d has %d successors, not unique", l.id, len(l.successors))
	}
	return l.successors[0], nil
}

// SuccessorInEdge 获取位于指定边上的下游拼接车道
// 参数：edgeID-下游边ID
// 返回：该边上的拼接车道，不存在时返回nil
func (l *Lane) SuccessorInEdge(edgeID int32) *Lane {
	for _, s := range l.successors {
		if s.parent.id == edgeID {
			return s
		}
	}
	return nil
}

// LeftLane 获取左侧相邻车道，不存在时返回nil
func (l *Lane) LeftLane() *Lane {
	return l.leftLane
}

// RightLane 获取右侧相邻车道，不存在时返回nil
func (l *Lane) RightLane() *Lane {
	return l.rightLane
}

// NeighborLane 按方向获取相邻车道
// 参数：side-LEFT或RIGHT
func (l *Lane) NeighborLane(side int) *Lane {
	switch side {
	case LEFT:
		return l.leftLane
	case RIGHT:
		return l.rightLane
	default:
		log.Panicf("lane %d: bad neighbor side %d", l.id, side)
		return nil
	}
}

// GetPositionByS 由弧长位置计算坐标
// 功能：将沿车道的一维位置转换为平面坐标
// 参数：s-沿车道弧长（会被裁剪到[0, length]）
// 返回：平面坐标
// 算法说明：
// 1. 在长度前缀和中定位s所在的折线段
// 2. 在该段上线性插值
func (l *Lane) GetPositionByS(s float64) (pos geometry.Point) {
	s = clampS(s, l.length)
	for i := 1; i < len(l.lineLengths); i++ {
		if s <= l.lineLengths[i] {
			segLen := l.lineLengths[i] - l.lineLengths[i-1]
			k := .0
			if segLen > 0 {
				k = (s - l.lineLengths[i-1]) / segLen
			}
			return geometry.Blend(l.line[i-1], l.line[i], k)
		}
	}
	return l.line[len(l.line)-1]
}

// GetDirectionByS 由弧长位置计算方向角
// 参数：s-沿车道弧长（会被裁剪到[0, length]）
// 返回：折线段方向
func (l *Lane) GetDirectionByS(s float64) (direction geometry.PolylineDirection) {
	s = clampS(s, l.length)
	for i := 1; i < len(l.lineLengths); i++ {
		if s <= l.lineLengths[i] {
			return l.lineDirections[i-1]
		}
	}
	return l.lineDirections[len(l.lineDirections)-1]
}

// initGeometry 由中心线初始化车道几何
func (l *Lane) initGeometry(line []geometry.Point) {
	l.line = line
	l.lineLengths = geometry.GetPolylineLengths2D(line)
	l.lineDirections = geometry.GetPolylineDirections(line)
	l.length = l.lineLengths[len(l.lineLengths)-1]
}

// clampS 把弧长裁剪到[0, length]
func clampS(s, length float64) float64 {
	return math.Max(0, math.Min(s, length))
}
