package scenario

import (
	"math"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/tsinghua-fib-lab/trafficgym-go/network"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/config"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/randengine"
)

// 圆弧折线离散的目标段长（米）
const arcStepLength = 5.0

// circlePoints 生成圆弧折线顶点
// 参数：cx/cy-圆心，r-半径，a0-起始角，step-角步长（负值为顺时针），n-段数
// 返回：n+1个顶点
func circlePoints(cx, cy, r, a0, step float64, n int) []geometry.Point {
	pts := make([]geometry.Point, n+1)
	for i := 0; i <= n; i++ {
		a := a0 + float64(i)*step
		pts[i] = geometry.Point{X: cx + r*math.Cos(a), Y: cy + r*math.Sin(a)}
	}
	return pts
}

// arcSubdivision 计算每条边的圆弧细分段数
func arcSubdivision(circumference float64, segments int) int {
	sub := int(math.Ceil(circumference / float64(segments) / arcStepLength))
	if sub < 1 {
		sub = 1
	}
	return sub
}

// buildRing 构建环形道路
// 算法说明：
// 1. 配置了length_range时先由种子在范围内重采样环长
// 2. 整圆均匀离散为segments*sub个顶点，半径取
//    L/(2*P*sin(π/P))（P为顶点数），使折线周长恰等于环长
// 3. 每段一条边，自最低点起逆时针行进，车道向外侧偏移
func buildRing(p *config.Ring, eng *randengine.Engine) (*topology, error) {
	length := p.Length
	if len(p.LengthRange) == 2 {
		length = p.LengthRange[0] + eng.Float64()*(p.LengthRange[1]-p.LengthRange[0])
	}
	segs := p.Segments
	sub := arcSubdivision(length, segs)
	total := segs * sub
	r := length / (2 * float64(total) * math.Sin(math.Pi/float64(total)))
	step := 2 * math.Pi / float64(total)
	start := -math.Pi / 2

	b := network.NewBuilder()
	for k := 0; k < segs; k++ {
		a := start + float64(k*sub)*step
		b.AddNode(int32(k+1), r*math.Cos(a), r*math.Sin(a))
	}
	order := make([]int32, segs)
	for k := 0; k < segs; k++ {
		id := int32(k + 1)
		line := circlePoints(0, 0, r, start+float64(k*sub)*step, step, sub)
		b.AddEdge(id, int32(k+1), int32((k+1)%segs+1), p.Lanes, defaultLaneWidth, p.MaxSpeed, line)
		order[k] = id
	}
	net, err := b.Build()
	if err != nil {
		return nil, err
	}
	return &topology{net: net, order: order, closed: true}, nil
}

// buildFigureEight 构建8字形道路
// 算法说明：两圆相切于原点，右环逆时针、左环顺时针行进，经过切点时
// 行进方向连续（均朝向负Y），两环依次相接构成单条闭合回路
func buildFigureEight(p *config.FigureEight) (*topology, error) {
	segs := p.Segments
	sub := arcSubdivision(2*math.Pi*p.Radius, segs)
	total := segs * sub
	step := 2 * math.Pi / float64(total)

	b := network.NewBuilder()
	b.AddNode(1, 0, 0) // 切点
	for k := 1; k < segs; k++ {
		a := math.Pi + float64(k*sub)*step
		b.AddNode(int32(k+1), p.Radius+p.Radius*math.Cos(a), p.Radius*math.Sin(a))
	}
	for k := 1; k < segs; k++ {
		a := -float64(k*sub) * step
		b.AddNode(int32(segs+k), -p.Radius+p.Radius*math.Cos(a), p.Radius*math.Sin(a))
	}
	// loop 0为右环、1为左环，k为环内节点序号，两环的首尾都是切点
	nodeAt := func(loop, k int) int32 {
		if k%segs == 0 {
			return 1
		}
		if loop == 0 {
			return int32(k + 1)
		}
		return int32(segs + k)
	}
	order := make([]int32, 0, 2*segs)
	for k := 0; k < segs; k++ {
		id := int32(k + 1)
		line := circlePoints(p.Radius, 0, p.Radius, math.Pi+float64(k*sub)*step, step, sub)
		b.AddEdge(id, nodeAt(0, k), nodeAt(0, k+1), p.Lanes, defaultLaneWidth, p.MaxSpeed, line)
		order = append(order, id)
	}
	for k := 0; k < segs; k++ {
		id := int32(segs + k + 1)
		line := circlePoints(-p.Radius, 0, p.Radius, -float64(k*sub)*step, -step, sub)
		b.AddEdge(id, nodeAt(1, k), nodeAt(1, k+1), p.Lanes, defaultLaneWidth, p.MaxSpeed, line)
		order = append(order, id)
	}
	net, err := b.Build()
	if err != nil {
		return nil, err
	}
	return &topology{net: net, order: order, closed: true}, nil
}

// buildMerge 构建匝道合流
// 说明：主路沿X轴正向，匝道自左下方以15度夹角汇入合流点，
// 匝道固定单车道并拼入下游最外侧车道之外的0号车道，
// 遍历序为[主路, 匝道, 下游]的开放序列
func buildMerge(p *config.Merge) (*topology, error) {
	const angle = math.Pi / 12
	rampX := -p.RampLength * math.Cos(angle)
	rampY := -p.RampLength * math.Sin(angle)

	b := network.NewBuilder()
	b.AddNode(1, -p.MainLength, 0)
	b.AddNode(2, 0, 0)
	b.AddNode(3, p.OutLength, 0)
	b.AddNode(4, rampX, rampY)
	b.AddEdge(1, 1, 2, p.Lanes, defaultLaneWidth, p.MaxSpeed,
		[]geometry.Point{{X: -p.MainLength}, {}})
	b.AddEdge(2, 4, 2, 1, defaultLaneWidth, p.MaxSpeed,
		[]geometry.Point{{X: rampX, Y: rampY}, {}})
	b.AddEdge(3, 2, 3, p.Lanes, defaultLaneWidth, p.MaxSpeed,
		[]geometry.Point{{}, {X: p.OutLength}})
	net, err := b.Build()
	if err != nil {
		return nil, err
	}
	return &topology{net: net, order: []int32{1, 2, 3}, closed: false}, nil
}

// buildGrid 构建曼哈顿网格
// 说明：Rows x Cols个节点，相邻节点间双向连边；节点ID按行优先
// 从1编号，边ID按行向（西东往返）在前、列向（南北往返）在后
// 依次分配，遍历序为全部边ID升序的开放序列
func buildGrid(p *config.Grid) (*topology, error) {
	b := network.NewBuilder()
	nodeID := func(r, c int) int32 { return int32(r*p.Cols + c + 1) }
	for r := 0; r < p.Rows; r++ {
		for c := 0; c < p.Cols; c++ {
			b.AddNode(nodeID(r, c), float64(c)*p.BlockLength, float64(r)*p.BlockLength)
		}
	}
	var order []int32
	id := int32(1)
	addBoth := func(n1, n2 int32, p1, p2 geometry.Point) {
		b.AddEdge(id, n1, n2, p.Lanes, defaultLaneWidth, p.MaxSpeed, []geometry.Point{p1, p2})
		order = append(order, id)
		id++
		b.AddEdge(id, n2, n1, p.Lanes, defaultLaneWidth, p.MaxSpeed, []geometry.Point{p2, p1})
		order = append(order, id)
		id++
	}
	at := func(r, c int) geometry.Point {
		return geometry.Point{X: float64(c) * p.BlockLength, Y: float64(r) * p.BlockLength}
	}
	for r := 0; r < p.Rows; r++ {
		for c := 0; c+1 < p.Cols; c++ {
			addBoth(nodeID(r, c), nodeID(r, c+1), at(r, c), at(r, c+1))
		}
	}
	for c := 0; c < p.Cols; c++ {
		for r := 0; r+1 < p.Rows; r++ {
			addBoth(nodeID(r, c), nodeID(r+1, c), at(r, c), at(r+1, c))
		}
	}
	net, err := b.Build()
	if err != nil {
		return nil, err
	}
	return &topology{net: net, order: order, closed: false}, nil
}

// buildHighway 构建直线高速路
func buildHighway(p *config.Highway) (*topology, error) {
	b := network.NewBuilder()
	segLen := p.Length / float64(p.Segments)
	for k := 0; k <= p.Segments; k++ {
		b.AddNode(int32(k+1), float64(k)*segLen, 0)
	}
	order := make([]int32, p.Segments)
	for k := 0; k < p.Segments; k++ {
		id := int32(k + 1)
		b.AddEdge(id, int32(k+1), int32(k+2), p.Lanes, defaultLaneWidth, p.MaxSpeed,
			[]geometry.Point{{X: float64(k) * segLen}, {X: float64(k+1) * segLen}})
		order[k] = id
	}
	net, err := b.Build()
	if err != nil {
		return nil, err
	}
	return &topology{net: net, order: order, closed: false}, nil
}
