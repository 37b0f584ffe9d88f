package network

import (
	"git.fiblab.net/general/common/v2/geometry"
	"github.com/pkg/errors"
)

// NodeDef 节点的线上描述
type NodeDef struct {
	ID int32   `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// EdgeDef 边的线上描述
// 说明：Line为0号车道中心线顶点序列，元素为[x, y]
type EdgeDef struct {
	ID        int32       `json:"id"`
	From      int32       `json:"from"`
	To        int32       `json:"to"`
	LaneCount int         `json:"lanes"`
	LaneWidth float64     `json:"lane_width"`
	MaxV      float64     `json:"max_v"`
	Line      [][]float64 `json:"line"`
}

// Def 路网的线上描述
// 功能：连接器协议中传输路网所用的与仿真器无关的结构
// 说明：与Network互相转换无损（车道几何由边参数重建）
type Def struct {
	Nodes []NodeDef `json:"nodes"`
	Edges []EdgeDef `json:"edges"`
}

// Def 导出路网的线上描述
func (n *Network) Def() *Def {
	def := &Def{}
	for _, node := range n.nodeList {
		def.Nodes = append(def.Nodes, NodeDef{ID: node.id, X: node.pos.X, Y: node.pos.Y})
	}
	for _, e := range n.edgeList {
		line := make([][]float64, len(e.lanes[0].line))
		for i, p := range e.lanes[0].line {
			line[i] = []float64{p.X, p.Y}
		}
		def.Edges = append(def.Edges, EdgeDef{
			ID:        e.id,
			From:      e.from.id,
			To:        e.to.id,
			LaneCount: len(e.lanes),
			LaneWidth: e.lanes[0].width,
			MaxV:      e.maxV,
			Line:      line,
		})
	}
	return def
}

// FromDef 由线上描述重建路网
// 返回：路网指针与错误
func FromDef(def *Def) (*Network, error) {
	b := NewBuilder()
	for _, n := range def.Nodes {
		b.AddNode(n.ID, n.X, n.Y)
	}
	for _, e := range def.Edges {
		line := make([]geometry.Point, len(e.Line))
		for i, xy := range e.Line {
			if len(xy) < 2 {
				return nil, errors.Errorf("network: edge %d line vertex %d is not [x, y]", e.ID, i)
			}
			line[i] = geometry.Point{X: xy[0], Y: xy[1]}
		}
		b.AddEdge(e.ID, e.From, e.To, e.LaneCount, e.LaneWidth, e.MaxV, line)
	}
	net, err := b.Build()
	if err != nil {
		return nil, errors.Wrap(err, "rebuild network from def")
	}
	return net, nil
}
