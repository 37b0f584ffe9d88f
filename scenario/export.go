package scenario

import (
	"os"

	"git.fiblab.net/general/common/v2/geometry"
	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	personv2 "git.fiblab.net/sim/protos/v2/go/city/person/v2"
	geojson "github.com/paulmach/go.geojson"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/trafficgym-go/network"
	"google.golang.org/protobuf/proto"
)

// ToGeoJSON 导出场景为GeoJSON
// 功能：车道中心线导出为LineString要素，节点与初始车辆位置导出为
// Point要素
// 返回：GeoJSON字节串与错误
// 说明：用于在通用GIS工具中检视生成的场景
func (d *Definition) ToGeoJSON() ([]byte, error) {
	net, err := d.Network()
	if err != nil {
		return nil, err
	}
	fc := geojson.NewFeatureCollection()
	for _, e := range net.Edges() {
		for _, l := range e.Lanes() {
			coords := lo.Map(l.CenterLine(), func(p geometry.Point, _ int) []float64 {
				return []float64{p.X, p.Y}
			})
			f := geojson.NewLineStringFeature(coords)
			f.SetProperty("kind", "lane")
			f.SetProperty("edge", e.ID())
			f.SetProperty("lane", l.ID())
			f.SetProperty("index", l.Index())
			f.SetProperty("length", l.Length())
			f.SetProperty("max_speed", l.MaxV())
			fc.AddFeature(f)
		}
	}
	for _, n := range net.Nodes() {
		f := geojson.NewPointFeature([]float64{n.Pos().X, n.Pos().Y})
		f.SetProperty("kind", "node")
		f.SetProperty("node", n.ID())
		fc.AddFeature(f)
	}
	for _, p := range d.Placements {
		pos := net.Edge(p.EdgeID).Lane(p.LaneIndex).GetPositionByS(p.S)
		f := geojson.NewPointFeature([]float64{pos.X, pos.Y})
		f.SetProperty("kind", "vehicle")
		f.SetProperty("vehicle", p.VehicleID)
		f.SetProperty("group", p.Group)
		f.SetProperty("v", p.V)
		fc.AddFeature(f)
	}
	return fc.MarshalJSON()
}

// ExportCityPersons 导出初始车辆为城市人员protobuf文件
// 功能：每个摆放转换为一个带车辆属性与车道位置的Person
// 参数：path-输出文件路径
// 说明：便于把生成的场景喂给接受城市数据格式的仿真器；
// 车道ID采用本路网的edgeID*100+laneIndex编码
func (d *Definition) ExportCityPersons(path string) error {
	persons := &personv2.Persons{
		Persons: make([]*personv2.Person, 0, len(d.Placements)),
	}
	for _, p := range d.Placements {
		persons.Persons = append(persons.Persons, &personv2.Person{
			Id: p.VehicleID,
			VehicleAttribute: &personv2.VehicleAttribute{
				Length:                   p.Attr.Length,
				Width:                    p.Attr.Width,
				MaxSpeed:                 p.Attr.MaxSpeed,
				MaxAcceleration:          p.Attr.MaxA,
				MaxBrakingAcceleration:   p.Attr.MaxBrakingA,
				UsualAcceleration:        p.Attr.UsualA,
				UsualBrakingAcceleration: p.Attr.UsualBrakingA,
				MinGap:                   p.Attr.MinGap,
				Headway:                  p.Attr.Headway,
			},
			Home: &geov2.Position{
				LanePosition: &geov2.LanePosition{LaneId: network.LaneID(p.EdgeID, p.LaneIndex), S: p.S},
			},
		})
	}
	b, err := proto.Marshal(persons)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
