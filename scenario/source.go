package scenario

import (
	"context"
	"os"
	"sort"

	"git.fiblab.net/general/common/v2/cache"
	"git.fiblab.net/general/common/v2/geometry"
	"git.fiblab.net/general/common/v2/mongoutil"
	"git.fiblab.net/general/common/v2/protoutil"
	geov2 "git.fiblab.net/sim/protos/v2/go/city/geo/v2"
	mapv2 "git.fiblab.net/sim/protos/v2/go/city/map/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/trafficgym-go/network"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/config"
	"go.mongodb.org/mongo-driver/mongo"
)

// 城市地图车道缺省限速（米/秒）
const defaultCityMaxSpeed = 30.0

// loadCityMap 加载城市地图拓扑
// 功能：从文件或MongoDB加载城市地图protobuf并转换为路网
func loadCityMap(cm *config.CityMap) (*topology, error) {
	m, err := fetchMap(cm)
	if err != nil {
		return nil, err
	}
	return convertMap(m)
}

// fetchMap 获取地图数据
// 说明：file字段优先于MongoDB；数据库下载支持本地缓存
func fetchMap(cm *config.CityMap) (*mapv2.Map, error) {
	if cm.Map.File != "" {
		var m mapv2.Map
		if err := protoutil.UnmarshalFromFile(&m, cm.Map.File); err != nil {
			return nil, errors.Wrap(err, "scenario: load map from file")
		}
		return &m, nil
	}
	cacheDir := cm.CacheDir
	if cacheDir != "" {
		if stat, err := os.Stat(cacheDir); err != nil || !stat.IsDir() {
			log.Errorf("disable map cache because invalid dir %s (not exist or file)", cacheDir)
			cacheDir = ""
		}
	}
	if cm.URI == "" && !cm.Map.OnlyCache {
		return nil, config.NewError("scenario.city_map.uri", "required when no map file is given")
	}
	var client *mongo.Client
	if cm.URI != "" {
		client = mongoutil.NewClient(cm.URI)
		defer client.Disconnect(context.Background())
	}
	var downloadFunc func() *mapv2.Map
	if !cm.Map.OnlyCache {
		coll := mongoutil.GetMongoColl(client, cm.Map)
		downloadFunc = func() *mapv2.Map {
			pb, errs := mongoutil.DownloadPbFromMongo[mapv2.Map, *mapv2.Map](context.Background(), coll, nil, nil)
			if len(errs) > 0 {
				for _, err := range errs {
					log.Errorf("failed to download: %v", err)
				}
				log.Panicln("failed to download map")
			}
			return pb
		}
	}
	log.Infof("start fetching map from %s.%s", cm.Map.DB, cm.Map.Col)
	m, err := cache.LoadWithCache(cacheDir, cm.Map, downloadFunc)
	if err != nil {
		return nil, errors.Wrap(err, "scenario: load map")
	}
	log.Infof("finish fetching map from %s.%s", cm.Map.DB, cm.Map.Col)
	return m, nil
}

// convertMap 将城市地图转换为路网拓扑
// 功能：行车道路段转换为边，路口转换为节点
// 返回：开放拓扑，遍历序为全部边ID升序
// 算法说明：
// 1. 每条道路取其行车道（保持自左向右的车道顺序），无行车道的跳过
// 2. 最左行车道中心线作为边参考线，车道数取行车道数量
// 3. 经由车道前驱/后继连接定位所在路口作为边的端点，
//    没有路口连接的一端生成负ID的边界节点
// 4. 道路ID按升序重映射为从1递增的连续边ID
//    （原始ID超过车道ID编码上限）
// 说明：路口内部车道不建模，路口折算为零长度连接点；
// 借道路口相接的边在路网中直接成为前后继
func convertMap(m *mapv2.Map) (*topology, error) {
	laneByID := make(map[int32]*mapv2.Lane, len(m.Lanes))
	for _, l := range m.Lanes {
		laneByID[l.Id] = l
	}
	laneToJunction := make(map[int32]int32)
	junctionByID := make(map[int32]*mapv2.Junction, len(m.Junctions))
	for _, j := range m.Junctions {
		junctionByID[j.Id] = j
		for _, lid := range j.LaneIds {
			laneToJunction[lid] = j.Id
		}
	}

	roads := make([]*mapv2.Road, len(m.Roads))
	copy(roads, m.Roads)
	sort.Slice(roads, func(i, j int) bool { return roads[i].Id < roads[j].Id })

	b := network.NewBuilder()
	added := make(map[int32]bool)
	addNodeOnce := func(id int32, p geometry.Point) {
		if !added[id] {
			added[id] = true
			b.AddNode(id, p.X, p.Y)
		}
	}
	endpointJunction := func(conns []*mapv2.LaneConnection) (int32, bool) {
		for _, c := range conns {
			if jid, ok := laneToJunction[c.Id]; ok {
				return jid, true
			}
		}
		return 0, false
	}

	var order []int32
	edgeID := int32(0)
	boundaryID := int32(0)
	for _, road := range roads {
		drivingLanes := lo.FilterMap(road.LaneIds, func(lid int32, _ int) (*mapv2.Lane, bool) {
			l, ok := laneByID[lid]
			return l, ok && l.Type == mapv2.LaneType_LANE_TYPE_DRIVING
		})
		if len(drivingLanes) == 0 {
			continue
		}
		leftmost := drivingLanes[0]
		if leftmost.CenterLine == nil || len(leftmost.CenterLine.Nodes) < 2 {
			log.Warnf("skip road %d: lane %d has a degenerate center line", road.Id, leftmost.Id)
			continue
		}
		line := lo.Map(leftmost.CenterLine.Nodes, func(node *geov2.XYPosition, _ int) geometry.Point {
			return geometry.NewPointFromPb(node)
		})
		var fromID, toID int32
		if jid, ok := endpointJunction(leftmost.Predecessors); ok {
			fromID = jid
			addNodeOnce(jid, junctionCentroid(junctionByID[jid], laneByID, line[0]))
		} else {
			boundaryID--
			fromID = boundaryID
			addNodeOnce(fromID, line[0])
		}
		if jid, ok := endpointJunction(leftmost.Successors); ok {
			toID = jid
			addNodeOnce(jid, junctionCentroid(junctionByID[jid], laneByID, line[len(line)-1]))
		} else {
			boundaryID--
			toID = boundaryID
			addNodeOnce(toID, line[len(line)-1])
		}
		width := leftmost.Width
		if width <= 0 {
			width = defaultLaneWidth
		}
		maxV := leftmost.MaxSpeed
		if maxV <= 0 {
			maxV = defaultCityMaxSpeed
		}
		edgeID++
		b.AddEdge(edgeID, fromID, toID, len(drivingLanes), width, maxV, line)
		order = append(order, edgeID)
	}
	if len(order) == 0 {
		return nil, config.NewError("scenario.city_map", "map has no drivable roads")
	}
	net, err := b.Build()
	if err != nil {
		return nil, err
	}
	log.Infof("converted city map: %d roads -> %d edges, %d junctions kept",
		len(m.Roads), len(order), len(added)-int(-boundaryID))
	return &topology{net: net, order: order, closed: false}, nil
}

// junctionCentroid 计算路口的代表坐标
// 说明：取路口内部车道中心线首末点的均值，路口无可用车道时退回
// 到给定的道路端点
func junctionCentroid(j *mapv2.Junction, laneByID map[int32]*mapv2.Lane, fallback geometry.Point) geometry.Point {
	var sx, sy float64
	n := 0
	for _, lid := range j.LaneIds {
		l, ok := laneByID[lid]
		if !ok || l.CenterLine == nil || len(l.CenterLine.Nodes) == 0 {
			continue
		}
		nodes := l.CenterLine.Nodes
		for _, pb := range []*geov2.XYPosition{nodes[0], nodes[len(nodes)-1]} {
			p := geometry.NewPointFromPb(pb)
			sx += p.X
			sy += p.Y
			n++
		}
	}
	if n == 0 {
		return fallback
	}
	return geometry.Point{X: sx / float64(n), Y: sy / float64(n)}
}
