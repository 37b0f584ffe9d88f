package config

// 拓扑类型标签，场景配置中的topology字段取值为封闭集合，
// 配置加载时校验，未知标签一律拒绝
const (
	TopologyRing        = "ring"         // 环形道路
	TopologyFigureEight = "figure_eight" // 8字形道路
	TopologyMerge       = "merge"        // 匝道合流
	TopologyGrid        = "grid"         // 网格路网
	TopologyHighway     = "highway"      // 直线高速路
	TopologyCityMap     = "city_map"     // 从城市地图文件/MongoDB加载
)

// 纵向加速度控制器标签
const (
	AccIDM      = "idm"      // IDM跟驰模型
	AccExternal = "external" // 外部注入动作（强化学习策略）
	AccNoOp     = "noop"     // 恒零加速度
)

// 路径控制器标签
const (
	RoutingConstant = "constant_route" // 既定路径+循环续接
	RoutingNone     = "none"           // 不做路径维护
)

// 换道控制器标签
const (
	LaneChangeMOBIL = "mobil" // MOBIL换道模型
	LaneChangeNone  = "none"  // 不换道
)

// 车辆初始摆放方式
const (
	DepartUniform = "uniform" // 均匀摆放（可带扰动）
	DepartCustom  = "custom"  // 显式给定位置
)

// 路径循环续接顺序
const (
	RotationShared      = "shared"      // 所有车辆共享一个循环顺序
	RotationIndependent = "independent" // 每辆车独立循环自己的路径
)

// 奖励函数标签
const (
	RewardDesiredVelocity = "desired_velocity" // 期望速度奖励
)

// 连接器类型标签
const (
	ConnectorLocal = "local" // 进程内参考引擎
	ConnectorHTTP  = "http"  // 外部仿真器进程，JSON/HTTP协议
)

// InputPath 指定输入数据来源的配置（MongoDB、文件系统）
// 功能：定义数据输入路径的配置结构，支持多种数据源
// 说明：支持MongoDB数据库和文件系统两种数据源，支持缓存机制
type InputPath struct {
	DB        string `yaml:"db"`                   // 数据库名
	Col       string `yaml:"col"`                  // 集合名
	Cache     string `yaml:"cache,omitempty"`      // 缓存文件名，为空则采用默认路径{db}.{col}.pb
	OnlyCache bool   `yaml:"only_cache,omitempty"` // 只从缓存中获取
	File      string `yaml:"file,omitempty"`       // 文件路径（优先级高于MongoDB）
}

// GetDb 获取数据库名
func (p InputPath) GetDb() string {
	return p.DB
}

// GetColl 获取集合名
func (p InputPath) GetColl() string {
	return p.Col
}

// GetCachePath 获取缓存文件路径
// 说明：未指定时采用默认命名规则{数据库名}.{集合名}.pb
func (p InputPath) GetCachePath() string {
	if p.Cache != "" {
		return p.Cache
	}
	return p.DB + "." + p.Col + ".pb"
}

// Ring 环形道路参数
type Ring struct {
	Length      float64   `yaml:"length"`                 // 环形总长度（米）
	LengthRange []float64 `yaml:"length_range,omitempty"` // 随机环长范围[min,max]（米），设置后每回合由种子重采样
	Segments    int       `yaml:"segments,omitempty"`     // 离散为多少条边，默认4
	Lanes       int       `yaml:"lanes,omitempty"`        // 每条边的车道数，默认1
	MaxSpeed    float64   `yaml:"max_speed,omitempty"`    // 限速（米/秒），默认30
}

// FigureEight 8字形道路参数
// 说明：两个相切的圆环经一个交叉点相连，形成单条闭合回路
type FigureEight struct {
	Radius   float64 `yaml:"radius"`              // 单个圆环半径（米）
	Segments int     `yaml:"segments,omitempty"`  // 每个圆环离散为多少条边，默认4
	Lanes    int     `yaml:"lanes,omitempty"`     // 车道数，默认1
	MaxSpeed float64 `yaml:"max_speed,omitempty"` // 限速（米/秒），默认30
}

// Merge 匝道合流参数
// 说明：主路与匝道在合流点汇入同一下游路段，开放路网
type Merge struct {
	MainLength float64 `yaml:"main_length"`         // 合流点上游主路长度（米）
	RampLength float64 `yaml:"ramp_length"`         // 匝道长度（米）
	OutLength  float64 `yaml:"out_length"`          // 合流点下游路段长度（米）
	Lanes      int     `yaml:"lanes,omitempty"`     // 主路车道数，默认1
	MaxSpeed   float64 `yaml:"max_speed,omitempty"` // 限速（米/秒），默认30
}

// Grid 网格路网参数
// 说明：Rows x Cols个节点的曼哈顿网格，相邻节点间双向连边
type Grid struct {
	Rows        int     `yaml:"rows"`                // 行数
	Cols        int     `yaml:"cols"`                // 列数
	BlockLength float64 `yaml:"block_length"`        // 相邻节点间距（米）
	Lanes       int     `yaml:"lanes,omitempty"`     // 车道数，默认1
	MaxSpeed    float64 `yaml:"max_speed,omitempty"` // 限速（米/秒），默认15
}

// Highway 直线高速路参数
type Highway struct {
	Length   float64 `yaml:"length"`              // 总长度（米）
	Segments int     `yaml:"segments,omitempty"`  // 离散为多少条边，默认1
	Lanes    int     `yaml:"lanes,omitempty"`     // 车道数，默认2
	MaxSpeed float64 `yaml:"max_speed,omitempty"` // 限速（米/秒），默认30
}

// CityMap 城市地图数据源参数
// 说明：加载既有的城市地图protobuf数据作为路网，仅取行车道
type CityMap struct {
	URI      string    `yaml:"uri,omitempty"`       // MongoDB连接字符串
	Map      InputPath `yaml:"map"`                 // 地图来源
	CacheDir string    `yaml:"cache_dir,omitempty"` // 下载缓存目录，为空则不缓存
}

// Position 显式车辆初始位置
type Position struct {
	Edge int32   `yaml:"edge"`           // 边ID
	Lane int     `yaml:"lane,omitempty"` // 车道序号（从内侧0开始）
	S    float64 `yaml:"s"`              // 沿车道弧长位置（米，车头）
	V    float64 `yaml:"v,omitempty"`    // 初速度（米/秒）
}

// VehicleAttr 车辆物理属性
// 说明：零值字段由默认属性填充，MaxBrakingA和UsualBrakingA为负值
type VehicleAttr struct {
	Length        float64 `yaml:"length,omitempty"`          // 车长（米）
	Width         float64 `yaml:"width,omitempty"`           // 车宽（米）
	MaxSpeed      float64 `yaml:"max_speed,omitempty"`       // 最大速度（米/秒）
	MaxA          float64 `yaml:"max_a,omitempty"`           // 最大加速度（米/秒²）
	MaxBrakingA   float64 `yaml:"max_braking_a,omitempty"`   // 最大制动加速度（米/秒²，负值）
	UsualA        float64 `yaml:"usual_a,omitempty"`         // 常用加速度（米/秒²）
	UsualBrakingA float64 `yaml:"usual_braking_a,omitempty"` // 常用制动加速度（米/秒²，负值）
	MinGap        float64 `yaml:"min_gap,omitempty"`         // 最小车距（米）
	Headway       float64 `yaml:"headway,omitempty"`         // 安全车头时距（秒）
}

// VehicleGroup 一组同构车辆的配置
// 功能：描述一组车辆的数量、控制器组合与初始摆放
type VehicleGroup struct {
	Name         string       `yaml:"name"`                   // 组名（用于日志与信息输出）
	Count        int          `yaml:"count"`                  // 车辆数量
	Acc          string       `yaml:"acc"`                    // 纵向控制器标签
	Routing      string       `yaml:"routing,omitempty"`      // 路径控制器标签，闭合拓扑默认constant_route，开放默认none
	LaneChange   string       `yaml:"lane_change,omitempty"`  // 换道控制器标签，默认none
	Depart       string       `yaml:"depart,omitempty"`       // 摆放方式，默认uniform
	Positions    []Position   `yaml:"positions,omitempty"`    // depart=custom时的显式位置
	Perturbation float64      `yaml:"perturbation,omitempty"` // 均匀摆放的位置扰动幅度（米）
	InitialV     float64      `yaml:"initial_v,omitempty"`    // 均匀摆放的初速度（米/秒），默认0
	NoiseA       float64      `yaml:"noise_a,omitempty"`      // IDM执行噪声幅度（米/秒²）
	Attr         *VehicleAttr `yaml:"attr,omitempty"`         // 属性覆盖
}

// Scenario 场景配置
// 功能：定义一次回合的路网拓扑与车辆构成
type Scenario struct {
	Topology      string         `yaml:"topology"`                 // 拓扑标签
	Seed          uint64         `yaml:"seed"`                     // 场景随机种子
	Ring          *Ring          `yaml:"ring,omitempty"`           // 环形参数
	FigureEight   *FigureEight   `yaml:"figure_eight,omitempty"`   // 8字形参数
	Merge         *Merge         `yaml:"merge,omitempty"`          // 合流参数
	Grid          *Grid          `yaml:"grid,omitempty"`           // 网格参数
	Highway       *Highway       `yaml:"highway,omitempty"`        // 高速路参数
	CityMap       *CityMap       `yaml:"city_map,omitempty"`       // 城市地图来源
	Vehicles      []VehicleGroup `yaml:"vehicles"`                 // 车辆组
	RouteRotation string         `yaml:"route_rotation,omitempty"` // 路径循环顺序，默认shared
}

// ControlStep 指定模拟时间范围和间隔的配置项
// 功能：定义仿真时间控制参数
type ControlStep struct {
	Start    int32   `yaml:"start"`    // 开始步数
	Total    int32   `yaml:"total"`    // 总步数（回合时长上限）
	Interval float64 `yaml:"interval"` // 每步的时间间隔（秒）
}

// Control 模拟控制配置
type Control struct {
	Step ControlStep `yaml:"step"`
}

// Observation 观测向量配置
type Observation struct {
	Normalize     bool `yaml:"normalize"`                // 速度/位置归一化
	IncludeLeader bool `yaml:"include_leader,omitempty"` // 外控车辆附加前车间距与前车速度特征
}

// Reward 奖励函数配置
type Reward struct {
	Kind         string  `yaml:"kind,omitempty"`          // 奖励标签，默认desired_velocity
	TargetSpeed  float64 `yaml:"target_speed"`            // 期望速度（米/秒）
	AccelPenalty float64 `yaml:"accel_penalty,omitempty"` // 外控动作幅度惩罚系数
}

// Terminal 终止谓词配置
// 说明：不配置时回合仅在到达时长上限或异常时结束
type Terminal struct {
	MinMeanSpeed float64 `yaml:"min_mean_speed,omitempty"` // 平均速度低于该值触发终止（米/秒）
	AfterStep    int32   `yaml:"after_step,omitempty"`     // 速度谓词自该步起生效
	AllArrived   bool    `yaml:"all_arrived,omitempty"`    // 全部外控车辆到达后终止（开放路网）
}

// Connector 仿真器连接配置
type Connector struct {
	Kind         string  `yaml:"kind,omitempty"`          // local | http，默认local
	BaseURL      string  `yaml:"base_url,omitempty"`      // http：已运行仿真器的地址
	Binary       string  `yaml:"binary,omitempty"`        // http：要拉起的仿真器可执行文件
	Listen       string  `yaml:"listen,omitempty"`        // http：拉起仿真器时的监听地址
	StepTimeout  float64 `yaml:"step_timeout,omitempty"`  // 单步交换超时（秒），默认5
	StartTimeout float64 `yaml:"start_timeout,omitempty"` // 启动就绪等待超时（秒），默认30
}

// Config YAML配置文件的根结构
// 功能：定义桥接环境的全部配置项
type Config struct {
	Scenario    Scenario    `yaml:"scenario"`              // 场景
	Control     Control     `yaml:"control"`               // 模拟过程控制
	Observation Observation `yaml:"observation,omitempty"` // 观测
	Reward      Reward      `yaml:"reward,omitempty"`      // 奖励
	Terminal    Terminal    `yaml:"terminal,omitempty"`    // 终止谓词
	Connector   Connector   `yaml:"connector,omitempty"`   // 连接器
}
