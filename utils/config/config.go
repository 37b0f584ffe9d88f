package config

import (
	"fmt"

	"gopkg.in/yaml.v2"
)

// Error 配置错误
// 功能：描述配置加载或装配阶段发现的错误
// 说明：所有拓扑、控制器、奖励等标签构成封闭集合，
// 未知标签、非法取值、相互矛盾的配置都以该类型报告
type Error struct {
	Field  string // 出错的配置路径，可为空
	Reason string // 错误原因
}

// Error 实现error接口
func (e *Error) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// NewError 创建配置错误
// 参数：field-配置路径，format/args-错误原因
func NewError(field, format string, args ...any) *Error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DefaultVehicleAttr 默认车辆物理属性
// 返回：默认属性副本
func DefaultVehicleAttr() VehicleAttr {
	return VehicleAttr{
		Length:        5,
		Width:         2,
		MaxSpeed:      30,
		MaxA:          3,
		MaxBrakingA:   -7.5,
		UsualA:        2,
		UsualBrakingA: -4.5,
		MinGap:        2,
		Headway:       1,
	}
}

// Parse 解析并校验YAML配置
// 功能：严格模式解析YAML，填充默认值并做完整校验
// 参数：data-YAML字节流
// 返回：配置指针与错误
// 说明：未知YAML字段视为配置错误
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, NewError("", "bad yaml: %v", err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Clone 获取配置的深拷贝
// 功能：经YAML序列化往返复制全部嵌套结构
// 说明：并行评估时每个回合持有独立副本
func (c *Config) Clone() (*Config, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, NewError("", "clone: %v", err)
	}
	out := &Config{}
	if err := yaml.UnmarshalStrict(data, out); err != nil {
		return nil, NewError("", "clone: %v", err)
	}
	return out, nil
}

// ApplyDefaults 填充默认值
// 功能：为所有未指定的可选项填入默认值
// 算法说明：
// 1. 场景：循环顺序默认shared，各拓扑的离散度/车道数/限速默认值
// 2. 车辆组：路径控制按拓扑闭合性取默认，换道默认none，摆放默认uniform，
//    属性与默认属性合并（零值字段取默认值）
// 3. 奖励：默认desired_velocity
// 4. 连接器：默认local，超时默认5秒/30秒
func (c *Config) ApplyDefaults() {
	c.Scenario.ApplyDefaults()

	if c.Reward.Kind == "" {
		c.Reward.Kind = RewardDesiredVelocity
	}
	if c.Connector.Kind == "" {
		c.Connector.Kind = ConnectorLocal
	}
	defaultFloat(&c.Connector.StepTimeout, 5)
	defaultFloat(&c.Connector.StartTimeout, 30)
}

// ApplyDefaults 填充场景默认值
func (s *Scenario) ApplyDefaults() {
	if s.RouteRotation == "" {
		s.RouteRotation = RotationShared
	}
	if s.Ring != nil {
		defaultInt(&s.Ring.Segments, 4)
		defaultInt(&s.Ring.Lanes, 1)
		defaultFloat(&s.Ring.MaxSpeed, 30)
	}
	if s.FigureEight != nil {
		defaultInt(&s.FigureEight.Segments, 4)
		defaultInt(&s.FigureEight.Lanes, 1)
		defaultFloat(&s.FigureEight.MaxSpeed, 30)
	}
	if s.Merge != nil {
		defaultInt(&s.Merge.Lanes, 1)
		defaultFloat(&s.Merge.MaxSpeed, 30)
	}
	if s.Grid != nil {
		defaultInt(&s.Grid.Lanes, 1)
		defaultFloat(&s.Grid.MaxSpeed, 15)
	}
	if s.Highway != nil {
		defaultInt(&s.Highway.Segments, 1)
		defaultInt(&s.Highway.Lanes, 2)
		defaultFloat(&s.Highway.MaxSpeed, 30)
	}
	for i := range s.Vehicles {
		g := &s.Vehicles[i]
		if g.Routing == "" {
			// 闭合拓扑默认循环续接，开放拓扑默认驶到路径尽头离开
			switch s.Topology {
			case TopologyRing, TopologyFigureEight:
				g.Routing = RoutingConstant
			default:
				g.Routing = RoutingNone
			}
		}
		if g.LaneChange == "" {
			g.LaneChange = LaneChangeNone
		}
		if g.Depart == "" {
			g.Depart = DepartUniform
		}
		if g.Depart == DepartCustom && g.Count == 0 {
			g.Count = len(g.Positions)
		}
		attr := DefaultVehicleAttr()
		if g.Attr != nil {
			mergeAttr(&attr, *g.Attr)
		}
		g.Attr = &attr
	}
}

// Validate 校验配置
// 功能：检查配置的完整性与取值范围
// 返回：第一个发现的配置错误，全部合法时返回nil
func (c *Config) Validate() error {
	if err := c.Scenario.Validate(); err != nil {
		return err
	}
	if err := c.Control.Step.Validate(); err != nil {
		return err
	}

	if err := validateTag("reward.kind", c.Reward.Kind, RewardDesiredVelocity); err != nil {
		return err
	}
	if c.Reward.Kind == RewardDesiredVelocity && c.Reward.TargetSpeed <= 0 {
		return NewError("reward.target_speed", "must be positive, got %v", c.Reward.TargetSpeed)
	}
	if c.Reward.AccelPenalty < 0 {
		return NewError("reward.accel_penalty", "must be non-negative, got %v", c.Reward.AccelPenalty)
	}

	if c.Terminal.MinMeanSpeed < 0 {
		return NewError("terminal.min_mean_speed", "must be non-negative, got %v", c.Terminal.MinMeanSpeed)
	}
	if c.Terminal.AfterStep < 0 {
		return NewError("terminal.after_step", "must be non-negative, got %d", c.Terminal.AfterStep)
	}

	switch c.Connector.Kind {
	case ConnectorLocal:
	case ConnectorHTTP:
		if c.Connector.BaseURL == "" && c.Connector.Binary == "" {
			return NewError("connector", "http connector needs base_url or binary")
		}
		if c.Connector.Binary != "" && c.Connector.Listen == "" {
			return NewError("connector.listen", "required when binary is set")
		}
	default:
		return NewError("connector.kind", "unknown connector %q", c.Connector.Kind)
	}
	if c.Connector.StepTimeout <= 0 {
		return NewError("connector.step_timeout", "must be positive, got %v", c.Connector.StepTimeout)
	}

	return nil
}

// Validate 校验场景配置
// 算法说明：
// 1. 拓扑标签必须属于封闭集合且对应参数节不为空
// 2. 拓扑参数逐项检查取值范围
// 3. 车辆组逐组检查控制器标签、数量与摆放参数
func (s *Scenario) Validate() error {
	switch s.Topology {
	case TopologyRing:
		if s.Ring == nil {
			return NewError("scenario.ring", "missing section for topology %q", s.Topology)
		}
		if s.Ring.Length <= 0 {
			return NewError("scenario.ring.length", "must be positive, got %v", s.Ring.Length)
		}
		if s.Ring.Segments < 3 {
			return NewError("scenario.ring.segments", "need at least 3, got %d", s.Ring.Segments)
		}
		if lr := s.Ring.LengthRange; len(lr) > 0 {
			if len(lr) != 2 {
				return NewError("scenario.ring.length_range", "need [min, max], got %d values", len(lr))
			}
			if lr[0] <= 0 || lr[0] > lr[1] {
				return NewError("scenario.ring.length_range", "need 0 < min <= max, got %v", lr)
			}
		}
	case TopologyFigureEight:
		if s.FigureEight == nil {
			return NewError("scenario.figure_eight", "missing section for topology %q", s.Topology)
		}
		if s.FigureEight.Radius <= 0 {
			return NewError("scenario.figure_eight.radius", "must be positive, got %v", s.FigureEight.Radius)
		}
		if s.FigureEight.Segments < 3 {
			return NewError("scenario.figure_eight.segments", "need at least 3, got %d", s.FigureEight.Segments)
		}
	case TopologyMerge:
		if s.Merge == nil {
			return NewError("scenario.merge", "missing section for topology %q", s.Topology)
		}
		if s.Merge.MainLength <= 0 || s.Merge.RampLength <= 0 || s.Merge.OutLength <= 0 {
			return NewError("scenario.merge", "main_length, ramp_length and out_length must be positive")
		}
	case TopologyGrid:
		if s.Grid == nil {
			return NewError("scenario.grid", "missing section for topology %q", s.Topology)
		}
		if s.Grid.Rows < 2 || s.Grid.Cols < 2 {
			return NewError("scenario.grid", "need at least 2x2 nodes, got %dx%d", s.Grid.Rows, s.Grid.Cols)
		}
		if s.Grid.BlockLength <= 0 {
			return NewError("scenario.grid.block_length", "must be positive, got %v", s.Grid.BlockLength)
		}
	case TopologyHighway:
		if s.Highway == nil {
			return NewError("scenario.highway", "missing section for topology %q", s.Topology)
		}
		if s.Highway.Length <= 0 {
			return NewError("scenario.highway.length", "must be positive, got %v", s.Highway.Length)
		}
		if s.Highway.Segments < 1 {
			return NewError("scenario.highway.segments", "need at least 1, got %d", s.Highway.Segments)
		}
	case TopologyCityMap:
		if s.CityMap == nil {
			return NewError("scenario.city_map", "missing section for topology %q", s.Topology)
		}
		if s.CityMap.Map.File == "" && (s.CityMap.URI == "" || s.CityMap.Map.DB == "" || s.CityMap.Map.Col == "") && !s.CityMap.Map.OnlyCache {
			return NewError("scenario.city_map", "need either map.file or uri+map.db+map.col")
		}
	default:
		return NewError("scenario.topology", "unknown topology %q", s.Topology)
	}

	if err := validateTag("scenario.route_rotation", s.RouteRotation, RotationShared, RotationIndependent); err != nil {
		return err
	}
	if len(s.Vehicles) == 0 {
		return NewError("scenario.vehicles", "need at least one vehicle group")
	}
	for i := range s.Vehicles {
		if err := validateGroup(fmt.Sprintf("scenario.vehicles[%d]", i), &s.Vehicles[i]); err != nil {
			return err
		}
	}
	return nil
}

// Validate 校验时间控制配置
func (cs ControlStep) Validate() error {
	if cs.Total <= 0 {
		return NewError("control.step.total", "must be positive, got %d", cs.Total)
	}
	if cs.Interval <= 0 {
		return NewError("control.step.interval", "must be positive, got %v", cs.Interval)
	}
	if cs.Start < 0 {
		return NewError("control.step.start", "must be non-negative, got %d", cs.Start)
	}
	return nil
}

// validateGroup 校验单个车辆组
func validateGroup(field string, g *VehicleGroup) error {
	if err := validateTag(field+".acc", g.Acc, AccIDM, AccExternal, AccNoOp); err != nil {
		return err
	}
	if err := validateTag(field+".routing", g.Routing, RoutingConstant, RoutingNone); err != nil {
		return err
	}
	if err := validateTag(field+".lane_change", g.LaneChange, LaneChangeMOBIL, LaneChangeNone); err != nil {
		return err
	}
	if err := validateTag(field+".depart", g.Depart, DepartUniform, DepartCustom); err != nil {
		return err
	}
	switch g.Depart {
	case DepartUniform:
		if g.Count <= 0 {
			return NewError(field+".count", "must be positive, got %d", g.Count)
		}
		if len(g.Positions) > 0 {
			return NewError(field+".positions", "not allowed with depart=uniform")
		}
	case DepartCustom:
		if len(g.Positions) == 0 {
			return NewError(field+".positions", "required with depart=custom")
		}
		if g.Count != 0 && g.Count != len(g.Positions) {
			return NewError(field+".count", "must match positions (%d), got %d", len(g.Positions), g.Count)
		}
	}
	if g.Perturbation < 0 {
		return NewError(field+".perturbation", "must be non-negative, got %v", g.Perturbation)
	}
	if g.InitialV < 0 {
		return NewError(field+".initial_v", "must be non-negative, got %v", g.InitialV)
	}
	if g.NoiseA < 0 {
		return NewError(field+".noise_a", "must be non-negative, got %v", g.NoiseA)
	}
	a := g.Attr
	if a.Length <= 0 || a.Width <= 0 {
		return NewError(field+".attr", "length and width must be positive")
	}
	if a.MaxSpeed <= 0 || a.MaxA <= 0 || a.UsualA <= 0 {
		return NewError(field+".attr", "max_speed, max_a and usual_a must be positive")
	}
	if a.MaxBrakingA >= 0 || a.UsualBrakingA >= 0 {
		return NewError(field+".attr", "max_braking_a and usual_braking_a must be negative")
	}
	if a.MinGap < 0 || a.Headway < 0 {
		return NewError(field+".attr", "min_gap and headway must be non-negative")
	}
	return nil
}

// validateTag 校验封闭集合标签
func validateTag(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return NewError(field, "unknown tag %q, allowed: %v", value, allowed)
}

// mergeAttr 将覆盖值合并进默认属性（零值视为未指定）
func mergeAttr(dst *VehicleAttr, src VehicleAttr) {
	if src.Length != 0 {
		dst.Length = src.Length
	}
	if src.Width != 0 {
		dst.Width = src.Width
	}
	if src.MaxSpeed != 0 {
		dst.MaxSpeed = src.MaxSpeed
	}
	if src.MaxA != 0 {
		dst.MaxA = src.MaxA
	}
	if src.MaxBrakingA != 0 {
		dst.MaxBrakingA = src.MaxBrakingA
	}
	if src.UsualA != 0 {
		dst.UsualA = src.UsualA
	}
	if src.UsualBrakingA != 0 {
		dst.UsualBrakingA = src.UsualBrakingA
	}
	if src.MinGap != 0 {
		dst.MinGap = src.MinGap
	}
	if src.Headway != 0 {
		dst.Headway = src.Headway
	}
}

// defaultInt 零值时填充默认值
func defaultInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

// defaultFloat 零值时填充默认值
func defaultFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}
