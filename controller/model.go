package controller

import (
	"math"

	"git.fiblab.net/general/common/v2/mathutil"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/trafficgym-go/vehicle"
)

const (
	idmTheta = 4 // IDM模型速度项指数

	// zeroAThreshold 加速度零值判定阈值
	// 说明：加速度绝对值小于该值时不施加执行噪声
	zeroAThreshold = .1
)

var inf = mathutil.INF

// carModel 跟驰模型参数
// 功能：由车辆物理属性构成的IDM计算核心，纵向与换道策略共用
type carModel struct {
	maxA          float64 // 最大加速度
	maxBrakingA   float64 // 最大制动加速度（负值）
	usualBrakingA float64 // 常用制动加速度（负值）
	maxV          float64 // 最大速度
	length        float64 // 车长
	minGap        float64 // 最小车距
	headway       float64 // 安全车头时距
}

// newCarModel 由车辆属性创建跟驰模型
func newCarModel(attr vehicle.Attribute) carModel {
	return carModel{
		maxA:          attr.MaxA,
		maxBrakingA:   attr.MaxBrakingA,
		usualBrakingA: attr.UsualBrakingA,
		maxV:          attr.MaxSpeed,
		length:        attr.Length,
		minGap:        attr.MinGap,
		headway:       attr.Headway,
	}
}

// followImpl 跟驰模型核心实现
// 功能：实现智能驾驶模型(IDM)的跟驰逻辑
// 参数：selfV-本车速度，targetV-目标速度，aheadV-前车速度，
// distance-与前车净距，minGap-最小车距，headway-安全车头时距
// 返回：计算得到的加速度（米/秒²）
// 算法说明：
// 1. 净距不为正说明已经接触，输出最大制动
// 2. 期望车距：s_star = minGap + max(0, v*headway + v*(v-v_ahead)/(2*sqrt(a*b)))
// 3. 加速度：a = maxA * (1 - (v/targetV)^4 - (s_star/distance)^2)
// 4. 裁剪到[maxBrakingA, maxA]
func (m carModel) followImpl(selfV, targetV, aheadV, distance, minGap, headway float64) float64 {
	var acc float64
	if distance <= 0 {
		acc = -inf
	} else {
		// https://en.wikipedia.org/wiki/Intelligent_driver_model
		sStar := minGap + math.Max(
			0,
			selfV*headway+selfV*(selfV-aheadV)/2/math.Sqrt(-m.usualBrakingA*m.maxA),
		)
		acc = m.maxA * (1 - math.Pow(selfV/targetV, idmTheta) - math.Pow(sStar/distance, 2))
	}
	return lo.Clamp(acc, m.maxBrakingA, m.maxA)
}

// follow 跟驰模型（本车参数）
func (m carModel) follow(selfV, targetV, aheadV, distance float64) float64 {
	return m.followImpl(selfV, targetV, aheadV, distance, m.minGap, m.headway)
}
