// 随机数引擎，包装了golang.org/x/exp/rand，提供了一些常用的随机数生成方法
//
// 每个回合（episode）持有自己独立的引擎实例，种子完全由回合配置决定，
// 相同种子必须产生完全相同的随机数序列，因此不提供任何全局偏移量。
package randengine

import (
	"log"

	"golang.org/x/exp/rand"
)

// Engine 随机数引擎
// 功能：提供场景生成与控制器噪声所需的随机数生成功能
// 说明：基于golang.org/x/exp/rand库；回合内部为单线程锁步执行，
// 不需要线程安全版本
type Engine struct {
	*rand.Rand // 底层随机数生成器
}

// New 创建随机数引擎
// 功能：初始化一个新的随机数引擎实例
// 参数：seed-随机数种子
// 返回：随机数引擎指针
func New(seed uint64) *Engine {
	return &Engine{Rand: rand.New(rand.NewSource(seed))}
}

// PTrue 以指定概率返回true
// 功能：根据给定概率返回布尔值
// 参数：p-返回true的概率（0.0到1.0之间）
// 返回：true或false
func (e *Engine) PTrue(p float64) bool {
	return e.Float64() < p
}

// Jitter 生成[-amp, amp]范围内的均匀随机扰动
// 功能：用于初始车辆位置的扰动采样
// 参数：amp-扰动幅度（米），非正值直接返回0
// 返回：扰动量
func (e *Engine) Jitter(amp float64) float64 {
	if amp <= 0 {
		return 0
	}
	return (e.Float64()*2 - 1) * amp
}

// DiscreteDistribution 按给定概率分布生成随机数
// 功能：根据权重数组生成离散分布的随机数
// 参数：weight-权重数组，每个元素表示对应索引的概率权重
// 返回：随机生成的索引值（0到len(weight)-1）
// 算法说明：
// 1. 计算总权重：遍历权重数组计算总和
// 2. 生成随机数：在[0, 总权重)范围内生成随机数
// 3. 累积概率：遍历权重数组，累积概率直到超过随机数
// 4. 返回索引：返回第一个累积概率超过随机数的索引
// 5. 错误处理：如果算法异常则panic
func (e *Engine) DiscreteDistribution(weight []float64) int32 {
	random := .0
	for _, w := range weight {
		random += w
	}
	random *= e.Float64()
	sum := 0.
	for i, w := range weight {
		sum += w
		if sum > random {
			return int32(i)
		}
	}
	log.Panicf("randengine: DiscreteDistribution: sum: %f random: %f", sum, random)
	return -1
}
