// 批量评估：按种子序列并行运行回合并汇总
//
// 回合之间没有共享可变状态：每个回合持有独立的配置副本与环境实例。
// 策略会被多个回合并发调用，实现必须可并发使用。
package rollout

import (
	"fmt"

	"git.fiblab.net/general/common/v2/parallel"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/trafficgym-go/env"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/config"
)

// Policy 外控策略
type Policy interface {
	// Act 按观测产出动作向量
	Act(obs []float64) []float64
}

// ZeroPolicy 恒零动作策略
type ZeroPolicy struct {
	N int // 动作向量长度
}

// Act 实现Policy接口
func (p ZeroPolicy) Act([]float64) []float64 {
	return make([]float64, p.N)
}

// ConstantPolicy 恒定动作策略
type ConstantPolicy struct {
	Value float64
	N     int // 动作向量长度
}

// Act 实现Policy接口
func (p ConstantPolicy) Act([]float64) []float64 {
	return lo.Times(p.N, func(int) float64 { return p.Value })
}

// EpisodeSummary 单回合评估摘要
type EpisodeSummary struct {
	Seed   uint64  // 回合种子
	Steps  int32   // 实际执行步数
	Return float64 // 奖励总和
	Reason string  // 终局原因标签
}

// outcome 单回合执行结果
type outcome struct {
	sum EpisodeSummary
	err error
}

// Run 批量运行回合
// 功能：以配置种子的连续偏移构造回合种子序列，运行全部回合到终局
// 参数：cfg-环境配置，p-外控策略，episodes-回合数
// 返回：按种子顺序排列的回合摘要
// 说明：local连接器下回合间并行；http连接器的仿真器一次只服务
// 一个会话，逐回合串行执行
func Run(cfg *config.Config, p Policy, episodes int) ([]EpisodeSummary, error) {
	if episodes <= 0 {
		return nil, fmt.Errorf("rollout: episodes must be positive, got %d", episodes)
	}
	seeds := lo.Times(episodes, func(i int) uint64 { return cfg.Scenario.Seed + uint64(i) })
	var outs []*outcome
	if cfg.Connector.Kind == config.ConnectorHTTP {
		outs = lo.Map(seeds, func(seed uint64, _ int) *outcome { return play(cfg, p, seed) })
	} else {
		outs = parallel.GoMap(seeds, func(seed uint64) *outcome { return play(cfg, p, seed) })
	}
	sums := make([]EpisodeSummary, 0, len(outs))
	for _, o := range outs {
		if o.err != nil {
			return nil, o.err
		}
		sums = append(sums, o.sum)
	}
	return sums, nil
}

// play 运行单个回合到终局
func play(cfg *config.Config, p Policy, seed uint64) *outcome {
	// 独立副本，避免回合间共享可变配置
	c, err := cfg.Clone()
	if err != nil {
		return &outcome{err: err}
	}
	e, err := env.New(c)
	if err != nil {
		return &outcome{err: err}
	}
	defer e.Close()
	e.Seed(seed)
	obs, err := e.Reset()
	if err != nil {
		return &outcome{err: fmt.Errorf("rollout: episode with seed %d: %w", seed, err)}
	}
	sum := EpisodeSummary{Seed: seed}
	for {
		res, err := e.Step(p.Act(obs))
		if err != nil {
			return &outcome{err: fmt.Errorf("rollout: episode with seed %d: %w", seed, err)}
		}
		sum.Steps++
		sum.Return += res.Reward
		obs = res.Obs
		if res.Done {
			sum.Reason = res.Info.Reason
			break
		}
	}
	log.Debugf("episode with seed %d finished: %d steps, return %.3f, %s",
		seed, sum.Steps, sum.Return, sum.Reason)
	return &outcome{sum: sum}
}
