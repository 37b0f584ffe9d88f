package reward_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/trafficgym-go/env/reward"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/config"
)

func TestNew(t *testing.T) {
	f, err := reward.New(config.RewardDesiredVelocity)
	require.NoError(t, err)
	require.NotNil(t, f)

	_, err = reward.New("bogus")
	var cerr *config.Error
	require.ErrorAs(t, err, &cerr)
}

func TestDesiredVelocity(t *testing.T) {
	// 全体车速等于期望速度时奖励为1
	r := reward.DesiredVelocity(&reward.Input{Speeds: []float64{5, 5, 5}, Target: 5})
	assert.InDelta(t, 1, r, 1e-12)

	// 偏差按均方根折算
	r = reward.DesiredVelocity(&reward.Input{Speeds: []float64{2, 8}, Target: 5})
	assert.InDelta(t, 1-3.0/5, r, 1e-12)

	// 全体静止时基础项不为负
	r = reward.DesiredVelocity(&reward.Input{Speeds: []float64{0, 0}, Target: 5})
	assert.Zero(t, r)

	// 动作幅度惩罚
	r = reward.DesiredVelocity(&reward.Input{
		Speeds:       []float64{5, 5},
		Actions:      []float64{1, -3},
		Target:       5,
		AccelPenalty: 0.1,
	})
	assert.InDelta(t, 1-0.1*2, r, 1e-12)

	// 场上无车
	assert.Zero(t, reward.DesiredVelocity(&reward.Input{Target: 5}))
}
