package rollout_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/trafficgym-go/rollout"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/config"
)

// ringCfg 短回合环形场景，21辆IDM加1辆外控
func ringCfg() *config.Config {
	return &config.Config{
		Scenario: config.Scenario{
			Topology: config.TopologyRing,
			Seed:     10,
			Ring:     &config.Ring{Length: 230},
			Vehicles: []config.VehicleGroup{
				{Name: "idm", Count: 21, Acc: config.AccIDM},
				{Name: "rl", Count: 1, Acc: config.AccExternal},
			},
		},
		Control: config.Control{Step: config.ControlStep{Total: 20, Interval: 0.5}},
		Reward:  config.Reward{TargetSpeed: 5},
	}
}

func TestPolicies(t *testing.T) {
	assert.Equal(t, []float64{0, 0, 0}, rollout.ZeroPolicy{N: 3}.Act(nil))
	assert.Equal(t, []float64{-1, -1}, rollout.ConstantPolicy{Value: -1, N: 2}.Act(nil))
}

func TestRunZeroPolicy(t *testing.T) {
	cfg := ringCfg()
	sums, err := rollout.Run(cfg, rollout.ZeroPolicy{N: 1}, 3)
	require.NoError(t, err)
	require.Len(t, sums, 3)
	for i, s := range sums {
		assert.Equal(t, uint64(10+i), s.Seed)
		assert.Equal(t, int32(20), s.Steps)
		assert.Equal(t, "HORIZON", s.Reason)
		assert.Positive(t, s.Return)
	}

	// 相同配置重复评估产生相同摘要
	again, err := rollout.Run(cfg, rollout.ZeroPolicy{N: 1}, 3)
	require.NoError(t, err)
	assert.Equal(t, sums, again)
}

func TestRunCrashEpisodes(t *testing.T) {
	cfg := &config.Config{
		Scenario: config.Scenario{
			Topology: config.TopologyRing,
			Ring:     &config.Ring{Length: 400},
			Vehicles: []config.VehicleGroup{{
				Name:   "ballistic",
				Acc:    config.AccNoOp,
				Depart: config.DepartCustom,
				Positions: []config.Position{
					{Edge: 1, S: 10, V: 20},
					{Edge: 1, S: 20},
				},
			}},
		},
		Control: config.Control{Step: config.ControlStep{Total: 10, Interval: 0.5}},
		Reward:  config.Reward{TargetSpeed: 5},
	}
	sums, err := rollout.Run(cfg, rollout.ZeroPolicy{}, 2)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	for _, s := range sums {
		assert.Equal(t, "CRASH", s.Reason)
		assert.Equal(t, int32(1), s.Steps)
		assert.Zero(t, s.Return)
	}
}

func TestRunBadEpisodeCount(t *testing.T) {
	_, err := rollout.Run(ringCfg(), rollout.ZeroPolicy{N: 1}, 0)
	require.ErrorContains(t, err, "episodes must be positive")
}
