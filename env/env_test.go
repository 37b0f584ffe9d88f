package env_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/trafficgym-go/connector"
	"github.com/tsinghua-fib-lab/trafficgym-go/engine"
	"github.com/tsinghua-fib-lab/trafficgym-go/env"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/config"
)

// ringCfg 230米单车道环形，21辆IDM加1辆外控
func ringCfg() *config.Config {
	return &config.Config{
		Scenario: config.Scenario{
			Topology: config.TopologyRing,
			Seed:     1,
			Ring:     &config.Ring{Length: 230},
			Vehicles: []config.VehicleGroup{
				{Name: "idm", Count: 21, Acc: config.AccIDM},
				{Name: "rl", Count: 1, Acc: config.AccExternal},
			},
		},
		Control: config.Control{Step: config.ControlStep{Total: 100, Interval: 0.5}},
		Reward:  config.Reward{TargetSpeed: 5},
	}
}

// flakyConnector 故障注入连接器，failAfter步之后一律失败
type flakyConnector struct {
	*engine.Local
	failAfter int
	n         int
}

func (f *flakyConnector) Step(ctx context.Context, batch *connector.CommandBatch) (*connector.StepResult, error) {
	if f.n++; f.n > f.failAfter {
		return nil, &connector.ProtocolError{Op: "step", Timeout: true, Err: errors.New("simulated outage")}
	}
	return f.Local.Step(ctx, batch)
}

func TestEnvLifecycle(t *testing.T) {
	e, err := env.New(ringCfg())
	require.NoError(t, err)
	assert.Equal(t, env.StatusUninitialized, e.Status())
	assert.Equal(t, 1, e.ActionLength())

	// 未Reset不可Step
	_, err = e.Step(nil)
	var serr *env.InvalidStateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, env.StatusUninitialized, serr.Status)
	assert.ErrorContains(t, err, "not allowed in status UNINITIALIZED")

	obs, err := e.Reset()
	require.NoError(t, err)
	assert.Equal(t, env.StatusReady, e.Status())
	assert.Len(t, obs, 44)
	assert.NotEmpty(t, e.RunID())

	res, err := e.Step([]float64{0})
	require.NoError(t, err)
	assert.Equal(t, env.StatusRunning, e.Status())
	assert.False(t, res.Done)
	assert.Empty(t, res.Info.Reason)
	assert.Equal(t, int32(1), res.Info.Step)
	assert.InDelta(t, 0.5, res.Info.T, 1e-12)
	assert.Len(t, res.Obs, 44)
	assert.Equal(t, e.RunID(), res.Info.RunID)

	require.NoError(t, e.Close())
	_, err = e.Reset()
	require.ErrorContains(t, err, "closed")
}

func TestEnvActionValidation(t *testing.T) {
	e, err := env.New(ringCfg())
	require.NoError(t, err)
	_, err = e.Reset()
	require.NoError(t, err)

	// 长度不符为调用方错误，不推进回合
	_, err = e.Step([]float64{1, 2})
	require.ErrorContains(t, err, "action length 2, want 1")

	// nil动作失闭为零加速度
	res, err := e.Step(nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), res.Info.Step)

	res, err = e.Step([]float64{0.5})
	require.NoError(t, err)
	assert.Equal(t, int32(2), res.Info.Step)
}

func TestEnvDeterminism(t *testing.T) {
	cfg := ringCfg()
	cfg.Scenario.Vehicles[0].Perturbation = 0.5
	e, err := env.New(cfg)
	require.NoError(t, err)

	e.Seed(7)
	first, err := e.Reset()
	require.NoError(t, err)
	e.Seed(8)
	other, err := e.Reset()
	require.NoError(t, err)
	e.Seed(7)
	again, err := e.Reset()
	require.NoError(t, err)

	assert.Equal(t, first, again)
	assert.NotEqual(t, first, other)
}

func TestEnvStepDeterminism(t *testing.T) {
	newEnv := func() *env.Env {
		cfg := ringCfg()
		cfg.Scenario.Vehicles[0].Perturbation = 0.5
		e, err := env.New(cfg)
		require.NoError(t, err)
		e.Seed(7)
		_, err = e.Reset()
		require.NoError(t, err)
		return e
	}
	e1, e2 := newEnv(), newEnv()
	for i := 0; i < 5; i++ {
		r1, err := e1.Step([]float64{0.3})
		require.NoError(t, err)
		r2, err := e2.Step([]float64{0.3})
		require.NoError(t, err)
		assert.Equal(t, r1.Obs, r2.Obs)
		assert.Equal(t, r1.Reward, r2.Reward)
	}
}

func TestEnvObservationSpace(t *testing.T) {
	cfg := &config.Config{
		Scenario: config.Scenario{
			Topology: config.TopologyRing,
			Ring:     &config.Ring{Length: 230},
			Vehicles: []config.VehicleGroup{
				{Name: "idm", Count: 1, Acc: config.AccIDM},
				{Name: "rl", Count: 1, Acc: config.AccExternal},
			},
		},
		Control:     config.Control{Step: config.ControlStep{Total: 10, Interval: 0.5}},
		Observation: config.Observation{Normalize: true, IncludeLeader: true},
		Reward:      config.Reward{TargetSpeed: 5},
	}
	e, err := env.New(cfg)
	require.NoError(t, err)

	sp := e.Space()
	require.Len(t, sp.Low, 6)
	require.Len(t, sp.High, 6)
	assert.Equal(t, []float64{1, 1, 1, 1, 1, 1}, sp.High)

	obs, err := e.Reset()
	require.NoError(t, err)
	require.Len(t, obs, 6)
	for i, x := range obs {
		assert.GreaterOrEqual(t, x, sp.Low[i])
		assert.LessOrEqual(t, x, sp.High[i])
	}
	// 两车等距对放，归一化位置相差半圈
	assert.InDelta(t, 0.5, obs[1]+obs[3], 1e-9)
	// 外控车的前车净距为半圈减车长
	assert.InDelta(t, 110.0/500, obs[4], 1e-9)
	assert.Zero(t, obs[5])
}

func TestEnvCrashOnConnectorFailure(t *testing.T) {
	flaky := &flakyConnector{Local: engine.NewLocal(), failAfter: 2}
	e, err := env.NewWithConnector(ringCfg(), flaky)
	require.NoError(t, err)
	_, err = e.Reset()
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := e.Step([]float64{0})
		require.NoError(t, err)
		assert.False(t, res.Done)
	}

	// 连接器故障以终局信号而非错误返回
	res, err := e.Step([]float64{0})
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Equal(t, "CRASH", res.Info.Reason)
	assert.Zero(t, res.Reward)
	assert.Equal(t, env.StatusDoneCrash, e.Status())

	// 终局后不可继续Step
	_, err = e.Step([]float64{0})
	var serr *env.InvalidStateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, env.StatusDoneCrash, serr.Status)

	// 重开回合恢复可用
	_, err = e.Reset()
	require.NoError(t, err)
	assert.Equal(t, env.StatusReady, e.Status())
}

func TestEnvCrashOnCollision(t *testing.T) {
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
	e, err := env.New(cfg)
	require.NoError(t, err)
	_, err = e.Reset()
	require.NoError(t, err)

	res, err := e.Step(nil)
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Equal(t, "CRASH", res.Info.Reason)
	require.Len(t, res.Info.Collisions, 1)
	assert.Zero(t, res.Reward)
	assert.Equal(t, env.StatusDoneCrash, e.Status())
}

func TestEnvOpenNetworkArrival(t *testing.T) {
	cfg := &config.Config{
		Scenario: config.Scenario{
			Topology: config.TopologyHighway,
			Highway:  &config.Highway{Length: 200, Segments: 2},
			Vehicles: []config.VehicleGroup{{
				Name:   "through",
				Acc:    config.AccNoOp,
				Depart: config.DepartCustom,
				Positions: []config.Position{
					{Edge: 2, S: 98, V: 10},
					{Edge: 1, S: 10},
				},
			}},
		},
		Control: config.Control{Step: config.ControlStep{Total: 10, Interval: 0.5}},
		Reward:  config.Reward{TargetSpeed: 5},
	}
	e, err := env.New(cfg)
	require.NoError(t, err)

	obs, err := e.Reset()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{10, 198, 0, 10}, obs, 1e-9)

	// 车辆1驶离路网，观测槽位清零但长度不变
	res, err := e.Step(nil)
	require.NoError(t, err)
	assert.False(t, res.Done)
	assert.InDeltaSlice(t, []float64{0, 0, 0, 10}, res.Obs, 1e-9)
}

func TestEnvTerminalAllArrived(t *testing.T) {
	cfg := &config.Config{
		Scenario: config.Scenario{
			Topology: config.TopologyHighway,
			Highway:  &config.Highway{Length: 200, Segments: 2},
			Vehicles: []config.VehicleGroup{
				{Name: "rl", Acc: config.AccExternal, Depart: config.DepartCustom,
					Positions: []config.Position{{Edge: 2, S: 98, V: 10}}},
				{Name: "background", Acc: config.AccNoOp, Depart: config.DepartCustom,
					Positions: []config.Position{{Edge: 1, S: 10}}},
			},
		},
		Control:  config.Control{Step: config.ControlStep{Total: 50, Interval: 0.5}},
		Reward:   config.Reward{TargetSpeed: 5},
		Terminal: config.Terminal{AllArrived: true},
	}
	e, err := env.New(cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, e.ActionLength())
	_, err = e.Reset()
	require.NoError(t, err)

	// 外控车驶离后即使背景车还在场也终止
	res, err := e.Step([]float64{0})
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Equal(t, "TERMINAL_CONDITION", res.Info.Reason)
	assert.Equal(t, env.StatusDoneTerminal, e.Status())
}

func TestEnvTerminalMinMeanSpeed(t *testing.T) {
	cfg := &config.Config{
		Scenario: config.Scenario{
			Topology: config.TopologyRing,
			Ring:     &config.Ring{Length: 400},
			Vehicles: []config.VehicleGroup{{
				Name:   "parked",
				Acc:    config.AccNoOp,
				Depart: config.DepartCustom,
				Positions: []config.Position{
					{Edge: 1, S: 10},
					{Edge: 1, S: 50},
				},
			}},
		},
		Control:  config.Control{Step: config.ControlStep{Total: 10, Interval: 0.5}},
		Reward:   config.Reward{TargetSpeed: 5},
		Terminal: config.Terminal{MinMeanSpeed: 0.5, AfterStep: 2},
	}
	e, err := env.New(cfg)
	require.NoError(t, err)
	_, err = e.Reset()
	require.NoError(t, err)

	// 谓词自after_step起才生效
	res, err := e.Step(nil)
	require.NoError(t, err)
	assert.False(t, res.Done)

	res, err = e.Step(nil)
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Equal(t, "TERMINAL_CONDITION", res.Info.Reason)
}

func TestEnvRunRing(t *testing.T) {
	e, err := env.New(ringCfg())
	require.NoError(t, err)
	require.Len(t, e.Space().Low, 44)

	obs, err := e.Reset()
	require.NoError(t, err)
	require.Len(t, obs, 44)

	var res *env.StepResult
	steps, total := 0, 0.0
	for {
		res, err = e.Step([]float64{0})
		require.NoError(t, err)
		steps++
		require.Len(t, res.Obs, 44)
		total += res.Reward
		if res.Done {
			break
		}
	}
	assert.Equal(t, 100, steps)
	assert.Equal(t, "HORIZON", res.Info.Reason)
	assert.Equal(t, int32(100), res.Info.Step)
	assert.Equal(t, env.StatusDoneHorizon, e.Status())
	assert.Empty(t, res.Info.Collisions)
	assert.Positive(t, total)
}
