package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/trafficgym-go/utils/config"
)

const ringYAML = `
scenario:
  topology: ring
  seed: 42
  ring:
    length: 230
  vehicles:
    - name: human
      count: 21
      acc: idm
    - name: rl
      count: 1
      acc: external
control:
  step:
    start: 0
    total: 100
    interval: 0.5
reward:
  target_speed: 4
`

func TestParseRing(t *testing.T) {
	c, err := config.Parse([]byte(ringYAML))
	require.NoError(t, err)
	assert.Equal(t, config.TopologyRing, c.Scenario.Topology)
	assert.Equal(t, uint64(42), c.Scenario.Seed)
	// defaults filled in
	assert.Equal(t, 4, c.Scenario.Ring.Segments)
	assert.Equal(t, 1, c.Scenario.Ring.Lanes)
	assert.Equal(t, config.RotationShared, c.Scenario.RouteRotation)
	assert.Equal(t, config.ConnectorLocal, c.Connector.Kind)
	assert.Equal(t, 5.0, c.Connector.StepTimeout)
	require.Len(t, c.Scenario.Vehicles, 2)
	g := c.Scenario.Vehicles[0]
	assert.Equal(t, config.RoutingConstant, g.Routing)
	assert.Equal(t, config.DepartUniform, g.Depart)
	require.NotNil(t, g.Attr)
	assert.Equal(t, 5.0, g.Attr.Length)
}

func TestParseUnknownTopology(t *testing.T) {
	bad := `
scenario:
  topology: moebius
  vehicles:
    - name: a
      count: 1
      acc: idm
control:
  step: {total: 10, interval: 0.5}
reward:
  target_speed: 4
`
	_, err := config.Parse([]byte(bad))
	require.Error(t, err)
	var cerr *config.Error
	assert.ErrorAs(t, err, &cerr)
	assert.Contains(t, err.Error(), "moebius")
}

func TestParseUnknownField(t *testing.T) {
	// strict mode rejects unknown yaml keys
	bad := ringYAML + "\nextra_section: 1\n"
	_, err := config.Parse([]byte(bad))
	require.Error(t, err)
	var cerr *config.Error
	assert.ErrorAs(t, err, &cerr)
}

func TestConfigClone(t *testing.T) {
	c, err := config.Parse([]byte(ringYAML))
	require.NoError(t, err)

	cp, err := c.Clone()
	require.NoError(t, err)
	assert.Equal(t, c, cp)

	// deep copy: group attributes are not shared
	cp.Scenario.Vehicles[0].Attr.MaxSpeed = 1
	cp.Scenario.Seed = 7
	assert.Equal(t, 30.0, c.Scenario.Vehicles[0].Attr.MaxSpeed)
	assert.Equal(t, uint64(42), c.Scenario.Seed)
}

func TestValidateGroup(t *testing.T) {
	c, err := config.Parse([]byte(ringYAML))
	require.NoError(t, err)

	c.Scenario.Vehicles[0].Acc = "ghost"
	err = c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")

	c.Scenario.Vehicles[0].Acc = config.AccIDM
	c.Scenario.Vehicles[0].Perturbation = -1
	assert.Error(t, c.Validate())
}

func TestValidateCustomPositions(t *testing.T) {
	c, err := config.Parse([]byte(ringYAML))
	require.NoError(t, err)

	g := &c.Scenario.Vehicles[1]
	g.Depart = config.DepartCustom
	err = c.Validate()
	require.Error(t, err) // custom without positions

	g.Positions = []config.Position{{Edge: 1, S: 10}}
	g.Count = 1
	assert.NoError(t, c.Validate())

	g.Count = 3
	assert.Error(t, c.Validate()) // count mismatch
}

func TestValidateConnector(t *testing.T) {
	c, err := config.Parse([]byte(ringYAML))
	require.NoError(t, err)

	c.Connector.Kind = config.ConnectorHTTP
	err = c.Validate()
	require.Error(t, err) // needs base_url or binary

	c.Connector.BaseURL = "http://localhost:53000"
	assert.NoError(t, c.Validate())

	c.Connector.BaseURL = ""
	c.Connector.Binary = "/usr/local/bin/trafficgymd"
	err = c.Validate()
	require.Error(t, err) // binary without listen

	c.Connector.Listen = "localhost:53000"
	assert.NoError(t, c.Validate())
}
