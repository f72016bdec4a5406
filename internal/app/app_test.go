package app

import (
	"context"
	"testing"
	"time"

	"vhlr/internal/calls"
	"vhlr/internal/config"
	"vhlr/internal/probe"
	"vhlr/internal/telephony"
	"vhlr/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Config{
		App:  config.AppConfig{Env: "local", Port: 8080},
		Auth: config.AuthConfig{JWTSecret: "secret"},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestOpen_LocalBackends(t *testing.T) {
	ctl := telephony.NewFakeControl()
	ctl.OnOriginate = func(context.Context, string) (string, error) { return "+OK", nil }
	cfg := localConfig(t)
	cfg.Probe.PollInterval = 5 * time.Millisecond

	a, err := Open(context.Background(), cfg, logger.Discard(), WithCallControl(ctl))
	require.NoError(t, err)
	assert.Nil(t, a.DB)
	assert.Nil(t, a.Redis)
	require.NotNil(t, a.Probes)

	res, err := a.Probes.Probe(context.Background(), probe.Request{Destination: "100"})
	require.NoError(t, err)
	assert.True(t, res.Available)

	size, err := a.Cache.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))
}

func TestOpen_ResolvesProfileFromSourceAddress(t *testing.T) {
	ctl := telephony.NewFakeControl()
	ctl.Replies["sofia status"] = "external  profile  sip:mod_sofia@10.0.0.5:5080  RUNNING (0)\n" +
		"internal  profile  sip:mod_sofia@10.0.0.9:5060  RUNNING (0)"
	var dialed string
	ctl.OnOriginate = func(_ context.Context, cmd string) (string, error) {
		dialed = cmd
		return "+OK", nil
	}

	cfg := localConfig(t)
	cfg.Switch.SourceAddress = "10.0.0.9:5060"
	cfg.Switch.DestinationAddress = "10.1.1.1"

	a, err := Open(context.Background(), cfg, logger.Discard(), WithCallControl(ctl))
	require.NoError(t, err)
	defer a.Close(context.Background())

	_, err = a.Probes.Probe(context.Background(), probe.Request{Destination: "100"})
	require.NoError(t, err)
	assert.Contains(t, dialed, "sofia/internal/100@10.1.1.1")
}

func TestOpen_FailsWhenProfileUnknown(t *testing.T) {
	ctl := telephony.NewFakeControl()
	ctl.Replies["sofia status"] = "external  profile  sip:mod_sofia@10.0.0.5:5080  RUNNING (0)"

	cfg := localConfig(t)
	cfg.Switch.SourceAddress = "192.168.1.1"

	_, err := Open(context.Background(), cfg, logger.Discard(), WithCallControl(ctl))
	assert.ErrorIs(t, err, telephony.ErrProfileNotFound)
}

func TestProbeConfig_MapsSettings(t *testing.T) {
	pc := config.ProbeConfig{
		Source:         "src",
		Schedule:       []time.Duration{0, time.Second},
		NonRetriable:   []int{404, 486},
		ConnectTimeout: 3 * time.Second,
		MaxConcurrent:  7,
	}
	out := ProbeConfig(pc, telephony.Originate{Codecs: []string{"PCMA"}})
	assert.Equal(t, "src", out.Source)
	assert.Equal(t, []calls.Code{calls.CodeNotFound, calls.CodeBusy}, out.NonRetriable)
	assert.Equal(t, 3*time.Second, out.Call.ConnectTimeout)
	assert.Equal(t, []string{"PCMA"}, out.Call.Originate.Codecs)
	assert.Equal(t, 7, out.MaxConcurrent)
}
