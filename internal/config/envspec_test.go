package config_test

import (
	"fmt"
	"reflect"
	"testing"

	cfg "github.com/ArkLabsHQ/boltz-swap/internal/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestSpecMatchesViperDefaults(t *testing.T) {
	v := viper.New()
	v.SetEnvPrefix("BOLTZ")
	v.AutomaticEnv()

	v.SetDefault(cfg.Network, cfg.DefaultNetwork)
	v.SetDefault(cfg.Pair, cfg.DefaultPair)
	v.SetDefault(cfg.ReferralId, cfg.DefaultReferralId)
	v.SetDefault(cfg.FeeRate, cfg.DefaultFeeRate)
	v.SetDefault(cfg.PollInterval, cfg.DefaultPollInterval)
	v.SetDefault(cfg.UseWebsocket, cfg.DefaultUseWebsocket)
	v.SetDefault(cfg.BroadcastWithBoltz, cfg.DefaultBroadcastWithBoltz)
	v.SetDefault(cfg.LogLevel, cfg.DefaultLogLevel)

	want := map[string]string{}
	for _, s := range cfg.EnvSpecs() {
		if s.Default == "" {
			continue
		}
		want[s.Name] = s.Default
	}

	for k, dv := range want {
		got := v.Get(k)
		require.Equal(t, coerce(got), dv, "type mismatch for %s: viper=%T spec=%T", k, got, dv)
	}
}

func TestSpecMatchesConfigTags(t *testing.T) {
	specs := map[string]cfg.EnvVar{}
	for _, s := range cfg.EnvSpecs() {
		require.Equal(t, "BOLTZ_"+s.Name, s.FullName)
		specs[s.Name] = s
	}

	typ := reflect.TypeOf(cfg.Config{})
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		key := f.Tag.Get("mapstructure")
		spec, ok := specs[key]
		require.True(t, ok, "missing env spec for %s", key)
		require.Equal(t, f.Tag.Get("envDefault"), spec.Default, "default mismatch for %s", key)
	}
	require.Len(t, specs, typ.NumField()-1)
}

func coerce(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case int, int8, int16, int32, int64:
		return fmt.Sprintf("%d", x)
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x)
	case float32, float64:
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
