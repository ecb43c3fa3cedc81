package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cases := map[string]struct {
		cfg  Config
		code ErrorCode
	}{
		"valid":            {cfg: Config{ID: "my-plugin_2"}},
		"missing id":       {cfg: Config{}, code: CodeInvalidConfiguration},
		"bad id chars":     {cfg: Config{ID: "no/slashes"}, code: CodeInvalidConfiguration},
		"bad id space":     {cfg: Config{ID: "no spaces"}, code: CodeInvalidConfiguration},
		"negative priority": {cfg: Config{ID: "p", Priority: -1}, code: CodeInvalidConfiguration},
		"unknown type":     {cfg: Config{ID: "p", Type: "kernelish"}, code: CodeInvalidConfiguration},
		"known type":       {cfg: Config{ID: "p", Type: TypeSystem}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.code == "" {
				require.NoError(t, err)
				return
			}
			assert.True(t, IsCode(err, tc.code), "got %v", err)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := NewConfig("p")
	assert.True(t, cfg.IsEnabled())
	assert.Equal(t, TypeUser, cfg.EffectiveType())
	assert.Zero(t, cfg.Priority)
	assert.Empty(t, cfg.Dependencies)

	disabled := false
	cfg.Enabled = &disabled
	assert.False(t, cfg.IsEnabled())

	assert.Equal(t, TypeUser, Config{ID: "x"}.EffectiveType())
	assert.Equal(t, TypeSystem, Config{ID: "x", Type: TypeSystem}.EffectiveType())
}
