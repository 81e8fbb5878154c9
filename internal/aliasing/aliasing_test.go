package aliasing

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), ".callscope.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, `
field_aliases:
  reason: call_ended_reason
  Duration: duration_seconds
field_patterns:
  - pattern: "meta.{key}"
    field: "metadata.{key}"
`))
		require.NoError(t, err)

		assert.Equal(t, "call_ended_reason", cfg.FieldAliases["reason"])
		require.Len(t, cfg.FieldPatterns, 1)
		assert.Equal(t, "metadata.{key}", cfg.FieldPatterns[0].Field)
	})

	cases := map[string]string{
		"invalid yaml":  "field_aliases: [invalid yaml\n",
		"only comments": "# a comment\n# another\n",
		"empty file":    "",
		"other keys":    "some_other_config:\n  key: value\n",
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, content))

			require.NoError(t, err)
			require.NotNil(t, cfg)
			assert.Empty(t, cfg.FieldAliases)
			assert.NotNil(t, cfg.FieldAliases)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))

		require.NoError(t, err)
		assert.Empty(t, cfg.FieldAliases)
	})

	t.Run("from env", func(t *testing.T) {
		t.Setenv(ConfigPathEnvVar, writeConfig(t, "field_aliases:\n  cost: total_cost\n"))

		cfg, err := LoadConfigFromEnv()

		require.NoError(t, err)
		assert.Equal(t, "total_cost", cfg.FieldAliases["cost"])
	})
}

func TestResolver(t *testing.T) {
	r := NewResolver(&Config{
		FieldAliases: map[string]string{
			"reason":   "call_ended_reason",
			"Duration": "duration_seconds",
			"intent":   "metadata.intent",
			"":         "ignored",
			"blank":    "  ",
		},
		FieldPatterns: []FieldPattern{
			{Pattern: "meta.{key}", Field: "metadata.{key}"},
			{Pattern: "tx.{path*}", Field: "transcription_metrics.{path}"},
			{Pattern: "", Field: "ignored"},
		},
	})

	assert.Equal(t, 5, r.AliasCount())

	tests := []struct {
		in, want string
	}{
		{"reason", "call_ended_reason"},
		{"REASON", "call_ended_reason"},
		{"duration", "duration_seconds"},
		{"intent", "metadata.intent"},
		{"meta.sentiment", "metadata.sentiment"},
		{"meta.a.b", "meta.a.b"},
		{"tx.words.per_minute", "transcription_metrics.words.per_minute"},
		{"call_id", "call_id"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.in))
		})
	}

	t.Run("match reports misses", func(t *testing.T) {
		_, ok := r.Match("call_id")
		assert.False(t, ok)
	})

	t.Run("nil resolver passes through", func(t *testing.T) {
		var nilResolver *Resolver

		assert.Equal(t, "reason", nilResolver.Resolve("reason"))
		assert.Zero(t, nilResolver.AliasCount())
		assert.Zero(t, NewResolver(nil).AliasCount())
	})

	t.Run("concurrent", func(t *testing.T) {
		var wg sync.WaitGroup

		for range 20 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				assert.Equal(t, "metadata.x", r.Resolve("meta.x"))
			}()
		}

		wg.Wait()
	})
}
