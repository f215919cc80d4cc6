package main

import (
	"testing"

	"github.com/caarlos0/env"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenesisCfgParse(t *testing.T) {
	t.Run("unsigned values parse directly", func(t *testing.T) {
		t.Setenv("GENESIS_FEE", "250")
		t.Setenv("END_TIME_LIMIT", "5000000000")

		var g GenesisCfg
		require.NoError(t, env.Parse(&g))
		assert.Equal(t, uint64(250), g.Fee)
		assert.Equal(t, uint64(5_000_000_000), g.EndTimeLimit)

		cfg := g.contractConfig()
		assert.Equal(t, uint64(250), cfg.Fee)
		assert.Equal(t, uint64(5_000_000_000), cfg.EndTimeLimit)
	})

	t.Run("negative fee is a parse error, not a huge fee", func(t *testing.T) {
		t.Setenv("GENESIS_FEE", "-1")

		var g GenesisCfg
		assert.Error(t, env.Parse(&g))
	})

	t.Run("negative end time limit is a parse error", func(t *testing.T) {
		t.Setenv("END_TIME_LIMIT", "-5")

		var g GenesisCfg
		assert.Error(t, env.Parse(&g))
	})
}
