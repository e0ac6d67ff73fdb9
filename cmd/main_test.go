package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunUsage(t *testing.T) {
	t.Run("no command", func(t *testing.T) {
		assert.ErrorIs(t, run(nil), errUsage)
	})

	t.Run("unknown command", func(t *testing.T) {
		err := run([]string{"frobnicate"})
		assert.ErrorContains(t, err, `unknown command "frobnicate"`)
	})

	t.Run("bad global flag", func(t *testing.T) {
		assert.ErrorIs(t, run([]string{"-nope", "indexes"}), errUsage)
	})
}

func TestRunInvalidConfig(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("DATABASE_URL", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  provider: openai\n"), 0o600))

	err := run([]string{"-config", path, "indexes"})
	assert.EqualError(t, err, "invalid configuration")
}

func TestRunIndexesInMemory(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  backend: memory\nlog:\n  level: error\n"), 0o600))

	assert.NoError(t, run([]string{"-config", path, "indexes"}))
	assert.EqualError(t, run([]string{"-config", path, "delete"}), "-index is required")
}
