package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`
deepseek:
  api_key: test
storage:
  path: %q
portfolio:
  name: default
logging:
  level: error
`, filepath.Join(dir, "trader.db"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestPortfolioLifecycle(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, cfg, "portfolio", "create", "--name", "paper", "--capital", "50000", "--mode", "instant", "--max-drawdown", "0")
	require.NoError(t, err)
	assert.Contains(t, out, `created portfolio "paper"`)
	assert.Contains(t, out, "INSTANT")

	_, err = run(t, cfg, "portfolio", "create", "--name", "paper")
	assert.Error(t, err)

	out, err = run(t, cfg, "portfolio", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "paper")

	out, err = run(t, cfg, "status", "-p", "paper")
	require.NoError(t, err)
	assert.Contains(t, out, "Equity:     50000.00")
	assert.Contains(t, out, "Drawdown:   0.00% (limit 0.00%)")
	assert.Contains(t, out, "Breaker:    READY")
	assert.Contains(t, out, "No open positions.")

	out, err = run(t, cfg, "breaker", "reset", "-p", "paper")
	require.NoError(t, err)
	assert.Contains(t, out, "already READY")

	out, err = run(t, cfg, "close-all", "-p", "paper")
	require.NoError(t, err)
	assert.Contains(t, out, "No open positions.")

	out, err = run(t, cfg, "violations", "-p", "paper")
	require.NoError(t, err)
	assert.Contains(t, out, "No risk events.")
}

func TestStatus_UnknownPortfolio(t *testing.T) {
	cfg := writeConfig(t)

	_, err := run(t, cfg, "status", "-p", "missing")
	assert.ErrorContains(t, err, "not found")
}
