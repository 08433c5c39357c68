package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"explanation-service/service/errdef"
)

func TestRootCmd_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"serve", "check", "improve", "batch", "fire"} {
		assert.True(t, names[want], want)
	}
}

func TestBuildFilter(t *testing.T) {
	flags := batchCmd.Flags()
	t.Cleanup(func() {
		neverChecked, checkedBeforeDays, belowScore, minScore, maxScore, limit, itemIDs = false, 0, 0, 0, 0, 0, nil
		flags.VisitAll(func(f *pflag.Flag) { f.Changed = false })
	})

	require.NoError(t, flags.Parse([]string{
		"--never-checked",
		"--checked-before-days=30",
		"--below-score=0",
		"--limit=10",
	}))

	now := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	filter := buildFilter(batchCmd, now)

	assert.True(t, filter.NeverChecked)
	require.NotNil(t, filter.CheckedBefore)
	assert.Equal(t, time.Date(2026, 9, 18, 8, 0, 0, 0, time.UTC), *filter.CheckedBefore)
	// 显式设置为0时仍参与筛选
	require.NotNil(t, filter.BelowScore)
	assert.Equal(t, 0, *filter.BelowScore)
	assert.Nil(t, filter.MinScore)
	assert.Nil(t, filter.MaxScore)
	assert.Equal(t, 10, filter.Limit)
}

func TestFireCmd_UnknownTrigger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: memory
generation:
  provider: ollama
logging:
  level: error
`), 0o644))

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"--config", path, "fire", "no-such-trigger"})
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	}()

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Equal(t, errdef.KindValidation, errdef.KindOf(err))
}
