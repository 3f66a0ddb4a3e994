package cli

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samims/keepsake/internal/model"
)

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"serve", "run", "sweep", "migrate"} {
		assert.True(t, names[want], "missing %s command", want)
	}

	flag := cmd.PersistentFlags().Lookup("log-level")
	require.NotNil(t, flag)
	assert.Equal(t, "", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	cmd := NewServeCommand(&RootOptions{})
	require.NoError(t, cmd.ParseFlags([]string{"--no-scheduler"}))

	v, err := cmd.Flags().GetBool("no-scheduler")
	require.NoError(t, err)
	assert.True(t, v)
}

func TestRunCommand_RejectsArgs(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"run", "extra"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	assert.Error(t, cmd.Execute())
}

func TestWriteSummary(t *testing.T) {
	s := model.Summary{
		RunID:     uuid.New(),
		Attempted: 3,
		Sent:      2,
		Errored:   1,
		StartedAt: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC),
	}
	var buf bytes.Buffer

	require.NoError(t, writeSummary(&buf, s))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, float64(3), got["attempted"])
	assert.Equal(t, float64(2), got["sent"])
	assert.Equal(t, float64(1), got["errored"])
	assert.Equal(t, s.RunID.String(), got["run_id"])
}
