package services

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeploymentRelay(t *testing.T) {
	env := newTestEnv(t)
	sub := env.connect("sub", "")
	other := env.connect("other", "")
	env.relay.Subscribe(sub, "demo")
	env.relay.Subscribe(other, "elsewhere")

	t.Run("log defaults", func(t *testing.T) {
		n, err := env.relay.PublishLog("demo", DeploymentLog{Message: "compiling"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got := sub.events(EventDeployLog)
		require.Len(t, got, 1)
		var entry DeploymentLog
		require.NoError(t, json.Unmarshal(got[0], &entry))
		assert.Equal(t, LogLevelInfo, entry.Level)
		assert.Equal(t, env.now.UnixMilli(), entry.Timestamp)
		assert.Empty(t, other.events(EventDeployLog))
	})

	t.Run("status", func(t *testing.T) {
		n, err := env.relay.PublishStatus("demo", DeploymentStatus{State: DeployRunning, Pipeline: "main", Version: "1.2.0", Timestamp: 42})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got := sub.events(EventDeployStatus)
		require.Len(t, got, 1)
		assert.JSONEq(t, `{"state":"running","pipeline":"main","version":"1.2.0","timestamp":42}`, string(got[0]))
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := env.relay.PublishLog("demo", DeploymentLog{Level: "fatal"})
		requireDomainError(t, err, http.StatusBadRequest)
		_, err = env.relay.PublishStatus("demo", DeploymentStatus{State: "exploded"})
		requireDomainError(t, err, http.StatusBadRequest)
		_, err = env.relay.PublishLog("", DeploymentLog{})
		requireDomainError(t, err, http.StatusBadRequest)
	})

	t.Run("no subscribers", func(t *testing.T) {
		n, err := env.relay.PublishLog("nobody", DeploymentLog{Message: "x"})
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("unsubscribe", func(t *testing.T) {
		env.relay.Unsubscribe(sub, "demo")
		n, err := env.relay.PublishLog("demo", DeploymentLog{Message: "later"})
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
