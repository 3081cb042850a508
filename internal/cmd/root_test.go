package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoenix-pocx/phoenixd/internal/config"
	"github.com/phoenix-pocx/phoenixd/internal/server/handlers"
)

func TestSetVersionInfo_ReachesVersionEndpoint(t *testing.T) {
	orig := versionInfo
	t.Cleanup(func() { SetVersionInfo(orig.Version, orig.Commit, orig.BuildDate) })

	SetVersionInfo("0.9.1", "f00dbabe", "2026-09-30")
	assert.Equal(t, VersionInfo{Version: "0.9.1", Commit: "f00dbabe", BuildDate: "2026-09-30"}, versionInfo)

	rec := httptest.NewRecorder()
	handlers.VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "0.9.1", body["version"])
	assert.Equal(t, "f00dbabe", body["commit"])
}

func TestInitConfig_SetsIdentity(t *testing.T) {
	env := newCLIEnv(t)
	orig := appIdentity
	t.Cleanup(func() { appIdentity = orig })
	appIdentity = nil

	_, err := env.run(t, "version")
	require.NoError(t, err)

	id := GetAppIdentity()
	require.NotNil(t, id)
	assert.Equal(t, config.DefaultIdentity, *id)
}

func TestExitError(t *testing.T) {
	cause := errors.New("boom")
	err := exitError(foundry.ExitInvalidArgument, "Invalid plan", cause)

	var ce *cliError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, int(foundry.ExitInvalidArgument), ce.code)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Invalid plan: boom", err.Error())

	t.Run("nil cause", func(t *testing.T) {
		err := exitError(foundry.ExitSignalInt, "Plan interrupted", nil)
		assert.Equal(t, "Plan interrupted", err.Error())
	})
}

func TestExecute_ReturnsExitCode(t *testing.T) {
	env := newCLIEnv(t)
	resetFlags(rootCmd)
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)

	rootCmd.SetArgs([]string{"--config", env.config, "plan", "validate", filepath.Join(env.dir, "missing.yaml")})
	assert.Equal(t, int(foundry.ExitInvalidArgument), Execute(context.Background()))

	resetFlags(rootCmd)
	rootCmd.SetArgs([]string{"--config", env.config, "version"})
	assert.Equal(t, 0, Execute(context.Background()))
}
