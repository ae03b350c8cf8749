package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dracma/internal/common"
	"github.com/ternarybob/dracma/internal/services/portal"
)

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := common.NewDefaultConfig()
	cfg.Credentials.Email = "advisor@example.com"
	cfg.Credentials.Password = "pw"
	cfg.OTP.Source = "mailbox"
	cfg.OTP.Mailbox.TenantID = "tenant"
	cfg.OTP.Mailbox.ClientID = "client"
	cfg.OTP.Mailbox.ClientSecret = "secret"
	cfg.OTP.Mailbox.Address = "otp@example.com"
	cfg.Storage.Type = "filesystem"
	cfg.Storage.Filesystem.Dir = filepath.Join(dir, "artifacts")
	cfg.Storage.Badger.Path = filepath.Join(dir, "badger")
	return cfg
}

func TestNew_WiresServices(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, cfg.Validate())

	application, err := New(context.Background(), cfg, arbor.NewLogger())
	require.NoError(t, err)
	defer application.Close()

	assert.NotNil(t, application.Pipeline)
	assert.NotNil(t, application.Scheduler)
	assert.NotNil(t, application.Login)
	assert.NotNil(t, application.OTP)
	assert.NotNil(t, application.Storage.RunStorage())
	refreshURL, err := application.Portal.URL(portal.RefreshPath, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.Portal.APIBaseURL+portal.RefreshPath, refreshURL)
	assert.False(t, application.Scheduler.IsRunning())
}

func TestNew_BadEndpointsFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fetch.EndpointsFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(context.Background(), cfg, arbor.NewLogger())
	assert.Error(t, err)
}

func TestOpenStorage(t *testing.T) {
	cfg := testConfig(t)

	application, err := OpenStorage(context.Background(), cfg, arbor.NewLogger())
	require.NoError(t, err)
	defer application.Close()

	assert.Nil(t, application.Pipeline)
	runs, err := application.Storage.RunStorage().ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
