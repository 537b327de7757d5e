package settings_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c19x/tracer/internal/risk"
	"github.com/c19x/tracer/internal/settings"
)

func TestOpenSeedsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	s, err := settings.Open(path)
	require.NoError(t, err)
	require.Equal(t, settings.DefaultRotationInterval, s.RotationInterval())
	require.Equal(t, settings.DefaultRetentionWindow, s.RetentionWindow())
	require.Nil(t, s.RSSIThreshold())
	require.Equal(t, risk.AdviceGovernmentDefault, s.AdviceDefault())
	require.Equal(t, risk.StatusNormal, s.SelfStatus())
}

func TestSetAndReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	s, err := settings.Open(path)
	require.NoError(t, err)

	require.NoError(t, s.SetRotationInterval(45*time.Minute))
	require.NoError(t, s.SetRetentionWindow(7*24*time.Hour))
	threshold := int32(-80)
	require.NoError(t, s.SetRSSIThreshold(&threshold))
	require.NoError(t, s.SetSelfStatus(risk.StatusSymptomatic))

	reopened, err := settings.Open(path)
	require.NoError(t, err)
	require.Equal(t, 45*time.Minute, reopened.RotationInterval())
	require.Equal(t, 7*24*time.Hour, reopened.RetentionWindow())
	require.NotNil(t, reopened.RSSIThreshold())
	require.Equal(t, int32(-80), *reopened.RSSIThreshold())
	require.Equal(t, risk.StatusSymptomatic, reopened.SelfStatus())
}

func TestMarkUpdatesRecordsTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	s, err := settings.Open(path)
	require.NoError(t, err)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.MarkContactUpdate(now))
	require.NoError(t, s.MarkAdviceUpdate(now))
	require.NoError(t, s.MarkStatusUpdate(now))

	status, contact, advice := s.LastUpdates()
	require.NotNil(t, status)
	require.NotNil(t, contact)
	require.NotNil(t, advice)
	require.True(t, status.Equal(now))
	require.True(t, contact.Equal(now))
	require.True(t, advice.Equal(now))
}
