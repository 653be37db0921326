package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 24*time.Hour, cfg.ReconcileInterval())
	require.Equal(t, 10*time.Second, cfg.ReconcileFirstRunDelay())
	require.True(t, cfg.Reconcile.OnStartup)
	require.Equal(t, 7, cfg.EndingSoonDays())
	require.Equal(t, "admin", cfg.Bootstrap.Admin.ID)
}

func TestFromYAMLRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"interval":   "reconcile:\n  interval: soon\n",
		"log level":  "log:\n  level: loud\n",
		"log format": "log:\n  format: xml\n",
		"admin":      "bootstrap:\n  admin:\n    id: root\n",
		"webhook":    "history:\n  webhooks:\n    - secret: x\n",
		"smtp":       "notify:\n  smtp:\n    enabled: true\n    host: mail\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	require.Nil(t, cfg)

	cfg, err = LoadOrDefault(dir)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	doc := "reconcile:\n  interval: 1h\n  first_run_delay: 0s\ndashboard:\n  ending_soon_days: 14\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "staffline.yml"), []byte(doc), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	require.Equal(t, time.Hour, cfg.ReconcileInterval())
	require.Equal(t, 14, cfg.EndingSoonDays())
	require.Equal(t, 2*time.Second, cfg.HistoryPollInterval())
}
