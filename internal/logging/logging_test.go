package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"staffline/internal/config"
)

func TestJSONFormatUsesFieldMap(t *testing.T) {
	var buf bytes.Buffer
	Init(config.LogConfig{Level: "debug", Format: "json"}, &buf)
	t.Cleanup(func() { Init(config.LogConfig{}, os.Stderr) })

	Component("reconcile").WithField("corrections", 2).Debug("reconciliation finished")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "reconciliation finished", line["message"])
	require.Equal(t, "reconcile", line["component"])
	require.Contains(t, line, "@timestamp")
	require.Equal(t, log.DebugLevel, log.GetLevel())
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	Init(config.LogConfig{Level: "chatty"}, nil)
	require.Equal(t, log.InfoLevel, log.GetLevel())
}
