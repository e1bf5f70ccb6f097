package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupText(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Output: &buf})
	require.NoError(t, err)
	assert.Equal(t, log.InfoLevel, logger.GetLevel())

	For(logger, USB).Info("device started")
	For(logger, USB).Debug("hidden")
	assert.Contains(t, buf.String(), "usb")
	assert.Contains(t, buf.String(), "device started")
	assert.NotContains(t, buf.String(), "hidden")
}

func TestSetupJSONVerbose(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Verbose: true, Format: "json", Output: &buf})
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, logger.GetLevel())

	For(logger, Probe).WithField("cmd", 5).Debug("command")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "probe", rec["prefix"])
	assert.Equal(t, "command", rec["msg"])
	assert.EqualValues(t, 5, rec["cmd"])
}

func TestSetupUnknownFormat(t *testing.T) {
	_, err := Setup(Options{Format: "xml"})
	assert.Error(t, err)
}
