package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFormatUsesRenamedKeys(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "reportdesk", "debug", "json")

	log.WithField("report_id", "r1").Debug("report created")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "report created", entry["message"])
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "reportdesk", entry["service"])
	assert.Equal(t, "r1", entry["report_id"])
	assert.Contains(t, entry, "timestamp")
}

func TestLevelAndTextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "", "warn", "text")
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())

	log.Info("hidden")
	log.Warn("shown")
	out := buf.String()
	assert.False(t, strings.Contains(out, "hidden"))
	assert.True(t, strings.Contains(out, "shown"))

	assert.Equal(t, logrus.InfoLevel, NewWithOutput(&buf, "", "verbose", "json").GetLevel())
}
