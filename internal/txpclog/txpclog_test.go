package txpclog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToGivenWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Level: log.InfoLevel})
	logger.Info("router started", "endpoints", 3)

	assert.Contains(t, buf.String(), "router started")
	assert.Contains(t, buf.String(), "endpoints=3")
}

func TestNewFiltersBelowConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Level: log.WarnLevel})
	logger.Debug("should not appear")
	logger.Warn("should appear")

	assert.NotContains(t, buf.String(), "should not appear")
	assert.Contains(t, buf.String(), "should appear")
}

func TestDiscardSuppressesOutput(t *testing.T) {
	logger := Discard()
	logger.Error("nobody should see this")
}

func TestForComponentTagsComponentField(t *testing.T) {
	var buf bytes.Buffer
	root := New(&buf, DefaultOptions())
	child := ForComponent(root, "router")
	child.Info("routed a message")

	line := buf.String()
	assert.Contains(t, line, "component=router")
	assert.Contains(t, line, "routed a message")
}

func TestForComponentWithNilParentDiscards(t *testing.T) {
	child := ForComponent(nil, "router")
	require.NotNil(t, child)
	child.Info("must not panic")
}

func TestFormatTimestampAppliesStrftimePattern(t *testing.T) {
	out, err := FormatTimestamp("%Y-%m-%d", 0)
	require.NoError(t, err)
	assert.Equal(t, "1970-01-01", out)
}

func TestFormatTimestampRejectsBadPattern(t *testing.T) {
	_, err := FormatTimestamp("%Q", 0)
	assert.Error(t, err)
}

func TestDefaultOptionsMatchesDaemonDefaults(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, log.InfoLevel, opts.Level)
	assert.True(t, opts.ReportTimestamp)
	assert.True(t, strings.HasPrefix(opts.TimeFormat, "2006"))
}
