package txpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConnConfigMatchesWireDefaults(t *testing.T) {
	cfg := DefaultConnConfig()
	assert.Equal(t, 0, cfg.CRCBits)
	assert.False(t, cfg.BigEndian)
	assert.False(t, cfg.RequireMsgAck)
}

func TestStatusStringsCoverEveryValue(t *testing.T) {
	assert.Equal(t, "DONE", StatusDone.String())
	assert.Equal(t, "INFLIGHT", StatusInflight.String())
	assert.Equal(t, "BAD_STATE", StatusBadState.String())
	assert.Equal(t, "UNKNOWN", Status(99).String())
}
