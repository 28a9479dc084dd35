package app

import (
	"testing"

	"github.com/dkeye/deskrelay/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyByName(t *testing.T) {
	p, err := PolicyByName("")
	require.NoError(t, err)
	assert.IsType(t, DropPolicy{}, p)

	p, err = PolicyByName("kick")
	require.NoError(t, err)
	assert.IsType(t, KickPolicy{}, p)

	_, err = PolicyByName("retry")
	assert.Error(t, err)
}

func TestKickPolicyOnlyKicksForwards(t *testing.T) {
	p := KickPolicy{}
	assert.Equal(t, KickMember, p.OnBackPressure("c", core.Message{Type: core.EventScreenFrame}))
	assert.Equal(t, KickMember, p.OnBackPressure("c", core.Message{Type: core.EventControlEvent}))
	assert.Equal(t, DropFrame, p.OnBackPressure("c", core.Message{Type: core.EventHostDisconnected}))
	assert.Equal(t, DropFrame, DropPolicy{}.OnBackPressure("c", core.Message{Type: core.EventScreenFrame}))
}
