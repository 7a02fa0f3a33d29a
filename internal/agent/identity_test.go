package agent

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssd-technologies/arbiter/internal/errs"
)

var testNow = time.Unix(1_700_000_000, 0)

func TestNewIdentity(t *testing.T) {
	a, err := NewIdentity("owner", "market-maker", TypeTrading, MinStake, testNow)
	require.NoError(t, err)
	assert.True(t, a.IsActive)
	assert.Equal(t, InitialReputation, a.Reputation)
	assert.Equal(t, MinStake, a.StakeAmount)
	assert.Equal(t, testNow.Unix(), a.LastActive)
}

func TestNewIdentityValidation(t *testing.T) {
	_, err := NewIdentity("owner", "", TypeService, MinStake, testNow)
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = NewIdentity("owner", strings.Repeat("a", MaxNameLen+1), TypeService, MinStake, testNow)
	assert.True(t, errors.Is(err, errs.Validation))
	_, err = NewIdentity("owner", strings.Repeat("a", MaxNameLen), TypeService, MinStake, testNow)
	assert.NoError(t, err)

	_, err = NewIdentity("owner", "bot", TypeService, MinStake-1, testNow)
	assert.ErrorIs(t, err, ErrInsufficientStake)
	assert.True(t, errors.Is(err, errs.Funds))

	_, err = NewIdentity("owner", "bot", Type(7), MinStake, testNow)
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestDeactivateReturnsStake(t *testing.T) {
	a, err := NewIdentity("owner", "bot", TypeOracle, 3*MinStake, testNow)
	require.NoError(t, err)

	_, err = a.Deactivate("someone-else", testNow)
	assert.True(t, errors.Is(err, errs.Authorization))

	stake, err := a.Deactivate("owner", testNow)
	require.NoError(t, err)
	assert.Equal(t, 3*MinStake, stake)
	assert.Zero(t, a.StakeAmount)
	assert.False(t, a.IsActive)

	_, err = a.Deactivate("owner", testNow)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestApplyDeltaClamps(t *testing.T) {
	a, err := NewIdentity("owner", "bot", TypeCustom, MinStake, testNow)
	require.NoError(t, err)

	a.ApplyDelta(-200, testNow)
	assert.Equal(t, uint16(300), a.Reputation)
	a.ApplyDelta(-10_000, testNow)
	assert.Equal(t, uint16(0), a.Reputation)
	a.ApplyDelta(math.MaxInt64, testNow)
	assert.Equal(t, MaxReputation, a.Reputation)
}

func TestParseAgentType(t *testing.T) {
	for _, typ := range []Type{TypeTrading, TypeService, TypeOracle, TypeCustom} {
		got, err := ParseType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
}
