package mode

import (
	"testing"

	"github.com/inviti8/hvym-pinner/internal/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetReturnsInitial(t *testing.T) {
	c := New(types.ModeAutonomous, zap.NewNop())
	require.Equal(t, types.ModeAutonomous, c.Get())
}

func TestSetChangesMode(t *testing.T) {
	c := New(types.ModeAutonomous, zap.NewNop())
	c.Set(types.ModeOperatorApproved)
	require.Equal(t, types.ModeOperatorApproved, c.Get())
}

func TestSetToSameModeIsNoop(t *testing.T) {
	c := New(types.ModeAutonomous, zap.NewNop())
	c.Set(types.ModeAutonomous)
	require.Equal(t, types.ModeAutonomous, c.Get())
}
