package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"towing/internal/domain"
)

var allStatuses = []domain.RequestStatus{
	domain.RequestStatusPending,
	domain.RequestStatusDirected,
	domain.RequestStatusInProgress,
	domain.RequestStatusOnSite,
	domain.RequestStatusEnRoute,
	domain.RequestStatusFinalized,
	domain.RequestStatusCancelled,
}

func TestCanTransition_OnlyDefinedEdges(t *testing.T) {
	t.Parallel()

	allowed := map[[2]domain.RequestStatus]bool{
		{domain.RequestStatusPending, domain.RequestStatusDirected}:      true,
		{domain.RequestStatusPending, domain.RequestStatusInProgress}:    true,
		{domain.RequestStatusPending, domain.RequestStatusCancelled}:     true,
		{domain.RequestStatusDirected, domain.RequestStatusInProgress}:   true,
		{domain.RequestStatusDirected, domain.RequestStatusPending}:      true,
		{domain.RequestStatusDirected, domain.RequestStatusCancelled}:    true,
		{domain.RequestStatusInProgress, domain.RequestStatusOnSite}:     true,
		{domain.RequestStatusOnSite, domain.RequestStatusEnRoute}:        true,
		{domain.RequestStatusEnRoute, domain.RequestStatusFinalized}:     true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := allowed[[2]domain.RequestStatus{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestValidate_ReturnsTransitionError(t *testing.T) {
	t.Parallel()

	err := Validate(domain.RequestStatusOnSite, domain.RequestStatusFinalized)
	require.Error(t, err)

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, domain.RequestStatusOnSite, te.From)
	assert.Equal(t, domain.RequestStatusFinalized, te.To)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	assert.NoError(t, Validate(domain.RequestStatusInProgress, domain.RequestStatusOnSite))
}

func TestTerminalStatesHaveNoExit(t *testing.T) {
	t.Parallel()

	for _, s := range []domain.RequestStatus{domain.RequestStatusFinalized, domain.RequestStatusCancelled} {
		assert.True(t, s.IsTerminal())
		_, ok := Next(s)
		assert.False(t, ok)
		for _, to := range allStatuses {
			assert.False(t, CanTransition(s, to))
		}
	}
}

func TestGate(t *testing.T) {
	t.Parallel()

	phase, ok := Gate(domain.RequestStatusOnSite, domain.RequestStatusEnRoute)
	assert.True(t, ok)
	assert.Equal(t, domain.ChecklistPhaseStart, phase)

	phase, ok = Gate(domain.RequestStatusEnRoute, domain.RequestStatusFinalized)
	assert.True(t, ok)
	assert.Equal(t, domain.ChecklistPhaseEnd, phase)

	_, ok = Gate(domain.RequestStatusInProgress, domain.RequestStatusOnSite)
	assert.False(t, ok)

	from, to, ok := GatedTransition(domain.ChecklistPhaseEnd)
	assert.True(t, ok)
	assert.Equal(t, domain.RequestStatusEnRoute, from)
	assert.Equal(t, domain.RequestStatusFinalized, to)
}

func TestCancellable(t *testing.T) {
	t.Parallel()

	assert.True(t, Cancellable(domain.RequestStatusPending))
	assert.True(t, Cancellable(domain.RequestStatusDirected))
	assert.False(t, Cancellable(domain.RequestStatusInProgress))
	assert.False(t, Cancellable(domain.RequestStatusFinalized))
	assert.ElementsMatch(t, CancellableStatuses(), []domain.RequestStatus{
		domain.RequestStatusPending, domain.RequestStatusDirected,
	})
}
