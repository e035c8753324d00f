package harvest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultValidate(t *testing.T) {
	t.Parallel()

	res := Result{
		EntityID:   "uni",
		BestEmail:  "info@uni.edu",
		Candidates: []CandidateEmail{{Address: "info@uni.edu"}, {Address: "dean@uni.edu"}},
	}
	require.NoError(t, res.Validate())

	res.BestEmail = "other@uni.edu"
	require.Error(t, res.Validate())

	require.Error(t, Result{}.Validate())
	require.NoError(t, Result{EntityID: "x", Error: "timeout"}.Validate())
}

func TestFetchOutcomeDescribe(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "http-error: status 404", FetchOutcome{Status: StatusHTTPError, StatusCode: 404}.Describe())
	assert.Equal(t, "timeout: deadline", FetchOutcome{Status: StatusTimeout, Err: errors.New("deadline")}.Describe())
	assert.Equal(t, "network-error", FetchOutcome{Status: StatusNetworkError}.Describe())
	assert.True(t, FetchOutcome{Status: StatusOK}.OK())
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	assert.True(t, CanTransition(StatePending, StateFetchingHomepage))
	assert.True(t, CanTransition(StateFetchingHomepage, StateCompleted))
	assert.True(t, CanTransition(StateExtracting, StateCompleted))
	assert.False(t, CanTransition(StatePending, StateExtracting))
	assert.False(t, CanTransition(StateCompleted, StatePending))
	assert.False(t, CanTransition(StateFetchingContacts, StateDiscoveringContacts))
}

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "university of oxford", NormalizeName("  University   of OXFORD "))
	assert.Equal(t, NormalizeName("Universität Wien"), NormalizeName("UNIVERSITÄT  WIEN"))
	assert.Equal(t, "key-1", EntityID(" key-1 ", "Some Name"))
	assert.Equal(t, "some name", EntityID("", "Some Name"))
}
