package job

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawStr(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func TestZipStepIDs_MatchesByNameAndAction(t *testing.T) {
	configSteps := []ConfigStep{
		{Name: "A", Action: rawStr("acme/build@v1")},
		{Name: "B", Action: rawStr("acme/test@v1")},
		{Name: "C", Action: rawStr("acme/deploy@v1")},
	}
	// server list permuted relative to config order
	serverSteps := []ServerStep{
		{ID: "s-c", Name: "C", Action: rawStr("acme/deploy@v1")},
		{ID: "s-a", Name: "A", Action: rawStr("acme/build@v1")},
		{ID: "s-b", Name: "B", Action: rawStr("acme/test@v1")},
	}

	zipped, err := zipStepIDs(configSteps, serverSteps)
	require.NoError(t, err)
	require.Len(t, zipped, 3)
	assert.Equal(t, "s-a", zipped[0].ID)
	assert.Equal(t, "s-b", zipped[1].ID)
	assert.Equal(t, "s-c", zipped[2].ID)
}

func TestZipStepIDs_EachServerIDUsedOnce(t *testing.T) {
	configSteps := []ConfigStep{
		{Name: "dup", Action: rawStr("acme/x@v1")},
		{Name: "dup", Action: rawStr("acme/x@v1")},
	}
	serverSteps := []ServerStep{
		{ID: "s-1", Name: "dup", Action: rawStr("acme/x@v1")},
		{ID: "s-2", Name: "dup", Action: rawStr("acme/x@v1")},
	}

	zipped, err := zipStepIDs(configSteps, serverSteps)
	require.NoError(t, err)
	assert.NotEqual(t, zipped[0].ID, zipped[1].ID)
}

func TestZipStepIDs_FailsWhenUnmatched(t *testing.T) {
	configSteps := []ConfigStep{{Name: "orphan", Action: rawStr("acme/x@v1")}}
	_, err := zipStepIDs(configSteps, nil)
	require.Error(t, err)
	var target *StepIdentificationError
	assert.ErrorAs(t, err, &target)
}
