package refs

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeSystemNameDefaulting(t *testing.T) {
	var r = TokenValueRec{}
	require.Equal(t, DefaultCodeSystem, r.CodeSystemName())

	r.CodeSystem = "http://loinc.org"
	require.Equal(t, "http://loinc.org", r.CodeSystemName())
}

func TestCommonTokenKeyOfRecord(t *testing.T) {
	var r = TokenValueRec{CodeSystemID: 7}

	// Case: nil token values have no key.
	var _, ok = r.CommonTokenKey()
	require.False(t, ok)

	r.TokenValue = String("1234-5")
	key, ok := r.CommonTokenKey()
	require.True(t, ok)
	require.Equal(t, CommonTokenKey{CodeSystemID: 7, TokenValue: "1234-5"}, key)
}

func TestCommonTokenKeyOrdering(t *testing.T) {
	var keys = []CommonTokenKey{
		{CodeSystemID: 2, TokenValue: "a"},
		{CodeSystemID: 1, TokenValue: "b"},
		{CodeSystemID: 1, TokenValue: "a"},
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	require.Equal(t, []CommonTokenKey{
		{CodeSystemID: 1, TokenValue: "a"},
		{CodeSystemID: 1, TokenValue: "b"},
		{CodeSystemID: 2, TokenValue: "a"},
	}, keys)
}

func TestGroupByResourceType(t *testing.T) {
	var a1 = &TokenValueRec{ResourceType: "Patient", LogicalResourceID: 1}
	var b1 = &TokenValueRec{ResourceType: "Observation", LogicalResourceID: 2}
	var a2 = &TokenValueRec{ResourceType: "Patient", LogicalResourceID: 3}

	var types, groups = GroupByResourceType([]*TokenValueRec{a1, b1, a2})
	require.Equal(t, []string{"Observation", "Patient"}, types)
	require.Equal(t, []*TokenValueRec{a1, a2}, groups["Patient"])
	require.Equal(t, []*TokenValueRec{b1}, groups["Observation"])
}
