package refctlcmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.refcache.dev/core/refs"
)

func TestReadRecords(t *testing.T) {
	var recs, err = readRecords(strings.NewReader(`resource_type,logical_resource_id,parameter_name_id,code_system,token_value,ref_version_id
Observation,100,7,http://loinc.org,1234-5,
Observation,100,8,,,3
Patient, 200,7,"urn:a,b",x,1
`))
	require.NoError(t, err)
	require.Equal(t, []*refs.TokenValueRec{
		{ResourceType: "Observation", LogicalResourceID: 100, ParameterNameID: 7,
			CodeSystem: "http://loinc.org", TokenValue: refs.String("1234-5")},
		{ResourceType: "Observation", LogicalResourceID: 100, ParameterNameID: 8,
			RefVersionID: refs.Int32(3)},
		{ResourceType: "Patient", LogicalResourceID: 200, ParameterNameID: 7,
			CodeSystem: "urn:a,b", TokenValue: refs.String("x"), RefVersionID: refs.Int32(1)},
	}, recs)
	assert.Nil(t, recs[1].TokenValue)
	assert.Empty(t, recs[1].CodeSystem)

	// Case: an input without a header is read from its first line.
	recs, err = readRecords(strings.NewReader("Patient,1,2,sys,v,\n"))
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	// Case: malformed ids are rejected.
	_, err = readRecords(strings.NewReader("Observation,abc,7,sys,v,\n"))
	require.EqualError(t, err, `line 1: logical_resource_id: strconv.ParseInt: parsing "abc": invalid syntax`)

	// Case: records must have every column.
	_, err = readRecords(strings.NewReader("Observation,1,7\n"))
	assert.Error(t, err)
}
