package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const incrementSchema = `{
	"type": "object",
	"properties": {
		"by": {"type": "integer", "minimum": 1, "maximum": 1000}
	},
	"required": ["by"],
	"additionalProperties": false
}`

type incrementInput struct {
	By int `json:"by"`
}

func TestValidateStructs(t *testing.T) {
	v := MustCompile(incrementSchema)

	require.NoError(t, v.Validate(incrementInput{By: 3}))
	assert.Error(t, v.Validate(incrementInput{By: 0}))
	assert.Error(t, v.Validate(incrementInput{By: 5000}))
	assert.Error(t, v.Validate(map[string]any{"by": 1, "extra": true}))
}

func TestValidateRawJSON(t *testing.T) {
	v := MustCompile(incrementSchema)

	require.NoError(t, v.Validate(json.RawMessage(`{"by":2}`)))
	require.NoError(t, v.Validate([]byte(`{"by":2}`)))
	assert.Error(t, v.Validate([]byte(`{}`)))
	assert.Error(t, v.Validate([]byte(`{`)))
}

func TestValidateUnencodable(t *testing.T) {
	v := MustCompile(`{"type": "object"}`)
	assert.Error(t, v.Validate(make(chan int)))
}

func TestCompileRejectsBadDocuments(t *testing.T) {
	_, err := Compile([]byte(`{"type": 12}`))
	assert.Error(t, err)
	_, err = Compile([]byte(`{"type": "object", "required": "by"}`))
	assert.Error(t, err)
	assert.Panics(t, func() { MustCompile(`not json`) })
}

func TestFuncDelegates(t *testing.T) {
	validate := MustCompile(incrementSchema).Func()
	require.NoError(t, validate(incrementInput{By: 1}))
	assert.Error(t, validate(incrementInput{}))
}
