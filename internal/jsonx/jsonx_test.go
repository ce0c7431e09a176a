package jsonx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Facts []struct {
		Subject string  `json:"subject"`
		Object  string  `json:"object"`
		Conf    float64 `json:"confidence"`
	} `json:"facts"`
}

func TestUnmarshalPlain(t *testing.T) {
	var p payload
	err := Unmarshal(`{"facts":[{"subject":"user","object":"TechCorp","confidence":0.9}]}`, &p)
	require.NoError(t, err)
	require.Len(t, p.Facts, 1)
	assert.Equal(t, "user", p.Facts[0].Subject)
}

func TestUnmarshalFenced(t *testing.T) {
	var p payload
	raw := "```json\n{\"facts\":[{\"subject\":\"user\",\"object\":\"X\",\"confidence\":0.5}]}\n```"
	err := Unmarshal(raw, &p)
	require.NoError(t, err)
	require.Len(t, p.Facts, 1)
}

func TestUnmarshalTrailingComma(t *testing.T) {
	var p payload
	err := Unmarshal(`{"facts":[{"subject":"user","object":"X","confidence":0.5},]}`, &p)
	require.NoError(t, err)
	require.Len(t, p.Facts, 1)
}

func TestUnmarshalTruncatedArray(t *testing.T) {
	var p payload
	raw := `{"facts":[{"subject":"a","object":"1","confidence":0.9},{"subject":"b","object":"2","confidence":0.8},{"subject":"c","obj`
	err := Unmarshal(raw, &p)
	require.NoError(t, err)
	// The incomplete third element is dropped; the first two survive.
	require.GreaterOrEqual(t, len(p.Facts), 2)
	assert.Equal(t, "a", p.Facts[0].Subject)
	assert.Equal(t, "b", p.Facts[1].Subject)
}

func TestUnmarshalProseWrapped(t *testing.T) {
	var p payload
	raw := `Here is the extraction you asked for: {"facts":[{"subject":"user","object":"X","confidence":0.7}]} Let me know.`
	err := Unmarshal(raw, &p)
	require.NoError(t, err)
	require.Len(t, p.Facts, 1)
}

func TestUnmarshalGarbage(t *testing.T) {
	var p payload
	err := Unmarshal("no json here at all", &p)
	assert.Error(t, err)
}

func TestSalvageTruncated(t *testing.T) {
	out, ok := SalvageTruncated(`{"items":[{"a":1},{"b":2},{"c":`)
	require.True(t, ok)
	assert.JSONEq(t, `{"items":[{"a":1},{"b":2}]}`, out)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences(`{"a":1}`))
}
