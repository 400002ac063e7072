package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpolateLeftToRightWithCallerPrecedence(t *testing.T) {
	tmpl := "Hello {{name}}, your task is {{task}}."
	declared := []Variable{
		{Name: "name", Required: true},
		{Name: "task", Required: false, Default: "unspecified"},
	}

	out, err := Interpolate(tmpl, declared, map[string]string{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, your task is unspecified.", out)
}

func TestInterpolateCallerOverridesDefault(t *testing.T) {
	tmpl := "{{greeting}}"
	declared := []Variable{{Name: "greeting", Default: "hi"}}

	out, err := Interpolate(tmpl, declared, map[string]string{"greeting": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestInterpolateMissingRequiredFails(t *testing.T) {
	tmpl := "{{brief}}"
	declared := []Variable{{Name: "brief", Required: true}}

	_, err := Interpolate(tmpl, declared, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "brief")
}

func TestInterpolateUnknownNonRequiredSubstitutesEmpty(t *testing.T) {
	out, err := Interpolate("[{{mystery}}]", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestHashTemplateIsDeterministic(t *testing.T) {
	a := HashTemplate("hello {{name}}")
	b := HashTemplate("hello {{name}}")
	c := HashTemplate("hello {{other}}")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
