package docs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swaggo/swag"
)

func TestSwaggerRegistrado(t *testing.T) {
	doc, err := swag.ReadDoc("swagger")
	require.NoError(t, err)

	var spec map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc), &spec))
	paths, ok := spec["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/api/deductions")
	assert.Contains(t, paths, "/api/movements/{id}/compensate")
}
