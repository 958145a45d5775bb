package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/recargo-engine/generic"
	"github.com/warp/recargo-engine/recargo"
)

func TestDefaultCatalog(t *testing.T) {
	types := DefaultCatalog()

	require.Len(t, types, len(recargo.Codes))
	for i, typ := range types {
		assert.Equal(t, recargo.Codes[i], typ.Code)
		assert.Equal(t, i+1, typ.Order)
	}
	assert.Equal(t, "25", types[0].Percentage.String())
	assert.True(t, types[0].IsOvertime)
	assert.Equal(t, "overtime", types[0].Category)
	assert.False(t, types[5].IsOvertime)
	assert.Equal(t, "surcharge", types[5].Category)
}

func TestParseCatalog_OverridesAndFillsDefaults(t *testing.T) {
	// GIVEN: A catalog that renames RN and changes its percentage
	catalog := `{"types": [
		{"code": "RN", "name": "Recargo nocturno ordinario", "percentage": "35.5"}
	]}`

	// WHEN: Parsing it
	types, err := NewCatalogFactory().ParseCatalog(catalog)
	require.NoError(t, err)

	// THEN: RN is overridden, the other codes keep the defaults, order is fixed
	require.Len(t, types, 6)
	rn := types[4]
	assert.Equal(t, recargo.CodeRN, rn.Code)
	assert.Equal(t, "Recargo nocturno ordinario", rn.Name)
	assert.Equal(t, "35.5", rn.Percentage.String())
	assert.Equal(t, "surcharge", rn.Category)
	assert.Equal(t, 5, rn.Order)
	assert.Equal(t, DefaultCatalog()[0].Name, types[0].Name)
}

func TestParseCatalog_Errors(t *testing.T) {
	tests := []struct {
		name    string
		catalog string
	}{
		{"unknown code", `{"types": [{"code": "XX", "name": "x", "percentage": 1}]}`},
		{"missing name", `{"types": [{"code": "HED", "percentage": 1}]}`},
		{"negative percentage", `{"types": [{"code": "HED", "name": "x", "percentage": -1}]}`},
		{"duplicate code", `{"types": [{"code": "HED", "name": "a", "percentage": 1}, {"code": "HED", "name": "b", "percentage": 2}]}`},
	}
	f := NewCatalogFactory()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseCatalog(tt.catalog)
			assert.ErrorIs(t, err, generic.ErrValidation)
		})
	}

	_, err := f.ParseCatalog("{not json")
	assert.Error(t, err)
}
