package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitOfMeasure(t *testing.T) {
	cases := []struct {
		unit       UnitOfMeasure
		abbrev     string
		fractional bool
	}{
		{UnitPiece, "pcs", false},
		{UnitBox, "box", false},
		{UnitCarton, "ctn", false},
		{UnitKilogram, "kg", true},
		{UnitLiter, "L", true},
	}

	for _, tc := range cases {
		t.Run(string(tc.unit), func(t *testing.T) {
			assert.Equal(t, tc.abbrev, tc.unit.Abbreviation())
			assert.Equal(t, tc.fractional, tc.unit.AllowsFractional())
			assert.Equal(t, !tc.fractional, tc.unit.IsDiscrete())
			assert.True(t, tc.unit.Valid())
		})
	}

	assert.Equal(t, "1.5000 kg", UnitKilogram.FormatQuantity(MustQuantity("1.5")))
	assert.Equal(t, "Carton", UnitCarton.DisplayName())
}

func TestParseUnitOfMeasure(t *testing.T) {
	u, err := ParseUnitOfMeasure(" liter ")
	require.NoError(t, err)
	assert.Equal(t, UnitLiter, u)

	_, err = ParseUnitOfMeasure("GALLON")
	assert.ErrorIs(t, err, ErrInvalidUnit)
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestParseSKU(t *testing.T) {
	sku, err := ParseSKU("  sku-001 ")
	require.NoError(t, err)
	assert.Equal(t, SKU("SKU-001"), sku)

	for _, bad := range []string{"", "AB", "SKU_001", "THIS-SKU-IS-FAR-TOO-LONG", "SKU 1"} {
		_, err := ParseSKU(bad)
		assert.ErrorIs(t, err, ErrInvalidSKU, bad)
	}
}
