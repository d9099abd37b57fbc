package domain

import (
	"fmt"
	"strings"
)

type UnitOfMeasure string

const (
	UnitPiece    UnitOfMeasure = "PIECE"
	UnitBox      UnitOfMeasure = "BOX"
	UnitCarton   UnitOfMeasure = "CARTON"
	UnitKilogram UnitOfMeasure = "KILOGRAM"
	UnitLiter    UnitOfMeasure = "LITER"
)

type unitProperties struct {
	displayName  string
	abbreviation string
	fractional   bool
}

var units = map[UnitOfMeasure]unitProperties{
	UnitPiece:    {displayName: "Piece", abbreviation: "pcs"},
	UnitBox:      {displayName: "Box", abbreviation: "box"},
	UnitCarton:   {displayName: "Carton", abbreviation: "ctn"},
	UnitKilogram: {displayName: "Kilogram", abbreviation: "kg", fractional: true},
	UnitLiter:    {displayName: "Liter", abbreviation: "L", fractional: true},
}

// ParseUnitOfMeasure accepts any letter case, e.g. "kilogram".
func ParseUnitOfMeasure(s string) (UnitOfMeasure, error) {
	u := UnitOfMeasure(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := units[u]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidUnit, s)
	}
	return u, nil
}

func (u UnitOfMeasure) Valid() bool {
	_, ok := units[u]
	return ok
}

func (u UnitOfMeasure) DisplayName() string  { return units[u].displayName }
func (u UnitOfMeasure) Abbreviation() string { return units[u].abbreviation }

// AllowsFractional is informational only; quantities in discrete units are
// not truncated.
func (u UnitOfMeasure) AllowsFractional() bool { return units[u].fractional }
func (u UnitOfMeasure) IsDiscrete() bool       { return !units[u].fractional }

func (u UnitOfMeasure) FormatQuantity(q Quantity) string {
	return q.String() + " " + u.Abbreviation()
}
