package recipes

import "errors"

// BOM links a finished product identity to the materials required to build
// one unit of it.
type BOM struct {
	ID          int64
	ProductName string
	ProductSKU  string
	Lines       []Line
	Notes       string
}

// Line is a single material requirement per produced unit.
type Line struct {
	MaterialID int64
	QtyPerUnit float64
}

// LineDetail is a line joined with its material's display fields.
type LineDetail struct {
	MaterialID   int64
	MaterialName string
	Unit         string
	QtyPerUnit   float64
}

// Requirement is a material quantity needed for a concrete production run.
type Requirement struct {
	MaterialID int64
	Qty        float64
}

// ErrRecipeInUse indicates a recipe still referenced by active orders.
var ErrRecipeInUse = errors.New("recipes: recipe referenced by active orders")
