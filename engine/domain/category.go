package domain

import "fmt"

// Category tags an error event with its failure class.
type Category string

const (
	CategorySecurity      Category = "security"
	CategoryCommunication Category = "communication"
	CategoryCANBus        Category = "can_bus"
	CategoryProgramming   Category = "programming"
	CategoryPowerVoltage  Category = "power_voltage"
	CategoryStateOfCharge Category = "state_of_charge"
	CategoryPrecondition  Category = "precondition"
	CategoryBusyPending   Category = "busy_pending"
	CategoryDataIntegrity Category = "data_integrity"
	CategoryUnclassified  Category = "unclassified"
)

// AllCategories lists every category in a fixed order.
var AllCategories = []Category{
	CategoryPowerVoltage,
	CategorySecurity,
	CategoryCANBus,
	CategoryProgramming,
	CategoryStateOfCharge,
	CategoryCommunication,
	CategoryBusyPending,
	CategoryDataIntegrity,
	CategoryPrecondition,
	CategoryUnclassified,
}

// categoryWeights is the only weight table. busy_pending is low because
// NRC 0x78 is a protocol-level "please wait".
var categoryWeights = map[Category]float64{
	CategoryPowerVoltage:  5,
	CategoryCANBus:        4,
	CategorySecurity:      4,
	CategoryProgramming:   4,
	CategoryCommunication: 3,
	CategoryStateOfCharge: 3,
	CategoryPrecondition:  2,
	CategoryDataIntegrity: 2,
	CategoryBusyPending:   1,
	CategoryUnclassified:  0,
}

// Weight returns the category's priority weight.
func (c Category) Weight() float64 { return categoryWeights[c] }

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := categoryWeights[c]
	return ok
}

// Label is the human-readable form used in prose.
func (c Category) Label() string {
	switch c {
	case CategoryPowerVoltage:
		return "power/voltage"
	case CategoryCANBus:
		return "CAN bus"
	case CategoryStateOfCharge:
		return "state of charge"
	case CategoryBusyPending:
		return "busy/response pending"
	case CategoryDataIntegrity:
		return "data integrity"
	default:
		return string(c)
	}
}

// TopWeighted reports whether c sits in one of the two highest weight tiers.
func (c Category) TopWeighted() bool {
	var first, second float64
	for _, w := range categoryWeights {
		switch {
		case w > first:
			first, second = w, first
		case w < first && w > second:
			second = w
		}
	}
	w := c.Weight()
	return w > 0 && (w == first || w == second)
}

// ParseCategory converts a configuration string into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}
