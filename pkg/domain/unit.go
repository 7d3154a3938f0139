package domain

// UnitKind is the host's cell type
type UnitKind string

const (
	UnitKindCode     UnitKind = "code"
	UnitKindMarkdown UnitKind = "markdown"
	UnitKindRaw      UnitKind = "raw"
)

// Unit is a single cell of the host document
type Unit struct {
	ID   string   `json:"id"`
	Kind UnitKind `json:"kind"`
}

// Runnable reports whether the unit takes part in checkpointing
func (u Unit) Runnable() bool {
	return u.Kind == UnitKindCode
}

// IndexOf returns the position of unitID in units, or -1
func IndexOf(units []Unit, unitID string) int {
	for i, u := range units {
		if u.ID == unitID {
			return i
		}
	}
	return -1
}
