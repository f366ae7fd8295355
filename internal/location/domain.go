// Package location validates the warehouse > rack > floor > box placement of a device.
package location

// Level is one tier of the storage hierarchy.
type Level string

const (
	LevelWarehouse Level = "warehouse"
	LevelRack      Level = "rack"
	LevelFloor     Level = "floor"
	LevelBox       Level = "box"
)

// parent returns the level a node of l hangs from.
func (l Level) parent() Level {
	switch l {
	case LevelRack:
		return LevelWarehouse
	case LevelFloor:
		return LevelRack
	case LevelBox:
		return LevelFloor
	}
	return ""
}

// Chain is an optional placement; inner levels require their outer levels.
type Chain struct {
	WarehouseUUID *string `json:"warehouse_uuid,omitempty" validate:"omitempty,uuid"`
	RackUUID      *string `json:"rack_uuid,omitempty" validate:"omitempty,uuid"`
	FloorUUID     *string `json:"floor_uuid,omitempty" validate:"omitempty,uuid"`
	BoxUUID       *string `json:"box_uuid,omitempty" validate:"omitempty,uuid"`
}

// IsEmpty reports whether no level is set.
func (c Chain) IsEmpty() bool {
	return c.WarehouseUUID == nil && c.RackUUID == nil && c.FloorUUID == nil && c.BoxUUID == nil
}

// Merge returns next when it names any level, otherwise c. A new placement replaces the old one whole.
func (c Chain) Merge(next Chain) Chain {
	if next.IsEmpty() {
		return c
	}
	return next
}

type link struct {
	level Level
	uuid  *string
}

func (c Chain) links() []link {
	return []link{
		{LevelWarehouse, c.WarehouseUUID},
		{LevelRack, c.RackUUID},
		{LevelFloor, c.FloorUUID},
		{LevelBox, c.BoxUUID},
	}
}

// Node is a stored location with its parent.
type Node struct {
	UUID       string
	Name       string
	ParentUUID string
}

// Path carries the display names of a resolved chain.
type Path struct {
	Warehouse string `json:"warehouse,omitempty"`
	Rack      string `json:"rack,omitempty"`
	Floor     string `json:"floor,omitempty"`
	Box       string `json:"box,omitempty"`
}
