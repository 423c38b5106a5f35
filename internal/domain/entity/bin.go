package entity

// Bin sub-ubicación física dentro de una bodega; unidad de control de stock.
type Bin struct {
	ID          string
	WarehouseID string
	Code        string
	Location    Location
	Active      bool
}
