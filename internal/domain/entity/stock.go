package entity

import "time"

// StockEntry vista local de la cantidad disponible de un ítem en un BIN.
// El valor autoritativo vive en el ledger externo; RefreshedAt marca la última sincronización.
type StockEntry struct {
	ItemID      string
	BinID       string
	Quantity    int
	RefreshedAt time.Time
	Exists      bool // false si la fila aún no existe en la caché
}

// Fresh indica si la entrada es confiable según el TTL.
func (s *StockEntry) Fresh(now time.Time, ttl time.Duration) bool {
	return s.Exists && !s.RefreshedAt.IsZero() && now.Sub(s.RefreshedAt) <= ttl
}
