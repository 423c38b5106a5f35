package deduction

import "time"

// Policy parámetros de negocio del flujo de deducción.
type Policy struct {
	PaymentFreshness  time.Duration // antigüedad máxima del último pago completado
	RateLimitPerHour  int           // deducciones por actor por hora calendario
	MaxQuantity       int           // límite de cordura por solicitud
	StockCacheTTL     time.Duration // vigencia de la caché local de stock
	RemoteTimeout     time.Duration // por llamada al ledger externo
	UnitOfWorkTimeout time.Duration // duración máxima de la transacción completa
}

// DefaultPolicy valores por defecto.
func DefaultPolicy() Policy {
	return Policy{
		PaymentFreshness:  24 * time.Hour,
		RateLimitPerHour:  100,
		MaxQuantity:       1000,
		StockCacheTTL:     5 * time.Minute,
		RemoteTimeout:     30 * time.Second,
		UnitOfWorkTimeout: 90 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.PaymentFreshness <= 0 {
		p.PaymentFreshness = d.PaymentFreshness
	}
	if p.RateLimitPerHour <= 0 {
		p.RateLimitPerHour = d.RateLimitPerHour
	}
	if p.MaxQuantity <= 0 {
		p.MaxQuantity = d.MaxQuantity
	}
	if p.StockCacheTTL <= 0 {
		p.StockCacheTTL = d.StockCacheTTL
	}
	if p.RemoteTimeout <= 0 {
		p.RemoteTimeout = d.RemoteTimeout
	}
	if p.UnitOfWorkTimeout <= 0 {
		p.UnitOfWorkTimeout = d.UnitOfWorkTimeout
	}
	return p
}
