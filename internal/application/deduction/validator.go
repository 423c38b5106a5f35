package deduction

import (
	"context"
	"fmt"

	"github.com/jhoicas/stock-deduction/internal/domain"
	"github.com/jhoicas/stock-deduction/internal/domain/entity"
	"github.com/jhoicas/stock-deduction/internal/domain/repository"
)

// Target orden y BIN validados para la deducción.
type Target struct {
	Order *entity.Order
	Bin   *entity.Bin
}

// Validator reglas de negocio previas a la transacción. Solo lecturas locales.
type Validator struct {
	orders      repository.OrderRepository
	bins        repository.BinRepository
	audit       repository.AuditRepository
	maxQuantity int
}

// NewValidator construye el validador de reglas de negocio.
func NewValidator(orders repository.OrderRepository, bins repository.BinRepository, audit repository.AuditRepository, maxQuantity int) *Validator {
	return &Validator{orders: orders, bins: bins, audit: audit, maxQuantity: maxQuantity}
}

// Validate aplica, en orden: estado de la orden, BIN activo, cantidad y deducción duplicada.
// La verificación de duplicado se repite dentro de la transacción y la respalda la restricción única.
func (v *Validator) Validate(ctx context.Context, req entity.DeductionRequest) (*Target, error) {
	order, err := v.orders.FindByNumber(ctx, req.OrderNumber())
	if err != nil {
		return nil, domain.StorageFailure(fmt.Errorf("find order: %w", err))
	}
	if order == nil || !order.Deductible() {
		return nil, domain.ErrOrderNotDeductible
	}

	bin, err := v.bins.FindByID(ctx, req.BinID())
	if err != nil {
		return nil, domain.StorageFailure(fmt.Errorf("find bin: %w", err))
	}
	if bin == nil || !bin.Active {
		return nil, domain.ErrInvalidBin
	}
	if req.WarehouseID() != "" && req.WarehouseID() != bin.WarehouseID {
		return nil, domain.ErrInvalidBin
	}

	if req.Quantity() <= 0 || req.Quantity() > v.maxQuantity {
		return nil, domain.ErrInvalidQuantity
	}

	dup, err := v.audit.HasSuccessfulDeduction(ctx, req.OrderNumber(), req.ItemID())
	if err != nil {
		return nil, domain.StorageFailure(fmt.Errorf("duplicate check: %w", err))
	}
	if dup {
		return nil, domain.ErrDuplicateDeduction
	}
	return &Target{Order: order, Bin: bin}, nil
}
