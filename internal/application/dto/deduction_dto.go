package dto

import (
	"time"

	"github.com/jhoicas/stock-deduction/internal/domain/entity"
)

// DeductRequest body para POST /api/deductions.
type DeductRequest struct {
	OrderNumber string `json:"order_number"`
	ItemID      string `json:"item_id"`
	BinID       string `json:"bin_id"`
	Quantity    int    `json:"quantity"`
	Reason      string `json:"reason"`
	OTPCode     string `json:"otp_code,omitempty"`
	WarehouseID string `json:"warehouse_id,omitempty"`
}

// DeductionResponse resultado de una deducción exitosa.
type DeductionResponse struct {
	Success               bool   `json:"success"`
	AuditID               string `json:"audit_id"`
	ExternalCorrelationID string `json:"external_correlation_id"`
	RemainingStock        int    `json:"remaining_stock"`
	PostingMode           string `json:"posting_mode"` // direct | fallback
}

// DeductionRecordDTO registro de auditoría expuesto en las consultas.
type DeductionRecordDTO struct {
	ID                    string    `json:"id"`
	OrderNumber           string    `json:"order_number"`
	ItemID                string    `json:"item_id"`
	BinID                 string    `json:"bin_id"`
	WarehouseID           string    `json:"warehouse_id"`
	Quantity              int       `json:"quantity"`
	Reason                string    `json:"reason"`
	OTPSupplied           bool      `json:"otp_supplied"`
	Outcome               string    `json:"outcome"`
	ErrorCode             string    `json:"error_code,omitempty"`
	ExternalCorrelationID *string   `json:"external_correlation_id"`
	PostingMode           string    `json:"posting_mode"`
	RemainingStock        *int      `json:"remaining_stock"`
	ActorID               string    `json:"actor_id"`
	ClientIP              string    `json:"client_ip,omitempty"`
	UserAgent             string    `json:"user_agent,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// DeductionRecordFromEntity convierte el registro de auditoría a DTO.
func DeductionRecordFromEntity(r *entity.DeductionRecord) DeductionRecordDTO {
	return DeductionRecordDTO{
		ID:                    r.ID,
		OrderNumber:           r.OrderNumber,
		ItemID:                r.ItemID,
		BinID:                 r.BinID,
		WarehouseID:           r.WarehouseID,
		Quantity:              r.Quantity,
		Reason:                string(r.Reason),
		OTPSupplied:           r.OTPSupplied,
		Outcome:               r.Outcome,
		ErrorCode:             r.ErrorCode,
		ExternalCorrelationID: r.ExternalCorrelationID,
		PostingMode:           string(r.PostingMode),
		RemainingStock:        r.RemainingStock,
		ActorID:               r.ActorID,
		ClientIP:              r.ClientIP,
		UserAgent:             r.UserAgent,
		CreatedAt:             r.CreatedAt,
	}
}

// AuditQuery consulta por rango de fechas (revisión de cumplimiento).
type AuditQuery struct {
	PageRequest
	From time.Time
	To   time.Time
}

// AuditPage página de registros de auditoría.
type AuditPage struct {
	Items []DeductionRecordDTO `json:"items"`
	Page  PageResponse         `json:"page"`
}
