package entity

import (
	"strings"
	"time"

	"github.com/jhoicas/stock-deduction/internal/domain"
)

// ReasonCode motivo de la deducción (conjunto cerrado).
type ReasonCode string

const (
	ReasonPackageDispatch  ReasonCode = "package_dispatch"
	ReasonOrderFulfillment ReasonCode = "order_fulfillment"
	ReasonQualityControl   ReasonCode = "quality_control"
	ReasonReturnProcessing ReasonCode = "return_processing"
)

// ParseReasonCode valida el código de motivo; cualquier valor fuera del conjunto es rechazado.
func ParseReasonCode(s string) (ReasonCode, error) {
	switch rc := ReasonCode(strings.TrimSpace(s)); rc {
	case ReasonPackageDispatch, ReasonOrderFulfillment, ReasonQualityControl, ReasonReturnProcessing:
		return rc, nil
	}
	return "", domain.ErrInvalidReason
}

// ClientInfo metadatos del cliente que originó la solicitud.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// DeductionInput datos crudos para construir una DeductionRequest.
type DeductionInput struct {
	OrderNumber string
	ItemID      string
	BinID       string
	Quantity    int
	ActorID     string
	Reason      string
	OTPCode     string
	WarehouseID string
	Client      ClientInfo
}

// DeductionRequest solicitud de deducción inmutable. Solo se construye con NewDeductionRequest.
type DeductionRequest struct {
	orderNumber string
	itemID      string
	binID       string
	quantity    int
	actorID     string
	reason      ReasonCode
	otpCode     string
	warehouseID string
	client      ClientInfo
}

// NewDeductionRequest valida la forma de la solicitud. La cantidad se valida contra el
// límite de negocio en el validador; aquí solo se rechazan identificadores vacíos y motivos desconocidos.
func NewDeductionRequest(in DeductionInput) (DeductionRequest, error) {
	reason, err := ParseReasonCode(in.Reason)
	if err != nil {
		return DeductionRequest{}, err
	}
	order := strings.TrimSpace(in.OrderNumber)
	item := strings.TrimSpace(in.ItemID)
	bin := strings.TrimSpace(in.BinID)
	actor := strings.TrimSpace(in.ActorID)
	if order == "" || item == "" || bin == "" || actor == "" {
		return DeductionRequest{}, domain.ErrInvalidInput
	}
	return DeductionRequest{
		orderNumber: order,
		itemID:      item,
		binID:       bin,
		quantity:    in.Quantity,
		actorID:     actor,
		reason:      reason,
		otpCode:     strings.TrimSpace(in.OTPCode),
		warehouseID: strings.TrimSpace(in.WarehouseID),
		client:      in.Client,
	}, nil
}

func (r DeductionRequest) OrderNumber() string { return r.orderNumber }
func (r DeductionRequest) ItemID() string      { return r.itemID }
func (r DeductionRequest) BinID() string       { return r.binID }
func (r DeductionRequest) Quantity() int       { return r.quantity }
func (r DeductionRequest) ActorID() string     { return r.actorID }
func (r DeductionRequest) Reason() ReasonCode  { return r.reason }
func (r DeductionRequest) OTPCode() string     { return r.otpCode }
func (r DeductionRequest) WarehouseID() string { return r.warehouseID }
func (r DeductionRequest) Client() ClientInfo  { return r.client }
func (r DeductionRequest) HasOTP() bool        { return r.otpCode != "" }

// Resultado del intento de deducción registrado en auditoría.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure" // revertida después de contactar el ledger externo
	OutcomeError   = "error"   // falla del sistema
)

// PostingMode indica cómo quedó registrado el ajuste en el ledger externo.
type PostingMode string

const (
	PostedDirect      PostingMode = "direct"
	PostedViaFallback PostingMode = "fallback"
	NotPosted         PostingMode = "none"
)

// DeductionRecord registro de auditoría de un intento de deducción (append-only).
type DeductionRecord struct {
	ID                    string
	OrderNumber           string
	ItemID                string
	BinID                 string
	WarehouseID           string
	Quantity              int
	Reason                ReasonCode
	OTPSupplied           bool
	Outcome               string
	ErrorCode             string
	ExternalCorrelationID *string // nil si la llamada nunca llegó al sistema externo
	PostingMode           PostingMode
	RemainingStock        *int
	ActorID               string
	ClientIP              string
	UserAgent             string
	CreatedAt             time.Time
}

// NewDeductionRecord toma la instantánea de la solicitud para el registro de auditoría.
func NewDeductionRecord(req DeductionRequest, warehouseID string, now time.Time) *DeductionRecord {
	return &DeductionRecord{
		OrderNumber: req.OrderNumber(),
		ItemID:      req.ItemID(),
		BinID:       req.BinID(),
		WarehouseID: warehouseID,
		Quantity:    req.Quantity(),
		Reason:      req.Reason(),
		OTPSupplied: req.HasOTP(),
		PostingMode: NotPosted,
		ActorID:     req.ActorID(),
		ClientIP:    req.Client().IP,
		UserAgent:   req.Client().UserAgent,
		CreatedAt:   now,
	}
}
