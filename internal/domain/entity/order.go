package entity

// Estados de orden que permiten deducir stock.
const (
	OrderStateConfirmed      = "confirmed"
	OrderStateProcessing     = "processing"
	OrderStateReadyForPickup = "ready_for_pickup"
)

// Modalidades de entrega.
const (
	FulfillmentDelivery = "delivery"
	FulfillmentPickup   = "pickup"
)

// Order vista mínima de la orden de venta (el flujo de estados pertenece a otro servicio).
type Order struct {
	Number          string
	State           string
	FulfillmentType string
}

// Deductible indica si el estado de la orden permite deducir stock.
func (o *Order) Deductible() bool {
	switch o.State {
	case OrderStateConfirmed, OrderStateProcessing, OrderStateReadyForPickup:
		return true
	}
	return false
}

// RequiresOTP la entrega a domicilio y el retiro en tienda exigen confirmación OTP.
func (o *Order) RequiresOTP() bool {
	return o.FulfillmentType == FulfillmentDelivery || o.FulfillmentType == FulfillmentPickup
}
