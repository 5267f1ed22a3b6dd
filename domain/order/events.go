package order

import (
	"sort"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain"
)

const (
	TypeCreated                 = "ORDER_CREATED"
	TypeItemAdded               = "ORDER_ITEM_ADDED"
	TypeItemRemoved             = "ORDER_ITEM_REMOVED"
	TypeSubmitted               = "ORDER_SUBMITTED"
	TypeAccepted                = "ORDER_ACCEPTED"
	TypeRejected                = "ORDER_REJECTED"
	TypePreparationStarted      = "ORDER_PREPARATION_STARTED"
	TypeReadyForPickup          = "ORDER_READY_FOR_PICKUP"
	TypeAssignedForDelivery     = "ORDER_ASSIGNED_FOR_DELIVERY"
	TypePickedUp                = "ORDER_PICKED_UP"
	TypeDelivered               = "ORDER_DELIVERED"
	TypeCancelled               = "ORDER_CANCELLED"
	TypePaymentRecorded         = "ORDER_PAYMENT_RECORDED"
	TypeDeliveryLocationUpdated = "ORDER_DELIVERY_LOCATION_UPDATED"
)

// Event is the closed set of order events.
type Event interface {
	domain.Event
	isOrderEvent()
}

type Created struct {
	RestaurantID     string    `json:"restaurantId"`
	UserID           string    `json:"userId"`
	Items            []Item    `json:"items"`
	DeliveryFee      float64   `json:"deliveryFee"`
	DeliveryAddress  string    `json:"deliveryAddress,omitempty"`
	DeliveryLocation *Location `json:"deliveryLocation,omitempty"`
}

type ItemAdded struct {
	Item Item `json:"item"`
}

type ItemRemoved struct {
	MenuItemID string `json:"menuItemId"`
	Quantity   int    `json:"quantity"`
}

type Submitted struct {
	PaymentMethod string  `json:"paymentMethod,omitempty"`
	Subtotal      float64 `json:"subtotal"`
	DeliveryFee   float64 `json:"deliveryFee"`
	Total         float64 `json:"total"`
}

type Accepted struct {
	EstimatedPrepMinutes int `json:"estimatedPrepMinutes,omitempty"`
}

type Rejected struct {
	Reason string `json:"reason"`
}

type PreparationStarted struct{}

type ReadyForPickup struct{}

type AssignedForDelivery struct {
	DeliveryPersonID string `json:"deliveryPersonId"`
}

type PickedUp struct{}

type Delivered struct{}

type Cancelled struct {
	Reason       string  `json:"reason"`
	RefundAmount float64 `json:"refundAmount"`
}

type PaymentRecorded struct {
	Method        string  `json:"method"`
	Status        string  `json:"status"`
	Amount        float64 `json:"amount"`
	TransactionID string  `json:"transactionId,omitempty"`
}

type DeliveryLocationUpdated struct {
	Location Location `json:"location"`
}

func (Created) EventType() string                 { return TypeCreated }
func (ItemAdded) EventType() string               { return TypeItemAdded }
func (ItemRemoved) EventType() string             { return TypeItemRemoved }
func (Submitted) EventType() string               { return TypeSubmitted }
func (Accepted) EventType() string                { return TypeAccepted }
func (Rejected) EventType() string                { return TypeRejected }
func (PreparationStarted) EventType() string      { return TypePreparationStarted }
func (ReadyForPickup) EventType() string          { return TypeReadyForPickup }
func (AssignedForDelivery) EventType() string     { return TypeAssignedForDelivery }
func (PickedUp) EventType() string                { return TypePickedUp }
func (Delivered) EventType() string               { return TypeDelivered }
func (Cancelled) EventType() string               { return TypeCancelled }
func (PaymentRecorded) EventType() string         { return TypePaymentRecorded }
func (DeliveryLocationUpdated) EventType() string { return TypeDeliveryLocationUpdated }

func (Created) isOrderEvent()                 {}
func (ItemAdded) isOrderEvent()               {}
func (ItemRemoved) isOrderEvent()             {}
func (Submitted) isOrderEvent()               {}
func (Accepted) isOrderEvent()                {}
func (Rejected) isOrderEvent()                {}
func (PreparationStarted) isOrderEvent()      {}
func (ReadyForPickup) isOrderEvent()          {}
func (AssignedForDelivery) isOrderEvent()     {}
func (PickedUp) isOrderEvent()                {}
func (Delivered) isOrderEvent()               {}
func (Cancelled) isOrderEvent()               {}
func (PaymentRecorded) isOrderEvent()         {}
func (DeliveryLocationUpdated) isOrderEvent() {}

func decodeAs[T Event](payload []byte) (Event, error) {
	var evt T
	if len(payload) == 0 {
		return evt, nil
	}
	err := domain.DecodeInto(payload, &evt)
	return evt, err
}

var decoders = map[string]func([]byte) (Event, error){
	TypeCreated:                 decodeAs[Created],
	TypeItemAdded:               decodeAs[ItemAdded],
	TypeItemRemoved:             decodeAs[ItemRemoved],
	TypeSubmitted:               decodeAs[Submitted],
	TypeAccepted:                decodeAs[Accepted],
	TypeRejected:                decodeAs[Rejected],
	TypePreparationStarted:      decodeAs[PreparationStarted],
	TypeReadyForPickup:          decodeAs[ReadyForPickup],
	TypeAssignedForDelivery:     decodeAs[AssignedForDelivery],
	TypePickedUp:                decodeAs[PickedUp],
	TypeDelivered:               decodeAs[Delivered],
	TypeCancelled:               decodeAs[Cancelled],
	TypePaymentRecorded:         decodeAs[PaymentRecorded],
	TypeDeliveryLocationUpdated: decodeAs[DeliveryLocationUpdated],
}

// Decode maps a stored event to its typed form. ok is false for unknown types.
func Decode(eventType string, payload []byte) (Event, bool, error) {
	dec, ok := decoders[eventType]
	if !ok {
		return nil, false, nil
	}
	evt, err := dec(payload)
	if err != nil {
		return nil, false, err
	}
	return evt, true, nil
}

// EventTypes lists every order event type, sorted.
func EventTypes() []string {
	out := make([]string, 0, len(decoders))
	for t := range decoders {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
