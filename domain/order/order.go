// Package order implements the order aggregate: its events, reducer and
// command decisions.
package order

import (
	"fmt"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

type Status string

const (
	StatusDraft               Status = "draft"
	StatusPending             Status = "pending"
	StatusAccepted            Status = "accepted"
	StatusRejected            Status = "rejected"
	StatusPreparing           Status = "preparing"
	StatusReadyForPickup      Status = "ready_for_pickup"
	StatusAssignedForDelivery Status = "assigned_for_delivery"
	StatusInTransit           Status = "in_transit"
	StatusDelivered           Status = "delivered"
	StatusCancelled           Status = "cancelled"
)

// Terminal reports whether no lifecycle transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusRejected || s == StatusCancelled
}

type Item struct {
	MenuItemID string  `json:"menuItemId"`
	Name       string  `json:"name,omitempty"`
	Quantity   int     `json:"quantity"`
	Price      float64 `json:"price"`
	Notes      string  `json:"notes,omitempty"`
}

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Payment struct {
	Method        string  `json:"method"`
	Status        string  `json:"status"`
	Amount        float64 `json:"amount"`
	TransactionID string  `json:"transactionId,omitempty"`
}

// Order is the aggregate state. The zero Status means the order does not exist.
type Order struct {
	ID                   string    `json:"id"`
	RestaurantID         string    `json:"restaurantId,omitempty"`
	UserID               string    `json:"userId,omitempty"`
	Status               Status    `json:"status,omitempty"`
	Items                []Item    `json:"items,omitempty"`
	Subtotal             float64   `json:"subtotal"`
	DeliveryFee          float64   `json:"deliveryFee"`
	Total                float64   `json:"total"`
	DeliveryAddress      string    `json:"deliveryAddress,omitempty"`
	DeliveryLocation     *Location `json:"deliveryLocation,omitempty"`
	DeliveryPersonID     string    `json:"deliveryPersonId,omitempty"`
	EstimatedPrepMinutes int       `json:"estimatedPrepMinutes,omitempty"`
	Payment              *Payment  `json:"payment,omitempty"`
	RejectionReason      string    `json:"rejectionReason,omitempty"`
	CancellationReason   string    `json:"cancellationReason,omitempty"`
	RefundAmount         float64   `json:"refundAmount,omitempty"`
	Version              int64     `json:"version"`
}

func (o Order) AggregateVersion() int64 { return o.Version }

func (o Order) WithVersion(v int64) Order {
	o.Version = v
	return o
}

// Exists reports whether the order has been created.
func (o Order) Exists() bool { return o.Status != "" }

func (o Order) item(menuItemID string) (int, bool) {
	for i, it := range o.Items {
		if it.MenuItemID == menuItemID {
			return i, true
		}
	}
	return -1, false
}

// recompute derives subtotal and total from the items. Amounts are summed in
// cents.
func (o Order) recompute() Order {
	var subtotal int64
	for _, it := range o.Items {
		subtotal += domain.Cents(it.Price) * int64(it.Quantity)
	}
	o.Subtotal = domain.Amount(subtotal)
	o.Total = domain.Amount(subtotal + domain.Cents(o.DeliveryFee))
	return o
}

// withItem merges it into the item list by menu item id. The input slice is
// never modified.
func (o Order) withItem(it Item) Order {
	items := make([]Item, 0, len(o.Items)+1)
	merged := false
	for _, cur := range o.Items {
		if cur.MenuItemID == it.MenuItemID {
			cur.Quantity += it.Quantity
			if it.Notes != "" {
				cur.Notes = it.Notes
			}
			merged = true
		}
		items = append(items, cur)
	}
	if !merged {
		it.Price = domain.RoundMoney(it.Price)
		items = append(items, it)
	}
	o.Items = items
	return o
}

// Apply is the order reducer. It never fails; commands validate before
// events are recorded.
func Apply(o Order, evt Event) Order {
	switch e := evt.(type) {
	case Created:
		o.RestaurantID = e.RestaurantID
		o.UserID = e.UserID
		o.Status = StatusDraft
		o.DeliveryFee = domain.RoundMoney(e.DeliveryFee)
		o.DeliveryAddress = e.DeliveryAddress
		o.DeliveryLocation = e.DeliveryLocation
		o.Items = nil
		for _, it := range e.Items {
			o = o.withItem(it)
		}
		return o.recompute()
	case ItemAdded:
		return o.withItem(e.Item).recompute()
	case ItemRemoved:
		i, ok := o.item(e.MenuItemID)
		if !ok {
			return o
		}
		items := make([]Item, 0, len(o.Items))
		for j, cur := range o.Items {
			if j == i {
				if e.Quantity >= cur.Quantity {
					continue
				}
				cur.Quantity -= e.Quantity
			}
			items = append(items, cur)
		}
		if len(items) == 0 {
			items = nil
		}
		o.Items = items
		return o.recompute()
	case Submitted:
		o.Status = StatusPending
		if e.PaymentMethod != "" {
			o.Payment = &Payment{Method: e.PaymentMethod, Status: "pending", Amount: o.Total}
		}
		return o
	case Accepted:
		o.Status = StatusAccepted
		o.EstimatedPrepMinutes = e.EstimatedPrepMinutes
		return o
	case Rejected:
		o.Status = StatusRejected
		o.RejectionReason = e.Reason
		return o
	case PreparationStarted:
		o.Status = StatusPreparing
		return o
	case ReadyForPickup:
		o.Status = StatusReadyForPickup
		return o
	case AssignedForDelivery:
		o.Status = StatusAssignedForDelivery
		o.DeliveryPersonID = e.DeliveryPersonID
		return o
	case PickedUp:
		o.Status = StatusInTransit
		return o
	case Delivered:
		o.Status = StatusDelivered
		return o
	case Cancelled:
		o.Status = StatusCancelled
		o.CancellationReason = e.Reason
		o.RefundAmount = domain.RoundMoney(e.RefundAmount)
		return o
	case PaymentRecorded:
		o.Payment = &Payment{
			Method:        e.Method,
			Status:        e.Status,
			Amount:        domain.RoundMoney(e.Amount),
			TransactionID: e.TransactionID,
		}
		return o
	case DeliveryLocationUpdated:
		loc := e.Location
		o.DeliveryLocation = &loc
		return o
	default:
		panic(fmt.Sprintf("order: unhandled event %T", evt))
	}
}

// Definition wires the order aggregate into domain.Repository.
var Definition = domain.Definition[Order, Event]{
	Type:    eventlog.AggregateOrder,
	Initial: func(id string) Order { return Order{ID: id} },
	Decode:  Decode,
	Apply:   Apply,
}

type Repository = domain.Repository[Order, Event]

func NewRepository(l *eventlog.Log) *Repository {
	return domain.NewRepository(l, Definition)
}
