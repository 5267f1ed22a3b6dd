package order

import (
	"strings"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain"
)

// Decision is an order command bound to its arguments.
type Decision = domain.Decision[Order, Event]

var paymentStatuses = map[string]bool{
	"pending":   true,
	"completed": true,
	"failed":    true,
	"refunded":  true,
}

func requireStatus(o Order, want Status, msg string) error {
	if !o.Exists() {
		return domain.Violation(domain.CodeNotFound, "order %s not found", o.ID)
	}
	if o.Status != want {
		return domain.Violation(domain.CodeInvalidState, "%s", msg)
	}
	return nil
}

func validItem(it Item) error {
	if strings.TrimSpace(it.MenuItemID) == "" {
		return domain.Violation(domain.CodeInvalidInput, "menu item id is required")
	}
	if it.Quantity <= 0 || it.Quantity > domain.MaxQuantity {
		return domain.Violation(domain.CodeInvalidInput, "quantity must be between 1 and %d", domain.MaxQuantity)
	}
	if !domain.ValidAmount(it.Price) || domain.Cents(it.Price) <= 0 {
		return domain.Violation(domain.CodeInvalidInput, "price must be positive and at most %.0f", domain.MaxAmount)
	}
	return nil
}

// lineOverflow rejects an item whose merged line would exceed MaxQuantity.
func lineOverflow(o Order, it Item) error {
	if i, ok := o.item(it.MenuItemID); ok && o.Items[i].Quantity+it.Quantity > domain.MaxQuantity {
		return domain.Violation(domain.CodeInvalidInput,
			"menu item %s would exceed %d units", it.MenuItemID, domain.MaxQuantity)
	}
	return nil
}

func priceConflict(o Order, it Item) error {
	if i, ok := o.item(it.MenuItemID); ok && domain.Cents(o.Items[i].Price) != domain.Cents(it.Price) {
		return domain.Violation(domain.CodePriceMismatch,
			"menu item %s is already on the order at price %.2f", it.MenuItemID, o.Items[i].Price)
	}
	return nil
}

// Create opens a draft order.
func Create(c Created) Decision {
	return func(o Order) (Event, error) {
		if o.Exists() {
			return nil, domain.Violation(domain.CodeAlreadyExists, "order %s already exists", o.ID)
		}
		if c.RestaurantID == "" || c.UserID == "" {
			return nil, domain.Violation(domain.CodeInvalidInput, "restaurant and user are required")
		}
		if !domain.ValidAmount(c.DeliveryFee) || domain.Cents(c.DeliveryFee) < 0 {
			return nil, domain.Violation(domain.CodeInvalidInput, "delivery fee must not be negative")
		}
		draft := Order{ID: o.ID}
		for _, it := range c.Items {
			if err := validItem(it); err != nil {
				return nil, err
			}
			if err := priceConflict(draft, it); err != nil {
				return nil, err
			}
			if err := lineOverflow(draft, it); err != nil {
				return nil, err
			}
			draft = draft.withItem(it)
		}
		return c, nil
	}
}

// AddItem adds quantity of a menu item, merging with an existing line.
func AddItem(it Item) Decision {
	return func(o Order) (Event, error) {
		if err := requireStatus(o, StatusDraft, "items can only be added to draft orders"); err != nil {
			return nil, err
		}
		if err := validItem(it); err != nil {
			return nil, err
		}
		if err := priceConflict(o, it); err != nil {
			return nil, err
		}
		if err := lineOverflow(o, it); err != nil {
			return nil, err
		}
		return ItemAdded{Item: it}, nil
	}
}

// RemoveItem removes quantity units of a line. Removing exactly the line's
// quantity drops it; removing more is rejected.
func RemoveItem(menuItemID string, quantity int) Decision {
	return func(o Order) (Event, error) {
		if err := requireStatus(o, StatusDraft, "items can only be removed from draft orders"); err != nil {
			return nil, err
		}
		if quantity <= 0 {
			return nil, domain.Violation(domain.CodeInvalidInput, "quantity must be positive")
		}
		i, ok := o.item(menuItemID)
		if !ok {
			return nil, domain.Violation(domain.CodeNotFound, "menu item %s is not on the order", menuItemID)
		}
		if quantity > o.Items[i].Quantity {
			return nil, domain.Violation(domain.CodeInsufficient,
				"cannot remove %d of %s, only %d on the order", quantity, menuItemID, o.Items[i].Quantity)
		}
		return ItemRemoved{MenuItemID: menuItemID, Quantity: quantity}, nil
	}
}

// Submit sends a draft order to the restaurant.
func Submit(paymentMethod string) Decision {
	return func(o Order) (Event, error) {
		if err := requireStatus(o, StatusDraft, "only draft orders can be submitted"); err != nil {
			return nil, err
		}
		if len(o.Items) == 0 {
			return nil, domain.Violation(domain.CodeEmptyOrder, "empty order")
		}
		return Submitted{
			PaymentMethod: paymentMethod,
			Subtotal:      o.Subtotal,
			DeliveryFee:   o.DeliveryFee,
			Total:         o.Total,
		}, nil
	}
}

func Accept(estimatedPrepMinutes int) Decision {
	return func(o Order) (Event, error) {
		if err := requireStatus(o, StatusPending, "only pending orders can be accepted"); err != nil {
			return nil, err
		}
		if estimatedPrepMinutes < 0 {
			return nil, domain.Violation(domain.CodeInvalidInput, "estimated preparation time must not be negative")
		}
		return Accepted{EstimatedPrepMinutes: estimatedPrepMinutes}, nil
	}
}

func Reject(reason string) Decision {
	return func(o Order) (Event, error) {
		if err := requireStatus(o, StatusPending, "only pending orders can be rejected"); err != nil {
			return nil, err
		}
		if strings.TrimSpace(reason) == "" {
			return nil, domain.Violation(domain.CodeInvalidInput, "rejection reason is required")
		}
		return Rejected{Reason: reason}, nil
	}
}

func StartPreparation() Decision {
	return func(o Order) (Event, error) {
		if err := requireStatus(o, StatusAccepted, "only accepted orders can start preparation"); err != nil {
			return nil, err
		}
		return PreparationStarted{}, nil
	}
}

func MarkReady() Decision {
	return func(o Order) (Event, error) {
		if err := requireStatus(o, StatusPreparing, "only orders in preparation can be marked ready"); err != nil {
			return nil, err
		}
		return ReadyForPickup{}, nil
	}
}

func AssignToDelivery(deliveryPersonID string) Decision {
	return func(o Order) (Event, error) {
		if err := requireStatus(o, StatusReadyForPickup, "only orders ready for pickup can be assigned"); err != nil {
			return nil, err
		}
		if strings.TrimSpace(deliveryPersonID) == "" {
			return nil, domain.Violation(domain.CodeInvalidInput, "delivery person is required")
		}
		return AssignedForDelivery{DeliveryPersonID: deliveryPersonID}, nil
	}
}

func MarkPickedUp() Decision {
	return func(o Order) (Event, error) {
		if err := requireStatus(o, StatusAssignedForDelivery, "only assigned orders can be picked up"); err != nil {
			return nil, err
		}
		return PickedUp{}, nil
	}
}

func MarkDelivered() Decision {
	return func(o Order) (Event, error) {
		if err := requireStatus(o, StatusInTransit, "only orders in transit can be delivered"); err != nil {
			return nil, err
		}
		return Delivered{}, nil
	}
}

// Cancel is allowed until the order leaves the kitchen. The refund may not
// exceed the order total.
func Cancel(reason string, refundAmount float64) Decision {
	return func(o Order) (Event, error) {
		if !o.Exists() {
			return nil, domain.Violation(domain.CodeNotFound, "order %s not found", o.ID)
		}
		switch o.Status {
		case StatusDraft, StatusPending, StatusAccepted, StatusPreparing:
		default:
			return nil, domain.Violation(domain.CodeInvalidState, "orders in status %s cannot be cancelled", o.Status)
		}
		refund := domain.Cents(refundAmount)
		if refund < 0 || refund > domain.Cents(o.Total) {
			return nil, domain.Violation(domain.CodeInvalidRefund,
				"refund %.2f must be between 0 and the order total %.2f", refundAmount, o.Total)
		}
		return Cancelled{Reason: reason, RefundAmount: domain.Amount(refund)}, nil
	}
}

// RecordPayment records the outcome of a payment attempt for a submitted order.
func RecordPayment(p Payment) Decision {
	return func(o Order) (Event, error) {
		if !o.Exists() {
			return nil, domain.Violation(domain.CodeNotFound, "order %s not found", o.ID)
		}
		switch o.Status {
		case StatusDraft, StatusRejected, StatusCancelled:
			return nil, domain.Violation(domain.CodeInvalidState, "payments cannot be recorded for %s orders", o.Status)
		}
		if strings.TrimSpace(p.Method) == "" {
			return nil, domain.Violation(domain.CodeInvalidInput, "payment method is required")
		}
		if !paymentStatuses[p.Status] {
			return nil, domain.Violation(domain.CodeInvalidInput, "unknown payment status %q", p.Status)
		}
		if domain.Cents(p.Amount) <= 0 {
			return nil, domain.Violation(domain.CodeInvalidInput, "payment amount must be positive")
		}
		return PaymentRecorded{
			Method:        p.Method,
			Status:        p.Status,
			Amount:        domain.RoundMoney(p.Amount),
			TransactionID: p.TransactionID,
		}, nil
	}
}

// UpdateDeliveryLocation tracks the courier while the order is out for delivery.
func UpdateDeliveryLocation(loc Location) Decision {
	return func(o Order) (Event, error) {
		if !o.Exists() {
			return nil, domain.Violation(domain.CodeNotFound, "order %s not found", o.ID)
		}
		if o.Status != StatusAssignedForDelivery && o.Status != StatusInTransit {
			return nil, domain.Violation(domain.CodeInvalidState, "delivery location can only be updated while the order is out for delivery")
		}
		if loc.Lat < -90 || loc.Lat > 90 || loc.Lng < -180 || loc.Lng > 180 {
			return nil, domain.Violation(domain.CodeInvalidInput, "location %.6f,%.6f is out of range", loc.Lat, loc.Lng)
		}
		return DeliveryLocationUpdated{Location: loc}, nil
	}
}
