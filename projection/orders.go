package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain/order"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

const (
	assignmentAssigned  = "assigned"
	assignmentPickedUp  = "picked_up"
	assignmentDelivered = "delivered"
	assignmentCancelled = "cancelled"
)

// NewOrderProjector maintains order views, payments, delivery assignments
// and order notifications.
func NewOrderProjector(l *eventlog.Log, st Store, opts ...Option) *Projector {
	p := newProjector("orders", eventlog.AggregateOrder, l, st, order.EventTypes(), opts)
	h := &orderHandler{st: st}
	for _, t := range order.EventTypes() {
		p.on(t, h.handle)
	}
	return p
}

type orderHandler struct {
	st Store
}

func (h *orderHandler) handle(ctx context.Context, evt eventlog.Event) error {
	e, ok, err := order.Decode(evt.Type, evt.Payload)
	if err != nil {
		return fmt.Errorf("decode %s: %w", evt.Type, err)
	}
	if !ok {
		return nil
	}
	at := eventTime(evt)

	var v OrderView
	if _, created := e.(order.Created); created {
		// ORDER_CREATED always starts a clean row so a rebuild replays from
		// scratch.
		v = OrderView{ID: evt.AggregateID, CreatedAt: at}
	} else if v, err = h.st.GetOrder(ctx, evt.AggregateID); err != nil {
		return fmt.Errorf("load order view %s: %w", evt.AggregateID, err)
	}

	// The view carries its version; a retried event only redoes the
	// idempotent side effects below.
	if v.Version < evt.Version {
		v.setState(order.Apply(v.state(), e))
		v.Version = evt.Version
		v.UpdatedAt = at
	}
	if err := h.join(ctx, &v); err != nil {
		return err
	}

	if err := h.sideEffects(ctx, evt, e, &v, at); err != nil {
		return err
	}
	return h.st.UpsertOrder(ctx, v)
}

// join refreshes the denormalized restaurant and customer names. Either
// view may not exist yet; streams are not ordered against each other.
func (h *orderHandler) join(ctx context.Context, v *OrderView) error {
	if r, err := h.st.GetRestaurant(ctx, v.RestaurantID); err == nil {
		v.RestaurantName = r.Name
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if u, err := h.st.GetUser(ctx, v.UserID); err == nil {
		v.CustomerName = u.Name
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

func (h *orderHandler) sideEffects(ctx context.Context, evt eventlog.Event, e order.Event, v *OrderView, at time.Time) error {
	customer := func(title, msg string) intent {
		return intent{userID: v.UserID, typ: NotifyOrderStatus, title: title, message: msg}
	}
	switch e := e.(type) {
	case order.Created:
		return notify(ctx, h.st, evt, customer("Order created", "Your order has been created."))

	case order.Submitted:
		v.SubmittedAt = &at
		// The method may still be empty; recordPayment fills it in later.
		if err := h.st.UpsertPayment(ctx, PaymentView{
			ID:        rowID("payment", v.ID, PaymentCharge),
			OrderID:   v.ID,
			Kind:      PaymentCharge,
			Method:    e.PaymentMethod,
			Status:    "pending",
			Amount:    e.Total,
			CreatedAt: at,
		}); err != nil {
			return err
		}
		intents := []intent{customer("Order submitted", fmt.Sprintf("Your order of %.2f was sent to the restaurant.", e.Total))}
		if owner, err := h.restaurantOwner(ctx, v.RestaurantID); err != nil {
			return err
		} else if owner != "" {
			intents = append(intents, intent{
				userID:  owner,
				typ:     NotifyNewOrder,
				title:   "New order",
				message: fmt.Sprintf("Order %s is waiting for confirmation.", v.ID),
			})
		}
		return notify(ctx, h.st, evt, intents...)

	case order.Accepted:
		v.AcceptedAt = &at
		msg := "The restaurant accepted your order."
		if e.EstimatedPrepMinutes > 0 {
			msg = fmt.Sprintf("The restaurant accepted your order. Estimated preparation time: %d minutes.", e.EstimatedPrepMinutes)
		}
		return notify(ctx, h.st, evt, customer("Order accepted", msg))

	case order.Rejected:
		v.RejectedAt = &at
		return notify(ctx, h.st, evt, customer("Order rejected", "The restaurant rejected your order: "+e.Reason))

	case order.PreparationStarted:
		v.PreparationStartedAt = &at
		return notify(ctx, h.st, evt, customer("Order in preparation", "The restaurant started preparing your order."))

	case order.ReadyForPickup:
		v.ReadyAt = &at
		return notify(ctx, h.st, evt, customer("Order ready", "Your order is ready for pickup."))

	case order.AssignedForDelivery:
		v.AssignedAt = &at
		if err := h.st.UpsertDeliveryAssignment(ctx, DeliveryAssignmentView{
			ID:               rowID("assignment", v.ID, e.DeliveryPersonID),
			OrderID:          v.ID,
			DeliveryPersonID: e.DeliveryPersonID,
			Status:           assignmentAssigned,
			AssignedAt:       at,
			UpdatedAt:        at,
		}); err != nil {
			return err
		}
		return notify(ctx, h.st, evt,
			intent{
				userID:  e.DeliveryPersonID,
				typ:     NotifyDeliveryAssignment,
				title:   "New delivery",
				message: fmt.Sprintf("You have been assigned order %s.", v.ID),
			},
			customer("Courier assigned", "A courier has been assigned to your order."),
		)

	case order.PickedUp:
		v.PickedUpAt = &at
		if err := h.updateAssignment(ctx, v, at, func(a *DeliveryAssignmentView) {
			a.Status = assignmentPickedUp
			a.PickedUpAt = &at
		}); err != nil {
			return err
		}
		return notify(ctx, h.st, evt, customer("Order on its way", "The courier picked up your order."))

	case order.DeliveryLocationUpdated:
		lat, lng := e.Location.Lat, e.Location.Lng
		return h.updateAssignment(ctx, v, at, func(a *DeliveryAssignmentView) {
			a.LastLat = &lat
			a.LastLng = &lng
		})

	case order.Delivered:
		v.DeliveredAt = &at
		if err := h.updateAssignment(ctx, v, at, func(a *DeliveryAssignmentView) {
			a.Status = assignmentDelivered
			a.DeliveredAt = &at
		}); err != nil {
			return err
		}
		return notify(ctx, h.st, evt, customer("Order delivered", "Your order has been delivered. Enjoy!"))

	case order.Cancelled:
		v.CancelledAt = &at
		if domain.Cents(e.RefundAmount) > 0 {
			if err := h.st.UpsertPayment(ctx, PaymentView{
				ID:        rowID("payment", v.ID, PaymentRefund, evt.ID),
				OrderID:   v.ID,
				Kind:      PaymentRefund,
				Method:    v.PaymentMethod,
				Status:    "refunded",
				Amount:    -domain.RoundMoney(e.RefundAmount),
				CreatedAt: at,
			}); err != nil {
				return err
			}
		}
		if err := h.updateAssignment(ctx, v, at, func(a *DeliveryAssignmentView) {
			a.Status = assignmentCancelled
		}); err != nil {
			return err
		}
		msg := "Your order has been cancelled."
		if e.Reason != "" {
			msg = "Your order has been cancelled: " + e.Reason + "."
		}
		if domain.Cents(e.RefundAmount) > 0 {
			msg += fmt.Sprintf(" A refund of %.2f is on its way.", e.RefundAmount)
		}
		return notify(ctx, h.st, evt, customer("Order cancelled", msg))

	case order.PaymentRecorded:
		if err := h.st.UpsertPayment(ctx, PaymentView{
			ID:            rowID("payment", v.ID, PaymentCharge),
			OrderID:       v.ID,
			Kind:          PaymentCharge,
			Method:        e.Method,
			Status:        e.Status,
			Amount:        domain.RoundMoney(e.Amount),
			TransactionID: e.TransactionID,
			CreatedAt:     at,
		}); err != nil {
			return err
		}
		return notify(ctx, h.st, evt, intent{
			userID:  v.UserID,
			typ:     NotifyPayment,
			title:   "Payment " + e.Status,
			message: fmt.Sprintf("Payment of %.2f by %s is %s.", e.Amount, e.Method, e.Status),
		})
	}
	return nil
}

func (h *orderHandler) restaurantOwner(ctx context.Context, restaurantID string) (string, error) {
	r, err := h.st.GetRestaurant(ctx, restaurantID)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return r.OwnerID, err
}

// updateAssignment edits the order's current delivery assignment, if any.
func (h *orderHandler) updateAssignment(ctx context.Context, v *OrderView, at time.Time, edit func(*DeliveryAssignmentView)) error {
	if v.DeliveryPersonID == "" {
		return nil
	}
	id := rowID("assignment", v.ID, v.DeliveryPersonID)
	rows, err := h.st.DeliveryAssignments(ctx, v.ID)
	if err != nil {
		return err
	}
	a := DeliveryAssignmentView{
		ID:               id,
		OrderID:          v.ID,
		DeliveryPersonID: v.DeliveryPersonID,
		Status:           assignmentAssigned,
		AssignedAt:       at,
	}
	if v.AssignedAt != nil {
		a.AssignedAt = *v.AssignedAt
	}
	for _, row := range rows {
		if row.ID == id {
			a = row
			break
		}
	}
	edit(&a)
	a.UpdatedAt = at
	return h.st.UpsertDeliveryAssignment(ctx, a)
}

func (v OrderView) state() order.Order {
	o := order.Order{
		ID:                   v.ID,
		RestaurantID:         v.RestaurantID,
		UserID:               v.UserID,
		Status:               order.Status(v.Status),
		Subtotal:             v.Subtotal,
		DeliveryFee:          v.DeliveryFee,
		Total:                v.Total,
		DeliveryAddress:      v.DeliveryAddress,
		DeliveryPersonID:     v.DeliveryPersonID,
		EstimatedPrepMinutes: v.EstimatedPrepMinutes,
		RejectionReason:      v.RejectionReason,
		CancellationReason:   v.CancellationReason,
		RefundAmount:         v.RefundAmount,
		Version:              v.Version,
	}
	for _, it := range v.Items {
		o.Items = append(o.Items, order.Item{
			MenuItemID: it.MenuItemID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			Price:      it.Price,
			Notes:      it.Notes,
		})
	}
	if v.DeliveryLat != nil && v.DeliveryLng != nil {
		o.DeliveryLocation = &order.Location{Lat: *v.DeliveryLat, Lng: *v.DeliveryLng}
	}
	if v.PaymentMethod != "" || v.PaymentStatus != "" {
		o.Payment = &order.Payment{Method: v.PaymentMethod, Status: v.PaymentStatus, Amount: v.PaymentAmount}
	}
	return o
}

func (v *OrderView) setState(o order.Order) {
	v.RestaurantID = o.RestaurantID
	v.UserID = o.UserID
	v.Status = string(o.Status)
	v.Subtotal = o.Subtotal
	v.DeliveryFee = o.DeliveryFee
	v.Total = o.Total
	v.DeliveryAddress = o.DeliveryAddress
	v.DeliveryPersonID = o.DeliveryPersonID
	v.EstimatedPrepMinutes = o.EstimatedPrepMinutes
	v.RejectionReason = o.RejectionReason
	v.CancellationReason = o.CancellationReason
	v.RefundAmount = o.RefundAmount

	v.Items = nil
	v.ItemCount = 0
	for _, it := range o.Items {
		v.Items = append(v.Items, OrderItemView{
			ID:         rowID("order-item", o.ID, it.MenuItemID),
			OrderID:    o.ID,
			MenuItemID: it.MenuItemID,
			Name:       it.Name,
			Quantity:   it.Quantity,
			Price:      it.Price,
			Subtotal:   domain.Amount(domain.Cents(it.Price) * int64(it.Quantity)),
			Notes:      it.Notes,
		})
		v.ItemCount += it.Quantity
	}

	v.DeliveryLat, v.DeliveryLng = nil, nil
	if o.DeliveryLocation != nil {
		lat, lng := o.DeliveryLocation.Lat, o.DeliveryLocation.Lng
		v.DeliveryLat, v.DeliveryLng = &lat, &lng
	}
	v.PaymentMethod, v.PaymentStatus, v.PaymentAmount = "", "", 0
	if o.Payment != nil {
		v.PaymentMethod = o.Payment.Method
		v.PaymentStatus = o.Payment.Status
		v.PaymentAmount = o.Payment.Amount
	}
}
