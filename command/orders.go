package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain/order"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

type ItemInput struct {
	MenuItemID string  `json:"menuItemId"`
	Name       string  `json:"name,omitempty"`
	Quantity   int     `json:"quantity"`
	Price      float64 `json:"price"`
	Notes      string  `json:"notes,omitempty"`
}

type CreateOrderInput struct {
	RestaurantID     string          `json:"restaurantId"`
	UserID           string          `json:"userId"`
	Items            []ItemInput     `json:"items"`
	DeliveryFee      float64         `json:"deliveryFee"`
	DeliveryAddress  string          `json:"deliveryAddress,omitempty"`
	DeliveryLocation *order.Location `json:"deliveryLocation,omitempty"`
}

type PaymentInput struct {
	Method        string  `json:"method"`
	Status        string  `json:"status"`
	Amount        float64 `json:"amount"`
	TransactionID string  `json:"transactionId,omitempty"`
}

// Orders handles order commands.
type Orders struct {
	repo *order.Repository
	opts options
}

func NewOrders(l *eventlog.Log, opts ...Option) *Orders {
	return &Orders{repo: order.NewRepository(l), opts: buildOptions(opts)}
}

func (h *Orders) exec(ctx context.Context, name, id string, md eventlog.Metadata, d order.Decision) error {
	if err := required("orderId", strings.TrimSpace(id)); err != nil {
		return err
	}
	_, err := execute(ctx, h.opts, h.repo, name, id, md, d)
	return err
}

func validateItem(field string, it ItemInput) error {
	if strings.TrimSpace(it.MenuItemID) == "" {
		return invalid(field+".menuItemId", "is required")
	}
	if it.Quantity <= 0 || it.Quantity > domain.MaxQuantity {
		return invalid(field+".quantity", "must be between 1 and %d", domain.MaxQuantity)
	}
	return amount(field+".price", it.Price, false)
}

func (it ItemInput) item() order.Item {
	return order.Item{MenuItemID: it.MenuItemID, Name: it.Name, Quantity: it.Quantity, Price: it.Price, Notes: it.Notes}
}

// Create opens a draft order and returns its id.
func (h *Orders) Create(ctx context.Context, in CreateOrderInput, md eventlog.Metadata) (string, error) {
	if err := required("restaurantId", strings.TrimSpace(in.RestaurantID)); err != nil {
		return "", err
	}
	if err := required("userId", strings.TrimSpace(in.UserID)); err != nil {
		return "", err
	}
	if err := amount("deliveryFee", in.DeliveryFee, true); err != nil {
		return "", err
	}
	items := make([]order.Item, 0, len(in.Items))
	for i, it := range in.Items {
		if err := validateItem(fmt.Sprintf("items[%d]", i), it); err != nil {
			return "", err
		}
		items = append(items, it.item())
	}
	id := h.opts.newID()
	err := h.exec(ctx, "order.create", id, md, order.Create(order.Created{
		RestaurantID:     in.RestaurantID,
		UserID:           in.UserID,
		Items:            items,
		DeliveryFee:      in.DeliveryFee,
		DeliveryAddress:  in.DeliveryAddress,
		DeliveryLocation: in.DeliveryLocation,
	}))
	if err != nil {
		return "", err
	}
	return id, nil
}

func (h *Orders) AddItem(ctx context.Context, orderID string, in ItemInput, md eventlog.Metadata) error {
	if err := validateItem("item", in); err != nil {
		return err
	}
	return h.exec(ctx, "order.add_item", orderID, md, order.AddItem(in.item()))
}

func (h *Orders) RemoveItem(ctx context.Context, orderID, menuItemID string, quantity int, md eventlog.Metadata) error {
	if err := required("menuItemId", strings.TrimSpace(menuItemID)); err != nil {
		return err
	}
	if quantity <= 0 {
		return invalid("quantity", "must be positive")
	}
	return h.exec(ctx, "order.remove_item", orderID, md, order.RemoveItem(menuItemID, quantity))
}

func (h *Orders) Submit(ctx context.Context, orderID, paymentMethod string, md eventlog.Metadata) error {
	return h.exec(ctx, "order.submit", orderID, md, order.Submit(paymentMethod))
}

func (h *Orders) Accept(ctx context.Context, orderID string, estimatedPrepMinutes int, md eventlog.Metadata) error {
	if estimatedPrepMinutes < 0 {
		return invalid("estimatedPrepMinutes", "must not be negative")
	}
	return h.exec(ctx, "order.accept", orderID, md, order.Accept(estimatedPrepMinutes))
}

func (h *Orders) Reject(ctx context.Context, orderID, reason string, md eventlog.Metadata) error {
	if err := required("reason", strings.TrimSpace(reason)); err != nil {
		return err
	}
	return h.exec(ctx, "order.reject", orderID, md, order.Reject(reason))
}

func (h *Orders) StartPreparation(ctx context.Context, orderID string, md eventlog.Metadata) error {
	return h.exec(ctx, "order.start_preparation", orderID, md, order.StartPreparation())
}

func (h *Orders) MarkReady(ctx context.Context, orderID string, md eventlog.Metadata) error {
	return h.exec(ctx, "order.mark_ready", orderID, md, order.MarkReady())
}

func (h *Orders) AssignToDelivery(ctx context.Context, orderID, deliveryPersonID string, md eventlog.Metadata) error {
	if err := required("deliveryPersonId", strings.TrimSpace(deliveryPersonID)); err != nil {
		return err
	}
	return h.exec(ctx, "order.assign", orderID, md, order.AssignToDelivery(deliveryPersonID))
}

func (h *Orders) MarkPickedUp(ctx context.Context, orderID string, md eventlog.Metadata) error {
	return h.exec(ctx, "order.mark_picked_up", orderID, md, order.MarkPickedUp())
}

func (h *Orders) MarkDelivered(ctx context.Context, orderID string, md eventlog.Metadata) error {
	return h.exec(ctx, "order.mark_delivered", orderID, md, order.MarkDelivered())
}

func (h *Orders) Cancel(ctx context.Context, orderID, reason string, refundAmount float64, md eventlog.Metadata) error {
	if err := amount("refundAmount", refundAmount, true); err != nil {
		return err
	}
	return h.exec(ctx, "order.cancel", orderID, md, order.Cancel(reason, refundAmount))
}

func (h *Orders) RecordPayment(ctx context.Context, orderID string, in PaymentInput, md eventlog.Metadata) error {
	if err := required("method", strings.TrimSpace(in.Method)); err != nil {
		return err
	}
	if err := required("status", strings.TrimSpace(in.Status)); err != nil {
		return err
	}
	if err := amount("amount", in.Amount, false); err != nil {
		return err
	}
	return h.exec(ctx, "order.record_payment", orderID, md, order.RecordPayment(order.Payment{
		Method:        in.Method,
		Status:        in.Status,
		Amount:        in.Amount,
		TransactionID: in.TransactionID,
	}))
}

func (h *Orders) UpdateDeliveryLocation(ctx context.Context, orderID string, loc order.Location, md eventlog.Metadata) error {
	return h.exec(ctx, "order.update_location", orderID, md, order.UpdateDeliveryLocation(loc))
}

// Get loads the current order state from the event log.
func (h *Orders) Get(ctx context.Context, orderID string) (order.Order, error) {
	root, err := h.repo.Load(ctx, orderID)
	if err != nil {
		return order.Order{}, err
	}
	return root.State(), nil
}
