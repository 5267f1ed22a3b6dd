package projection

import (
	"context"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

// Notification types.
const (
	NotifyOrderStatus        = "order_status"
	NotifyNewOrder           = "new_order"
	NotifyDeliveryAssignment = "delivery_assignment"
	NotifyPayment            = "payment"
	NotifyRestaurantStatus   = "restaurant_status"
	NotifyAccount            = "account"
)

type intent struct {
	userID  string
	typ     string
	title   string
	message string
}

// notify records a pending notification for each intent. Ids derive from the
// event id, the recipient and the type, so replays leave existing rows alone.
func notify(ctx context.Context, st Store, evt eventlog.Event, intents ...intent) error {
	for _, in := range intents {
		if in.userID == "" {
			continue
		}
		err := st.AddNotification(ctx, Notification{
			ID:          rowID("notification", evt.ID, in.userID, in.typ),
			UserID:      in.userID,
			Title:       in.title,
			Message:     in.message,
			Type:        in.typ,
			ReferenceID: evt.AggregateID,
			Status:      NotificationPending,
			CreatedAt:   eventTime(evt),
		})
		if err != nil {
			return err
		}
	}
	return nil
}
