// Package projection maintains the query-side read model from committed
// events and records notification intents.
package projection

import (
	"context"
	"errors"
	"time"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

// ErrNotFound is returned by Reader lookups for missing rows.
var ErrNotFound = errors.New("projection: not found")

// Reader is the read-only side of the read model.
type Reader interface {
	GetOrder(ctx context.Context, id string) (OrderView, error)
	OrdersByRestaurant(ctx context.Context, restaurantID string) ([]OrderView, error)
	OrdersByUser(ctx context.Context, userID string) ([]OrderView, error)
	GetRestaurant(ctx context.Context, id string) (RestaurantView, error)
	GetUser(ctx context.Context, id string) (UserView, error)
	Payments(ctx context.Context, orderID string) ([]PaymentView, error)
	DeliveryAssignments(ctx context.Context, orderID string) ([]DeliveryAssignmentView, error)
	Notifications(ctx context.Context, userID string) ([]Notification, error)
	// PendingNotifications returns up to limit pending notifications that
	// are due at dueBy, oldest first.
	PendingNotifications(ctx context.Context, dueBy time.Time, limit int) ([]Notification, error)
}

// Store is written only by projectors and the notification dispatcher.
//
// Every write is an upsert keyed by row id. Order line items are written with
// their order. AddNotification leaves an existing notification untouched so
// that replays never re-send.
type Store interface {
	Reader
	UpsertOrder(ctx context.Context, v OrderView) error
	UpsertRestaurant(ctx context.Context, v RestaurantView) error
	UpsertUser(ctx context.Context, v UserView) error
	UpsertPayment(ctx context.Context, v PaymentView) error
	UpsertDeliveryAssignment(ctx context.Context, v DeliveryAssignmentView) error
	AddNotification(ctx context.Context, n Notification) error
	UpdateNotification(ctx context.Context, n Notification) error

	Checkpoint(ctx context.Context, projector string, stream eventlog.StreamKey) (int64, error)
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	ResetCheckpoints(ctx context.Context, projector string) error
}
