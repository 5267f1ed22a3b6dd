// Package tables keeps the read model in Azure Table Storage.
//
// Every view is one entity whose Data column holds the JSON view. Columns
// used in filters are duplicated next to it.
package tables

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	eventtables "github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog/tables"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/projection"
)

// Names are the table names of the read model.
type Names struct {
	Orders        string `env:"ORDERS_TABLE" envDefault:"Orders"`
	Restaurants   string `env:"RESTAURANTS_TABLE" envDefault:"Restaurants"`
	Users         string `env:"USERS_TABLE" envDefault:"Users"`
	Payments      string `env:"PAYMENTS_TABLE" envDefault:"Payments"`
	Assignments   string `env:"DELIVERY_ASSIGNMENTS_TABLE" envDefault:"DeliveryAssignments"`
	Notifications string `env:"NOTIFICATIONS_TABLE" envDefault:"Notifications"`
	Checkpoints   string `env:"CHECKPOINTS_TABLE" envDefault:"ProjectionCheckpoints"`
}

// All lists every table name, for provisioning.
func (n Names) All() []string {
	return []string{n.Orders, n.Restaurants, n.Users, n.Payments, n.Assignments, n.Notifications, n.Checkpoints}
}

// Store implements projection.Store.
type Store struct {
	orders        *aztables.Client
	restaurants   *aztables.Client
	users         *aztables.Client
	payments      *aztables.Client
	assignments   *aztables.Client
	notifications *aztables.Client
	checkpoints   *aztables.Client
}

var _ projection.Store = (*Store)(nil)

func New(connStr string, names Names) (*Store, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, eventtables.ClientOptions())
	if err != nil {
		return nil, errors.Wrap(err, "tables service client")
	}
	return &Store{
		orders:        svc.NewClient(names.Orders),
		restaurants:   svc.NewClient(names.Restaurants),
		users:         svc.NewClient(names.Users),
		payments:      svc.NewClient(names.Payments),
		assignments:   svc.NewClient(names.Assignments),
		notifications: svc.NewClient(names.Notifications),
		checkpoints:   svc.NewClient(names.Checkpoints),
	}, nil
}

// viewEntity is the stored shape of every view.
type viewEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	RestaurantID string `json:"RestaurantId,omitempty"`
	UserID       string `json:"UserId,omitempty"`
	Status       string `json:"Status,omitempty"`
	Data         string `json:"Data"`
}

func encode(ent viewEntity, v any) ([]byte, error) {
	data, err := sonic.MarshalString(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode view")
	}
	ent.Data = data
	return sonic.Marshal(ent)
}

func decode(raw []byte, v any) error {
	var ent viewEntity
	if err := sonic.Unmarshal(raw, &ent); err != nil {
		return errors.Wrap(err, "decode entity")
	}
	return errors.Wrap(sonic.UnmarshalString(ent.Data, v), "decode view")
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func upsert(ctx context.Context, c *aztables.Client, ent viewEntity, v any) error {
	payload, err := encode(ent, v)
	if err != nil {
		return err
	}
	_, err = c.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return errors.Wrap(err, "upsert entity")
}

func get(ctx context.Context, c *aztables.Client, pk, rk string, v any) error {
	resp, err := c.GetEntity(ctx, pk, rk, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return projection.ErrNotFound
		}
		return errors.Wrap(err, "get entity")
	}
	return decode(resp.Value, v)
}

func query[T any](ctx context.Context, c *aztables.Client, filter string) ([]T, error) {
	pager := c.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var out []T
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list entities")
		}
		for _, raw := range resp.Entities {
			var v T
			if err := decode(raw, &v); err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (projection.OrderView, error) {
	var v projection.OrderView
	err := get(ctx, s.orders, id, id, &v)
	return v, err
}

func (s *Store) OrdersByRestaurant(ctx context.Context, restaurantID string) ([]projection.OrderView, error) {
	out, err := query[projection.OrderView](ctx, s.orders, "RestaurantId eq "+quote(restaurantID))
	sortNewestFirst(out)
	return out, err
}

func (s *Store) OrdersByUser(ctx context.Context, userID string) ([]projection.OrderView, error) {
	out, err := query[projection.OrderView](ctx, s.orders, "UserId eq "+quote(userID))
	sortNewestFirst(out)
	return out, err
}

func (s *Store) GetRestaurant(ctx context.Context, id string) (projection.RestaurantView, error) {
	var v projection.RestaurantView
	err := get(ctx, s.restaurants, id, id, &v)
	return v, err
}

func (s *Store) GetUser(ctx context.Context, id string) (projection.UserView, error) {
	var v projection.UserView
	err := get(ctx, s.users, id, id, &v)
	return v, err
}

func (s *Store) Payments(ctx context.Context, orderID string) ([]projection.PaymentView, error) {
	out, err := query[projection.PaymentView](ctx, s.payments, "PartitionKey eq "+quote(orderID))
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (s *Store) DeliveryAssignments(ctx context.Context, orderID string) ([]projection.DeliveryAssignmentView, error) {
	out, err := query[projection.DeliveryAssignmentView](ctx, s.assignments, "PartitionKey eq "+quote(orderID))
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.Before(out[j].AssignedAt) })
	return out, err
}

func (s *Store) Notifications(ctx context.Context, userID string) ([]projection.Notification, error) {
	out, err := query[projection.Notification](ctx, s.notifications, "PartitionKey eq "+quote(userID))
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

func (s *Store) PendingNotifications(ctx context.Context, dueBy time.Time, limit int) ([]projection.Notification, error) {
	out, err := query[projection.Notification](ctx, s.notifications, "Status eq "+quote(string(projection.NotificationPending)))
	if err != nil {
		return nil, err
	}
	due := out[:0]
	for _, n := range out {
		if n.Due(dueBy) {
			due = append(due, n)
		}
	}
	return oldestFirst(due, limit), nil
}

func (s *Store) UpsertOrder(ctx context.Context, v projection.OrderView) error {
	return upsert(ctx, s.orders, viewEntity{
		PartitionKey: v.ID,
		RowKey:       v.ID,
		RestaurantID: v.RestaurantID,
		UserID:       v.UserID,
		Status:       v.Status,
	}, v)
}

func (s *Store) UpsertRestaurant(ctx context.Context, v projection.RestaurantView) error {
	return upsert(ctx, s.restaurants, viewEntity{PartitionKey: v.ID, RowKey: v.ID}, v)
}

func (s *Store) UpsertUser(ctx context.Context, v projection.UserView) error {
	return upsert(ctx, s.users, viewEntity{PartitionKey: v.ID, RowKey: v.ID}, v)
}

func (s *Store) UpsertPayment(ctx context.Context, v projection.PaymentView) error {
	return upsert(ctx, s.payments, viewEntity{PartitionKey: v.OrderID, RowKey: v.ID, Status: v.Status}, v)
}

func (s *Store) UpsertDeliveryAssignment(ctx context.Context, v projection.DeliveryAssignmentView) error {
	return upsert(ctx, s.assignments, viewEntity{
		PartitionKey: v.OrderID,
		RowKey:       v.ID,
		UserID:       v.DeliveryPersonID,
		Status:       v.Status,
	}, v)
}

func notificationEntity(n projection.Notification) viewEntity {
	return viewEntity{PartitionKey: n.UserID, RowKey: n.ID, UserID: n.UserID, Status: string(n.Status)}
}

// AddNotification inserts n unless a notification with its id exists.
func (s *Store) AddNotification(ctx context.Context, n projection.Notification) error {
	payload, err := encode(notificationEntity(n), n)
	if err != nil {
		return err
	}
	_, err = s.notifications.AddEntity(ctx, payload, nil)
	if statusCode(err) == http.StatusConflict {
		return nil
	}
	return errors.Wrap(err, "add notification entity")
}

func (s *Store) UpdateNotification(ctx context.Context, n projection.Notification) error {
	payload, err := encode(notificationEntity(n), n)
	if err != nil {
		return err
	}
	etag := azcore.ETagAny
	_, err = s.notifications.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    &etag,
		UpdateMode: aztables.UpdateModeReplace,
	})
	if statusCode(err) == http.StatusNotFound {
		return projection.ErrNotFound
	}
	return errors.Wrap(err, "update notification entity")
}

type checkpointEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	Version      int64  `json:"Version"`
	UpdatedAt    string `json:"UpdatedAt"`
}

func (s *Store) Checkpoint(ctx context.Context, projector string, stream eventlog.StreamKey) (int64, error) {
	resp, err := s.checkpoints.GetEntity(ctx, projector, stream.String(), nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return 0, nil
		}
		return 0, errors.Wrap(err, "get checkpoint")
	}
	var ent checkpointEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return 0, errors.Wrap(err, "decode checkpoint")
	}
	return ent.Version, nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, cp projection.Checkpoint) error {
	payload, err := sonic.Marshal(checkpointEntity{
		PartitionKey: cp.Projector,
		RowKey:       cp.Stream.String(),
		Version:      cp.Version,
		UpdatedAt:    cp.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return errors.Wrap(err, "encode checkpoint")
	}
	_, err = s.checkpoints.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return errors.Wrap(err, "upsert checkpoint")
}

func (s *Store) ResetCheckpoints(ctx context.Context, projector string) error {
	filter := "PartitionKey eq " + quote(projector)
	sel := "PartitionKey,RowKey"
	pager := s.checkpoints.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Select: &sel})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return errors.Wrap(err, "list checkpoints")
		}
		for _, raw := range resp.Entities {
			var ent checkpointEntity
			if err := sonic.Unmarshal(raw, &ent); err != nil {
				return errors.Wrap(err, "decode checkpoint key")
			}
			if _, err := s.checkpoints.DeleteEntity(ctx, ent.PartitionKey, ent.RowKey, nil); err != nil && statusCode(err) != http.StatusNotFound {
				return errors.Wrap(err, "delete checkpoint")
			}
		}
	}
	return nil
}

func sortNewestFirst(out []projection.OrderView) {
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
}

func oldestFirst(out []projection.Notification, limit int) []projection.Notification {
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
