package projection

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

type checkpointKey struct {
	projector string
	stream    eventlog.StreamKey
}

// MemoryStore is an in-process read model for tests and local development.
type MemoryStore struct {
	mu            sync.RWMutex
	orders        map[string]OrderView
	restaurants   map[string]RestaurantView
	users         map[string]UserView
	payments      map[string]PaymentView
	assignments   map[string]DeliveryAssignmentView
	notifications map[string]Notification
	checkpoints   map[checkpointKey]Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:        make(map[string]OrderView),
		restaurants:   make(map[string]RestaurantView),
		users:         make(map[string]UserView),
		payments:      make(map[string]PaymentView),
		assignments:   make(map[string]DeliveryAssignmentView),
		notifications: make(map[string]Notification),
		checkpoints:   make(map[checkpointKey]Checkpoint),
	}
}

func (m *MemoryStore) GetOrder(_ context.Context, id string) (OrderView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.orders[id]
	if !ok {
		return OrderView{}, ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) ordersWhere(match func(OrderView) bool) []OrderView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []OrderView
	for _, v := range m.orders {
		if match(v) {
			out = append(out, v)
		}
	}
	sortOrders(out)
	return out
}

func (m *MemoryStore) OrdersByRestaurant(_ context.Context, restaurantID string) ([]OrderView, error) {
	return m.ordersWhere(func(v OrderView) bool { return v.RestaurantID == restaurantID }), nil
}

func (m *MemoryStore) OrdersByUser(_ context.Context, userID string) ([]OrderView, error) {
	return m.ordersWhere(func(v OrderView) bool { return v.UserID == userID }), nil
}

func (m *MemoryStore) GetRestaurant(_ context.Context, id string) (RestaurantView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.restaurants[id]
	if !ok {
		return RestaurantView{}, ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (UserView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.users[id]
	if !ok {
		return UserView{}, ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Payments(_ context.Context, orderID string) ([]PaymentView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []PaymentView
	for _, p := range m.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) DeliveryAssignments(_ context.Context, orderID string) ([]DeliveryAssignmentView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []DeliveryAssignmentView
	for _, a := range m.assignments {
		if a.OrderID == orderID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.Before(out[j].AssignedAt) })
	return out, nil
}

func (m *MemoryStore) Notifications(_ context.Context, userID string) ([]Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Notification
	for _, n := range m.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sortNotifications(out)
	return out, nil
}

func (m *MemoryStore) PendingNotifications(_ context.Context, dueBy time.Time, limit int) ([]Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Notification
	for _, n := range m.notifications {
		if n.Status == NotificationPending && n.Due(dueBy) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UpsertOrder(_ context.Context, v OrderView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.Items = append([]OrderItemView(nil), v.Items...)
	m.orders[v.ID] = v
	return nil
}

func (m *MemoryStore) UpsertRestaurant(_ context.Context, v RestaurantView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.Categories = append([]CategoryView(nil), v.Categories...)
	v.MenuItems = append([]MenuItemView(nil), v.MenuItems...)
	m.restaurants[v.ID] = v
	return nil
}

func (m *MemoryStore) UpsertUser(_ context.Context, v UserView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[v.ID] = v
	return nil
}

func (m *MemoryStore) UpsertPayment(_ context.Context, v PaymentView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[v.ID] = v
	return nil
}

func (m *MemoryStore) UpsertDeliveryAssignment(_ context.Context, v DeliveryAssignmentView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[v.ID] = v
	return nil
}

func (m *MemoryStore) AddNotification(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[n.ID]; ok {
		return nil
	}
	m.notifications[n.ID] = n
	return nil
}

func (m *MemoryStore) UpdateNotification(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[n.ID]; !ok {
		return ErrNotFound
	}
	m.notifications[n.ID] = n
	return nil
}

func (m *MemoryStore) Checkpoint(_ context.Context, projector string, stream eventlog.StreamKey) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkpoints[checkpointKey{projector, stream}].Version, nil
}

func (m *MemoryStore) SaveCheckpoint(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[checkpointKey{cp.Projector, cp.Stream}] = cp
	return nil
}

func (m *MemoryStore) ResetCheckpoints(_ context.Context, projector string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.checkpoints {
		if k.projector == projector {
			delete(m.checkpoints, k)
		}
	}
	return nil
}

// newest first
func sortOrders(out []OrderView) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
}

func sortNotifications(out []Notification) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
}
