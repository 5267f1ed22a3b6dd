package projection

import (
	"time"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

// OrderView is the dashboard row for one order, joined with restaurant and
// customer names. Lifecycle timestamps are taken from event metadata.
type OrderView struct {
	ID                   string          `json:"id"`
	RestaurantID         string          `json:"restaurantId"`
	RestaurantName       string          `json:"restaurantName,omitempty"`
	UserID               string          `json:"userId"`
	CustomerName         string          `json:"customerName,omitempty"`
	Status               string          `json:"status"`
	Items                []OrderItemView `json:"items,omitempty"`
	ItemCount            int             `json:"itemCount"`
	Subtotal             float64         `json:"subtotal"`
	DeliveryFee          float64         `json:"deliveryFee"`
	Total                float64         `json:"total"`
	DeliveryAddress      string          `json:"deliveryAddress,omitempty"`
	DeliveryLat          *float64        `json:"deliveryLat,omitempty"`
	DeliveryLng          *float64        `json:"deliveryLng,omitempty"`
	DeliveryPersonID     string          `json:"deliveryPersonId,omitempty"`
	EstimatedPrepMinutes int             `json:"estimatedPrepMinutes,omitempty"`
	PaymentMethod        string          `json:"paymentMethod,omitempty"`
	PaymentStatus        string          `json:"paymentStatus,omitempty"`
	PaymentAmount        float64         `json:"paymentAmount,omitempty"`
	RejectionReason      string          `json:"rejectionReason,omitempty"`
	CancellationReason   string          `json:"cancellationReason,omitempty"`
	RefundAmount         float64         `json:"refundAmount,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	SubmittedAt          *time.Time      `json:"submittedAt,omitempty"`
	AcceptedAt           *time.Time      `json:"acceptedAt,omitempty"`
	RejectedAt           *time.Time      `json:"rejectedAt,omitempty"`
	PreparationStartedAt *time.Time      `json:"preparationStartedAt,omitempty"`
	ReadyAt              *time.Time      `json:"readyAt,omitempty"`
	AssignedAt           *time.Time      `json:"assignedAt,omitempty"`
	PickedUpAt           *time.Time      `json:"pickedUpAt,omitempty"`
	DeliveredAt          *time.Time      `json:"deliveredAt,omitempty"`
	CancelledAt          *time.Time      `json:"cancelledAt,omitempty"`
	UpdatedAt            time.Time       `json:"updatedAt"`
	Version              int64           `json:"version"`
}

type OrderItemView struct {
	ID         string  `json:"id"`
	OrderID    string  `json:"orderId"`
	MenuItemID string  `json:"menuItemId"`
	Name       string  `json:"name,omitempty"`
	Quantity   int     `json:"quantity"`
	Price      float64 `json:"price"`
	Subtotal   float64 `json:"subtotal"`
	Notes      string  `json:"notes,omitempty"`
}

type CategoryView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type MenuItemView struct {
	ID          string  `json:"id"`
	CategoryID  string  `json:"categoryId,omitempty"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Available   bool    `json:"available"`
}

type RestaurantView struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Address            string         `json:"address,omitempty"`
	Phone              string         `json:"phone,omitempty"`
	OwnerID            string         `json:"ownerId"`
	Active             bool           `json:"active"`
	DeactivationReason string         `json:"deactivationReason,omitempty"`
	Categories         []CategoryView `json:"categories,omitempty"`
	MenuItems          []MenuItemView `json:"menuItems,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
	Version            int64          `json:"version"`
}

type UserView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Phone     string    `json:"phone,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int64     `json:"version"`
}

const (
	PaymentCharge = "charge"
	PaymentRefund = "refund"
)

// PaymentView is one payment movement of an order. Refunds carry a negative
// amount.
type PaymentView struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"orderId"`
	Kind          string    `json:"kind"`
	Method        string    `json:"method,omitempty"`
	Status        string    `json:"status"`
	Amount        float64   `json:"amount"`
	TransactionID string    `json:"transactionId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type DeliveryAssignmentView struct {
	ID               string     `json:"id"`
	OrderID          string     `json:"orderId"`
	DeliveryPersonID string     `json:"deliveryPersonId"`
	Status           string     `json:"status"`
	LastLat          *float64   `json:"lastLat,omitempty"`
	LastLng          *float64   `json:"lastLng,omitempty"`
	AssignedAt       time.Time  `json:"assignedAt"`
	PickedUpAt       *time.Time `json:"pickedUpAt,omitempty"`
	DeliveredAt      *time.Time `json:"deliveredAt,omitempty"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationDelivered NotificationStatus = "delivered"
	NotificationFailed    NotificationStatus = "failed"
)

// Notification is an intent to tell a user about a change. Delivery is done
// by the notify package.
type Notification struct {
	ID          string             `json:"id"`
	UserID      string             `json:"userId"`
	Title       string             `json:"title"`
	Message     string             `json:"message"`
	Type        string             `json:"type"`
	ReferenceID string             `json:"referenceId,omitempty"`
	Status      NotificationStatus `json:"status"`
	Attempts    int                `json:"attempts,omitempty"`
	LastError   string             `json:"lastError,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	DeliveredAt *time.Time         `json:"deliveredAt,omitempty"`

	// NextAttemptAt is set while a failed delivery backs off.
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
}

// Due reports whether a pending notification may be attempted at t.
func (n Notification) Due(t time.Time) bool {
	return n.NextAttemptAt == nil || !t.Before(*n.NextAttemptAt)
}

// Checkpoint is the last version of a stream a projector has applied.
type Checkpoint struct {
	Projector string             `json:"projector"`
	Stream    eventlog.StreamKey `json:"stream"`
	Version   int64              `json:"version"`
	UpdatedAt time.Time          `json:"updatedAt"`
}
