package order

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain"
)

// run applies decision to o and, on success, returns the next state.
func run(t *testing.T, o Order, d Decision) Order {
	t.Helper()
	evt, err := d(o)
	require.NoError(t, err)
	return Apply(o, evt).WithVersion(o.Version + 1)
}

func requireViolation(t *testing.T, err error, code, msg string) {
	t.Helper()
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
	var inv *domain.InvariantError
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, code, inv.Code)
	if msg != "" {
		assert.Equal(t, msg, inv.Message)
	}
}

func draftOrder(t *testing.T) Order {
	t.Helper()
	return run(t, Order{ID: "o-1"}, Create(Created{
		RestaurantID: "R1",
		UserID:       "U1",
		Items:        []Item{{MenuItemID: "I1", Quantity: 2, Price: 5.0}},
		DeliveryFee:  2.0,
	}))
}

func TestCreateOrderComputesTotals(t *testing.T) {
	o := draftOrder(t)
	assert.Equal(t, StatusDraft, o.Status)
	assert.Equal(t, 10.0, o.Subtotal)
	assert.Equal(t, 12.0, o.Total)
	assert.Equal(t, int64(1), o.Version)
	require.Len(t, o.Items, 1)
}

func TestCreateTwiceIsRejected(t *testing.T) {
	o := draftOrder(t)
	_, err := Create(Created{RestaurantID: "R1", UserID: "U1"})(o)
	requireViolation(t, err, domain.CodeAlreadyExists, "")
}

func TestSubmitEmptyOrder(t *testing.T) {
	o := run(t, Order{ID: "o-1"}, Create(Created{RestaurantID: "R1", UserID: "U1"}))
	_, err := Submit("card")(o)
	requireViolation(t, err, domain.CodeEmptyOrder, "empty order")
}

func TestAcceptRequiresPending(t *testing.T) {
	o := Order{ID: "o-1", Status: StatusPreparing}
	_, err := Accept(0)(o)
	requireViolation(t, err, domain.CodeInvalidState, "only pending orders can be accepted")
}

func TestItemMutation(t *testing.T) {
	o := draftOrder(t)

	o = run(t, o, AddItem(Item{MenuItemID: "I2", Quantity: 1, Price: 3.35}))
	assert.Equal(t, 13.35, o.Subtotal)
	assert.Equal(t, 15.35, o.Total)

	o = run(t, o, AddItem(Item{MenuItemID: "I1", Quantity: 1, Price: 5.0}))
	require.Len(t, o.Items, 2)
	assert.Equal(t, 3, o.Items[0].Quantity)

	_, err := AddItem(Item{MenuItemID: "I1", Quantity: 1, Price: 6.0})(o)
	requireViolation(t, err, domain.CodePriceMismatch, "")

	o = run(t, o, RemoveItem("I1", 1))
	assert.Equal(t, 2, o.Items[0].Quantity)

	_, err = RemoveItem("I1", 3)(o)
	requireViolation(t, err, domain.CodeInsufficient, "")

	o = run(t, o, RemoveItem("I1", 2))
	require.Len(t, o.Items, 1)
	assert.Equal(t, "I2", o.Items[0].MenuItemID)
	assert.Equal(t, 3.35, o.Subtotal)
	assert.Equal(t, 5.35, o.Total)

	_, err = RemoveItem("missing", 1)(o)
	requireViolation(t, err, domain.CodeNotFound, "")
}

func TestItemBounds(t *testing.T) {
	o := draftOrder(t)
	_, err := AddItem(Item{MenuItemID: "I2", Quantity: 1, Price: domain.MaxAmount + 1})(o)
	requireViolation(t, err, domain.CodeInvalidInput, "")

	_, err = AddItem(Item{MenuItemID: "I1", Quantity: domain.MaxQuantity - 1, Price: 5.0})(o)
	requireViolation(t, err, domain.CodeInvalidInput, "menu item I1 would exceed 10000 units")

	o = run(t, o, AddItem(Item{MenuItemID: "I1", Quantity: domain.MaxQuantity - 2, Price: 5.0}))
	assert.Equal(t, domain.MaxQuantity, o.Items[0].Quantity)
	assert.Equal(t, 50002.0, o.Total)
}

func TestFullLifecycle(t *testing.T) {
	o := draftOrder(t)
	o = run(t, o, Submit("card"))
	require.NotNil(t, o.Payment)
	assert.Equal(t, 12.0, o.Payment.Amount)
	o = run(t, o, Accept(20))
	o = run(t, o, StartPreparation())
	o = run(t, o, MarkReady())
	o = run(t, o, AssignToDelivery("D1"))
	o = run(t, o, UpdateDeliveryLocation(Location{Lat: 40.4, Lng: -3.7}))
	o = run(t, o, MarkPickedUp())
	o = run(t, o, UpdateDeliveryLocation(Location{Lat: 40.5, Lng: -3.6}))
	o = run(t, o, MarkDelivered())
	o = run(t, o, RecordPayment(Payment{Method: "card", Status: "completed", Amount: 12, TransactionID: "tx"}))

	assert.Equal(t, StatusDelivered, o.Status)
	assert.Equal(t, "D1", o.DeliveryPersonID)
	assert.Equal(t, &Location{Lat: 40.5, Lng: -3.6}, o.DeliveryLocation)
	assert.Equal(t, "completed", o.Payment.Status)
	assert.Equal(t, int64(11), o.Version)
}

func TestCancelRefundBounds(t *testing.T) {
	o := Order{ID: "o-1", Status: StatusPreparing, Total: 12}
	_, err := Cancel("late", 12.01)(o)
	requireViolation(t, err, domain.CodeInvalidRefund, "")
	_, err = Cancel("late", -1)(o)
	requireViolation(t, err, domain.CodeInvalidRefund, "")

	o = run(t, o, Cancel("late", 5))
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, 5.0, o.RefundAmount)
}

// commands maps a command name to a decision that is valid in its allowed
// statuses, given a populated order.
var commands = map[string]Decision{
	"create":                 Create(Created{RestaurantID: "R", UserID: "U"}),
	"addItem":                AddItem(Item{MenuItemID: "I1", Quantity: 1, Price: 5}),
	"removeItem":             RemoveItem("I1", 1),
	"submit":                 Submit(""),
	"accept":                 Accept(0),
	"reject":                 Reject("closed"),
	"startPreparation":       StartPreparation(),
	"markReady":              MarkReady(),
	"assignToDelivery":       AssignToDelivery("D1"),
	"markPickedUp":           MarkPickedUp(),
	"markDelivered":          MarkDelivered(),
	"cancel":                 Cancel("changed mind", 0),
	"recordPayment":          RecordPayment(Payment{Method: "cash", Status: "completed", Amount: 10}),
	"updateDeliveryLocation": UpdateDeliveryLocation(Location{Lat: 1, Lng: 1}),
}

var allowed = map[Status][]string{
	"":                        {"create"},
	StatusDraft:               {"addItem", "removeItem", "submit", "cancel"},
	StatusPending:             {"accept", "reject", "cancel", "recordPayment"},
	StatusAccepted:            {"startPreparation", "cancel", "recordPayment"},
	StatusPreparing:           {"markReady", "cancel", "recordPayment"},
	StatusReadyForPickup:      {"assignToDelivery", "recordPayment"},
	StatusAssignedForDelivery: {"markPickedUp", "recordPayment", "updateDeliveryLocation"},
	StatusInTransit:           {"markDelivered", "recordPayment", "updateDeliveryLocation"},
	StatusDelivered:           {"recordPayment"},
	StatusRejected:            {},
	StatusCancelled:           {},
}

func TestStateMachineEnforcement(t *testing.T) {
	for status, names := range allowed {
		ok := make(map[string]bool, len(names))
		for _, n := range names {
			ok[n] = true
		}
		for name, decide := range commands {
			o := Order{
				ID:       "o-1",
				Status:   status,
				Items:    []Item{{MenuItemID: "I1", Quantity: 1, Price: 5}},
				Subtotal: 5,
				Total:    5,
			}
			evt, err := decide(o)
			if ok[name] {
				if err != nil {
					t.Errorf("%s in %q: unexpected error %v", name, status, err)
				}
				continue
			}
			if !errors.Is(err, domain.ErrInvariantViolation) {
				t.Errorf("%s in %q: expected invariant violation, got event %v err %v", name, status, evt, err)
			}
		}
	}
}

func TestEveryEventTypeDecodesAndApplies(t *testing.T) {
	types := EventTypes()
	require.Len(t, types, 14)
	for _, typ := range types {
		evt, ok, err := Decode(typ, []byte(`{}`))
		require.NoError(t, err, typ)
		require.True(t, ok, typ)
		assert.Equal(t, typ, evt.EventType())
		assert.NotPanics(t, func() { Apply(Order{ID: "o"}, evt) }, typ)
	}
}

func TestUnknownEventType(t *testing.T) {
	evt, ok, err := Decode("ORDER_TELEPORTED", []byte(`{"x":1}`))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, evt)
}

func TestApplyDoesNotShareItems(t *testing.T) {
	o := draftOrder(t)
	before := o.Items[0].Quantity
	_ = Apply(o, ItemAdded{Item: Item{MenuItemID: "I1", Quantity: 4, Price: 5}})
	_ = Apply(o, ItemRemoved{MenuItemID: "I1", Quantity: 1})
	assert.Equal(t, before, o.Items[0].Quantity)
}
