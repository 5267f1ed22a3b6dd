package restaurant

import (
	"context"
	"errors"
	"testing"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

func step(t *testing.T, r Restaurant, d Decision) Restaurant {
	t.Helper()
	evt, err := d(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return Apply(r, evt).WithVersion(r.Version + 1)
}

func reject(t *testing.T, r Restaurant, d Decision, code string) {
	t.Helper()
	_, err := d(r)
	var inv *domain.InvariantError
	if !errors.As(err, &inv) || inv.Code != code {
		t.Fatalf("expected %s violation, got %v", code, err)
	}
}

func strPtr(s string) *string { return &s }

func TestMenuLifecycle(t *testing.T) {
	r := step(t, Restaurant{ID: "R1"}, Create(Created{Name: "Casa", OwnerID: "U9"}))
	if !r.Active || r.Name != "Casa" {
		t.Fatalf("unexpected state %+v", r)
	}
	reject(t, r, Create(Created{Name: "Again", OwnerID: "U9"}), domain.CodeAlreadyExists)

	r = step(t, r, AddCategory(Category{ID: "c1", Name: "Mains"}))
	reject(t, r, AddCategory(Category{ID: "c2", Name: "mains"}), domain.CodeAlreadyExists)
	reject(t, r, AddMenuItem(MenuItem{ID: "m1", CategoryID: "nope", Name: "Paella", Price: 12}), domain.CodeNotFound)

	r = step(t, r, AddMenuItem(MenuItem{ID: "m1", CategoryID: "c1", Name: "Paella", Price: 12.499, Available: true}))
	if r.MenuItems[0].Price != 12.5 {
		t.Fatalf("price not rounded to cents: %v", r.MenuItems[0].Price)
	}
	reject(t, r, AddMenuItem(MenuItem{ID: "m1", Name: "Dup", Price: 1}), domain.CodeAlreadyExists)

	price := 13.0
	available := false
	r = step(t, r, UpdateMenuItem(MenuItemUpdated{MenuItemID: "m1", Price: &price, Available: &available}))
	if m := r.MenuItems[0]; m.Price != 13 || m.Available || m.Name != "Paella" {
		t.Fatalf("unexpected menu item %+v", m)
	}
	zero := 0.0
	reject(t, r, UpdateMenuItem(MenuItemUpdated{MenuItemID: "m1", Price: &zero}), domain.CodeInvalidInput)

	r = step(t, r, RemoveMenuItem("m1"))
	if len(r.MenuItems) != 0 {
		t.Fatalf("menu item not removed")
	}
	reject(t, r, RemoveMenuItem("m1"), domain.CodeNotFound)
}

func TestActivation(t *testing.T) {
	r := step(t, Restaurant{ID: "R1"}, Create(Created{Name: "Casa", OwnerID: "U9"}))
	reject(t, r, Activate(), domain.CodeInvalidState)
	r = step(t, r, Deactivate("holidays"))
	reject(t, r, Deactivate(""), domain.CodeInvalidState)
	r = step(t, r, Activate())
	if !r.Active {
		t.Fatal("expected active restaurant")
	}
	reject(t, Restaurant{ID: "R2"}, Activate(), domain.CodeNotFound)
}

func TestUpdateRequiresChanges(t *testing.T) {
	r := step(t, Restaurant{ID: "R1"}, Create(Created{Name: "Casa", OwnerID: "U9"}))
	reject(t, r, Update(Updated{}), domain.CodeInvalidInput)
	r = step(t, r, Update(Updated{Phone: strPtr("+34 600")}))
	if r.Phone != "+34 600" || r.Name != "Casa" {
		t.Fatalf("unexpected state %+v", r)
	}
}

func TestEveryEventTypeDecodesAndApplies(t *testing.T) {
	for _, typ := range EventTypes() {
		evt, ok, err := Decode(typ, []byte(`{}`))
		if err != nil || !ok {
			t.Fatalf("%s: ok=%v err=%v", typ, ok, err)
		}
		if evt.EventType() != typ {
			t.Fatalf("%s decoded as %s", typ, evt.EventType())
		}
		Apply(Restaurant{ID: "R"}, evt)
	}
	if len(EventTypes()) != 8 {
		t.Fatalf("expected 8 restaurant event types, got %d", len(EventTypes()))
	}
}

func TestRepositoryRoundTrip(t *testing.T) {
	l := eventlog.New(eventlog.NewMemoryBackend())
	l.Open()
	defer l.Close()
	repo := NewRepository(l)
	ctx := context.Background()

	root, err := repo.Load(ctx, "R1")
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range []Decision{
		Create(Created{Name: "Casa", OwnerID: "U9"}),
		AddCategory(Category{ID: "c1", Name: "Mains"}),
		AddMenuItem(MenuItem{ID: "m1", CategoryID: "c1", Name: "Paella", Price: 12, Available: true}),
	} {
		if _, err := root.Execute(ctx, eventlog.Metadata{}, d); err != nil {
			t.Fatal(err)
		}
	}
	loaded, err := repo.LoadFromEvents(ctx, "R1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Version != 3 || len(loaded.MenuItems) != 1 || len(loaded.Categories) != 1 {
		t.Fatalf("unexpected state %+v", loaded)
	}
}
