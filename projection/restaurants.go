package projection

import (
	"context"
	"fmt"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain/restaurant"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

// NewRestaurantProjector maintains restaurant views with their menus.
func NewRestaurantProjector(l *eventlog.Log, st Store, opts ...Option) *Projector {
	p := newProjector("restaurants", eventlog.AggregateRestaurant, l, st, restaurant.EventTypes(), opts)
	h := &restaurantHandler{st: st}
	for _, t := range restaurant.EventTypes() {
		p.on(t, h.handle)
	}
	return p
}

type restaurantHandler struct {
	st Store
}

func (h *restaurantHandler) handle(ctx context.Context, evt eventlog.Event) error {
	e, ok, err := restaurant.Decode(evt.Type, evt.Payload)
	if err != nil {
		return fmt.Errorf("decode %s: %w", evt.Type, err)
	}
	if !ok {
		return nil
	}
	at := eventTime(evt)

	var v RestaurantView
	if _, created := e.(restaurant.Created); created {
		v = RestaurantView{ID: evt.AggregateID, CreatedAt: at}
	} else if v, err = h.st.GetRestaurant(ctx, evt.AggregateID); err != nil {
		return fmt.Errorf("load restaurant view %s: %w", evt.AggregateID, err)
	}
	if v.Version < evt.Version {
		v.setState(restaurant.Apply(v.state(), e))
		v.Version = evt.Version
		v.UpdatedAt = at
	}

	owner := func(title, msg string) intent {
		return intent{userID: v.OwnerID, typ: NotifyRestaurantStatus, title: title, message: msg}
	}
	switch e := e.(type) {
	case restaurant.Created:
		err = notify(ctx, h.st, evt, owner("Restaurant registered", fmt.Sprintf("%s is now listed.", e.Name)))
	case restaurant.Activated:
		v.DeactivationReason = ""
		err = notify(ctx, h.st, evt, owner("Restaurant activated", fmt.Sprintf("%s is accepting orders again.", v.Name)))
	case restaurant.Deactivated:
		v.DeactivationReason = e.Reason
		msg := fmt.Sprintf("%s no longer accepts orders.", v.Name)
		if e.Reason != "" {
			msg = fmt.Sprintf("%s no longer accepts orders: %s.", v.Name, e.Reason)
		}
		err = notify(ctx, h.st, evt, owner("Restaurant deactivated", msg))
	}
	if err != nil {
		return err
	}
	return h.st.UpsertRestaurant(ctx, v)
}

func (v RestaurantView) state() restaurant.Restaurant {
	r := restaurant.Restaurant{
		ID:      v.ID,
		Name:    v.Name,
		Address: v.Address,
		Phone:   v.Phone,
		OwnerID: v.OwnerID,
		Active:  v.Active,
		Created: v.Version > 0,
		Version: v.Version,
	}
	for _, c := range v.Categories {
		r.Categories = append(r.Categories, restaurant.Category{ID: c.ID, Name: c.Name})
	}
	for _, m := range v.MenuItems {
		r.MenuItems = append(r.MenuItems, restaurant.MenuItem(m))
	}
	return r
}

func (v *RestaurantView) setState(r restaurant.Restaurant) {
	v.Name = r.Name
	v.Address = r.Address
	v.Phone = r.Phone
	v.OwnerID = r.OwnerID
	v.Active = r.Active
	v.Categories = nil
	for _, c := range r.Categories {
		v.Categories = append(v.Categories, CategoryView{ID: c.ID, Name: c.Name})
	}
	v.MenuItems = nil
	for _, m := range r.MenuItems {
		v.MenuItems = append(v.MenuItems, MenuItemView(m))
	}
}
