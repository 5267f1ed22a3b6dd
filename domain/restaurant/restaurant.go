// Package restaurant implements the restaurant aggregate, including its menu.
package restaurant

import (
	"fmt"
	"sort"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

const (
	TypeCreated         = "RESTAURANT_CREATED"
	TypeUpdated         = "RESTAURANT_UPDATED"
	TypeActivated       = "RESTAURANT_ACTIVATED"
	TypeDeactivated     = "RESTAURANT_DEACTIVATED"
	TypeCategoryAdded   = "RESTAURANT_CATEGORY_ADDED"
	TypeMenuItemAdded   = "RESTAURANT_MENU_ITEM_ADDED"
	TypeMenuItemUpdated = "RESTAURANT_MENU_ITEM_UPDATED"
	TypeMenuItemRemoved = "RESTAURANT_MENU_ITEM_REMOVED"
)

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type MenuItem struct {
	ID          string  `json:"id"`
	CategoryID  string  `json:"categoryId,omitempty"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Available   bool    `json:"available"`
}

type Restaurant struct {
	ID         string     `json:"id"`
	Name       string     `json:"name,omitempty"`
	Address    string     `json:"address,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	OwnerID    string     `json:"ownerId,omitempty"`
	Active     bool       `json:"active"`
	Created    bool       `json:"created"`
	Categories []Category `json:"categories,omitempty"`
	MenuItems  []MenuItem `json:"menuItems,omitempty"`
	Version    int64      `json:"version"`
}

func (r Restaurant) AggregateVersion() int64 { return r.Version }

func (r Restaurant) WithVersion(v int64) Restaurant {
	r.Version = v
	return r
}

func (r Restaurant) Exists() bool { return r.Created }

func (r Restaurant) category(id string) (int, bool) {
	for i, c := range r.Categories {
		if c.ID == id {
			return i, true
		}
	}
	return -1, false
}

func (r Restaurant) menuItem(id string) (int, bool) {
	for i, m := range r.MenuItems {
		if m.ID == id {
			return i, true
		}
	}
	return -1, false
}

// Event is the closed set of restaurant events.
type Event interface {
	domain.Event
	isRestaurantEvent()
}

type Created struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
	OwnerID string `json:"ownerId"`
}

// Updated carries only the fields that changed.
type Updated struct {
	Name    *string `json:"name,omitempty"`
	Address *string `json:"address,omitempty"`
	Phone   *string `json:"phone,omitempty"`
}

type Activated struct{}

type Deactivated struct {
	Reason string `json:"reason,omitempty"`
}

type CategoryAdded struct {
	Category Category `json:"category"`
}

type MenuItemAdded struct {
	Item MenuItem `json:"item"`
}

type MenuItemUpdated struct {
	MenuItemID  string   `json:"menuItemId"`
	CategoryID  *string  `json:"categoryId,omitempty"`
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Available   *bool    `json:"available,omitempty"`
}

type MenuItemRemoved struct {
	MenuItemID string `json:"menuItemId"`
}

func (Created) EventType() string         { return TypeCreated }
func (Updated) EventType() string         { return TypeUpdated }
func (Activated) EventType() string       { return TypeActivated }
func (Deactivated) EventType() string     { return TypeDeactivated }
func (CategoryAdded) EventType() string   { return TypeCategoryAdded }
func (MenuItemAdded) EventType() string   { return TypeMenuItemAdded }
func (MenuItemUpdated) EventType() string { return TypeMenuItemUpdated }
func (MenuItemRemoved) EventType() string { return TypeMenuItemRemoved }

func (Created) isRestaurantEvent()         {}
func (Updated) isRestaurantEvent()         {}
func (Activated) isRestaurantEvent()       {}
func (Deactivated) isRestaurantEvent()     {}
func (CategoryAdded) isRestaurantEvent()   {}
func (MenuItemAdded) isRestaurantEvent()   {}
func (MenuItemUpdated) isRestaurantEvent() {}
func (MenuItemRemoved) isRestaurantEvent() {}

func decodeAs[T Event](payload []byte) (Event, error) {
	var evt T
	if len(payload) == 0 {
		return evt, nil
	}
	err := domain.DecodeInto(payload, &evt)
	return evt, err
}

var decoders = map[string]func([]byte) (Event, error){
	TypeCreated:         decodeAs[Created],
	TypeUpdated:         decodeAs[Updated],
	TypeActivated:       decodeAs[Activated],
	TypeDeactivated:     decodeAs[Deactivated],
	TypeCategoryAdded:   decodeAs[CategoryAdded],
	TypeMenuItemAdded:   decodeAs[MenuItemAdded],
	TypeMenuItemUpdated: decodeAs[MenuItemUpdated],
	TypeMenuItemRemoved: decodeAs[MenuItemRemoved],
}

func Decode(eventType string, payload []byte) (Event, bool, error) {
	dec, ok := decoders[eventType]
	if !ok {
		return nil, false, nil
	}
	evt, err := dec(payload)
	if err != nil {
		return nil, false, err
	}
	return evt, true, nil
}

func EventTypes() []string {
	out := make([]string, 0, len(decoders))
	for t := range decoders {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Apply is the restaurant reducer. Slices are copied before modification.
func Apply(r Restaurant, evt Event) Restaurant {
	switch e := evt.(type) {
	case Created:
		r.Name = e.Name
		r.Address = e.Address
		r.Phone = e.Phone
		r.OwnerID = e.OwnerID
		r.Active = true
		r.Created = true
	case Updated:
		if e.Name != nil {
			r.Name = *e.Name
		}
		if e.Address != nil {
			r.Address = *e.Address
		}
		if e.Phone != nil {
			r.Phone = *e.Phone
		}
	case Activated:
		r.Active = true
	case Deactivated:
		r.Active = false
	case CategoryAdded:
		r.Categories = append(append([]Category(nil), r.Categories...), e.Category)
	case MenuItemAdded:
		item := e.Item
		item.Price = domain.RoundMoney(item.Price)
		r.MenuItems = append(append([]MenuItem(nil), r.MenuItems...), item)
	case MenuItemUpdated:
		i, ok := r.menuItem(e.MenuItemID)
		if !ok {
			return r
		}
		items := append([]MenuItem(nil), r.MenuItems...)
		m := items[i]
		if e.CategoryID != nil {
			m.CategoryID = *e.CategoryID
		}
		if e.Name != nil {
			m.Name = *e.Name
		}
		if e.Description != nil {
			m.Description = *e.Description
		}
		if e.Price != nil {
			m.Price = domain.RoundMoney(*e.Price)
		}
		if e.Available != nil {
			m.Available = *e.Available
		}
		items[i] = m
		r.MenuItems = items
	case MenuItemRemoved:
		i, ok := r.menuItem(e.MenuItemID)
		if !ok {
			return r
		}
		items := make([]MenuItem, 0, len(r.MenuItems)-1)
		items = append(items, r.MenuItems[:i]...)
		items = append(items, r.MenuItems[i+1:]...)
		if len(items) == 0 {
			items = nil
		}
		r.MenuItems = items
	default:
		panic(fmt.Sprintf("restaurant: unhandled event %T", evt))
	}
	return r
}

var Definition = domain.Definition[Restaurant, Event]{
	Type:    eventlog.AggregateRestaurant,
	Initial: func(id string) Restaurant { return Restaurant{ID: id} },
	Decode:  Decode,
	Apply:   Apply,
}

type Repository = domain.Repository[Restaurant, Event]

func NewRepository(l *eventlog.Log) *Repository {
	return domain.NewRepository(l, Definition)
}
