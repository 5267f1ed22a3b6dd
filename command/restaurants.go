package command

import (
	"context"
	"strings"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain/restaurant"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

type CreateRestaurantInput struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
	OwnerID string `json:"ownerId"`
}

type MenuItemInput struct {
	CategoryID  string  `json:"categoryId,omitempty"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Available   *bool   `json:"available,omitempty"`
}

// Restaurants handles restaurant and menu commands.
type Restaurants struct {
	repo *restaurant.Repository
	opts options
}

func NewRestaurants(l *eventlog.Log, opts ...Option) *Restaurants {
	return &Restaurants{repo: restaurant.NewRepository(l), opts: buildOptions(opts)}
}

func (h *Restaurants) exec(ctx context.Context, name, id string, md eventlog.Metadata, d restaurant.Decision) error {
	if err := required("restaurantId", strings.TrimSpace(id)); err != nil {
		return err
	}
	_, err := execute(ctx, h.opts, h.repo, name, id, md, d)
	return err
}

// Create registers a restaurant and returns its id.
func (h *Restaurants) Create(ctx context.Context, in CreateRestaurantInput, md eventlog.Metadata) (string, error) {
	if err := required("name", strings.TrimSpace(in.Name)); err != nil {
		return "", err
	}
	if err := required("ownerId", strings.TrimSpace(in.OwnerID)); err != nil {
		return "", err
	}
	id := h.opts.newID()
	if err := h.exec(ctx, "restaurant.create", id, md, restaurant.Create(restaurant.Created{
		Name:    in.Name,
		Address: in.Address,
		Phone:   in.Phone,
		OwnerID: in.OwnerID,
	})); err != nil {
		return "", err
	}
	return id, nil
}

func (h *Restaurants) Update(ctx context.Context, restaurantID string, in restaurant.Updated, md eventlog.Metadata) error {
	if in.Name == nil && in.Address == nil && in.Phone == nil {
		return invalid("", "nothing to update")
	}
	return h.exec(ctx, "restaurant.update", restaurantID, md, restaurant.Update(in))
}

func (h *Restaurants) Activate(ctx context.Context, restaurantID string, md eventlog.Metadata) error {
	return h.exec(ctx, "restaurant.activate", restaurantID, md, restaurant.Activate())
}

func (h *Restaurants) Deactivate(ctx context.Context, restaurantID, reason string, md eventlog.Metadata) error {
	return h.exec(ctx, "restaurant.deactivate", restaurantID, md, restaurant.Deactivate(reason))
}

// AddCategory adds a menu category and returns its id.
func (h *Restaurants) AddCategory(ctx context.Context, restaurantID, name string, md eventlog.Metadata) (string, error) {
	if err := required("name", strings.TrimSpace(name)); err != nil {
		return "", err
	}
	id := h.opts.newID()
	if err := h.exec(ctx, "restaurant.add_category", restaurantID, md,
		restaurant.AddCategory(restaurant.Category{ID: id, Name: name})); err != nil {
		return "", err
	}
	return id, nil
}

// AddMenuItem adds a menu item and returns its id. Items are available
// unless the input says otherwise.
func (h *Restaurants) AddMenuItem(ctx context.Context, restaurantID string, in MenuItemInput, md eventlog.Metadata) (string, error) {
	if err := required("name", strings.TrimSpace(in.Name)); err != nil {
		return "", err
	}
	if err := amount("price", in.Price, false); err != nil {
		return "", err
	}
	available := true
	if in.Available != nil {
		available = *in.Available
	}
	id := h.opts.newID()
	if err := h.exec(ctx, "restaurant.add_menu_item", restaurantID, md, restaurant.AddMenuItem(restaurant.MenuItem{
		ID:          id,
		CategoryID:  in.CategoryID,
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Available:   available,
	})); err != nil {
		return "", err
	}
	return id, nil
}

func (h *Restaurants) UpdateMenuItem(ctx context.Context, restaurantID string, in restaurant.MenuItemUpdated, md eventlog.Metadata) error {
	if err := required("menuItemId", strings.TrimSpace(in.MenuItemID)); err != nil {
		return err
	}
	return h.exec(ctx, "restaurant.update_menu_item", restaurantID, md, restaurant.UpdateMenuItem(in))
}

func (h *Restaurants) RemoveMenuItem(ctx context.Context, restaurantID, menuItemID string, md eventlog.Metadata) error {
	if err := required("menuItemId", strings.TrimSpace(menuItemID)); err != nil {
		return err
	}
	return h.exec(ctx, "restaurant.remove_menu_item", restaurantID, md, restaurant.RemoveMenuItem(menuItemID))
}

func (h *Restaurants) Get(ctx context.Context, restaurantID string) (restaurant.Restaurant, error) {
	root, err := h.repo.Load(ctx, restaurantID)
	if err != nil {
		return restaurant.Restaurant{}, err
	}
	return root.State(), nil
}
