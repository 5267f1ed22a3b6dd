package restaurant

import (
	"strings"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain"
)

type Decision = domain.Decision[Restaurant, Event]

func requireExists(r Restaurant) error {
	if !r.Exists() {
		return domain.Violation(domain.CodeNotFound, "restaurant %s not found", r.ID)
	}
	return nil
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func Create(c Created) Decision {
	return func(r Restaurant) (Event, error) {
		if r.Exists() {
			return nil, domain.Violation(domain.CodeAlreadyExists, "restaurant %s already exists", r.ID)
		}
		if blank(c.Name) {
			return nil, domain.Violation(domain.CodeInvalidInput, "restaurant name is required")
		}
		if blank(c.OwnerID) {
			return nil, domain.Violation(domain.CodeInvalidInput, "restaurant owner is required")
		}
		return c, nil
	}
}

func Update(u Updated) Decision {
	return func(r Restaurant) (Event, error) {
		if err := requireExists(r); err != nil {
			return nil, err
		}
		if u.Name == nil && u.Address == nil && u.Phone == nil {
			return nil, domain.Violation(domain.CodeInvalidInput, "nothing to update")
		}
		if u.Name != nil && blank(*u.Name) {
			return nil, domain.Violation(domain.CodeInvalidInput, "restaurant name must not be empty")
		}
		return u, nil
	}
}

func Activate() Decision {
	return func(r Restaurant) (Event, error) {
		if err := requireExists(r); err != nil {
			return nil, err
		}
		if r.Active {
			return nil, domain.Violation(domain.CodeInvalidState, "restaurant is already active")
		}
		return Activated{}, nil
	}
}

func Deactivate(reason string) Decision {
	return func(r Restaurant) (Event, error) {
		if err := requireExists(r); err != nil {
			return nil, err
		}
		if !r.Active {
			return nil, domain.Violation(domain.CodeInvalidState, "restaurant is already inactive")
		}
		return Deactivated{Reason: reason}, nil
	}
}

func AddCategory(c Category) Decision {
	return func(r Restaurant) (Event, error) {
		if err := requireExists(r); err != nil {
			return nil, err
		}
		if blank(c.ID) || blank(c.Name) {
			return nil, domain.Violation(domain.CodeInvalidInput, "category id and name are required")
		}
		if _, ok := r.category(c.ID); ok {
			return nil, domain.Violation(domain.CodeAlreadyExists, "category %s already exists", c.ID)
		}
		for _, cur := range r.Categories {
			if strings.EqualFold(cur.Name, c.Name) {
				return nil, domain.Violation(domain.CodeAlreadyExists, "category %q already exists", c.Name)
			}
		}
		return CategoryAdded{Category: c}, nil
	}
}

func AddMenuItem(m MenuItem) Decision {
	return func(r Restaurant) (Event, error) {
		if err := requireExists(r); err != nil {
			return nil, err
		}
		if blank(m.ID) || blank(m.Name) {
			return nil, domain.Violation(domain.CodeInvalidInput, "menu item id and name are required")
		}
		if domain.Cents(m.Price) <= 0 {
			return nil, domain.Violation(domain.CodeInvalidInput, "menu item price must be positive")
		}
		if _, ok := r.menuItem(m.ID); ok {
			return nil, domain.Violation(domain.CodeAlreadyExists, "menu item %s already exists", m.ID)
		}
		if m.CategoryID != "" {
			if _, ok := r.category(m.CategoryID); !ok {
				return nil, domain.Violation(domain.CodeNotFound, "category %s not found", m.CategoryID)
			}
		}
		return MenuItemAdded{Item: m}, nil
	}
}

func UpdateMenuItem(u MenuItemUpdated) Decision {
	return func(r Restaurant) (Event, error) {
		if err := requireExists(r); err != nil {
			return nil, err
		}
		if _, ok := r.menuItem(u.MenuItemID); !ok {
			return nil, domain.Violation(domain.CodeNotFound, "menu item %s not found", u.MenuItemID)
		}
		if u.Price != nil && domain.Cents(*u.Price) <= 0 {
			return nil, domain.Violation(domain.CodeInvalidInput, "menu item price must be positive")
		}
		if u.Name != nil && blank(*u.Name) {
			return nil, domain.Violation(domain.CodeInvalidInput, "menu item name must not be empty")
		}
		if u.CategoryID != nil && *u.CategoryID != "" {
			if _, ok := r.category(*u.CategoryID); !ok {
				return nil, domain.Violation(domain.CodeNotFound, "category %s not found", *u.CategoryID)
			}
		}
		return u, nil
	}
}

func RemoveMenuItem(menuItemID string) Decision {
	return func(r Restaurant) (Event, error) {
		if err := requireExists(r); err != nil {
			return nil, err
		}
		if _, ok := r.menuItem(menuItemID); !ok {
			return nil, domain.Violation(domain.CodeNotFound, "menu item %s not found", menuItemID)
		}
		return MenuItemRemoved{MenuItemID: menuItemID}, nil
	}
}
