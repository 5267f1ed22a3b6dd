// Package user implements the user aggregate.
package user

import (
	"fmt"
	"net/mail"
	"sort"
	"strings"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

const (
	TypeRegistered     = "USER_REGISTERED"
	TypeProfileUpdated = "USER_PROFILE_UPDATED"
	TypeRoleChanged    = "USER_ROLE_CHANGED"
	TypeDeactivated    = "USER_DEACTIVATED"
	TypeReactivated    = "USER_REACTIVATED"
)

type Role string

const (
	RoleCustomer        Role = "customer"
	RoleRestaurantAdmin Role = "restaurant_admin"
	RoleDelivery        Role = "delivery"
	RoleAdmin           Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleRestaurantAdmin, RoleDelivery, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID      string `json:"id"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Role    Role   `json:"role,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Active  bool   `json:"active"`
	Version int64  `json:"version"`
}

func (u User) AggregateVersion() int64 { return u.Version }

func (u User) WithVersion(v int64) User {
	u.Version = v
	return u
}

func (u User) Exists() bool { return u.Email != "" }

type Event interface {
	domain.Event
	isUserEvent()
}

type Registered struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
	Phone string `json:"phone,omitempty"`
}

type ProfileUpdated struct {
	Name  *string `json:"name,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

type RoleChanged struct {
	Role Role `json:"role"`
}

type Deactivated struct {
	Reason string `json:"reason,omitempty"`
}

type Reactivated struct{}

func (Registered) EventType() string     { return TypeRegistered }
func (ProfileUpdated) EventType() string { return TypeProfileUpdated }
func (RoleChanged) EventType() string    { return TypeRoleChanged }
func (Deactivated) EventType() string    { return TypeDeactivated }
func (Reactivated) EventType() string    { return TypeReactivated }

func (Registered) isUserEvent()     {}
func (ProfileUpdated) isUserEvent() {}
func (RoleChanged) isUserEvent()    {}
func (Deactivated) isUserEvent()    {}
func (Reactivated) isUserEvent()    {}

func decodeAs[T Event](payload []byte) (Event, error) {
	var evt T
	if len(payload) == 0 {
		return evt, nil
	}
	err := domain.DecodeInto(payload, &evt)
	return evt, err
}

var decoders = map[string]func([]byte) (Event, error){
	TypeRegistered:     decodeAs[Registered],
	TypeProfileUpdated: decodeAs[ProfileUpdated],
	TypeRoleChanged:    decodeAs[RoleChanged],
	TypeDeactivated:    decodeAs[Deactivated],
	TypeReactivated:    decodeAs[Reactivated],
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

func Apply(u User, evt Event) User {
	switch e := evt.(type) {
	case Registered:
		u.Email = strings.ToLower(e.Email)
		u.Name = e.Name
		u.Role = e.Role
		u.Phone = e.Phone
		u.Active = true
	case ProfileUpdated:
		if e.Name != nil {
			u.Name = *e.Name
		}
		if e.Phone != nil {
			u.Phone = *e.Phone
		}
	case RoleChanged:
		u.Role = e.Role
	case Deactivated:
		u.Active = false
	case Reactivated:
		u.Active = true
	default:
		panic(fmt.Sprintf("user: unhandled event %T", evt))
	}
	return u
}

var Definition = domain.Definition[User, Event]{
	Type:    eventlog.AggregateUser,
	Initial: func(id string) User { return User{ID: id} },
	Decode:  Decode,
	Apply:   Apply,
}

type Repository = domain.Repository[User, Event]

func NewRepository(l *eventlog.Log) *Repository {
	return domain.NewRepository(l, Definition)
}

type Decision = domain.Decision[User, Event]

func requireExists(u User) error {
	if !u.Exists() {
		return domain.Violation(domain.CodeNotFound, "user %s not found", u.ID)
	}
	return nil
}

// Register creates the user. An empty role defaults to customer.
func Register(r Registered) Decision {
	return func(u User) (Event, error) {
		if u.Exists() {
			return nil, domain.Violation(domain.CodeAlreadyExists, "user %s already exists", u.ID)
		}
		if _, err := mail.ParseAddress(r.Email); err != nil {
			return nil, domain.Violation(domain.CodeInvalidInput, "invalid email %q", r.Email)
		}
		if strings.TrimSpace(r.Name) == "" {
			return nil, domain.Violation(domain.CodeInvalidInput, "user name is required")
		}
		if r.Role == "" {
			r.Role = RoleCustomer
		}
		if !r.Role.Valid() {
			return nil, domain.Violation(domain.CodeInvalidInput, "unknown role %q", r.Role)
		}
		return r, nil
	}
}

func UpdateProfile(p ProfileUpdated) Decision {
	return func(u User) (Event, error) {
		if err := requireExists(u); err != nil {
			return nil, err
		}
		if p.Name == nil && p.Phone == nil {
			return nil, domain.Violation(domain.CodeInvalidInput, "nothing to update")
		}
		if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
			return nil, domain.Violation(domain.CodeInvalidInput, "user name must not be empty")
		}
		return p, nil
	}
}

func ChangeRole(role Role) Decision {
	return func(u User) (Event, error) {
		if err := requireExists(u); err != nil {
			return nil, err
		}
		if !role.Valid() {
			return nil, domain.Violation(domain.CodeInvalidInput, "unknown role %q", role)
		}
		if u.Role == role {
			return nil, domain.Violation(domain.CodeInvalidState, "user already has role %s", role)
		}
		return RoleChanged{Role: role}, nil
	}
}

func Deactivate(reason string) Decision {
	return func(u User) (Event, error) {
		if err := requireExists(u); err != nil {
			return nil, err
		}
		if !u.Active {
			return nil, domain.Violation(domain.CodeInvalidState, "user is already inactive")
		}
		return Deactivated{Reason: reason}, nil
	}
}

func Reactivate() Decision {
	return func(u User) (Event, error) {
		if err := requireExists(u); err != nil {
			return nil, err
		}
		if u.Active {
			return nil, domain.Violation(domain.CodeInvalidState, "user is already active")
		}
		return Reactivated{}, nil
	}
}
