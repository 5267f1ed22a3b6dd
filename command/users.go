package command

import (
	"context"
	"strings"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain/user"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

type RegisterUserInput struct {
	Email string    `json:"email"`
	Name  string    `json:"name"`
	Role  user.Role `json:"role,omitempty"`
	Phone string    `json:"phone,omitempty"`
}

// Users handles user account commands.
type Users struct {
	repo *user.Repository
	opts options
}

func NewUsers(l *eventlog.Log, opts ...Option) *Users {
	return &Users{repo: user.NewRepository(l), opts: buildOptions(opts)}
}

func (h *Users) exec(ctx context.Context, name, id string, md eventlog.Metadata, d user.Decision) error {
	if err := required("userId", strings.TrimSpace(id)); err != nil {
		return err
	}
	_, err := execute(ctx, h.opts, h.repo, name, id, md, d)
	return err
}

// Register creates a user and returns its id.
func (h *Users) Register(ctx context.Context, in RegisterUserInput, md eventlog.Metadata) (string, error) {
	if err := required("email", strings.TrimSpace(in.Email)); err != nil {
		return "", err
	}
	if err := required("name", strings.TrimSpace(in.Name)); err != nil {
		return "", err
	}
	if in.Role != "" && !in.Role.Valid() {
		return "", invalid("role", "unknown role %q", in.Role)
	}
	id := h.opts.newID()
	if err := h.exec(ctx, "user.register", id, md, user.Register(user.Registered{
		Email: in.Email,
		Name:  in.Name,
		Role:  in.Role,
		Phone: in.Phone,
	})); err != nil {
		return "", err
	}
	return id, nil
}

func (h *Users) UpdateProfile(ctx context.Context, userID string, in user.ProfileUpdated, md eventlog.Metadata) error {
	if in.Name == nil && in.Phone == nil {
		return invalid("", "nothing to update")
	}
	return h.exec(ctx, "user.update_profile", userID, md, user.UpdateProfile(in))
}

func (h *Users) ChangeRole(ctx context.Context, userID string, role user.Role, md eventlog.Metadata) error {
	if !role.Valid() {
		return invalid("role", "unknown role %q", role)
	}
	return h.exec(ctx, "user.change_role", userID, md, user.ChangeRole(role))
}

func (h *Users) Deactivate(ctx context.Context, userID, reason string, md eventlog.Metadata) error {
	return h.exec(ctx, "user.deactivate", userID, md, user.Deactivate(reason))
}

func (h *Users) Reactivate(ctx context.Context, userID string, md eventlog.Metadata) error {
	return h.exec(ctx, "user.reactivate", userID, md, user.Reactivate())
}

func (h *Users) Get(ctx context.Context, userID string) (user.User, error) {
	root, err := h.repo.Load(ctx, userID)
	if err != nil {
		return user.User{}, err
	}
	return root.State(), nil
}
