package projection

import (
	"context"
	"fmt"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain/user"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

// NewUserProjector maintains user views.
func NewUserProjector(l *eventlog.Log, st Store, opts ...Option) *Projector {
	p := newProjector("users", eventlog.AggregateUser, l, st, user.EventTypes(), opts)
	h := &userHandler{st: st}
	for _, t := range user.EventTypes() {
		p.on(t, h.handle)
	}
	return p
}

type userHandler struct {
	st Store
}

func (h *userHandler) handle(ctx context.Context, evt eventlog.Event) error {
	e, ok, err := user.Decode(evt.Type, evt.Payload)
	if err != nil {
		return fmt.Errorf("decode %s: %w", evt.Type, err)
	}
	if !ok {
		return nil
	}
	at := eventTime(evt)

	var v UserView
	if _, registered := e.(user.Registered); registered {
		v = UserView{ID: evt.AggregateID, CreatedAt: at}
	} else if v, err = h.st.GetUser(ctx, evt.AggregateID); err != nil {
		return fmt.Errorf("load user view %s: %w", evt.AggregateID, err)
	}
	if v.Version < evt.Version {
		u := user.Apply(user.User{
			ID:     v.ID,
			Email:  v.Email,
			Name:   v.Name,
			Role:   user.Role(v.Role),
			Phone:  v.Phone,
			Active: v.Active,
		}, e)
		v.Email, v.Name, v.Role, v.Phone, v.Active = u.Email, u.Name, string(u.Role), u.Phone, u.Active
		v.Version = evt.Version
		v.UpdatedAt = at
	}

	account := func(title, msg string) intent {
		return intent{userID: v.ID, typ: NotifyAccount, title: title, message: msg}
	}
	switch e := e.(type) {
	case user.Registered:
		err = notify(ctx, h.st, evt, account("Welcome", fmt.Sprintf("Welcome, %s!", e.Name)))
	case user.RoleChanged:
		err = notify(ctx, h.st, evt, account("Role updated", fmt.Sprintf("Your role is now %s.", e.Role)))
	case user.Deactivated:
		err = notify(ctx, h.st, evt, account("Account deactivated", "Your account has been deactivated."))
	case user.Reactivated:
		err = notify(ctx, h.st, evt, account("Account reactivated", "Your account is active again."))
	}
	if err != nil {
		return err
	}
	return h.st.UpsertUser(ctx, v)
}
