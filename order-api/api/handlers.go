// Package api exposes the command handlers and read model over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/command"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain/order"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain/restaurant"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain/user"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/projection"
)

const (
	maxBodySize = 64 * 1024

	headerIdempotencyKey = "Idempotency-Key"
	headerSource         = "X-Source"
	headerCorrelationID  = "X-Correlation-ID"
	headerReplayed       = "Idempotent-Replayed"
	defaultSource        = "order-api"
)

// Services are the collaborators behind the routes.
type Services struct {
	Orders      *command.Orders
	Restaurants *command.Restaurants
	Users       *command.Users
	Reader      projection.Reader
	// Ready reports whether backing stores are reachable. Nil means always.
	Ready func(ctx context.Context) error
}

type handler struct {
	svc     Services
	auth    Authenticator
	deduper Deduper
	logger  *log.Logger
}

// Register wires up all API routes on the provided Echo instance. deduper
// may be nil, in which case Idempotency-Key headers are only recorded.
func Register(e *echo.Echo, svc Services, auth Authenticator, deduper Deduper, logger *log.Logger) {
	if auth == nil {
		panic("api.Register: authenticator is required")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	h := &handler{svc: svc, auth: auth, deduper: deduper, logger: logger}

	e.POST("/api/orders", h.command("/api/orders", h.createOrder))
	e.POST("/api/orders/:id/items", h.command("/api/orders/:id/items", h.addItem))
	e.DELETE("/api/orders/:id/items/:menuItemId", h.command("/api/orders/:id/items/:menuItemId", h.removeItem))
	e.POST("/api/orders/:id/:action", h.command("/api/orders/:id/:action", h.orderAction))
	e.GET("/api/orders/:id", h.query("/api/orders/:id", h.getOrder))
	e.GET("/api/orders/:id/payments", h.query("/api/orders/:id/payments", h.getPayments))
	e.GET("/api/orders/:id/deliveries", h.query("/api/orders/:id/deliveries", h.getDeliveries))

	e.POST("/api/restaurants", h.command("/api/restaurants", h.createRestaurant))
	e.POST("/api/restaurants/:id/:action", h.command("/api/restaurants/:id/:action", h.restaurantAction))
	e.GET("/api/restaurants/:id", h.query("/api/restaurants/:id", h.getRestaurant))
	e.GET("/api/restaurants/:id/orders", h.query("/api/restaurants/:id/orders", h.restaurantOrders))

	e.POST("/api/users", h.command("/api/users", h.registerUser))
	e.POST("/api/users/:id/:action", h.command("/api/users/:id/:action", h.userAction))
	e.GET("/api/users/:id", h.query("/api/users/:id", h.getUser))
	e.GET("/api/users/:id/orders", h.query("/api/users/:id/orders", h.userOrders))
	e.GET("/api/users/:id/notifications", h.query("/api/users/:id/notifications", h.userNotifications))

	e.GET("/healthz", h.healthz)
}

// result is what a command produced. A nil body means 204.
type result struct {
	status int
	body   any
}

var done = result{status: http.StatusNoContent}

func created(id string) result {
	return result{status: http.StatusCreated, body: map[string]string{"id": id}}
}

type commandFunc func(ctx context.Context, c echo.Context, md eventlog.Metadata) (result, error)

// requestError is a malformed request detected by the HTTP layer.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error { return &requestError{status: http.StatusBadRequest, msg: msg} }

var errUnknownAction = &requestError{status: http.StatusNotFound, msg: "unknown action"}

func (h *handler) command(route string, run commandFunc) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		req := c.Request()
		ctx := req.Context()
		metrics := newRequestMetrics(h.logger, route)
		metrics.SetAction(c.Param("action"))
		metrics.SetAggregateID(c.Param("id"))
		defer func() { metrics.Log(c.Response().Status, err) }()

		authStart := time.Now()
		actorID, authErr := h.auth.ActorID(req.Header)
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: authErr.Error()})
		}

		md := eventlog.Metadata{
			ActorID:        actorID,
			Source:         req.Header.Get(headerSource),
			CorrelationID:  req.Header.Get(headerCorrelationID),
			IdempotencyKey: strings.TrimSpace(req.Header.Get(headerIdempotencyKey)),
			Timestamp:      time.Now().UTC(),
		}
		if md.Source == "" {
			md.Source = defaultSource
		}
		if md.CorrelationID == "" {
			md.CorrelationID = uuid.NewString()
		}
		c.Response().Header().Set(headerCorrelationID, md.CorrelationID)

		claimed := false
		if md.IdempotencyKey != "" && h.deduper != nil {
			ok, stored, dErr := h.deduper.Claim(ctx, actorID, md.IdempotencyKey)
			switch {
			case dErr != nil:
				// Redis being down must not block commands.
				h.logger.WithError(dErr).Warn("idempotency claim failed")
			case !ok && stored != nil:
				metrics.SetReplayed()
				c.Response().Header().Set(headerReplayed, "true")
				if len(stored.Body) == 0 {
					return c.NoContent(stored.Status)
				}
				return c.JSONBlob(stored.Status, stored.Body)
			case !ok:
				metrics.SetErrorStage("idempotency")
				return c.JSON(http.StatusConflict, errorResponse{Error: "request with this idempotency key is in progress", Code: "duplicate_request"})
			default:
				claimed = true
			}
		}

		execStart := time.Now()
		res, runErr := run(ctx, c, md)
		metrics.ObserveExec(time.Since(execStart))
		if runErr != nil {
			if claimed {
				if rErr := h.deduper.Remove(context.WithoutCancel(ctx), actorID, md.IdempotencyKey); rErr != nil {
					h.logger.Errorf("dedupe rollback failed, err: %v, key: %s, actor: %s", rErr, md.IdempotencyKey, actorID)
				}
			}
			metrics.SetErrorStage("command")
			return h.writeError(c, runErr)
		}

		var body []byte
		if res.body != nil {
			if body, err = sonic.Marshal(res.body); err != nil {
				metrics.SetErrorStage("encode_response")
				return err
			}
		}
		if claimed {
			if cErr := h.deduper.Complete(context.WithoutCancel(ctx), actorID, md.IdempotencyKey, StoredResponse{Status: res.status, Body: body}); cErr != nil {
				h.logger.WithError(cErr).Warn("idempotency completion failed")
			}
		}
		if body == nil {
			return c.NoContent(res.status)
		}
		return c.JSONBlob(res.status, body)
	}
}

func (h *handler) query(route string, run func(ctx context.Context, c echo.Context) (any, error)) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newRequestMetrics(h.logger, route)
		metrics.SetAggregateID(c.Param("id"))
		defer func() { metrics.Log(c.Response().Status, err) }()

		if _, authErr := h.auth.ActorID(c.Request().Header); authErr != nil {
			metrics.SetErrorStage("auth")
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: authErr.Error()})
		}
		start := time.Now()
		out, qErr := run(c.Request().Context(), c)
		metrics.ObserveExec(time.Since(start))
		if qErr != nil {
			metrics.SetErrorStage("query")
			return h.writeError(c, qErr)
		}
		return c.JSON(http.StatusOK, out)
	}
}

func (h *handler) writeError(c echo.Context, err error) error {
	var re *requestError
	if errors.As(err, &re) {
		return c.JSON(re.status, errorResponse{Error: re.msg})
	}
	status, body := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", c.Path()).Error("request failed")
	}
	return c.JSON(status, body)
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("invalid body")
	}
	return nil
}

func (h *handler) healthz(c echo.Context) error {
	if h.svc.Ready != nil {
		if err := h.svc.Ready(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		}
	}
	return c.NoContent(http.StatusOK)
}

// Orders.

func (h *handler) createOrder(ctx context.Context, c echo.Context, md eventlog.Metadata) (result, error) {
	var in command.CreateOrderInput
	if err := decodeBody(c, &in); err != nil {
		return result{}, err
	}
	id, err := h.svc.Orders.Create(ctx, in, md)
	if err != nil {
		return result{}, err
	}
	return created(id), nil
}

func (h *handler) addItem(ctx context.Context, c echo.Context, md eventlog.Metadata) (result, error) {
	var in command.ItemInput
	if err := decodeBody(c, &in); err != nil {
		return result{}, err
	}
	return done, h.svc.Orders.AddItem(ctx, c.Param("id"), in, md)
}

func (h *handler) removeItem(ctx context.Context, c echo.Context, md eventlog.Metadata) (result, error) {
	qty := 1
	if raw := c.QueryParam("quantity"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return result{}, badRequest("invalid quantity")
		}
		qty = n
	}
	return done, h.svc.Orders.RemoveItem(ctx, c.Param("id"), c.Param("menuItemId"), qty, md)
}

func (h *handler) orderAction(ctx context.Context, c echo.Context, md eventlog.Metadata) (result, error) {
	id := c.Param("id")
	o := h.svc.Orders
	switch c.Param("action") {
	case "submit":
		var body struct {
			PaymentMethod string `json:"paymentMethod"`
		}
		if err := decodeBody(c, &body); err != nil {
			return result{}, err
		}
		return done, o.Submit(ctx, id, body.PaymentMethod, md)
	case "accept":
		var body struct {
			EstimatedPrepMinutes int `json:"estimatedPrepMinutes"`
		}
		if err := decodeBody(c, &body); err != nil {
			return result{}, err
		}
		return done, o.Accept(ctx, id, body.EstimatedPrepMinutes, md)
	case "reject":
		var body struct {
			Reason string `json:"reason"`
		}
		if err := decodeBody(c, &body); err != nil {
			return result{}, err
		}
		return done, o.Reject(ctx, id, body.Reason, md)
	case "start-preparation":
		return done, o.StartPreparation(ctx, id, md)
	case "ready":
		return done, o.MarkReady(ctx, id, md)
	case "assign":
		var body struct {
			DeliveryPersonID string `json:"deliveryPersonId"`
		}
		if err := decodeBody(c, &body); err != nil {
			return result{}, err
		}
		return done, o.AssignToDelivery(ctx, id, body.DeliveryPersonID, md)
	case "picked-up":
		return done, o.MarkPickedUp(ctx, id, md)
	case "delivered":
		return done, o.MarkDelivered(ctx, id, md)
	case "cancel":
		var body struct {
			Reason       string  `json:"reason"`
			RefundAmount float64 `json:"refundAmount"`
		}
		if err := decodeBody(c, &body); err != nil {
			return result{}, err
		}
		return done, o.Cancel(ctx, id, body.Reason, body.RefundAmount, md)
	case "payment":
		var in command.PaymentInput
		if err := decodeBody(c, &in); err != nil {
			return result{}, err
		}
		return done, o.RecordPayment(ctx, id, in, md)
	case "location":
		var loc order.Location
		if err := decodeBody(c, &loc); err != nil {
			return result{}, err
		}
		return done, o.UpdateDeliveryLocation(ctx, id, loc, md)
	}
	return result{}, errUnknownAction
}

func (h *handler) getOrder(ctx context.Context, c echo.Context) (any, error) {
	return h.svc.Reader.GetOrder(ctx, c.Param("id"))
}

func (h *handler) getPayments(ctx context.Context, c echo.Context) (any, error) {
	return nonNil(h.svc.Reader.Payments(ctx, c.Param("id")))
}

func (h *handler) getDeliveries(ctx context.Context, c echo.Context) (any, error) {
	return nonNil(h.svc.Reader.DeliveryAssignments(ctx, c.Param("id")))
}

// Restaurants.

func (h *handler) createRestaurant(ctx context.Context, c echo.Context, md eventlog.Metadata) (result, error) {
	var in command.CreateRestaurantInput
	if err := decodeBody(c, &in); err != nil {
		return result{}, err
	}
	id, err := h.svc.Restaurants.Create(ctx, in, md)
	if err != nil {
		return result{}, err
	}
	return created(id), nil
}

func (h *handler) restaurantAction(ctx context.Context, c echo.Context, md eventlog.Metadata) (result, error) {
	id := c.Param("id")
	r := h.svc.Restaurants
	switch c.Param("action") {
	case "update":
		var in restaurant.Updated
		if err := decodeBody(c, &in); err != nil {
			return result{}, err
		}
		return done, r.Update(ctx, id, in, md)
	case "activate":
		return done, r.Activate(ctx, id, md)
	case "deactivate":
		var body struct {
			Reason string `json:"reason"`
		}
		if err := decodeBody(c, &body); err != nil {
			return result{}, err
		}
		return done, r.Deactivate(ctx, id, body.Reason, md)
	case "categories":
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(c, &body); err != nil {
			return result{}, err
		}
		catID, err := r.AddCategory(ctx, id, body.Name, md)
		if err != nil {
			return result{}, err
		}
		return created(catID), nil
	case "menu-items":
		var in command.MenuItemInput
		if err := decodeBody(c, &in); err != nil {
			return result{}, err
		}
		itemID, err := r.AddMenuItem(ctx, id, in, md)
		if err != nil {
			return result{}, err
		}
		return created(itemID), nil
	case "update-menu-item":
		var in restaurant.MenuItemUpdated
		if err := decodeBody(c, &in); err != nil {
			return result{}, err
		}
		return done, r.UpdateMenuItem(ctx, id, in, md)
	case "remove-menu-item":
		var body struct {
			MenuItemID string `json:"menuItemId"`
		}
		if err := decodeBody(c, &body); err != nil {
			return result{}, err
		}
		return done, r.RemoveMenuItem(ctx, id, body.MenuItemID, md)
	}
	return result{}, errUnknownAction
}

func (h *handler) getRestaurant(ctx context.Context, c echo.Context) (any, error) {
	return h.svc.Reader.GetRestaurant(ctx, c.Param("id"))
}

func (h *handler) restaurantOrders(ctx context.Context, c echo.Context) (any, error) {
	return nonNil(h.svc.Reader.OrdersByRestaurant(ctx, c.Param("id")))
}

// Users.

func (h *handler) registerUser(ctx context.Context, c echo.Context, md eventlog.Metadata) (result, error) {
	var in command.RegisterUserInput
	if err := decodeBody(c, &in); err != nil {
		return result{}, err
	}
	id, err := h.svc.Users.Register(ctx, in, md)
	if err != nil {
		return result{}, err
	}
	return created(id), nil
}

func (h *handler) userAction(ctx context.Context, c echo.Context, md eventlog.Metadata) (result, error) {
	id := c.Param("id")
	u := h.svc.Users
	switch c.Param("action") {
	case "update-profile":
		var in user.ProfileUpdated
		if err := decodeBody(c, &in); err != nil {
			return result{}, err
		}
		return done, u.UpdateProfile(ctx, id, in, md)
	case "change-role":
		var body struct {
			Role user.Role `json:"role"`
		}
		if err := decodeBody(c, &body); err != nil {
			return result{}, err
		}
		return done, u.ChangeRole(ctx, id, body.Role, md)
	case "deactivate":
		var body struct {
			Reason string `json:"reason"`
		}
		if err := decodeBody(c, &body); err != nil {
			return result{}, err
		}
		return done, u.Deactivate(ctx, id, body.Reason, md)
	case "reactivate":
		return done, u.Reactivate(ctx, id, md)
	}
	return result{}, errUnknownAction
}

func (h *handler) getUser(ctx context.Context, c echo.Context) (any, error) {
	return h.svc.Reader.GetUser(ctx, c.Param("id"))
}

func (h *handler) userOrders(ctx context.Context, c echo.Context) (any, error) {
	return nonNil(h.svc.Reader.OrdersByUser(ctx, c.Param("id")))
}

func (h *handler) userNotifications(ctx context.Context, c echo.Context) (any, error) {
	return nonNil(h.svc.Reader.Notifications(ctx, c.Param("id")))
}

// nonNil turns a nil slice into an empty one so lists encode as [].
func nonNil[T any](items []T, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}
