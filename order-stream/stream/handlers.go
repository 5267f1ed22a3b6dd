package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/projection"
)

// Authenticator resolves the caller from request headers.
type Authenticator interface {
	ActorID(h http.Header) (string, error)
}

// Reader is the part of the read model the stream serves views from.
type Reader interface {
	GetOrder(ctx context.Context, id string) (projection.OrderView, error)
	OrdersByRestaurant(ctx context.Context, restaurantID string) ([]projection.OrderView, error)
	OrdersByUser(ctx context.Context, userID string) ([]projection.OrderView, error)
}

type handler struct {
	hub       *Hub
	reader    Reader
	auth      Authenticator
	heartbeat time.Duration
	logger    *log.Logger
}

// Register wires GET /api/stream on e.
func Register(e *echo.Echo, hub *Hub, reader Reader, auth Authenticator, heartbeat time.Duration, logger *log.Logger) {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	h := &handler{hub: hub, reader: reader, auth: auth, heartbeat: heartbeat, logger: logger}
	e.GET("/api/stream", h.stream)
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"status": "ok", "subscribers": hub.Len()})
	})
}

func (h *handler) stream(c echo.Context) error {
	req := c.Request()
	// EventSource cannot set headers, so browsers pass the token in the query.
	if req.Header.Get(echo.HeaderAuthorization) == "" {
		if token := c.QueryParam("token"); token != "" {
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		}
	}
	actor, err := h.auth.ActorID(req.Header)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": err.Error()})
	}
	filter := Filter{
		OrderID:      c.QueryParam("orderId"),
		RestaurantID: c.QueryParam("restaurantId"),
		UserID:       c.QueryParam("userId"),
	}

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	// Subscribe before the snapshot so nothing between the two is missed.
	updates, unsubscribe := h.hub.Subscribe(filter)
	defer unsubscribe()

	ctx := req.Context()
	initial, err := h.snapshot(ctx, filter)
	if err != nil {
		h.logger.WithError(err).WithField("actor", actor).Error("stream snapshot failed")
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "read model unavailable"})
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	if err := writeEvent(res, "snapshot", "", initial); err != nil {
		return nil
	}
	flusher.Flush()
	h.logger.WithFields(log.Fields{"actor": actor, "order": filter.OrderID, "restaurant": filter.RestaurantID, "user": filter.UserID}).Debug("stream opened")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := io.WriteString(res, ": ping\n\n"); err != nil {
				return nil
			}
		case u, ok := <-updates:
			if !ok {
				h.logger.WithField("actor", actor).Warn("stream subscriber fell behind, closing")
				return nil
			}
			view, err := h.reader.GetOrder(ctx, u.OrderID)
			if errors.Is(err, projection.ErrNotFound) {
				continue
			}
			if err != nil {
				h.logger.WithError(err).WithField("order", u.OrderID).Error("stream order lookup failed")
				continue
			}
			id := u.OrderID + ":" + strconv.FormatInt(u.Version, 10)
			if err := writeEvent(res, "order", id, view); err != nil {
				return nil
			}
		}
		flusher.Flush()
	}
}

func (h *handler) snapshot(ctx context.Context, f Filter) ([]projection.OrderView, error) {
	switch {
	case f.OrderID != "":
		v, err := h.reader.GetOrder(ctx, f.OrderID)
		if errors.Is(err, projection.ErrNotFound) {
			return []projection.OrderView{}, nil
		}
		if err != nil {
			return nil, err
		}
		return []projection.OrderView{v}, nil
	case f.RestaurantID != "":
		return h.reader.OrdersByRestaurant(ctx, f.RestaurantID)
	case f.UserID != "":
		return h.reader.OrdersByUser(ctx, f.UserID)
	}
	return []projection.OrderView{}, nil
}

func writeEvent(w io.Writer, event, id string, payload any) error {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return err
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
