package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"session-registry/internal/session/usecase"
	apperrors "session-registry/internal/shared/errors"
	"session-registry/internal/shared/logger"

	"github.com/gofiber/fiber/v2"
)

// Sweeper runs an on-demand expiration sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// CreateSessionRequest is the body of POST /admin/sessions. SessionID may be a JSON
// string or number; numbers are kept in their decimal form.
type CreateSessionRequest struct {
	SessionID json.RawMessage        `json:"sessionId"`
	Data      map[string]interface{} `json:"data"`
}

// CreateSessionResponse carries the issued token.
type CreateSessionResponse struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

// SessionHTTPHandler handles HTTP requests for the session registry
type SessionHTTPHandler struct {
	store      usecase.SessionStoreInterface
	sweeper    Sweeper
	middleware *SessionMiddleware
	headerName string
	logger     logger.Logger
}

// NewSessionHTTPHandler creates a new session HTTP handler
func NewSessionHTTPHandler(
	store usecase.SessionStoreInterface,
	sweeper Sweeper,
	middleware *SessionMiddleware,
	headerName string,
	log logger.Logger,
) *SessionHTTPHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &SessionHTTPHandler{
		store:      store,
		sweeper:    sweeper,
		middleware: middleware,
		headerName: headerName,
		logger:     log.WithComponent("session-http"),
	}
}

// SetupRoutes registers the routes a token holder may call on its own
// session. Decode must already run in front of router.
func (h *SessionHTTPHandler) SetupRoutes(router fiber.Router) {
	router.Get("/me", h.middleware.RequireSession(), h.GetCurrentSession)
	router.Post("/logout", h.middleware.RequireSession(), h.Logout)
}

// SetupAdminRoutes registers session issuing and management behind the admin
// credential. Callers here can mint a token for any id.
func (h *SessionHTTPHandler) SetupAdminRoutes(router fiber.Router, adminToken string) {
	router.Use(h.middleware.RequireAdmin(adminToken))

	router.Post("/", h.CreateSession)
	router.Get("/", h.ListSessions)
	router.Post("/sweep", h.Sweep)
	router.Delete("/:id", h.DeleteUserSessions)
}

// CreateSession handles session creation
func (h *SessionHTTPHandler) CreateSession(c *fiber.Ctx) error {
	var req CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	sessionID, err := coerceSessionID(req.SessionID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	token, err := h.store.CreateSession(c.UserContext(), sessionID, req.Data)
	if err != nil {
		return h.errorResponse(c, err)
	}

	c.Set(h.headerName, token)
	return c.Status(fiber.StatusCreated).JSON(CreateSessionResponse{
		SessionID: sessionID,
		Token:     token,
	})
}

// GetCurrentSession returns the session bound to the request token
func (h *SessionHTTPHandler) GetCurrentSession(c *fiber.Ctx) error {
	active, _ := h.middleware.Session(c)
	return c.JSON(active)
}

// Logout invalidates the record behind the request token
func (h *SessionHTTPHandler) Logout(c *fiber.Ctx) error {
	active, _ := h.middleware.Session(c)
	if err := active.Logout(c.UserContext()); err != nil {
		return h.errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DeleteUserSessions invalidates every record of a session id
func (h *SessionHTTPHandler) DeleteUserSessions(c *fiber.Ctx) error {
	if err := h.store.DeleteUserSessions(c.UserContext(), c.Params("id")); err != nil {
		return h.errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListSessions returns every known session id with its live record count
func (h *SessionHTTPHandler) ListSessions(c *fiber.Ctx) error {
	ids := h.store.Sessions()
	sessions := make([]fiber.Map, 0, len(ids))
	for _, id := range ids {
		sess, ok := h.store.Get(id)
		if !ok {
			continue
		}
		sessions = append(sessions, fiber.Map{
			"sessionId": id,
			"records":   len(sess.Records),
		})
	}
	return c.JSON(fiber.Map{
		"persistent": h.store.Persistent(),
		"sessions":   sessions,
	})
}

// Sweep runs an expiration sweep now
func (h *SessionHTTPHandler) Sweep(c *fiber.Ctx) error {
	removed, err := h.sweeper.Sweep(c.UserContext())
	if errors.Is(err, usecase.ErrSweepInProgress) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"removed": removed})
}

func (h *SessionHTTPHandler) errorResponse(c *fiber.Ctx, err error) error {
	status := apperrors.HTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		h.logger.WithContext(c.UserContext()).Errorf("Session request failed: %v", err)
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return c.Status(status).JSON(fiber.Map{
			"error": appErr.Message,
			"type":  appErr.Type,
		})
	}
	return c.Status(status).JSON(fiber.Map{
		"error": "Internal server error",
	})
}

// coerceSessionID accepts a JSON string or number.
func coerceSessionID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("sessionId is required")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("invalid sessionId: %w", err)
	}

	switch id := v.(type) {
	case string:
		if id == "" {
			return "", errors.New("sessionId is required")
		}
		return id, nil
	case json.Number:
		return id.String(), nil
	default:
		return "", errors.New("sessionId must be a string or a number")
	}
}
