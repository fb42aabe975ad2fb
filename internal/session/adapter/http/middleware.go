package http

import (
	"context"
	"crypto/subtle"
	"time"

	"session-registry/internal/session/domain/model"
	"session-registry/internal/shared/contextkeys"
	"session-registry/internal/shared/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
)

// SessionResolver resolves a bearer token to its live session.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*model.ActiveSession, bool)
}

// SessionMiddleware provides session decoding middleware for Fiber
type SessionMiddleware struct {
	resolver     SessionResolver
	headerName   string
	reqAttribute string
}

// NewSessionMiddleware creates a middleware reading tokens from headerName and
// publishing resolved sessions under reqAttribute.
func NewSessionMiddleware(resolver SessionResolver, headerName, reqAttribute string) *SessionMiddleware {
	return &SessionMiddleware{
		resolver:     resolver,
		headerName:   headerName,
		reqAttribute: reqAttribute,
	}
}

// Decode resolves the token header, if any, and always continues the chain.
// Anonymous requests carry no session in Locals.
func (m *SessionMiddleware) Decode() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Get(m.headerName)
		if token == "" {
			return c.Next()
		}

		active, ok := m.resolver.Resolve(c.UserContext(), token)
		if !ok {
			return c.Next()
		}

		c.Locals(m.reqAttribute, active)
		c.SetUserContext(utils.WithSessionID(c.UserContext(), active.SessionID))
		return c.Next()
	}
}

// RequireSession rejects requests Decode left anonymous.
func (m *SessionMiddleware) RequireSession() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := m.Session(c); !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Valid session token required",
			})
		}
		return c.Next()
	}
}

// RequireAdmin accepts only requests bearing adminToken in the Authorization
// header. An empty adminToken rejects everything.
func (m *SessionMiddleware) RequireAdmin(adminToken string) fiber.Handler {
	return keyauth.New(keyauth.Config{
		KeyLookup:  "header:" + fiber.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			if adminToken == "" || subtle.ConstantTimeCompare([]byte(key), []byte(adminToken)) != 1 {
				return false, keyauth.ErrMissingOrMalformedAPIKey
			}
			return true, nil
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Valid admin credential required",
			})
		},
	})
}

// Session returns the session Decode stored for this request.
func (m *SessionMiddleware) Session(c *fiber.Ctx) (*model.ActiveSession, bool) {
	active, ok := c.Locals(m.reqAttribute).(*model.ActiveSession)
	return active, ok && active != nil
}

// RequestID tags each request with a UUID and copies it into the user context.
func (m *SessionMiddleware) RequestID() fiber.Handler {
	return requestid.New(requestid.Config{
		Header:     fiber.HeaderXRequestID,
		Generator:  uuid.NewString,
		ContextKey: string(contextkeys.RequestIDKey),
	})
}

// PropagateRequestID moves the request id from Locals into the user context so
// the store's logs carry it.
func (m *SessionMiddleware) PropagateRequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id, ok := c.Locals(string(contextkeys.RequestIDKey)).(string); ok && id != "" {
			c.SetUserContext(utils.WithRequestID(c.UserContext(), id))
		}
		return c.Next()
	}
}

// CORS allows browsers to send the token header.
func (m *SessionMiddleware) CORS(allowOrigins string) fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:  allowOrigins,
		AllowMethods:  "GET,POST,DELETE,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept," + m.headerName,
		ExposeHeaders: m.headerName,
		MaxAge:        86400,
	})
}

// RateLimiter limits session creation per client.
func (m *SessionMiddleware) RateLimiter(max int, window time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:               max,
		Expiration:        window,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.Get("X-Forwarded-For", c.IP())
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		},
	})
}
