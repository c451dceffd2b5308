package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/admission-portal-api/internal/access"
	"github.com/noah-isme/admission-portal-api/internal/models"
	appErrors "github.com/noah-isme/admission-portal-api/pkg/errors"
	"github.com/noah-isme/admission-portal-api/pkg/response"
)

// ContextActorKey is the gin context key storing the resolved access.Actor.
const ContextActorKey = "currentActor"

type actorResolver interface {
	Resolve(ctx context.Context, claims *models.JWTClaims) (access.Actor, error)
}

// Identity resolves the claims left by JWT into an actor carrying current permissions.
func Identity(resolver actorResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFromContext(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		actor, err := resolver.Resolve(c.Request.Context(), claims)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		c.Set(ContextActorKey, actor)
		c.Next()
	}
}

// ActorFromContext returns the actor set by Identity.
func ActorFromContext(c *gin.Context) (access.Actor, bool) {
	value, exists := c.Get(ContextActorKey)
	if !exists {
		return access.Actor{}, false
	}
	actor, ok := value.(access.Actor)
	return actor, ok
}

// RateKey keys rate limits by the resolved actor, falling back to the client address
// on routes that run before Identity.
func RateKey(c *gin.Context) string {
	if actor, ok := ActorFromContext(c); ok && actor.AccountID != "" {
		return "actor:" + actor.AccountID
	}
	return "ip:" + c.ClientIP()
}
