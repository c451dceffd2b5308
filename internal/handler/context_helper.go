package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/admission-portal-api/internal/access"
	"github.com/noah-isme/admission-portal-api/internal/middleware"
	"github.com/noah-isme/admission-portal-api/internal/models"
	appErrors "github.com/noah-isme/admission-portal-api/pkg/errors"
	"github.com/noah-isme/admission-portal-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		return nil
	}
	return claims
}

// requireActor returns the resolved caller or writes 401 and reports false.
func requireActor(c *gin.Context) (access.Actor, bool) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok || actor.AccountID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return access.Actor{}, false
	}
	return actor, true
}

// targetAccount resolves the :accountId path parameter; "me" names the caller.
func targetAccount(c *gin.Context, actor access.Actor) string {
	id := c.Param("accountId")
	if id == "" || id == "me" {
		return actor.AccountID
	}
	return id
}
