package middlewares

import (
	"context"
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
	"bitbucket.org/mmdatafocus/aftersales_backend/utils"
	"github.com/gin-gonic/gin"
)

type authString string

// AuthMiddleware validates an optional bearer token and stores its claims on the request context.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")

		if auth == "" {
			c.Next()
			return
		}

		bearer := "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		auth = auth[len(bearer):]

		validate, err := utils.JwtValidate(auth)
		if err != nil || !validate.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		customClaim, _ := validate.Claims.(*utils.JwtCustomClaim)

		ctx := context.WithValue(c.Request.Context(), authString("auth"), customClaim)
		ctx = utils.SetUserIdInContext(ctx, customClaim.ID)
		ctx = utils.SetUserRoleInContext(ctx, customClaim.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireActor rejects requests that carry no valid claims.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := ActorFrom(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func CtxValue(ctx context.Context) *utils.JwtCustomClaim {
	raw, _ := ctx.Value(authString("auth")).(*utils.JwtCustomClaim)
	return raw
}

// ActorFrom maps the token claims onto an after-sales actor.
func ActorFrom(ctx context.Context) (aftersales.Actor, bool) {
	claim := CtxValue(ctx)
	if claim == nil || claim.ID == "" {
		return aftersales.Actor{}, false
	}
	role, err := aftersales.ParseRole(claim.Role)
	if err != nil {
		return aftersales.Actor{}, false
	}
	return aftersales.Actor{ID: claim.ID, Role: role}, true
}
