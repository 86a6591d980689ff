package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pet-licence-api/internal/service"
	appErrors "github.com/noah-isme/pet-licence-api/pkg/errors"
	"github.com/noah-isme/pet-licence-api/pkg/response"
)

// ContextIdentityKey stores the verified email asserted by an identity token.
const ContextIdentityKey = "verifiedIdentity"

type identityValidator interface {
	Validate(token string) (*service.IdentityClaims, error)
}

// Identity attaches the verified email from a bearer identity token. When required is set,
// requests without a valid token are rejected with 401; otherwise invalid tokens are ignored.
func Identity(tokens identityValidator, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			if required {
				response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "verified identity token required"))
				c.Abort()
				return
			}
			c.Next()
			return
		}

		claims, err := tokens.Validate(token)
		if err != nil {
			if required {
				response.Error(c, err)
				c.Abort()
				return
			}
			c.Next()
			return
		}

		c.Set(ContextIdentityKey, claims.Email)
		c.Next()
	}
}

// VerifiedIdentity returns the email proven for this request, if any.
func VerifiedIdentity(c *gin.Context) (string, bool) {
	value, exists := c.Get(ContextIdentityKey)
	if !exists {
		return "", false
	}
	email, ok := value.(string)
	return email, ok && email != ""
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
