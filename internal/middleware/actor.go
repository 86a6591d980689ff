package middleware

import (
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
)

const (
	// ContextActorKey stores the admin actor name used for audit entries.
	ContextActorKey = "adminActor"
	// ActorHeader names the admin performing a change.
	ActorHeader  = "X-Admin-Actor"
	defaultActor = "admin"
	maxActorLen  = 100
)

// Actor resolves the admin actor from ActorHeader, falling back to a generic name.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextActorKey, sanitizeActor(c.GetHeader(ActorHeader)))
		c.Next()
	}
}

// ActorFromContext returns the resolved actor.
func ActorFromContext(c *gin.Context) string {
	if value, ok := c.Get(ContextActorKey); ok {
		if actor, ok := value.(string); ok && actor != "" {
			return actor
		}
	}
	return defaultActor
}

func sanitizeActor(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if cleaned == "" {
		return defaultActor
	}
	if runes := []rune(cleaned); len(runes) > maxActorLen {
		cleaned = string(runes[:maxActorLen])
	}
	return cleaned
}
