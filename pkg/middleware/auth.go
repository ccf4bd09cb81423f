package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chongs12/agentic-rag/pkg/logger"
	"github.com/chongs12/agentic-rag/pkg/utils"
)

// ServiceAuth 服务间鉴权：校验 Bearer 服务令牌
type ServiceAuth struct {
	tokens *utils.TokenManager
}

func NewServiceAuth(tokens *utils.TokenManager) *ServiceAuth {
	return &ServiceAuth{tokens: tokens}
}

// Require rejects requests without a valid service token. A nil
// ServiceAuth lets every request through.
func (a *ServiceAuth) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a == nil || a.tokens == nil {
			c.Next()
			return
		}
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}
		tokenString := utils.ExtractTokenFromHeader(authHeader)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			return
		}
		claims, err := a.tokens.Validate(tokenString)
		if err != nil {
			logger.Warn(c.Request.Context(), "Invalid service token", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		c.Set("service", claims.Service)
		c.Set("claims", claims)
		c.Next()
	}
}
