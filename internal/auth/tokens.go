// Package auth guards the HTTP API with static API tokens.
package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rossigee/pagekeeper/pkg/types"
)

// Validator handles authentication validation
type Validator struct {
	apiTokens []string
}

// NewValidator creates a validator accepting tokens plus any listed in
// tokenFile (one per line). An empty tokenFile is skipped.
func NewValidator(tokens []string, tokenFile string) (*Validator, error) {
	v := &Validator{}
	for _, token := range tokens {
		v.add(token)
	}

	if tokenFile != "" {
		if err := v.loadAPITokens(tokenFile); err != nil {
			return nil, fmt.Errorf("failed to load API tokens: %w", err)
		}
	}

	if !v.Enabled() {
		logrus.Warn("No API tokens configured; API authentication is disabled")
	}
	return v, nil
}

func (v *Validator) add(token string) {
	token = strings.TrimSpace(token)
	if token != "" {
		v.apiTokens = append(v.apiTokens, token)
	}
}

// loadAPITokens loads API tokens for authentication
func (v *Validator) loadAPITokens(tokenFile string) error {
	content, err := os.ReadFile(tokenFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", tokenFile, err)
	}

	for _, line := range strings.Split(string(content), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		v.add(line)
	}
	return nil
}

// Enabled reports whether any token is configured.
func (v *Validator) Enabled() bool {
	return len(v.apiTokens) > 0
}

// Middleware returns Gin middleware for authentication. With no tokens
// configured every request passes.
func (v *Validator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !v.Enabled() || v.validateAPIToken(c) {
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, types.ErrorResponse{
			Error:   "authentication required",
			Message: "provide a valid API token",
			Code:    http.StatusUnauthorized,
		})
	}
}

// validateAPIToken validates API token from Authorization or X-API-Token headers
func (v *Validator) validateAPIToken(c *gin.Context) bool {
	authHeader := c.GetHeader("Authorization")

	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok && token != "" {
		return v.known(token)
	}

	if token := c.GetHeader("X-API-Token"); token != "" {
		return v.known(token)
	}

	return false
}

func (v *Validator) known(token string) bool {
	for _, candidate := range v.apiTokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return true
		}
	}
	return false
}
