package middleware

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/walletops/hookrelay/internal/api/apierrors"
	"github.com/walletops/hookrelay/internal/logger"
)

const (
	AuthTypeKey    = "auth_type"
	AuthSubjectKey = "auth_subject"
)

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTPublicKey string // RSA public key in PEM format
	APIKeys      []string
}

// Auth returns a gin middleware that accepts either a Bearer JWT signed by
// the platform identity service or a static API key
func Auth(cfg AuthConfig) gin.HandlerFunc {
	apiKeys := make(map[string]bool, len(cfg.APIKeys))
	for _, key := range cfg.APIKeys {
		if key != "" {
			apiKeys[key] = true
		}
	}

	return func(c *gin.Context) {
		authType, subject, err := authenticate(c.GetHeader("Authorization"), cfg.JWTPublicKey, apiKeys)
		if err != nil {
			logger.Warn("Authentication failed",
				zap.Error(err),
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				apierrors.NewUnauthorizedError("Authentication failed", err.Error()))
			return
		}

		c.Set(AuthTypeKey, authType)
		if subject != "" {
			c.Set(AuthSubjectKey, subject)
		}

		c.Next()
	}
}

func authenticate(authHeader, jwtPublicKey string, apiKeys map[string]bool) (authType, subject string, err error) {
	if authHeader == "" {
		return "", "", errors.New("missing Authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return "", "", errors.New("invalid Authorization header format")
	}

	switch strings.ToLower(parts[0]) {
	case "bearer":
		claims, err := validateJWT(parts[1], jwtPublicKey)
		if err != nil {
			return "", "", err
		}
		return "jwt", claims.Subject, nil

	case "apikey":
		if len(apiKeys) == 0 {
			return "", "", errors.New("no API keys configured")
		}
		if !apiKeys[parts[1]] {
			return "", "", errors.New("invalid API key")
		}
		return "apikey", "", nil

	default:
		return "", "", fmt.Errorf("unsupported authorization type: %s", parts[0])
	}
}

// validateJWT validates a JWT token with RSA signature and returns claims
func validateJWT(tokenString string, publicKeyPEM string) (*jwt.RegisteredClaims, error) {
	if publicKeyPEM == "" {
		return nil, errors.New("JWT public key not configured")
	}

	publicKey, err := parseRSAPublicKey(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSA public key: %w", err)
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}

// parseRSAPublicKey parses an RSA public key from PEM format
func parseRSAPublicKey(publicKeyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, errors.New("failed to parse PEM block containing public key")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		// Try PKCS1 as a fallback
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}

	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not an RSA key")
	}

	return rsaKey, nil
}
