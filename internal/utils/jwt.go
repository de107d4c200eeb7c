package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// GetJwtSecretString returns the resolved JWT secret as a string.
// Resolution order: JWT_SECRET -> VF_JWT_SECRET -> dev default (unless
// VF_STRICT_JWT is set, in which case an env secret is required).
func GetJwtSecretString() (string, error) {
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if secret == "" {
		secret = strings.TrimSpace(os.Getenv("VF_JWT_SECRET"))
	}
	if secret == "" {
		strict := strings.EqualFold(strings.TrimSpace(os.Getenv("VF_STRICT_JWT")), "1") ||
			strings.EqualFold(strings.TrimSpace(os.Getenv("VF_STRICT_JWT")), "true")
		if !strict {
			secret = "dev_jwt_secret_123"
		}
	}
	if secret == "" {
		return "", fmt.Errorf("JWT_SECRET environment variable not set")
	}
	return secret, nil
}

// GetJwtSecretBytes returns the resolved JWT secret in []byte form.
func GetJwtSecretBytes() ([]byte, error) {
	s, err := GetJwtSecretString()
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// GenerateJWT creates a signed admin token for the given admin user id.
func GenerateJWT(adminID uuid.UUID, role string) (string, error) {
	jwtSecret, err := GetJwtSecretBytes()
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"user_id": adminID.String(),
		"role":    role,
		"exp":     time.Now().Add(time.Hour * 72).Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}
