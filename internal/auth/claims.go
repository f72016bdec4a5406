package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for the probe API.
// ClientID identifies the caller that owns probe requests and their delivery receipts.
type Claims struct {
	jwt.RegisteredClaims

	ClientID string `json:"client_id"`
	Role     string `json:"role"`
}
