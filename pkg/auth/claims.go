package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the only role the admin console issues.
const RoleAdmin = "admin"

// AdminClaims is the JWT carried by the admin_session cookie or a bearer header.
// The registered ID (jti) keys the server-side session so logout can revoke it.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}
