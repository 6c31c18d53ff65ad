package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds fee office credentials.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the issued access token and the signed in user.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	User        UserInfo  `json:"user"`
	IssuedAt    time.Time `json:"issued_at"`
}

// ChangePasswordRequest payload for updating password. The new password must differ from the old one.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,nefield=OldPassword"`
}

// UserInfo describes the authenticated user and what the fee desk lets them do.
type UserInfo struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	FullName   string     `json:"full_name"`
	Role       UserRole   `json:"role"`
	CanCollect bool       `json:"can_collect"`
	CanVerify  bool       `json:"can_verify"`
	LastLogin  *time.Time `json:"last_login,omitempty"`
}

// NewUserInfo projects an account into its response shape.
func NewUserInfo(u *User) UserInfo {
	return UserInfo{
		ID:         u.ID,
		Email:      u.Email,
		FullName:   u.FullName,
		Role:       u.Role,
		CanCollect: u.Role.CanCollectFees(),
		CanVerify:  u.Role.CanVerifyFees(),
		LastLogin:  u.LastLogin,
	}
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}
