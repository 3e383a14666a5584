package users

import "time"

// User is an account record. Email is stored lowercased.
type User struct {
	ID                string     `json:"id" dynamodbav:"user_id"`
	Email             string     `json:"email" dynamodbav:"email"`
	PasswordHash      string     `json:"-" dynamodbav:"password_hash,omitempty"` // empty for OAuth-only accounts
	Name              string     `json:"name" dynamodbav:"name"`
	Avatar            string     `json:"avatar,omitempty" dynamodbav:"avatar,omitempty"`
	ProviderID        string     `json:"-" dynamodbav:"provider_id,omitempty"`
	IsAdmin           bool       `json:"isAdmin" dynamodbav:"is_admin"`
	IsUser            bool       `json:"isUser" dynamodbav:"is_user"`
	EmailVerified     bool       `json:"emailVerified" dynamodbav:"email_verified"`
	EmailVerifiedAt   *time.Time `json:"emailVerifiedAt,omitempty" dynamodbav:"email_verified_at,omitempty"`
	VerificationToken string     `json:"-" dynamodbav:"verification_token,omitempty"`
	CreatedAt         time.Time  `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt         time.Time  `json:"updatedAt" dynamodbav:"updated_at"`
}

// Verification maps a pending e-mail verification token to its user.
type Verification struct {
	Token     string `dynamodbav:"token"`
	UserID    string `dynamodbav:"user_id"`
	ExpiresAt int64  `dynamodbav:"expires_at"` // epoch seconds, also the table TTL attribute
}

// Expired reports whether the token can no longer be used at now.
func (v Verification) Expired(now time.Time) bool {
	return now.Unix() >= v.ExpiresAt
}

type link struct {
	UserID string `dynamodbav:"user_id"`
}
