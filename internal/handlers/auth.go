package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shivam349/codex1/internal/identity"
	"github.com/shivam349/codex1/internal/logging"
	"github.com/shivam349/codex1/internal/notify"
	"github.com/shivam349/codex1/internal/validation"
)

// notifyContext carries the request id to the worker that sends the e-mail.
func notifyContext(c *gin.Context) context.Context {
	return notify.WithRequestID(c.Request.Context(), logging.RequestID(c))
}

// sessionData is the account payload returned alongside a new token.
func sessionData(sess *identity.Session) gin.H {
	u := sess.User
	return gin.H{
		"id":            u.ID,
		"email":         u.Email,
		"name":          u.Name,
		"image":         u.Avatar,
		"isAdmin":       u.IsAdmin,
		"isUser":        u.IsUser,
		"emailVerified": u.EmailVerified,
		"token":         sess.Token,
	}
}

// POST /api/auth/register
func (s *Server) register(c *gin.Context) {
	var req validation.RegisterRequest
	if err := validation.BindAndValidate(c, &req, s.v); err != nil {
		return
	}
	u, err := s.Identity.Register(notifyContext(c), req.Email, req.Password, req.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	okMsg(c, http.StatusCreated, "Registration successful. Please check your email to verify your account.", gin.H{
		"id":    u.ID,
		"email": u.Email,
		"name":  u.Name,
	})
}

// POST /api/auth/verify-email
func (s *Server) verifyEmail(c *gin.Context) {
	var req validation.VerifyEmailRequest
	if err := validation.BindAndValidate(c, &req, s.v); err != nil {
		return
	}
	sess, err := s.Identity.VerifyEmail(c.Request.Context(), req.Token)
	if err != nil {
		s.fail(c, err)
		return
	}
	okMsg(c, http.StatusOK, "Email verified successfully!", sessionData(sess))
}

// POST /api/auth/resend-verification
func (s *Server) resendVerification(c *gin.Context) {
	var req validation.ResendVerificationRequest
	if err := validation.BindAndValidate(c, &req, s.v); err != nil {
		return
	}
	if err := s.Identity.ResendVerification(notifyContext(c), req.Email); err != nil {
		s.fail(c, err)
		return
	}
	okMsg(c, http.StatusOK, "Verification email sent. Please check your inbox.", nil)
}

// POST /api/auth/google
func (s *Server) googleAuth(c *gin.Context) {
	var req validation.GoogleAuthRequest
	if err := validation.BindAndValidate(c, &req, s.v); err != nil {
		return
	}
	sess, err := s.Identity.UpsertOAuthIdentity(c.Request.Context(), identity.OAuthProfile{
		ProviderID: req.GoogleID,
		Email:      req.Email,
		Name:       req.Name,
		Avatar:     req.Image,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, sessionData(sess))
}

// POST /api/auth/login (administrators)
func (s *Server) login(c *gin.Context) {
	var req validation.LoginRequest
	if err := validation.BindAndValidate(c, &req, s.v); err != nil {
		return
	}
	sess, err := s.Identity.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{
		"id":      sess.User.ID,
		"email":   sess.User.Email,
		"isAdmin": sess.User.IsAdmin,
		"token":   sess.Token,
	})
}

// POST /api/auth/user-login
func (s *Server) userLogin(c *gin.Context) {
	var req validation.LoginRequest
	if err := validation.BindAndValidate(c, &req, s.v); err != nil {
		return
	}
	sess, err := s.Identity.UserLogin(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, sessionData(sess))
}

// GET /api/auth/me
func (s *Server) me(c *gin.Context) {
	p, _ := principal(c)
	u, err := s.Identity.Me(c.Request.Context(), p)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}
