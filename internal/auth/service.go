// Package auth handles local admin authentication for the dashboard. The
// machine must work with no connectivity, so there is no external identity
// provider; accounts live in SQLite and passwords are bcrypt hashes.
package auth

import (
	"errors"
	"time"

	"pisowifi-backend/internal/database"
	"pisowifi-backend/internal/models"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const sessionDuration = 12 * time.Hour

// Service handles admin authentication logic
type Service struct {
	admins *database.AdminRepo
}

// NewService creates a new auth service
func NewService() *Service {
	return &Service{admins: database.NewAdminRepo()}
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents a successful login
type LoginResponse struct {
	Admin     *models.Admin `json:"admin"`
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Login authenticates an admin and creates a dashboard session
func (s *Service) Login(req LoginRequest, ipAddress string) (*LoginResponse, error) {
	admin, err := s.admins.GetByUsername(req.Username)
	if err != nil {
		if errors.Is(err, database.ErrAdminNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !VerifyPassword(req.Password, admin.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, session, err := s.admins.CreateSession(admin.ID, ipAddress, sessionDuration)
	if err != nil {
		return nil, err
	}

	s.admins.UpdateLastLogin(admin.ID)

	return &LoginResponse{
		Admin:     admin,
		Token:     token,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// Logout invalidates a session
func (s *Service) Logout(token string) error {
	return s.admins.DeleteSessionByToken(token)
}

// ValidateToken validates a session token and returns the admin
func (s *Service) ValidateToken(token string) (*models.Admin, *models.AdminSession, error) {
	session, err := s.admins.GetSessionByToken(token)
	if err != nil {
		return nil, nil, err
	}

	admin, err := s.admins.GetByID(session.AdminID)
	if err != nil {
		return nil, nil, err
	}

	return admin, session, nil
}
