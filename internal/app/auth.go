package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"farmlink/pkg/auth"
	"farmlink/pkg/domain"
)

// SignUp registers a new user and creates the application-visible profile in
// the same step, then issues a session token.
func (a *App) SignUp(email, password, displayName string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	displayName = strings.TrimSpace(displayName)
	if email == "" || password == "" {
		return domain.User{}, "", fmt.Errorf("%w: email and password are required", ErrValidation)
	}
	if displayName == "" {
		return domain.User{}, "", fmt.Errorf("%w: display name is required", ErrValidation)
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", fmt.Errorf("%w: email already registered", ErrValidation)
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// Login validates credentials and issues a session token.
func (a *App) Login(email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", fmt.Errorf("%w: invalid email or password", ErrNotAuthenticated)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// Logout invalidates the session token.
func (a *App) Logout(token string) error {
	return a.sessions.DeleteSession(token)
}

// UserFromToken resolves a user from a session token.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil || !found {
		return domain.User{}, false
	}
	return user, true
}

// GetProfile returns the public profile of a user.
func (a *App) GetProfile(userID string) (domain.Profile, error) {
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.Profile{}, ErrNotFound
	}
	return user.Profile(), nil
}

// ProfileUpdate carries optional profile fields; nil means "leave unchanged".
type ProfileUpdate struct {
	DisplayName *string
	Avatar      *string
	Contact     *string
}

// UpdateProfile updates the acting user's own profile record.
func (a *App) UpdateProfile(actingUser domain.User, update ProfileUpdate) (domain.User, error) {
	if update.DisplayName != nil {
		name := strings.TrimSpace(*update.DisplayName)
		if name == "" {
			return domain.User{}, fmt.Errorf("%w: display name cannot be empty", ErrValidation)
		}
		actingUser.DisplayName = name
	}
	if update.Avatar != nil {
		actingUser.Avatar = *update.Avatar
	}
	if update.Contact != nil {
		actingUser.Contact = strings.TrimSpace(*update.Contact)
	}
	actingUser.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveUser(actingUser); err != nil {
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	return actingUser, nil
}

// ChangePassword updates the password after verifying the current one.
func (a *App) ChangePassword(actingUser domain.User, currentPassword, newPassword string) error {
	if !auth.CheckPassword(currentPassword, actingUser.PasswordHash) {
		return fmt.Errorf("%w: current password is incorrect", ErrForbidden)
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	passwordHash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	actingUser.PasswordHash = passwordHash
	actingUser.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveUser(actingUser); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}
