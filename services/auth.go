package services

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"dialog-service/models"
	"dialog-service/utils"
)

// SignUpInput is the registration form.
type SignUpInput struct {
	Username   string  `json:"username" binding:"required,min=3,max=64"`
	Email      string  `json:"email" binding:"required,email"`
	Password   string  `json:"password" binding:"required,min=8,max=72"`
	FirstName  string  `json:"first_name" binding:"required,max=128"`
	LastName   string  `json:"last_name" binding:"required,max=128"`
	Patronymic *string `json:"patronymic" binding:"omitempty,max=128"`
	JobTitle   string  `json:"job_title" binding:"max=128"`
	Department string  `json:"department" binding:"max=128"`
}

// SignInInput accepts a username or an email in Login.
type SignInInput struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthService issues and rotates credentials. Tokens live in cookies and
// every refresh token is bound to a server-side session.
type AuthService struct {
	store    *Store
	tokens   *TokenManager
	sessions *SessionStore
	log      *slog.Logger
}

func NewAuthService(store *Store, tokens *TokenManager, sessions *SessionStore, log *slog.Logger) *AuthService {
	return &AuthService{store: store, tokens: tokens, sessions: sessions, log: log}
}

func (s *AuthService) SignUp(ctx context.Context, caller *models.User, input SignUpInput) (UserView, error) {
	if err := authorize(caller, models.RoleGuest); err != nil {
		return UserView{}, err
	}

	if _, err := s.store.UserByUsername(ctx, input.Username); err == nil {
		return UserView{}, utils.AlreadyExists("Username already exists")
	} else if !errors.Is(err, ErrRecordNotFound) {
		return UserView{}, utils.Internal(err)
	}
	if _, err := s.store.UserByEmail(ctx, input.Email); err == nil {
		return UserView{}, utils.AlreadyExists("Email already exists")
	} else if !errors.Is(err, ErrRecordNotFound) {
		return UserView{}, utils.Internal(err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return UserView{}, utils.Internal(errors.Wrap(err, "hash password"))
	}

	user := &models.User{
		Username:       input.Username,
		Email:          strings.ToLower(input.Email),
		HashedPassword: string(hashed),
		Role:           models.RoleUser,
		FirstName:      input.FirstName,
		LastName:       input.LastName,
		Patronymic:     input.Patronymic,
		JobTitle:       input.JobTitle,
		Department:     input.Department,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		// lost a race against a concurrent sign-up
		if errors.Is(err, ErrDuplicatedKey) {
			return UserView{}, utils.AlreadyExists("User already exists")
		}
		return UserView{}, utils.Internal(err)
	}
	s.log.Info("user signed up", "user_id", user.ID)
	return newUserView(user), nil
}

// SignIn checks the password, sets token cookies and starts a session.
func (s *AuthService) SignIn(ctx context.Context, caller *models.User, w http.ResponseWriter, input SignInInput) (UserView, error) {
	if err := authorize(caller, models.RoleGuest); err != nil {
		return UserView{}, err
	}

	user, err := s.store.UserByUsername(ctx, input.Login)
	if errors.Is(err, ErrRecordNotFound) {
		user, err = s.store.UserByEmail(ctx, input.Login)
	}
	if errors.Is(err, ErrRecordNotFound) {
		return UserView{}, utils.NotFound("Invalid login or password")
	}
	if err != nil {
		return UserView{}, utils.Internal(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(input.Password)) != nil {
		return UserView{}, utils.NotFound("Invalid login or password")
	}
	if user.Role == models.RoleBanned {
		return UserView{}, utils.AccessDenied("User is banned")
	}

	pair, err := s.tokens.Generate(user.ID, user.Email, int(user.Role))
	if err != nil {
		return UserView{}, utils.Internal(err)
	}
	if _, err := s.sessions.Create(ctx, w, pair.RefreshToken, ""); err != nil {
		return UserView{}, utils.Internal(err)
	}
	s.tokens.SetCookies(w, pair)
	s.log.Info("user signed in", "user_id", user.ID)
	return newUserView(user), nil
}

// Logout clears the cookies and drops the session. It works for guests
// too, so a half-expired browser state can always be reset.
func (s *AuthService) Logout(ctx context.Context, caller *models.User, w http.ResponseWriter, r *http.Request) error {
	s.tokens.DeleteCookies(w)
	if err := s.sessions.Revoke(ctx, w, s.sessions.SessionID(r)); err != nil {
		return utils.Internal(err)
	}
	if caller != nil && caller.Role != models.RoleGuest {
		s.log.Info("user logged out", "user_id", caller.ID)
	}
	return nil
}

// Refresh rotates the token pair of the session named by r. The session id
// survives; the old refresh token stops validating.
func (s *AuthService) Refresh(ctx context.Context, w http.ResponseWriter, r *http.Request) (*models.User, TokenPair, error) {
	pair, _ := s.tokens.Cookies(r)
	sessionID := s.sessions.SessionID(r)
	if !s.tokens.IsValidRefresh(pair.RefreshToken) || !s.sessions.Validate(ctx, sessionID, pair.RefreshToken) {
		return nil, TokenPair{}, utils.AccessDenied("Invalid session")
	}

	claims, err := s.tokens.DecodeRefresh(pair.RefreshToken)
	if err != nil {
		return nil, TokenPair{}, utils.AccessDenied("Invalid session")
	}
	user, err := s.store.UserByID(ctx, claims.ID)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, TokenPair{}, utils.NotFound("User not found")
	}
	if err != nil {
		return nil, TokenPair{}, utils.Internal(err)
	}
	if user.Role == models.RoleBanned {
		return nil, TokenPair{}, utils.AccessDenied("User is banned")
	}

	next, err := s.tokens.Generate(user.ID, user.Email, int(user.Role))
	if err != nil {
		return nil, TokenPair{}, utils.Internal(err)
	}
	if _, err := s.sessions.Create(ctx, w, next.RefreshToken, sessionID); err != nil {
		return nil, TokenPair{}, utils.Internal(err)
	}
	s.tokens.SetCookies(w, next)
	s.log.Debug("tokens rotated", "user_id", user.ID)
	return user, next, nil
}
