// Package auth はGoogle OAuthとメールアドレス/パスワードによる認証、セッション管理を提供する。
//
// 認証に成功するたびに user.Service.EnsureUserDocument を呼び、
// Identity に対応するプロフィールを用意する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/coletivo/internal/model"
	"github.com/hitoshi/coletivo/internal/repository"
)

const (
	minPasswordLength = 8
	// bcrypt は72バイトを超える入力を扱えない
	maxPasswordBytes = 72
	maxEmailLength   = 320
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	Provider       string
	ProviderUserID string
	Email          string
	Name           string
	PictureURL     string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ProfileSyncer は認証済みIdentityのプロフィールを用意する。user.Service が満たす。
type ProfileSyncer interface {
	EnsureUserDocument(ctx context.Context, identity model.AuthIdentity) (*model.UserProfile, error)
	GetProfile(ctx context.Context, userID string) (*model.UserProfile, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	BcryptCost    int // 0の場合は bcrypt.DefaultCost
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	profiles    ProfileSyncer
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig

	// dummyHash は未登録メールでのログインでも照合時間を揃えるためのハッシュ。
	dummyHash []byte
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	profiles ProfileSyncer,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("coletivo-dummy-password"), config.BcryptCost)
	return &Service{
		oauth:       oauth,
		profiles:    profiles,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		config:      config,
		dummyHash:   dummy,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録のIdentityであればプロフィールとidentityを作成し、
// 登録済みであれば空の表示名と写真URLをIdPの値で補完する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	userID, err := s.resolveIdentity(ctx, &model.Identity{
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		Email:          info.Email,
	}, info.Name, info.PictureURL)
	if err != nil {
		return nil, err
	}

	return s.createSession(ctx, userID)
}

// Register はメールアドレスとパスワードで新規登録し、セッションを発行する。
// 登録済みのメールアドレスの場合は EMAIL_IN_USE を返す。
func (s *Service) Register(ctx context.Context, email, password, displayName string) (*model.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLength {
		return nil, model.NewInvalidArgumentError(
			fmt.Sprintf("A senha deve ter pelo menos %d caracteres.", minPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		return nil, model.NewInvalidArgumentError("A senha é longa demais.")
	}
	displayName = strings.TrimSpace(displayName)
	if utf8.RuneCountInString(displayName) > model.MaxDisplayNameLength {
		return nil, model.NewInvalidArgumentError(
			fmt.Sprintf("O nome deve ter no máximo %d caracteres.", model.MaxDisplayNameLength))
	}

	existing, err := s.identRepo.FindByProviderAndProviderUserID(ctx, model.ProviderPassword, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailInUseError()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	identity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         uuid.New().String(),
		Provider:       model.ProviderPassword,
		ProviderUserID: email,
		Email:          email,
		PasswordHash:   string(hash),
	}
	if _, err := s.profiles.EnsureUserDocument(ctx, model.AuthIdentity{
		UID:         identity.UserID,
		Email:       email,
		DisplayName: displayName,
	}); err != nil {
		return nil, err
	}
	if err := s.identRepo.Create(ctx, identity); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewEmailInUseError()
		}
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	slog.Info("user registered",
		slog.String("user_id", identity.UserID),
		slog.String("provider", model.ProviderPassword),
	)
	return s.createSession(ctx, identity.UserID)
}

// Login はメールアドレスとパスワードを照合し、セッションを発行する。
// 未登録とパスワード不一致は区別せず INVALID_CREDENTIALS を返す。
func (s *Service) Login(ctx context.Context, email, password string) (*model.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, model.ProviderPassword, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity == nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, model.NewInvalidCredentialsError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(password)); err != nil {
		slog.Info("password login rejected", slog.String("user_id", identity.UserID))
		return nil, model.NewInvalidCredentialsError()
	}

	if _, err := s.profiles.EnsureUserDocument(ctx, model.AuthIdentity{
		UID:   identity.UserID,
		Email: identity.Email,
	}); err != nil {
		return nil, err
	}

	slog.Info("user logged in",
		slog.String("user_id", identity.UserID),
		slog.String("provider", model.ProviderPassword),
	)
	return s.createSession(ctx, identity.UserID)
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	slog.Info("user logged out")
	return nil
}

// GetCurrentUser はセッションから現在のユーザーのプロフィールを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.UserProfile, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session not found or expired")
	}

	return s.profiles.GetProfile(ctx, session.UserID)
}

// resolveIdentity は外部IdPのIdentityに対応するユーザーIDを返す。
// 初回であればユーザーIDを採番し、プロフィールとidentityを作成する。
// 同時に初回ログインが走り identity の作成が競合した場合は、先に作成された方を採用する。
func (s *Service) resolveIdentity(ctx context.Context, ident *model.Identity, name, picture string) (string, error) {
	existing, err := s.identRepo.FindByProviderAndProviderUserID(ctx, ident.Provider, ident.ProviderUserID)
	if err != nil {
		return "", fmt.Errorf("failed to find identity: %w", err)
	}

	if existing == nil {
		ident.ID = uuid.New().String()
		ident.UserID = uuid.New().String()
		if _, err := s.profiles.EnsureUserDocument(ctx, model.AuthIdentity{
			UID:         ident.UserID,
			Email:       ident.Email,
			DisplayName: name,
			PhotoURL:    picture,
		}); err != nil {
			return "", err
		}

		err := s.identRepo.Create(ctx, ident)
		switch {
		case err == nil:
			slog.Info("new user created",
				slog.String("user_id", ident.UserID),
				slog.String("provider", ident.Provider),
			)
			return ident.UserID, nil
		case errors.Is(err, repository.ErrDuplicate):
			existing, err = s.identRepo.FindByProviderAndProviderUserID(ctx, ident.Provider, ident.ProviderUserID)
			if err != nil || existing == nil {
				return "", fmt.Errorf("failed to reload identity after conflict: %v", err)
			}
		default:
			return "", fmt.Errorf("failed to create identity: %w", err)
		}
	}

	if _, err := s.profiles.EnsureUserDocument(ctx, model.AuthIdentity{
		UID:         existing.UserID,
		Email:       ident.Email,
		DisplayName: name,
		PhotoURL:    picture,
	}); err != nil {
		return "", err
	}
	slog.Info("existing user logged in",
		slog.String("user_id", existing.UserID),
		slog.String("provider", ident.Provider),
	)
	return existing.UserID, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// normalizeEmail はメールアドレスを検証し、小文字に正規化する。
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if len(email) > maxEmailLength {
		return "", model.NewInvalidArgumentError("Informe um e-mail válido.")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", model.NewInvalidArgumentError("Informe um e-mail válido.")
	}
	return email, nil
}
