// Package user はユーザーディレクトリ同期とプロフィール編集のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/coletivo/internal/model"
	"github.com/hitoshi/coletivo/internal/realtime"
	"github.com/hitoshi/coletivo/internal/repository"
)

// 入力長の上限（文字数）
const (
	maxDisplayNameLength = model.MaxDisplayNameLength
	maxBioLength         = 600
)

// TextSanitizer はプレーンテキスト化のインターフェース。
type TextSanitizer interface {
	PlainText(s string) string
}

// Service はユーザープロフィールのサービス層。
type Service struct {
	userRepo  repository.UserRepository
	sanitizer TextSanitizer
	hub       *realtime.Hub
}

// NewService はServiceの新しいインスタンスを生成する。
// hub が nil の場合、WatchProfile は利用できない。
func NewService(userRepo repository.UserRepository, sanitizer TextSanitizer, hub *realtime.Hub) *Service {
	return &Service{
		userRepo:  userRepo,
		sanitizer: sanitizer,
		hub:       hub,
	}
}

// EnsureUserDocument は認証済みIdentityに対応するプロフィールを用意する。
// 未作成なら role=user、空のbioで作成する。既存なら空の表示名と写真URLのみ補完し、
// 利用者が編集した値は上書きしない。何度呼んでも updatedAt 以外は変化しない。
func (s *Service) EnsureUserDocument(ctx context.Context, identity model.AuthIdentity) (*model.UserProfile, error) {
	if identity.UID == "" {
		return nil, model.NewInvalidArgumentError("Identidade sem identificador.")
	}

	identity.DisplayName = clampRunes(strings.TrimSpace(identity.DisplayName), maxDisplayNameLength)
	identity.PhotoURL = strings.TrimSpace(identity.PhotoURL)

	profile, err := s.userRepo.Ensure(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの同期に失敗しました: %w", err)
	}

	slog.Debug("user profile ensured",
		slog.String("user_id", profile.ID),
	)
	return profile, nil
}

// UpdateOwnProfile は本人のプロフィールを上書きする。
// requesterID はセッションから得たIDで、他人のプロフィールはこの経路で指定できない。
// 楽観的排他は行わず、後勝ちで書き込む。
func (s *Service) UpdateOwnProfile(ctx context.Context, requesterID string, input model.ProfileUpdate) (*model.UserProfile, error) {
	update := model.ProfileUpdate{
		DisplayName: s.sanitizer.PlainText(input.DisplayName),
		Bio:         s.sanitizer.PlainText(input.Bio),
		PhotoURL:    strings.TrimSpace(input.PhotoURL),
	}

	if utf8.RuneCountInString(update.DisplayName) > maxDisplayNameLength {
		return nil, model.NewInvalidArgumentError(
			fmt.Sprintf("O nome deve ter no máximo %d caracteres.", maxDisplayNameLength))
	}
	if utf8.RuneCountInString(update.Bio) > maxBioLength {
		return nil, model.NewInvalidArgumentError(
			fmt.Sprintf("A bio deve ter no máximo %d caracteres.", maxBioLength))
	}
	if update.PhotoURL != "" && !isHTTPURL(update.PhotoURL) {
		return nil, model.NewInvalidArgumentError("A URL da foto deve começar com http:// ou https://.")
	}

	profile, err := s.userRepo.UpdateProfile(ctx, requesterID, update)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}
	if profile == nil {
		return nil, model.NewProfileNotFoundError()
	}

	slog.Info("user profile updated",
		slog.String("user_id", requesterID),
	)
	return profile, nil
}

// GetProfile は指定ユーザーのプロフィールを返す。
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	profile, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if profile == nil {
		return nil, model.NewProfileNotFoundError()
	}
	return profile, nil
}

// WatchProfile は指定ユーザーのプロフィールの変更を購読する。
// role の付与や別端末での編集がそのまま届く。
func (s *Service) WatchProfile(userID string, onData func(*model.UserProfile), onError func(error)) *realtime.Subscription {
	return realtime.Watch(s.hub, realtime.ChannelUsers,
		func(ctx context.Context) (*model.UserProfile, error) {
			return s.GetProfile(ctx, userID)
		},
		onData, onError,
	)
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// clampRunes は s を先頭から最大 n 文字に切り詰める。
func clampRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}
