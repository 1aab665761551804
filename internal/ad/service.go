// Package ad はマーケットプレイス広告のライフサイクルを管理する。
//
// 広告は常に pending で作成され、管理者のモデレーションで approved / rejected に遷移する。
// 削除は状態と無関係に所有者だけが行える。モデレーションは削除を伴わない。
package ad

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/coletivo/internal/model"
	"github.com/hitoshi/coletivo/internal/realtime"
	"github.com/hitoshi/coletivo/internal/repository"
)

// 入力長の上限（文字数）
const (
	maxTitleLength       = 120
	maxDescriptionLength = 5000
	maxCategoryLength    = 50
	maxContactLength     = 120
)

// ProfileFinder は操作主体のプロフィールを取得する。
type ProfileFinder interface {
	FindByID(ctx context.Context, id string) (*model.UserProfile, error)
}

// TextSanitizer はプレーンテキスト化のインターフェース。
type TextSanitizer interface {
	PlainText(s string) string
}

// Recorder は広告操作のメトリクスを記録する。
type Recorder interface {
	RecordAdCreated()
	RecordAdModerated(status string)
	RecordAdDeleted()
}

// Service は広告のライフサイクル管理を行うサービス層。
type Service struct {
	adRepo    repository.AdRepository
	profiles  ProfileFinder
	sanitizer TextSanitizer
	hub       *realtime.Hub
	metrics   Recorder
}

// NewService はServiceの新しいインスタンスを生成する。
// metrics は nil でもよい。
func NewService(
	adRepo repository.AdRepository,
	profiles ProfileFinder,
	sanitizer TextSanitizer,
	hub *realtime.Hub,
	metrics Recorder,
) *Service {
	return &Service{
		adRepo:    adRepo,
		profiles:  profiles,
		sanitizer: sanitizer,
		hub:       hub,
		metrics:   metrics,
	}
}

// ValidateInput は広告フォームの必須項目と長さを検証する。
// title, description, price, contact は前後の空白を除いて空であってはならない。
// CreateAd は必須項目を検証しないため、呼び出し側が先に実行する。
func ValidateInput(input model.AdInput) error {
	if strings.TrimSpace(input.Title) == "" ||
		strings.TrimSpace(input.Description) == "" ||
		strings.TrimSpace(input.Price) == "" ||
		strings.TrimSpace(input.Contact) == "" {
		return model.NewInvalidArgumentError("Preencha título, descrição, preço e contato.")
	}
	return checkLengths(
		strings.TrimSpace(input.Title),
		strings.TrimSpace(input.Description),
		strings.TrimSpace(input.Category),
		strings.TrimSpace(input.Contact),
	)
}

func checkLengths(title, description, category, contact string) error {
	fields := []struct {
		label string
		value string
		max   int
	}{
		{"O título", title, maxTitleLength},
		{"A descrição", description, maxDescriptionLength},
		{"A categoria", category, maxCategoryLength},
		{"O contato", contact, maxContactLength},
	}
	for _, f := range fields {
		if utf8.RuneCountInString(f.value) > f.max {
			return model.NewInvalidArgumentError(
				fmt.Sprintf("%s deve ter no máximo %d caracteres.", f.label, f.max))
		}
	}
	return nil
}

// ParsePrice は価格の入力文字列を非負の数値に変換する。
// 解析できない値、負の値、NaN、無限大は0とする。
// 区切り文字はブラジル式の表記も受け付ける。"1.234,56" は 1234.56、"185,50" は 185.5 になる。
// ピリオドが1つだけで後ろが3桁の場合は桁区切りとみなし、"1.234" は 1234 になる。
func ParsePrice(raw string) float64 {
	s := normalizeDecimal(strings.TrimSpace(raw))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// normalizeDecimal は桁区切りを除き、小数点をピリオドにそろえる。
func normalizeDecimal(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		// 後ろにある方が小数点
		if lastComma > lastDot {
			return strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case lastDot >= 0:
		intPart := strings.TrimLeft(s[:lastDot], "+-")
		if strings.Count(s, ".") > 1 ||
			(len(s)-lastDot-1 == 3 && intPart != "" && strings.Trim(intPart, "0") != "") {
			return strings.ReplaceAll(s, ".", "")
		}
	}
	return s
}

// CreateAd は広告を pending 状態で作成し、新しい広告のIDを返す。
// 文字列は前後の空白を除き、価格は ParsePrice で変換し、空のカテゴリは "Outros" とする。
// ownerName は作成者のプロフィールの表示名で、未設定の場合は "Usuário" とする。
// サニタイズ後の文字列が長さの上限を超える場合は InvalidArgument を返す。
func (s *Service) CreateAd(ctx context.Context, ownerID string, input model.AdInput) (string, error) {
	title := s.sanitizer.PlainText(input.Title)
	description := s.sanitizer.PlainText(input.Description)
	contact := s.sanitizer.PlainText(input.Contact)
	category := s.sanitizer.PlainText(input.Category)
	if category == "" {
		category = model.DefaultAdCategory
	}
	if err := checkLengths(title, description, category, contact); err != nil {
		return "", err
	}

	ownerName := model.DefaultAdOwnerName
	profile, err := s.profiles.FindByID(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("作成者のプロフィール取得に失敗しました: %w", err)
	}
	if profile != nil && strings.TrimSpace(profile.DisplayName) != "" {
		ownerName = strings.TrimSpace(profile.DisplayName)
	}

	ad := &model.Ad{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		OwnerName:   ownerName,
		Title:       title,
		Description: description,
		Price:       ParsePrice(input.Price),
		Category:    category,
		Contact:     contact,
		Status:      model.AdStatusPending,
	}

	if err := s.adRepo.Create(ctx, ad); err != nil {
		return "", fmt.Errorf("広告の作成に失敗しました: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordAdCreated()
	}
	slog.Info("ad created",
		slog.String("ad_id", ad.ID),
		slog.String("owner_id", ownerID),
	)

	return ad.ID, nil
}

// DeleteOwnAd は所有者による広告の削除を行う。
// 広告が存在しない場合は NotFound、所有者でない場合は PermissionDenied を返す。
// 状態による制限はなく、承認済みの広告も削除できる。
func (s *Service) DeleteOwnAd(ctx context.Context, adID, requesterID string) error {
	if !isAdID(adID) {
		return model.NewAdNotFoundError()
	}
	ad, err := s.adRepo.FindByID(ctx, adID)
	if err != nil {
		return fmt.Errorf("広告の取得に失敗しました: %w", err)
	}
	if ad == nil {
		return model.NewAdNotFoundError()
	}
	if ad.OwnerID != requesterID {
		return model.NewOwnAdOnlyError()
	}

	deleted, err := s.adRepo.DeleteOwned(ctx, adID, requesterID)
	if err != nil {
		return fmt.Errorf("広告の削除に失敗しました: %w", err)
	}
	if !deleted {
		// 取得後に別のリクエストで削除された
		return model.NewAdNotFoundError()
	}

	if s.metrics != nil {
		s.metrics.RecordAdDeleted()
	}
	slog.Info("ad deleted by owner",
		slog.String("ad_id", adID),
		slog.String("owner_id", requesterID),
	)
	return nil
}

// ModerateAd は管理者による審査結果を書き込む。
// newStatus が approved / rejected 以外の場合は InvalidArgument を返し、広告は変更しない。
// moderatorID のプロフィールが admin でなければ PermissionDenied を返す。
// 現在の状態は確認せずに上書きするため、approved と rejected の間で再審査できる。
func (s *Service) ModerateAd(ctx context.Context, adID string, newStatus model.AdStatus, moderatorID string) (*model.Ad, error) {
	if !newStatus.IsModerationResult() {
		return nil, model.NewInvalidModerationStatusError()
	}
	if err := s.requireAdmin(ctx, moderatorID); err != nil {
		return nil, err
	}
	if !isAdID(adID) {
		return nil, model.NewAdNotFoundError()
	}

	ad, err := s.adRepo.SetModeration(ctx, adID, newStatus, moderatorID)
	if err != nil {
		return nil, fmt.Errorf("モデレーション結果の保存に失敗しました: %w", err)
	}
	if ad == nil {
		return nil, model.NewAdNotFoundError()
	}

	if s.metrics != nil {
		s.metrics.RecordAdModerated(string(newStatus))
	}
	slog.Info("ad moderated",
		slog.String("ad_id", adID),
		slog.String("status", string(newStatus)),
		slog.String("moderator_id", moderatorID),
	)
	return ad, nil
}

// SnapshotApproved は承認済みの広告を created_at 降順で返す。
func (s *Service) SnapshotApproved(ctx context.Context) ([]*model.Ad, error) {
	return s.listByStatus(ctx, model.AdStatusApproved)
}

// SnapshotPending は審査待ちの広告を返す。管理者のみ参照できる。
func (s *Service) SnapshotPending(ctx context.Context, requesterID string) ([]*model.Ad, error) {
	if err := s.requireAdmin(ctx, requesterID); err != nil {
		return nil, err
	}
	return s.listByStatus(ctx, model.AdStatusPending)
}

// SnapshotByOwner は指定ユーザーの広告を状態に関わらず返す。
func (s *Service) SnapshotByOwner(ctx context.Context, ownerID string) ([]*model.Ad, error) {
	ads, err := s.adRepo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("広告一覧の取得に失敗しました: %w", err)
	}
	return ads, nil
}

// ListApproved は承認済み広告のライブクエリを開始する。
func (s *Service) ListApproved(onData func([]*model.Ad), onError func(error)) *realtime.Subscription {
	return realtime.Watch(s.hub, realtime.ChannelAds, s.SnapshotApproved, onData, onError)
}

// ListPending は審査待ち広告のライブクエリを開始する。
// 管理者でない場合は PermissionDenied を返し、購読は作成しない。
func (s *Service) ListPending(ctx context.Context, requesterID string, onData func([]*model.Ad), onError func(error)) (*realtime.Subscription, error) {
	if err := s.requireAdmin(ctx, requesterID); err != nil {
		return nil, err
	}
	return realtime.Watch(s.hub, realtime.ChannelAds,
		func(ctx context.Context) ([]*model.Ad, error) {
			return s.listByStatus(ctx, model.AdStatusPending)
		},
		onData, onError,
	), nil
}

// ListByOwner は指定ユーザーの広告のライブクエリを開始する。
func (s *Service) ListByOwner(ownerID string, onData func([]*model.Ad), onError func(error)) *realtime.Subscription {
	return realtime.Watch(s.hub, realtime.ChannelAds,
		func(ctx context.Context) ([]*model.Ad, error) {
			return s.SnapshotByOwner(ctx, ownerID)
		},
		onData, onError,
	)
}

// isAdID はIDが広告IDの形式(UUID)かを判定する。
func isAdID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (s *Service) listByStatus(ctx context.Context, status model.AdStatus) ([]*model.Ad, error) {
	ads, err := s.adRepo.ListByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("広告一覧の取得に失敗しました: %w", err)
	}
	return ads, nil
}

// requireAdmin は userID のプロフィールが管理者であることを確認する。
// クライアント側の表示制御に頼らず、操作ごとにDBのroleを参照する。
func (s *Service) requireAdmin(ctx context.Context, userID string) error {
	profile, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("権限の確認に失敗しました: %w", err)
	}
	if !profile.IsAdmin() {
		return model.NewAdminOnlyError()
	}
	return nil
}
