package handler

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/hitoshi/coletivo/internal/model"
	"github.com/hitoshi/coletivo/internal/realtime"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestHub は通知を受けないHubを返す。Watch の初回配信だけを使う。
func newTestHub() *realtime.Hub {
	return realtime.NewHub(nil, nil, discardLogger())
}

// --- 認証 ---

type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (*model.Session, error)
	registerFn       func(ctx context.Context, email, password, displayName string) (*model.Session, error)
	loginFn          func(ctx context.Context, email, password string) (*model.Session, error)
	logoutFn         func(ctx context.Context, sessionID string) error
	getCurrentUserFn func(ctx context.Context, sessionID string) (*model.UserProfile, error)
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil
}

func (m *mockAuthService) Register(ctx context.Context, email, password, displayName string) (*model.Session, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, email, password, displayName)
	}
	return nil, nil
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*model.Session, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, sessionID string) (*model.UserProfile, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, sessionID)
	}
	return nil, nil
}

// --- プロフィール ---

type mockProfileService struct {
	hub      *realtime.Hub
	getFn    func(ctx context.Context, userID string) (*model.UserProfile, error)
	updateFn func(ctx context.Context, requesterID string, input model.ProfileUpdate) (*model.UserProfile, error)
}

func (m *mockProfileService) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID)
	}
	return &model.UserProfile{ID: userID, Role: model.RoleUser}, nil
}

func (m *mockProfileService) UpdateOwnProfile(ctx context.Context, requesterID string, input model.ProfileUpdate) (*model.UserProfile, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, requesterID, input)
	}
	return nil, nil
}

func (m *mockProfileService) WatchProfile(userID string, onData func(*model.UserProfile), onError func(error)) *realtime.Subscription {
	return realtime.Watch(m.hub, realtime.ChannelUsers, func(ctx context.Context) (*model.UserProfile, error) {
		return m.GetProfile(ctx, userID)
	}, onData, onError)
}

// --- 広告 ---

type mockAdService struct {
	hub *realtime.Hub

	mu   sync.Mutex
	subs []*realtime.Subscription

	createFn    func(ctx context.Context, ownerID string, input model.AdInput) (string, error)
	deleteFn    func(ctx context.Context, adID, requesterID string) error
	moderateFn  func(ctx context.Context, adID string, status model.AdStatus, moderatorID string) (*model.Ad, error)
	approvedFn  func(ctx context.Context) ([]*model.Ad, error)
	pendingFn   func(ctx context.Context, requesterID string) ([]*model.Ad, error)
	byOwnerFn   func(ctx context.Context, ownerID string) ([]*model.Ad, error)
	requireRole func(requesterID string) error
}

func (m *mockAdService) track(s *realtime.Subscription) *realtime.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, s)
	return s
}

func (m *mockAdService) lastSubscription() *realtime.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.subs) == 0 {
		return nil
	}
	return m.subs[len(m.subs)-1]
}

func (m *mockAdService) CreateAd(ctx context.Context, ownerID string, input model.AdInput) (string, error) {
	if m.createFn != nil {
		return m.createFn(ctx, ownerID, input)
	}
	return "ad-new", nil
}

func (m *mockAdService) DeleteOwnAd(ctx context.Context, adID, requesterID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, adID, requesterID)
	}
	return nil
}

func (m *mockAdService) ModerateAd(ctx context.Context, adID string, status model.AdStatus, moderatorID string) (*model.Ad, error) {
	if m.moderateFn != nil {
		return m.moderateFn(ctx, adID, status, moderatorID)
	}
	return &model.Ad{ID: adID, Status: status, ReviewedBy: &moderatorID}, nil
}

func (m *mockAdService) SnapshotApproved(ctx context.Context) ([]*model.Ad, error) {
	if m.approvedFn != nil {
		return m.approvedFn(ctx)
	}
	return []*model.Ad{}, nil
}

func (m *mockAdService) SnapshotPending(ctx context.Context, requesterID string) ([]*model.Ad, error) {
	if m.requireRole != nil {
		if err := m.requireRole(requesterID); err != nil {
			return nil, err
		}
	}
	if m.pendingFn != nil {
		return m.pendingFn(ctx, requesterID)
	}
	return []*model.Ad{}, nil
}

func (m *mockAdService) SnapshotByOwner(ctx context.Context, ownerID string) ([]*model.Ad, error) {
	if m.byOwnerFn != nil {
		return m.byOwnerFn(ctx, ownerID)
	}
	return []*model.Ad{}, nil
}

func (m *mockAdService) ListApproved(onData func([]*model.Ad), onError func(error)) *realtime.Subscription {
	return m.track(realtime.Watch(m.hub, realtime.ChannelAds, m.SnapshotApproved, onData, onError))
}

func (m *mockAdService) ListPending(ctx context.Context, requesterID string, onData func([]*model.Ad), onError func(error)) (*realtime.Subscription, error) {
	if m.requireRole != nil {
		if err := m.requireRole(requesterID); err != nil {
			return nil, err
		}
	}
	return m.track(realtime.Watch(m.hub, realtime.ChannelAds, func(ctx context.Context) ([]*model.Ad, error) {
		return m.SnapshotPending(ctx, requesterID)
	}, onData, onError)), nil
}

func (m *mockAdService) ListByOwner(ownerID string, onData func([]*model.Ad), onError func(error)) *realtime.Subscription {
	return m.track(realtime.Watch(m.hub, realtime.ChannelAds, func(ctx context.Context) ([]*model.Ad, error) {
		return m.SnapshotByOwner(ctx, ownerID)
	}, onData, onError))
}

// adminOnly は "admin-1" だけを管理者として扱う。
func adminOnly(requesterID string) error {
	if requesterID != "admin-1" {
		return model.NewAdminOnlyError()
	}
	return nil
}

// --- お知らせ ---

type mockNewsService struct {
	hub *realtime.Hub

	createFn   func(ctx context.Context, authorID string, input model.NewsInput) (*model.NewsItem, error)
	deleteFn   func(ctx context.Context, newsID, requesterID string) error
	snapshotFn func(ctx context.Context) ([]*model.NewsItem, error)
	importFn   func(ctx context.Context, requesterID, sourceURL string) (*model.ImportResult, error)
}

func (m *mockNewsService) CreateNews(ctx context.Context, authorID string, input model.NewsInput) (*model.NewsItem, error) {
	if m.createFn != nil {
		return m.createFn(ctx, authorID, input)
	}
	return nil, nil
}

func (m *mockNewsService) DeleteNews(ctx context.Context, newsID, requesterID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, newsID, requesterID)
	}
	return nil
}

func (m *mockNewsService) Snapshot(ctx context.Context) ([]*model.NewsItem, error) {
	if m.snapshotFn != nil {
		return m.snapshotFn(ctx)
	}
	return []*model.NewsItem{}, nil
}

func (m *mockNewsService) ListPublished(onData func([]*model.NewsItem), onError func(error)) *realtime.Subscription {
	return realtime.Watch(m.hub, realtime.ChannelNews, m.Snapshot, onData, onError)
}

func (m *mockNewsService) Import(ctx context.Context, requesterID, sourceURL string) (*model.ImportResult, error) {
	if m.importFn != nil {
		return m.importFn(ctx, requesterID, sourceURL)
	}
	return nil, nil
}
