package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/coletivo/internal/model"
	"github.com/hitoshi/coletivo/internal/realtime"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
// user.Service が満たす。
type ProfileServiceInterface interface {
	GetProfile(ctx context.Context, userID string) (*model.UserProfile, error)
	UpdateOwnProfile(ctx context.Context, requesterID string, input model.ProfileUpdate) (*model.UserProfile, error)
	WatchProfile(userID string, onData func(*model.UserProfile), onError func(error)) *realtime.Subscription
}

// ProfileHandler はログインユーザー自身のプロフィールを扱う。
// 対象は常にセッションのユーザーで、他人のプロフィールには届かない。
type ProfileHandler struct {
	service ProfileServiceInterface
	live    *LiveStreamer
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface, live *LiveStreamer) *ProfileHandler {
	return &ProfileHandler{service: service, live: live}
}

// Get は自分のプロフィールを返す。
// GET /api/profile
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	profile, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// Update は自分のプロフィールを更新する。
// PUT /api/profile
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var input model.ProfileUpdate
	if !decodeJSON(w, r, &input) {
		return
	}
	profile, err := h.service.UpdateOwnProfile(r.Context(), userID, input)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// Stream は自分のプロフィールの変更を配信する。
// GET /api/profile/stream
func (h *ProfileHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	serveLive(h.live, w, r, func(onData func(*model.UserProfile), onError func(error)) (*realtime.Subscription, error) {
		return h.service.WatchProfile(userID, onData, onError), nil
	})
}
