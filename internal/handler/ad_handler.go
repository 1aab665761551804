package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/coletivo/internal/ad"
	"github.com/hitoshi/coletivo/internal/model"
	"github.com/hitoshi/coletivo/internal/realtime"
)

// AdServiceInterface は広告ハンドラーが必要とするサービスインターフェース。
// ad.Service が満たす。
type AdServiceInterface interface {
	CreateAd(ctx context.Context, ownerID string, input model.AdInput) (string, error)
	DeleteOwnAd(ctx context.Context, adID, requesterID string) error
	ModerateAd(ctx context.Context, adID string, newStatus model.AdStatus, moderatorID string) (*model.Ad, error)
	SnapshotApproved(ctx context.Context) ([]*model.Ad, error)
	SnapshotPending(ctx context.Context, requesterID string) ([]*model.Ad, error)
	SnapshotByOwner(ctx context.Context, ownerID string) ([]*model.Ad, error)
	ListApproved(onData func([]*model.Ad), onError func(error)) *realtime.Subscription
	ListPending(ctx context.Context, requesterID string, onData func([]*model.Ad), onError func(error)) (*realtime.Subscription, error)
	ListByOwner(ownerID string, onData func([]*model.Ad), onError func(error)) *realtime.Subscription
}

// AdHandler は広告のHTTPハンドラー。
type AdHandler struct {
	service AdServiceInterface
	live    *LiveStreamer
}

// NewAdHandler はAdHandlerを生成する。
func NewAdHandler(service AdServiceInterface, live *LiveStreamer) *AdHandler {
	return &AdHandler{service: service, live: live}
}

// flexibleString は文字列と数値のどちらのJSONも受け付ける。
// フォームからの価格は "12,50" のような文字列でも 12.5 のような数値でも届く。
type flexibleString string

func (f *flexibleString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleString(n.String())
	return nil
}

type createAdRequest struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Price       flexibleString `json:"price"`
	Category    string         `json:"category"`
	Contact     string         `json:"contact"`
}

type moderateAdRequest struct {
	Status string `json:"status"`
}

type createAdResponse struct {
	ID string `json:"id"`
}

// List は承認済みの広告を新しい順に返す。
// GET /api/ads
func (h *AdHandler) List(w http.ResponseWriter, r *http.Request) {
	ads, err := h.service.SnapshotApproved(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ads)
}

// Stream は承認済みの広告一覧を変更のたびに配信する。
// GET /api/ads/stream
func (h *AdHandler) Stream(w http.ResponseWriter, r *http.Request) {
	serveLive(h.live, w, r, func(onData func([]*model.Ad), onError func(error)) (*realtime.Subscription, error) {
		return h.service.ListApproved(onData, onError), nil
	})
}

// Create は広告を投稿する。投稿直後は審査待ちになる。
// POST /api/ads
func (h *AdHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req createAdRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	input := model.AdInput{
		Title:       req.Title,
		Description: req.Description,
		Price:       string(req.Price),
		Category:    req.Category,
		Contact:     req.Contact,
	}
	if err := ad.ValidateInput(input); err != nil {
		handleServiceError(w, err)
		return
	}

	id, err := h.service.CreateAd(r.Context(), userID, input)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	w.Header().Set("Location", "/api/ads/"+id)
	writeJSON(w, http.StatusCreated, createAdResponse{ID: id})
}

// Mine は自分の広告を状態に関係なく返す。
// GET /api/ads/mine
func (h *AdHandler) Mine(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	ads, err := h.service.SnapshotByOwner(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ads)
}

// MineStream は自分の広告一覧を変更のたびに配信する。
// GET /api/ads/mine/stream
func (h *AdHandler) MineStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	serveLive(h.live, w, r, func(onData func([]*model.Ad), onError func(error)) (*realtime.Subscription, error) {
		return h.service.ListByOwner(userID, onData, onError), nil
	})
}

// Delete は自分の広告を削除する。
// DELETE /api/ads/{id}
func (h *AdHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteOwnAd(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Pending は審査待ちの広告を返す。管理者のみ。
// GET /api/ads/pending
func (h *AdHandler) Pending(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	ads, err := h.service.SnapshotPending(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ads)
}

// PendingStream は審査待ちの広告一覧を変更のたびに配信する。管理者のみ。
// GET /api/ads/pending/stream
func (h *AdHandler) PendingStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	serveLive(h.live, w, r, func(onData func([]*model.Ad), onError func(error)) (*realtime.Subscription, error) {
		return h.service.ListPending(r.Context(), userID, onData, onError)
	})
}

// Moderate は広告を承認または却下する。管理者のみ。
// POST /api/ads/{id}/moderation
func (h *AdHandler) Moderate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req moderateAdRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.service.ModerateAd(r.Context(), chi.URLParam(r, "id"), model.AdStatus(req.Status), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

