package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/coletivo/internal/model"
	"github.com/hitoshi/coletivo/internal/realtime"
)

// NewsServiceInterface はお知らせハンドラーが必要とするサービスインターフェース。
// news.Service が満たす。
type NewsServiceInterface interface {
	CreateNews(ctx context.Context, authorID string, input model.NewsInput) (*model.NewsItem, error)
	DeleteNews(ctx context.Context, newsID, requesterID string) error
	Snapshot(ctx context.Context) ([]*model.NewsItem, error)
	ListPublished(onData func([]*model.NewsItem), onError func(error)) *realtime.Subscription
	Import(ctx context.Context, requesterID, sourceURL string) (*model.ImportResult, error)
}

// NewsHandler はお知らせのHTTPハンドラー。
type NewsHandler struct {
	service NewsServiceInterface
	live    *LiveStreamer
}

// NewNewsHandler はNewsHandlerを生成する。
func NewNewsHandler(service NewsServiceInterface, live *LiveStreamer) *NewsHandler {
	return &NewsHandler{service: service, live: live}
}

type importNewsRequest struct {
	URL string `json:"url"`
}

// List は公開中のお知らせを新しい順に返す。
// GET /api/news
func (h *NewsHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.Snapshot(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// Stream はお知らせ一覧を変更のたびに配信する。
// GET /api/news/stream
func (h *NewsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	serveLive(h.live, w, r, func(onData func([]*model.NewsItem), onError func(error)) (*realtime.Subscription, error) {
		return h.service.ListPublished(onData, onError), nil
	})
}

// Create はお知らせを公開する。管理者のみ。
// POST /api/news
func (h *NewsHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var input model.NewsInput
	if !decodeJSON(w, r, &input) {
		return
	}
	item, err := h.service.CreateNews(r.Context(), userID, input)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// Delete はお知らせを削除する。管理者のみ。
// DELETE /api/news/{id}
func (h *NewsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteNews(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Import は外部のRSS/Atomフィードからお知らせを取り込む。管理者のみ。
// POST /api/news/import
func (h *NewsHandler) Import(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	var req importNewsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.service.Import(r.Context(), userID, req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
