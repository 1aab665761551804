package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/coletivo/internal/middleware"
	"github.com/hitoshi/coletivo/internal/model"
)

// withUser はセッションミドルウェア通過後のリクエストを作る。
func withUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
}

// withURLParam はchiのURLパラメータを設定する。
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("エラーレスポンスを解析できない: %v", err)
	}
	return body
}

func TestAdHandler_Create(t *testing.T) {
	var gotOwner string
	var gotInput model.AdInput
	svc := &mockAdService{
		createFn: func(ctx context.Context, ownerID string, input model.AdInput) (string, error) {
			gotOwner, gotInput = ownerID, input
			return "ad-42", nil
		},
	}
	h := NewAdHandler(svc, nil)

	body := `{"title":"Bicicleta","description":"Aro 29","price":350.5,"category":"","contact":"(11) 9999-0000"}`
	req := withUser(httptest.NewRequest(http.MethodPost, "/api/ads", strings.NewReader(body)), "user-1")
	w := httptest.NewRecorder()
	h.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var resp createAdResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.ID != "ad-42" || w.Header().Get("Location") != "/api/ads/ad-42" {
		t.Errorf("id = %q, Location = %q", resp.ID, w.Header().Get("Location"))
	}
	if gotOwner != "user-1" {
		t.Errorf("ownerID = %q", gotOwner)
	}
	if gotInput.Price != "350.5" {
		t.Errorf("数値の価格は文字列として渡すべき: %q", gotInput.Price)
	}
}

func TestAdHandler_Create_PriceAsString(t *testing.T) {
	var gotPrice string
	svc := &mockAdService{
		createFn: func(ctx context.Context, ownerID string, input model.AdInput) (string, error) {
			gotPrice = input.Price
			return "ad-1", nil
		},
	}
	h := NewAdHandler(svc, nil)

	body := `{"title":"Mesa","description":"Madeira","price":"12,50","contact":"ana@example.com"}`
	w := httptest.NewRecorder()
	h.Create(w, withUser(httptest.NewRequest(http.MethodPost, "/api/ads", strings.NewReader(body)), "user-1"))

	if w.Code != http.StatusCreated || gotPrice != "12,50" {
		t.Errorf("status = %d, price = %q", w.Code, gotPrice)
	}
}

func TestAdHandler_Create_RejectsBlankFields(t *testing.T) {
	svc := &mockAdService{
		createFn: func(ctx context.Context, ownerID string, input model.AdInput) (string, error) {
			t.Fatal("入力不正のときはサービスを呼んではならない")
			return "", nil
		},
	}
	h := NewAdHandler(svc, nil)

	body := `{"title":"  ","description":"x","price":"1","contact":"x"}`
	w := httptest.NewRecorder()
	h.Create(w, withUser(httptest.NewRequest(http.MethodPost, "/api/ads", strings.NewReader(body)), "user-1"))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if got := decodeError(t, w).Code; got != model.ErrCodeInvalidArgument {
		t.Errorf("code = %q", got)
	}
}

func TestAdHandler_Create_RequiresUser(t *testing.T) {
	h := NewAdHandler(&mockAdService{}, nil)
	w := httptest.NewRecorder()
	h.Create(w, httptest.NewRequest(http.MethodPost, "/api/ads", strings.NewReader(`{}`)))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAdHandler_Delete_MapsErrors(t *testing.T) {
	svc := &mockAdService{
		deleteFn: func(ctx context.Context, adID, requesterID string) error {
			switch adID {
			case "missing":
				return model.NewAdNotFoundError()
			case "someone-else":
				return model.NewOwnAdOnlyError()
			case "broken":
				return errors.New("connection reset")
			}
			return nil
		},
	}
	h := NewAdHandler(svc, nil)

	tests := []struct {
		id   string
		want int
	}{
		{"mine", http.StatusNoContent},
		{"missing", http.StatusNotFound},
		{"someone-else", http.StatusForbidden},
		{"broken", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodDelete, "/api/ads/"+tt.id, nil)
		req = withURLParam(withUser(req, "user-1"), "id", tt.id)
		w := httptest.NewRecorder()
		h.Delete(w, req)
		if w.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.id, w.Code, tt.want)
		}
	}
}

func TestAdHandler_Moderate(t *testing.T) {
	svc := &mockAdService{
		moderateFn: func(ctx context.Context, adID string, status model.AdStatus, moderatorID string) (*model.Ad, error) {
			if !status.IsModerationResult() {
				return nil, model.NewInvalidModerationStatusError()
			}
			if err := adminOnly(moderatorID); err != nil {
				return nil, err
			}
			return &model.Ad{ID: adID, Status: status, ReviewedBy: &moderatorID}, nil
		},
	}
	h := NewAdHandler(svc, nil)

	tests := []struct {
		name   string
		user   string
		status string
		want   int
	}{
		{"管理者が承認", "admin-1", "approved", http.StatusOK},
		{"管理者が却下", "admin-1", "rejected", http.StatusOK},
		{"一般ユーザー", "user-1", "approved", http.StatusForbidden},
		{"無効な状態", "admin-1", "published", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/ads/ad-1/moderation",
				strings.NewReader(`{"status":"`+tt.status+`"}`))
			req = withURLParam(withUser(req, tt.user), "id", "ad-1")
			w := httptest.NewRecorder()
			h.Moderate(w, req)

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusOK {
				var ad model.Ad
				json.NewDecoder(w.Body).Decode(&ad)
				if string(ad.Status) != tt.status || ad.ReviewedBy == nil || *ad.ReviewedBy != "admin-1" {
					t.Errorf("ad = %+v", ad)
				}
			}
		})
	}
}

func TestAdHandler_Snapshots(t *testing.T) {
	svc := &mockAdService{
		requireRole: adminOnly,
		approvedFn: func(ctx context.Context) ([]*model.Ad, error) {
			return []*model.Ad{{ID: "a1", Status: model.AdStatusApproved}}, nil
		},
		byOwnerFn: func(ctx context.Context, ownerID string) ([]*model.Ad, error) {
			return []*model.Ad{{ID: "m1", OwnerID: ownerID, Status: model.AdStatusRejected}}, nil
		},
		pendingFn: func(ctx context.Context, requesterID string) ([]*model.Ad, error) {
			return []*model.Ad{{ID: "p1", Status: model.AdStatusPending}}, nil
		},
	}
	h := NewAdHandler(svc, nil)

	decodeAds := func(w *httptest.ResponseRecorder) []model.Ad {
		var ads []model.Ad
		json.NewDecoder(w.Body).Decode(&ads)
		return ads
	}

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/ads", nil))
	if ads := decodeAds(w); w.Code != http.StatusOK || len(ads) != 1 || ads[0].ID != "a1" {
		t.Errorf("List: status=%d ads=%+v", w.Code, ads)
	}

	w = httptest.NewRecorder()
	h.Mine(w, withUser(httptest.NewRequest(http.MethodGet, "/api/ads/mine", nil), "user-1"))
	if ads := decodeAds(w); len(ads) != 1 || ads[0].OwnerID != "user-1" {
		t.Errorf("Mine: ads=%+v", ads)
	}

	w = httptest.NewRecorder()
	h.Pending(w, withUser(httptest.NewRequest(http.MethodGet, "/api/ads/pending", nil), "user-1"))
	if w.Code != http.StatusForbidden {
		t.Errorf("Pending(一般ユーザー): status = %d, want 403", w.Code)
	}

	w = httptest.NewRecorder()
	h.Pending(w, withUser(httptest.NewRequest(http.MethodGet, "/api/ads/pending", nil), "admin-1"))
	if ads := decodeAds(w); w.Code != http.StatusOK || len(ads) != 1 || ads[0].ID != "p1" {
		t.Errorf("Pending(管理者): status=%d ads=%+v", w.Code, ads)
	}
}

func TestAdHandler_List_StoreUnavailable(t *testing.T) {
	svc := &mockAdService{
		approvedFn: func(ctx context.Context) ([]*model.Ad, error) {
			return nil, model.NewUnavailableError()
		},
	}
	w := httptest.NewRecorder()
	NewAdHandler(svc, nil).List(w, httptest.NewRequest(http.MethodGet, "/api/ads", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestFlexibleString(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`"12,50"`, "12,50"},
		{`12.5`, "12.5"},
		{`0`, "0"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var f flexibleString
		if err := json.Unmarshal([]byte(tt.raw), &f); err != nil {
			t.Errorf("%s: %v", tt.raw, err)
			continue
		}
		if string(f) != tt.want {
			t.Errorf("%s: got %q, want %q", tt.raw, f, tt.want)
		}
	}

	var f flexibleString
	if err := json.Unmarshal([]byte(`{"a":1}`), &f); err == nil {
		t.Error("オブジェクトはエラーになるべき")
	}
}
