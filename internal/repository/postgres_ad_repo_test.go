package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/coletivo/internal/model"
)

func createTestAd(t *testing.T, repo *PostgresAdRepo, ownerID string) *model.Ad {
	t.Helper()
	ad := &model.Ad{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		OwnerName:   "Ana",
		Title:       "Vestido",
		Description: "Bordado",
		Price:       185.50,
		Category:    model.DefaultAdCategory,
		Contact:     "(11) 99999-0000",
		Status:      model.AdStatusPending,
	}
	if err := repo.Create(context.Background(), ad); err != nil {
		t.Fatalf("広告作成に失敗: %v", err)
	}
	return ad
}

func TestPostgresAdRepo_CreateAndFind(t *testing.T) {
	db := setupTestDB(t)
	users := NewPostgresUserRepo(db)
	repo := NewPostgresAdRepo(db)
	ctx := context.Background()

	owner := uuid.New().String()
	users.Ensure(ctx, model.AuthIdentity{UID: owner})
	ad := createTestAd(t, repo, owner)

	if ad.CreatedAt.IsZero() {
		t.Error("CreatedAt がサーバー時刻で設定されていない")
	}

	got, err := repo.FindByID(ctx, ad.ID)
	if err != nil {
		t.Fatalf("FindByID に失敗: %v", err)
	}
	if got.Status != model.AdStatusPending || got.ReviewedBy != nil || got.ReviewedAt != nil {
		t.Errorf("作成直後の状態が不正: %+v", got)
	}
	if got.Price != 185.50 {
		t.Errorf("Price = %v, want 185.50", got.Price)
	}
}

func TestPostgresAdRepo_FindByID_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgresAdRepo(db)

	got, err := repo.FindByID(context.Background(), uuid.New().String())
	if err != nil {
		t.Fatalf("FindByID に失敗: %v", err)
	}
	if got != nil {
		t.Errorf("存在しない広告はnilであるべき: %+v", got)
	}
}

func TestPostgresAdRepo_DeleteOwned(t *testing.T) {
	db := setupTestDB(t)
	users := NewPostgresUserRepo(db)
	repo := NewPostgresAdRepo(db)
	ctx := context.Background()

	owner := uuid.New().String()
	other := uuid.New().String()
	users.Ensure(ctx, model.AuthIdentity{UID: owner})
	users.Ensure(ctx, model.AuthIdentity{UID: other})
	ad := createTestAd(t, repo, owner)

	deleted, err := repo.DeleteOwned(ctx, ad.ID, other)
	if err != nil {
		t.Fatalf("DeleteOwned に失敗: %v", err)
	}
	if deleted {
		t.Error("所有者以外は削除できないべき")
	}

	deleted, err = repo.DeleteOwned(ctx, ad.ID, owner)
	if err != nil {
		t.Fatalf("DeleteOwned に失敗: %v", err)
	}
	if !deleted {
		t.Error("所有者は削除できるべき")
	}
	if got, _ := repo.FindByID(ctx, ad.ID); got != nil {
		t.Error("削除後も広告が残っている")
	}
}

func TestPostgresAdRepo_SetModeration_LastWriteWins(t *testing.T) {
	db := setupTestDB(t)
	users := NewPostgresUserRepo(db)
	repo := NewPostgresAdRepo(db)
	ctx := context.Background()

	owner := uuid.New().String()
	m1 := uuid.New().String()
	m2 := uuid.New().String()
	for _, id := range []string{owner, m1, m2} {
		users.Ensure(ctx, model.AuthIdentity{UID: id})
	}
	ad := createTestAd(t, repo, owner)

	if _, err := repo.SetModeration(ctx, ad.ID, model.AdStatusApproved, m1); err != nil {
		t.Fatalf("SetModeration に失敗: %v", err)
	}
	got, err := repo.SetModeration(ctx, ad.ID, model.AdStatusRejected, m2)
	if err != nil {
		t.Fatalf("SetModeration に失敗: %v", err)
	}

	if got.Status != model.AdStatusRejected {
		t.Errorf("Status = %q, want %q", got.Status, model.AdStatusRejected)
	}
	if got.ReviewedBy == nil || *got.ReviewedBy != m2 {
		t.Errorf("ReviewedBy = %v, want %q", got.ReviewedBy, m2)
	}
	if got.ReviewedAt == nil {
		t.Error("ReviewedAt が設定されていない")
	}
}

func TestPostgresAdRepo_Lists(t *testing.T) {
	db := setupTestDB(t)
	users := NewPostgresUserRepo(db)
	repo := NewPostgresAdRepo(db)
	ctx := context.Background()

	owner := uuid.New().String()
	admin := uuid.New().String()
	users.Ensure(ctx, model.AuthIdentity{UID: owner})
	users.Ensure(ctx, model.AuthIdentity{UID: admin})

	first := createTestAd(t, repo, owner)
	second := createTestAd(t, repo, owner)
	repo.SetModeration(ctx, first.ID, model.AdStatusApproved, admin)

	approved, err := repo.ListByStatus(ctx, model.AdStatusApproved)
	if err != nil {
		t.Fatalf("ListByStatus に失敗: %v", err)
	}
	if len(approved) != 1 || approved[0].ID != first.ID {
		t.Errorf("承認済み一覧が不正: %+v", approved)
	}

	pending, _ := repo.ListByStatus(ctx, model.AdStatusPending)
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Errorf("審査待ち一覧が不正: %+v", pending)
	}

	mine, err := repo.ListByOwner(ctx, owner)
	if err != nil {
		t.Fatalf("ListByOwner に失敗: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("自分の広告一覧の件数が不正: got %d, want 2", len(mine))
	}
	if mine[0].CreatedAt.Before(mine[1].CreatedAt) {
		t.Error("created_at 降順になっていない")
	}
}

func TestPostgresNewsRepo_CreateIfNotImported(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgresNewsRepo(db)
	ctx := context.Background()

	guid := "https://example.com/post/1"
	newItem := func() *model.NewsItem {
		return &model.NewsItem{
			ID:         uuid.New().String(),
			Title:      "Feira",
			Summary:    "Resumo",
			Content:    "Conteúdo",
			SourceURL:  &guid,
			SourceGUID: &guid,
		}
	}

	created, err := repo.CreateIfNotImported(ctx, newItem())
	if err != nil {
		t.Fatalf("CreateIfNotImported に失敗: %v", err)
	}
	if !created {
		t.Error("初回は作成されるべき")
	}

	created, err = repo.CreateIfNotImported(ctx, newItem())
	if err != nil {
		t.Fatalf("CreateIfNotImported に失敗: %v", err)
	}
	if created {
		t.Error("同じGUIDは再作成されないべき")
	}

	items, err := repo.List(ctx, 10)
	if err != nil {
		t.Fatalf("List に失敗: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("件数 = %d, want 1", len(items))
	}
}

func TestPostgresNewsRepo_DeleteByID_Missing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgresNewsRepo(db)

	if err := repo.DeleteByID(context.Background(), uuid.New().String()); err != nil {
		t.Errorf("存在しないお知らせの削除はエラーにならないべき: %v", err)
	}
}

func TestIsInvalidID(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"uuidの構文エラー", &pq.Error{Code: "22P02"}, true},
		{"ラップされた構文エラー", fmt.Errorf("wrap: %w", &pq.Error{Code: "22P02"}), true},
		{"一意制約違反", &pq.Error{Code: "23505"}, false},
		{"その他のエラー", errors.New("connection refused"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isInvalidID(tt.err); got != tt.want {
				t.Errorf("isInvalidID(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPostgresAdRepo_MalformedIDIsNotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgresAdRepo(db)
	ctx := context.Background()

	for _, id := range []string{"not-a-uuid", "abc", ""} {
		t.Run(id, func(t *testing.T) {
			ad, err := repo.FindByID(ctx, id)
			if err != nil || ad != nil {
				t.Errorf("FindByID(%q) = %v, %v; want nil, nil", id, ad, err)
			}

			deleted, err := repo.DeleteOwned(ctx, id, "U1")
			if err != nil || deleted {
				t.Errorf("DeleteOwned(%q) = %v, %v; want false, nil", id, deleted, err)
			}

			ad, err = repo.SetModeration(ctx, id, model.AdStatusApproved, "A1")
			if err != nil || ad != nil {
				t.Errorf("SetModeration(%q) = %v, %v; want nil, nil", id, ad, err)
			}
		})
	}
}
