package app

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "GOOGLE_REDIRECT_URL", "BASE_URL"} {
		t.Setenv(key, "")
	}

	var buf bytes.Buffer
	if err := Run(&buf, []string{"serve"}); err == nil {
		t.Fatal("Run with missing env should return error")
	}
}

// DBに接続できない場合、serve と worker は起動せずにエラーを返す。
func TestRun_UnreachableDatabase_ReturnsError(t *testing.T) {
	for _, cmd := range []string{"serve", "worker"} {
		t.Run(cmd, func(t *testing.T) {
			setTestEnv(t)

			var buf bytes.Buffer
			err := Run(&buf, []string{cmd})
			if err == nil {
				t.Fatal("DBに接続できない場合はエラーを返すべき")
			}
			if !strings.Contains(err.Error(), "database") {
				t.Errorf("DB関連のエラーであるべき: %v", err)
			}
		})
	}
}

// migrate の各操作もDBに接続できない場合はエラーを返す。
func TestRun_Migrate_UnreachableDatabase_ReturnsError(t *testing.T) {
	for _, args := range [][]string{{"migrate"}, {"migrate", "version"}, {"migrate", "down"}} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			setTestEnv(t)

			var buf bytes.Buffer
			err := Run(&buf, args)
			if err == nil {
				t.Fatal("DBに接続できない場合はエラーを返すべき")
			}
			if !strings.Contains(err.Error(), "migration failed") {
				t.Errorf("マイグレーションのエラーであるべき: %v", err)
			}
		})
	}
}

func TestRun_Healthcheck(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %q, want /health", r.URL.Path)
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	t.Setenv("SERVER_PORT", u.Port())

	var buf bytes.Buffer
	if err := Run(&buf, []string{"healthcheck"}); err != nil {
		t.Fatalf("正常時は nil を返すべき: %v", err)
	}

	status = http.StatusServiceUnavailable
	if err := Run(&buf, []string{"healthcheck"}); err == nil {
		t.Fatal("503 の場合はエラーを返すべき")
	}
}
