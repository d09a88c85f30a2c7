package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"stylist-server/modules/common/config"
)

func passthrough(data []byte, _ float32) ([]byte, error) {
	return data, nil
}

func TestUploadImage(t *testing.T) {
	var gotPath, gotAuth, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"Key":"ok"}`))
	}))
	defer srv.Close()

	cfg := &config.Config{SupabaseURL: srv.URL, SupabaseServiceKey: "svc", SupabaseStorageBucket: "stylist"}
	client := NewClient(cfg).WithConverter(passthrough).WithHTTPClient(srv.Client())

	url, err := client.UploadImage(context.Background(), []byte("img"), "/jobs/abc/0/")
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(gotPath, "/storage/v1/object/stylist/jobs/abc/0/generated_"), gotPath)
	require.True(t, strings.HasSuffix(gotPath, ".webp"))
	require.Equal(t, "Bearer svc", gotAuth)
	require.Equal(t, "image/webp", gotType)
	require.Equal(t, "img", gotBody)
	require.True(t, strings.HasPrefix(url, srv.URL+"/storage/v1/object/public/stylist/jobs/abc/0/"), url)
}

func TestUploadImageFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bucket not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := &config.Config{SupabaseURL: srv.URL, SupabaseStorageBucket: "stylist"}
	client := NewClient(cfg).WithConverter(passthrough).WithHTTPClient(srv.Client())

	_, err := client.UploadImage(context.Background(), []byte("img"), "x")
	require.ErrorContains(t, err, "400")
}
