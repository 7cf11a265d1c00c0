package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchReturnsBodyOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello image"))
	}))
	defer srv.Close()

	f := New(Config{})
	got, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != "hello image" {
		t.Fatalf("got %q", got)
	}
}

func TestFetchNon200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{})
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

type stubOrigin struct {
	gotBucket, gotKey string
	data              []byte
	err               error
}

func (s *stubOrigin) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	s.gotBucket, s.gotKey = bucket, key
	return s.data, s.err
}

func TestFetchDelegatesS3SchemeToOriginStore(t *testing.T) {
	origin := &stubOrigin{data: []byte("from s3")}
	f := New(Config{Origin: origin})

	got, err := f.Fetch(context.Background(), "s3://my-bucket/path/to/object.jpg")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != "from s3" {
		t.Fatalf("got %q", got)
	}
	if origin.gotBucket != "my-bucket" || origin.gotKey != "path/to/object.jpg" {
		t.Fatalf("got bucket=%q key=%q", origin.gotBucket, origin.gotKey)
	}
}

func TestFetchS3WithoutOriginStoreErrors(t *testing.T) {
	f := New(Config{})
	if _, err := f.Fetch(context.Background(), "s3://bucket/key"); err == nil {
		t.Fatal("expected error when no origin store is configured")
	}
}
