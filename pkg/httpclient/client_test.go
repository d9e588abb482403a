package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		_, _ = w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := New(5 * time.Second)
	resp := c.Get(context.Background(), srv.URL)
	require.NoError(t, resp.Err)
	require.True(t, resp.Success)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, "hello", string(resp.Body))
	require.Equal(t, "yes", resp.Headers.Get("X-Test"))
}

func TestGetServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(5 * time.Second)
	resp := c.Get(context.Background(), srv.URL)
	require.NoError(t, resp.Err)
	require.False(t, resp.Success)
	require.Equal(t, http.StatusInternalServerError, resp.Status)
}

func TestGetTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(20 * time.Millisecond)
	resp := c.Get(context.Background(), srv.URL)
	require.Error(t, resp.Err)
	require.False(t, resp.Success)
}

func TestPostEchoesContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(5 * time.Second)
	resp := c.Post(context.Background(), srv.URL, "application/json", []byte(`{}`))
	require.NoError(t, resp.Err)
	require.True(t, resp.Success)
	require.Equal(t, http.StatusCreated, resp.Status)
}
