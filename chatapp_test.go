package chatapp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestLoginInstallsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/login" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}
		w.Write([]byte(`{"id":1,"username":"alice","auth_token":"tok-abc"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	session, err := client.Login(context.Background(), "alice", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session.UserID != 1 || session.Username != "alice" || session.Token != "tok-abc" {
		t.Fatalf("session = %+v", session)
	}
	if client.token != "tok-abc" {
		t.Fatalf("client token = %q, want the session token installed", client.token)
	}
}

func TestUsersSendsAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token tok-abc" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/api/users" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`[{"id":1,"username":"alice"},{"id":2,"username":"bob"}]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithToken("tok-abc"))
	users, err := client.Users(context.Background())
	if err != nil {
		t.Fatalf("Users: %v", err)
	}
	if len(users) != 2 || users[1].Username != "bob" {
		t.Fatalf("users = %+v", users)
	}
}

func TestHistoryDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/messages/2" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`[
			{"sender_id":2,"receiver_id":1,"content":"second","created_at":"2026-01-02T15:04:02Z"},
			{"sender_id":1,"receiver_id":2,"content":"first","created_at":"2026-01-02T15:04:01Z"}
		]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithToken("tok"))
	msgs, err := client.History(context.Background(), 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "second" || msgs[1].SenderID != 1 {
		t.Fatalf("history = %+v", msgs)
	}
	if msgs[0].CreatedAt.IsZero() {
		t.Fatal("created_at did not decode")
	}
}

func TestAPIErrorCarriesDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"invalid credentials"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Login(context.Background(), "alice", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Detail != "invalid credentials" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}

func TestRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/register" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"msg":"user created","username":"carol"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	res, err := client.Register(context.Background(), "carol", "secret", "carol_tg")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.Username != "carol" || res.Msg == "" {
		t.Fatalf("result = %+v", res)
	}
}

func TestProfileCacheMemoizes(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/users/info/2" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"id":2,"username":"bob"}`))
	}))
	defer srv.Close()

	profiles, err := NewProfileCache(NewClient(srv.URL, WithToken("tok")), 16)
	if err != nil {
		t.Fatalf("NewProfileCache: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		u, err := profiles.Get(ctx, 2)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if u.Username != "bob" {
			t.Fatalf("profile = %+v", u)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("endpoint called %d times, want 1", got)
	}

	profiles.Invalidate(2)
	if _, err := profiles.Get(ctx, 2); err != nil {
		t.Fatalf("Get after Invalidate: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("endpoint called %d times after invalidation, want 2", got)
	}
}
