package provision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreateSession(t *testing.T) {
	var got sessionRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/session/init" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sid":"abc-123"}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "tok", time.Second)
	sid, err := c.CreateSession(context.Background(), "squats", "morning set", "u1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sid != "abc-123" {
		t.Errorf("sid = %q", sid)
	}
	if got.Session.Name != "squats" || got.Session.Description != "morning set" {
		t.Errorf("request = %+v", got)
	}
	if len(got.UIDs) != 1 || got.UIDs[0] != "u1" {
		t.Errorf("uids = %v", got.UIDs)
	}
	if auth != "Bearer tok" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestCreateUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req userRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.FirstName != "Ada" {
			http.Error(w, "bad name", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"uid":"u-1"}`))
	}))
	defer srv.Close()

	uid, err := New(srv.URL, "", time.Second).CreateUser(context.Background(), "Ada", "Lovelace")
	if err != nil || uid != "u-1" {
		t.Fatalf("CreateUser = %q, %v", uid, err)
	}
}

func TestCreateSessionErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, "boom"},
		{"missing sid", http.StatusOK, `{}`},
		{"bad json", http.StatusOK, `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			if _, err := New(srv.URL, "", time.Second).CreateSession(context.Background(), "n", "d"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
