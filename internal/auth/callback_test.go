package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/smorand/team-slides-dashboard/internal/state"
)

type recordedActivity struct {
	username string
	action   state.Action
	details  string
}

type mockRecorder struct {
	mu      sync.Mutex
	entries []recordedActivity
	err     error
}

func (m *mockRecorder) RecordActivity(ctx context.Context, username string, action state.Action, details string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, recordedActivity{username: username, action: action, details: details})
	return m.err
}

func TestNewTokenCallback_Success(t *testing.T) {
	store := NewMockTokenStore()
	recorder := &mockRecorder{}
	callback := NewTokenCallback(TokenCallbackConfig{Store: store, Recorder: recorder, Logger: testLogger()})

	token := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour),
	}
	if err := callback(context.Background(), "alice", token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record, err := store.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("expected stored token: %v", err)
	}
	if record.RefreshToken != "refresh" || record.AccessToken != "access" {
		t.Errorf("unexpected record: %+v", record)
	}
	if record.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}

	if len(recorder.entries) != 1 {
		t.Fatalf("expected 1 activity, got %d", len(recorder.entries))
	}
	got := recorder.entries[0]
	if got.username != "alice" || got.action != state.ActionGoogleAuth || got.details != "Connected Google account" {
		t.Errorf("unexpected activity: %+v", got)
	}
}

func TestNewTokenCallback_KeepsPreviousRefreshToken(t *testing.T) {
	store := NewMockTokenStore()
	_ = store.Store(context.Background(), &TokenRecord{Username: "alice", AccessToken: "old", RefreshToken: "keep-me"})
	callback := NewTokenCallback(TokenCallbackConfig{Store: store, Logger: testLogger()})

	if err := callback(context.Background(), "alice", &oauth2.Token{AccessToken: "new"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record, _ := store.Get(context.Background(), "alice")
	if record.AccessToken != "new" || record.RefreshToken != "keep-me" {
		t.Errorf("unexpected record: %+v", record)
	}
}

func TestNewTokenCallback_Errors(t *testing.T) {
	injected := errors.New("firestore down")

	t.Run("empty token", func(t *testing.T) {
		callback := NewTokenCallback(TokenCallbackConfig{Store: NewMockTokenStore()})
		if err := callback(context.Background(), "alice", &oauth2.Token{}); err == nil {
			t.Error("expected error for empty token")
		}
	})

	t.Run("store failure", func(t *testing.T) {
		store := NewMockTokenStore()
		store.StoreError = injected
		recorder := &mockRecorder{}
		callback := NewTokenCallback(TokenCallbackConfig{Store: store, Recorder: recorder})

		err := callback(context.Background(), "alice", &oauth2.Token{AccessToken: "a", RefreshToken: "r"})
		if !errors.Is(err, injected) {
			t.Errorf("expected store error, got %v", err)
		}
		if len(recorder.entries) != 0 {
			t.Error("no activity should be recorded when the token was not saved")
		}
	})

	t.Run("recorder failure is not fatal", func(t *testing.T) {
		store := NewMockTokenStore()
		callback := NewTokenCallback(TokenCallbackConfig{Store: store, Recorder: &mockRecorder{err: injected}, Logger: testLogger()})

		if err := callback(context.Background(), "alice", &oauth2.Token{AccessToken: "a", RefreshToken: "r"}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if store.Len() != 1 {
			t.Errorf("expected token to be stored, got %d records", store.Len())
		}
	})
}
