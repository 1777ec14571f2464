package call

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDailyCreateRoom(t *testing.T) {
	var gotAuth string
	var gotPayload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rooms" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"name": "emotions-appt-1",
			"url":  "https://x.daily.co/emotions-appt-1",
		})
	}))
	defer srv.Close()

	client := NewDailyClientWithBaseURL("test-key", srv.URL)
	room, err := client.CreateRoom(context.Background(), CreateRoomParams{
		Name:      "emotions-appt-1",
		Privacy:   "private",
		AudioOnly: true,
	})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if room.URL != "https://x.daily.co/emotions-appt-1" {
		t.Fatalf("unexpected room URL %q", room.URL)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}

	props, ok := gotPayload["properties"].(map[string]interface{})
	if !ok {
		t.Fatal("payload missing properties")
	}
	if props["start_video_off"] != true {
		t.Fatal("audio-only room must start with video off")
	}
	if props["enable_screenshare"] != false {
		t.Fatal("audio-only room must not enable screenshare")
	}
	if gotPayload["privacy"] != "private" {
		t.Fatalf("unexpected privacy %v", gotPayload["privacy"])
	}
}

func TestDailyUnauthorizedIsAuthKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "authentication-error"})
	}))
	defer srv.Close()

	client := NewDailyClientWithBaseURL("bad-key", srv.URL)
	_, err := client.CreateRoom(context.Background(), CreateRoomParams{Name: "r"})
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := RoomErrorKind(err); kind != ErrorKindAuth {
		t.Fatalf("expected auth kind, got %q (%v)", kind, err)
	}
}

func TestDailyBadRequestIsValidationKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"info": "invalid room name"})
	}))
	defer srv.Close()

	client := NewDailyClientWithBaseURL("key", srv.URL)
	_, err := client.CreateRoom(context.Background(), CreateRoomParams{Name: "bad name"})
	if kind := RoomErrorKind(err); kind != ErrorKindValidation {
		t.Fatalf("expected validation kind, got %q (%v)", kind, err)
	}
}

func TestDailyServerErrorIsNetworkKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewDailyClientWithBaseURL("key", srv.URL)
	_, err := client.CreateRoom(context.Background(), CreateRoomParams{Name: "r"})
	if kind := RoomErrorKind(err); kind != ErrorKindNetwork {
		t.Fatalf("expected network kind, got %q (%v)", kind, err)
	}
}

func TestDailyUnreachableIsNetworkKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse all connections

	client := NewDailyClientWithBaseURL("key", srv.URL)
	_, err := client.CreateRoom(context.Background(), CreateRoomParams{Name: "r"})
	if kind := RoomErrorKind(err); kind != ErrorKindNetwork {
		t.Fatalf("expected network kind, got %q (%v)", kind, err)
	}
}

func TestDailyGetMissingRoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "not-found"})
	}))
	defer srv.Close()

	client := NewDailyClientWithBaseURL("key", srv.URL)
	if _, err := client.GetRoomDetails(context.Background(), "gone"); err != ErrRoomNotFound {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestDailyDeleteMissingRoomSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewDailyClientWithBaseURL("key", srv.URL)
	if err := client.DeleteRoom(context.Background(), "gone"); err != nil {
		t.Fatalf("deleting an already-deleted room should succeed, got %v", err)
	}
}
