package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/senyabanana/coop-offers/internal/events"

	"github.com/gorilla/websocket"
)

func TestHubDeliversOnlyToOfferRoom(t *testing.T) {
	hub := NewHub(log.New(io.Discard, "", 0))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, r.URL.Query().Get("offer"))
	}))
	defer srv.Close()

	dial := func(offerID string) *websocket.Conn {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?offer=" + offerID
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		return conn
	}
	subscriber := dial("offer-1")
	defer subscriber.Close()
	other := dial("offer-2")
	defer other.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("offer-1") != 1 || hub.Subscribers("offer-2") != 1 {
		if time.Now().After(deadline) {
			t.Fatal("subscribers were not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	evt := events.New(events.OfferSold, "offer-1", map[string]string{"status": "sold"})
	if err := hub.Deliver(context.Background(), evt); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	_ = subscriber.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := subscriber.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got events.Event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != evt.ID || got.Type != events.OfferSold {
		t.Fatalf("got %+v", got)
	}

	_ = other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Fatal("subscriber of another offer received the event")
	}
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub := NewHub(log.New(io.Discard, "", 0))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, "offer-1")
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("offer-1") != 1 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber was not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	conn.Close()

	for hub.Subscribers("offer-1") != 0 {
		if time.Now().After(deadline.Add(2 * time.Second)) {
			t.Fatal("subscriber was not removed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
