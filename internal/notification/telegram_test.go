package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSendMessagePayload(t *testing.T) {
	var got sendMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer server.Close()

	tg := NewTelegramWithBase("token", server.URL)
	keyboard := InlineKeyboard{{{Text: "Ack", CallbackData: "confirm_alert_abc"}}}
	if err := tg.SendMessage(context.Background(), "42", "<b>hi</b>", keyboard); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if got.ChatID != "42" || got.Text != "<b>hi</b>" || got.ParseMode != "HTML" {
		t.Errorf("payload = %+v", got)
	}
	if got.ReplyMarkup == nil {
		t.Error("keyboard dropped from payload")
	}
}

func TestBlockedClassification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
	}))
	defer server.Close()

	tg := NewTelegramWithBase("token", server.URL)
	err := tg.SendMessage(context.Background(), "42", "hi", nil)
	if !IsBlocked(err) {
		t.Errorf("403 not classified as blocked: %v", err)
	}
}

func TestAPIErrorIsNotBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request"}`))
	}))
	defer server.Close()

	tg := NewTelegramWithBase("token", server.URL)
	err := tg.SendMessage(context.Background(), "42", "hi", nil)
	if err == nil {
		t.Fatal("API error swallowed")
	}
	if IsBlocked(err) {
		t.Error("400 misclassified as blocked")
	}
}

func TestTimeoutClassification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	tg := NewTelegramWithBase("token", server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := tg.SendMessage(ctx, "42", "hi", nil)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if !IsTimeout(err) {
		t.Errorf("timeout not classified: %v", err)
	}
}
