package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"farmlink/internal/app"
	"farmlink/internal/news"
	"farmlink/internal/realtime"
	"farmlink/internal/store"
)

func newTestServer(t *testing.T, mutate ...func(*Config)) *httptest.Server {
	t.Helper()
	a, err := app.New(app.Config{
		Store:     store.NewMemoryStore(),
		JWTSecret: "test-secret-test-secret-test-secret",
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg := Config{App: a}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func signUpUser(t *testing.T, srv *httptest.Server, email, name string) (token, userID string) {
	t.Helper()
	resp, body := doJSON(t, srv, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": email, "password": "Str0ng!pass", "displayName": name,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup %s: status %d body %v", email, resp.StatusCode, body)
	}
	user := body["user"].(map[string]any)
	return body["token"].(string), user["id"].(string)
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/api/conversations", "/api/news", "/api/users/me", "/api/users/me/bids"} {
		resp, _ := doJSON(t, srv, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s without token: status %d, want 401", path, resp.StatusCode)
		}
	}
	resp, _ := doJSON(t, srv, http.MethodPost, "/api/listings", "", map[string]any{
		"kind": "farmer", "title": "Yams", "description": "d", "price": 1,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("POST /api/listings without token: status %d, want 401", resp.StatusCode)
	}
}

func TestCatalogIsPublic(t *testing.T) {
	srv := newTestServer(t)
	token, _ := signUpUser(t, srv, "farmer@example.com", "Farmer")

	resp, listing := doJSON(t, srv, http.MethodPost, "/api/listings", token, map[string]any{
		"kind": "farmer", "title": "Sweet Potatoes", "description": "fresh dug", "price": 250,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create listing: status %d body %v", resp.StatusCode, listing)
	}
	listingID := listing["id"].(string)

	// Browsing and reading single listings needs no session.
	resp, body := doJSON(t, srv, http.MethodGet, "/api/listings", "", nil)
	if resp.StatusCode != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("anonymous browse: status %d body %v", resp.StatusCode, body)
	}
	resp, got := doJSON(t, srv, http.MethodGet, "/api/listings/"+listingID, "", nil)
	if resp.StatusCode != http.StatusOK || got["title"] != "Sweet Potatoes" {
		t.Fatalf("anonymous get: status %d body %v", resp.StatusCode, got)
	}

	// Bid traffic under the listing still needs a session.
	resp, _ = doJSON(t, srv, http.MethodGet, "/api/listings/"+listingID+"/bids", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous bids read: status %d, want 401", resp.StatusCode)
	}
	resp, _ = doJSON(t, srv, http.MethodDelete, "/api/listings/"+listingID, "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous delete: status %d, want 401", resp.StatusCode)
	}
}

func TestSignupLoginLogout(t *testing.T) {
	srv := newTestServer(t)
	token, _ := signUpUser(t, srv, "farmer@example.com", "Annette")

	resp, me := doJSON(t, srv, http.MethodGet, "/api/users/me", token, nil)
	if resp.StatusCode != http.StatusOK || me["email"] != "farmer@example.com" {
		t.Fatalf("me: status %d body %v", resp.StatusCode, me)
	}

	resp, _ = doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "farmer@example.com", "password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login: status %d, want 401", resp.StatusCode)
	}

	resp, _ = doJSON(t, srv, http.MethodPost, "/api/auth/logout", token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: status %d", resp.StatusCode)
	}
}

func TestBidLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	farmerToken, _ := signUpUser(t, srv, "farmer@example.com", "Farmer")
	buyerToken, _ := signUpUser(t, srv, "buyer@example.com", "Buyer")

	resp, listing := doJSON(t, srv, http.MethodPost, "/api/listings", farmerToken, map[string]any{
		"kind": "farmer", "title": "Fresh Tomatoes", "description": "vine ripened", "price": 500, "unit": "lb",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create listing: status %d body %v", resp.StatusCode, listing)
	}
	listingID := listing["id"].(string)

	resp, bid := doJSON(t, srv, http.MethodPost, "/api/listings/"+listingID+"/bids", buyerToken, map[string]any{
		"amount": 450, "kind": "counter",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit bid: status %d body %v", resp.StatusCode, bid)
	}
	if bid["status"] != "pending" {
		t.Fatalf("bid status = %v", bid["status"])
	}
	bidID := bid["id"].(string)

	// Second live bid on the same listing conflicts.
	resp, _ = doJSON(t, srv, http.MethodPost, "/api/listings/"+listingID+"/bids", buyerToken, map[string]any{
		"amount": 475, "kind": "accept",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate bid: status %d, want 409", resp.StatusCode)
	}

	// Only the owner reads the book.
	resp, _ = doJSON(t, srv, http.MethodGet, "/api/listings/"+listingID+"/bids", buyerToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("bidder read book: status %d, want 403", resp.StatusCode)
	}
	resp, book := doJSON(t, srv, http.MethodGet, "/api/listings/"+listingID+"/bids", farmerToken, nil)
	if resp.StatusCode != http.StatusOK || book["count"].(float64) != 1 {
		t.Fatalf("owner read book: status %d body %v", resp.StatusCode, book)
	}

	resp, mine := doJSON(t, srv, http.MethodGet, "/api/listings/"+listingID+"/bids/mine", buyerToken, nil)
	if resp.StatusCode != http.StatusOK || mine["id"] != bidID {
		t.Fatalf("my bid: status %d body %v", resp.StatusCode, mine)
	}

	// Withdraw erases; a fresh bid goes through.
	resp, _ = doJSON(t, srv, http.MethodDelete, "/api/bids/"+bidID, buyerToken, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("withdraw: status %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, srv, http.MethodGet, "/api/listings/"+listingID+"/bids/mine", buyerToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("withdrawn bid still visible: status %d", resp.StatusCode)
	}
	resp, rebid := doJSON(t, srv, http.MethodPost, "/api/listings/"+listingID+"/bids", buyerToken, map[string]any{
		"amount": 480, "kind": "accept",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("re-bid: status %d body %v", resp.StatusCode, rebid)
	}

	// Owner accepts the new bid.
	resp, resolved := doJSON(t, srv, http.MethodPost,
		fmt.Sprintf("/api/listings/%s/bids/%s/resolve", listingID, rebid["id"]), farmerToken,
		map[string]string{"status": "accepted"})
	if resp.StatusCode != http.StatusOK || resolved["status"] != "accepted" {
		t.Fatalf("resolve: status %d body %v", resp.StatusCode, resolved)
	}
}

func TestBrowseFilterAndSortOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	farmerToken, _ := signUpUser(t, srv, "farmer@example.com", "Farmer")
	consumerToken, _ := signUpUser(t, srv, "consumer@example.com", "Consumer")

	for _, l := range []struct {
		token string
		kind  string
		title string
		price float64
	}{
		{farmerToken, "farmer", "Mangoes", 100},
		{farmerToken, "farmer", "Bananas", 300},
		{farmerToken, "farmer", "Pineapples", 500},
		{consumerToken, "consumer", "Need peppers", 400},
	} {
		resp, body := doJSON(t, srv, http.MethodPost, "/api/listings", l.token, map[string]any{
			"kind": l.kind, "title": l.title, "description": "x", "price": l.price,
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create %s: status %d body %v", l.title, resp.StatusCode, body)
		}
	}

	resp, body := doJSON(t, srv, http.MethodGet, "/api/listings?kind=farmer&minPrice=150", consumerToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("browse: status %d body %v", resp.StatusCode, body)
	}
	items := body["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("browse count = %d, want 2", len(items))
	}
	first := items[0].(map[string]any)["price"].(float64)
	second := items[1].(map[string]any)["price"].(float64)
	if first != 300 || second != 500 {
		t.Fatalf("browse prices = [%v %v], want [300 500]", first, second)
	}

	resp, _ = doJSON(t, srv, http.MethodGet, "/api/listings?sort=sideways", consumerToken, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad sort: status %d, want 400", resp.StatusCode)
	}
}

func TestConversationsOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	aliceToken, _ := signUpUser(t, srv, "alice@example.com", "Alice")
	bobToken, bobID := signUpUser(t, srv, "bob@example.com", "Bob")

	resp, conv := doJSON(t, srv, http.MethodPost, "/api/conversations", aliceToken, map[string]string{"userId": bobID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create conversation: status %d body %v", resp.StatusCode, conv)
	}
	convID := conv["id"].(string)

	resp, msg := doJSON(t, srv, http.MethodPost, "/api/conversations/"+convID+"/messages", aliceToken,
		map[string]string{"content": "any tomatoes left?"})
	if resp.StatusCode != http.StatusCreated || msg["type"] != "text" {
		t.Fatalf("send: status %d body %v", resp.StatusCode, msg)
	}

	resp, history := doJSON(t, srv, http.MethodGet, "/api/conversations/"+convID+"/messages", bobToken, nil)
	if resp.StatusCode != http.StatusOK || history["count"].(float64) != 1 {
		t.Fatalf("history: status %d body %v", resp.StatusCode, history)
	}

	resp, sidebar := doJSON(t, srv, http.MethodGet, "/api/conversations", bobToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sidebar: status %d", resp.StatusCode)
	}
	items := sidebar["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("sidebar count = %d", len(items))
	}
	peer := items[0].(map[string]any)["peer"].(map[string]any)
	if peer["email"] != "alice@example.com" {
		t.Fatalf("peer = %v", peer)
	}

	// An outsider sees neither the history nor a send path.
	eveToken, _ := signUpUser(t, srv, "eve@example.com", "Eve")
	resp, _ = doJSON(t, srv, http.MethodGet, "/api/conversations/"+convID+"/messages", eveToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider history: status %d, want 403", resp.StatusCode)
	}
}

func TestNewsProxyFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer upstream.Close()

	srv := newTestServer(t, func(cfg *Config) {
		cfg.News = news.NewClient("k", news.WithBaseURL(upstream.URL))
	})
	token, _ := signUpUser(t, srv, "reader@example.com", "Reader")

	resp, body := doJSON(t, srv, http.MethodGet, "/api/news", token, nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("news failure: status %d, want 500", resp.StatusCode)
	}
	if body["error"] != "Failed to fetch news." {
		t.Fatalf("news failure body = %v", body)
	}
}

func TestNewsProxySuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"news_results":[{"title":"Yam harvest up","link":"https://n/1","snippet":"a"}]}`))
	}))
	defer upstream.Close()

	srv := newTestServer(t, func(cfg *Config) {
		cfg.News = news.NewClient("k", news.WithBaseURL(upstream.URL))
	})
	token, _ := signUpUser(t, srv, "reader@example.com", "Reader")

	resp, body := doJSON(t, srv, http.MethodGet, "/api/news", token, nil)
	if resp.StatusCode != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("news: status %d body %v", resp.StatusCode, body)
	}
}

func TestLoginRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	srv := newTestServer(t, func(cfg *Config) {
		cfg.Redis = rdb
		cfg.LoginRateLimitPerMinute = 2
	})
	signUpUser(t, srv, "limited@example.com", "L")

	for i := 0; i < 2; i++ {
		resp, _ := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
			"email": "limited@example.com", "password": "Str0ng!pass",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("login %d: status %d", i, resp.StatusCode)
		}
	}
	resp, _ := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "limited@example.com", "password": "Str0ng!pass",
	})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("third login: status %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "60" {
		t.Fatalf("missing Retry-After header")
	}
}

func TestWebSocketDeliveryOverHTTP(t *testing.T) {
	a, err := app.New(app.Config{
		Store:     store.NewMemoryStore(),
		JWTSecret: "test-secret-test-secret-test-secret",
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	hub := realtime.NewHub(a, nil)
	a.SetPublisher(hub)
	s, err := New(Config{App: a, Hub: hub})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	aliceToken, _ := signUpUser(t, srv, "alice@example.com", "Alice")
	bobToken, bobID := signUpUser(t, srv, "bob@example.com", "Bob")

	resp, conv := doJSON(t, srv, http.MethodPost, "/api/conversations", aliceToken, map[string]string{"userId": bobID})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create conversation: status %d", resp.StatusCode)
	}
	convID := conv["id"].(string)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?token=" + aliceToken
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := conn.WriteJSON(map[string]string{"action": "subscribe", "conversationId": convID}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack realtime.Event
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != "subscribed" {
		t.Fatalf("ack = %+v err = %v", ack, err)
	}

	resp, _ = doJSON(t, srv, http.MethodPost, "/api/conversations/"+convID+"/messages", bobToken,
		map[string]string{"content": "fresh ackee in"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send: status %d", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event realtime.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != "message" || event.ConversationID != convID {
		t.Fatalf("event = %+v", event)
	}
	var msg map[string]any
	if err := json.Unmarshal(event.Payload, &msg); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if msg["content"] != "fresh ackee in" {
		t.Fatalf("payload = %v", msg)
	}
}

func TestRequestListingDropsImageryOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	token, _ := signUpUser(t, srv, "c@example.com", "C")

	resp, listing := doJSON(t, srv, http.MethodPost, "/api/listings", token, map[string]any{
		"kind": "consumer", "title": "Need callaloo", "description": "weekly", "price": 200,
		"icon": "leaf", "images": []string{"data:image/png;base64,aaaa"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d body %v", resp.StatusCode, listing)
	}
	if _, has := listing["icon"]; has {
		t.Fatalf("request listing kept icon: %v", listing)
	}
	if _, has := listing["images"]; has {
		t.Fatalf("request listing kept images: %v", listing)
	}
}
