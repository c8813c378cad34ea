package ticket_api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-ticket-gate/internal/logger"
	"ms-ticket-gate/internal/models"
	"ms-ticket-gate/internal/sse"
	"ms-ticket-gate/internal/tickets/memstore"
	qr "ms-ticket-gate/internal/tickets/qr_generator"
	"ms-ticket-gate/internal/tickets/redis"
	"ms-ticket-gate/internal/tickets/service"
	"ms-ticket-gate/internal/tickets/signer"
)

const (
	testSecret = "handler-test-signing-secret"
	adminToken = "admin-token"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sign, err := signer.New(testSecret)
	require.NoError(t, err)
	log := logger.NewWriterLogger(io.Discard)
	feed := sse.NewTicketEventEmitter()

	svc, err := service.NewTicketService(service.Dependencies{
		Store:    memstore.New(),
		Signer:   sign,
		Guard:    redis.NewRedis(client),
		Notifier: feed,
		Renderer: qr.NewQRGenerator(64),
		Logger:   log,
	}, service.Options{TicketTypes: models.DefaultTicketTypes, NameMinLength: 2})
	require.NoError(t, err)
	t.Cleanup(svc.Wait)

	h := NewHandler(svc, log)
	h.Events = feed
	srv := httptest.NewServer(NewRouter(h, adminToken))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body string, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func getJSON(t *testing.T, url string, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

type issued struct {
	ID        string
	Payload   string
	Signature string
	Token     string
}

func checkout(t *testing.T, srv *httptest.Server) issued {
	t.Helper()
	resp, body := postJSON(t, srv.URL+"/api/checkout",
		`{"name":"Maria Silva","email":"maria@example.com","ticketType":"vip"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)

	sp := body["signedPayload"].(map[string]interface{})
	return issued{
		ID:        body["id"].(string),
		Payload:   sp["payload"].(string),
		Signature: sp["signature"].(string),
		Token:     sp["token"].(string),
	}
}

func detachedBody(payload, sig string) string {
	b, _ := json.Marshal(map[string]string{"payload": payload, "signature": sig})
	return string(b)
}

func TestCheckoutVerifyRedeemFlow(t *testing.T) {
	srv := newTestServer(t)
	tk := checkout(t, srv)

	resp, order := getJSON(t, srv.URL+"/api/tickets/"+tk.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "issued", order["status"])
	assert.Equal(t, "VIP", order["ticket_type"])
	assert.Equal(t, true, order["has_qr_code"])
	assert.NotContains(t, order, "payload")
	assert.NotContains(t, order, "signature")

	resp, verified := postJSON(t, srv.URL+"/api/verify", detachedBody(tk.Payload, tk.Signature), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, verified["ok"])
	assert.Equal(t, "issued", verified["status"])
	assert.Nil(t, verified["usedAt"])
	ticket := verified["ticket"].(map[string]interface{})
	assert.Equal(t, tk.ID, ticket["id"])
	assert.Equal(t, "Maria Silva", ticket["name"])

	resp, redeemed := postJSON(t, srv.URL+"/api/redeem", `{"token":"`+tk.Token+`"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "used", redeemed["status"])
	require.NotNil(t, redeemed["used_at"])

	resp, again := postJSON(t, srv.URL+"/api/redeem", detachedBody(tk.Payload, tk.Signature), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, CodeAlreadyUsed, again["error"])
	assert.Equal(t, redeemed["used_at"], again["usedAt"])

	resp, verified = postJSON(t, srv.URL+"/api/verify", `{"ticket":"`+tk.Token+`"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "used", verified["status"])
	assert.Equal(t, redeemed["used_at"], verified["usedAt"])
}

func TestCheckoutValidationError(t *testing.T) {
	srv := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/api/checkout",
		`{"name":"Maria Silva","email":"not-an-email","ticketType":"VIP"}`, nil)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeValidation, body["error"])
	assert.Equal(t, "email", body["field"])

	resp, body = getJSON(t, srv.URL+"/api/admin/orders", map[string]string{"Authorization": "Bearer " + adminToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["count"])
}

func TestCheckoutRejectsUnknownFields(t *testing.T) {
	srv := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/api/checkout",
		`{"name":"Maria Silva","email":"maria@example.com","ticketType":"VIP","status":"used"}`, nil)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "request", body["field"])
}

func TestCheckoutIdempotencyHeader(t *testing.T) {
	srv := newTestServer(t)
	reqBody := `{"name":"Maria Silva","email":"maria@example.com","ticketType":"VIP"}`
	headers := map[string]string{"Idempotency-Key": "retry-abc"}

	first, firstBody := postJSON(t, srv.URL+"/api/checkout", reqBody, headers)
	require.Equal(t, http.StatusCreated, first.StatusCode)

	second, secondBody := postJSON(t, srv.URL+"/api/checkout", reqBody, headers)
	require.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, true, secondBody["replayed"])
	assert.Equal(t, firstBody["id"], secondBody["id"])
	assert.Equal(t, firstBody["signedPayload"], secondBody["signedPayload"])

	resp, conflict := postJSON(t, srv.URL+"/api/checkout",
		`{"name":"Maria Silva","email":"maria@example.com","ticketType":"VIP","idempotencyKey":"other"}`, headers)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "idempotencyKey", conflict["field"])
}

func TestVerifyErrors(t *testing.T) {
	srv := newTestServer(t)
	tk := checkout(t, srv)

	tampered := []byte(tk.Payload)
	tampered[len(tampered)-2] ^= 0x01

	otherSigner, _ := signer.New("some-other-secret")
	ghostPayload, _ := signer.Encode(signer.Claims{Version: signer.PayloadVersion, OrderID: "ghost"})
	realSigner, _ := signer.New(testSecret)
	ghostSig, _ := realSigner.Sign(ghostPayload)
	forgedSig, _ := otherSigner.Sign([]byte(tk.Payload))

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"tampered payload", detachedBody(string(tampered), tk.Signature), http.StatusUnauthorized, CodeInvalidSignature},
		{"foreign key", detachedBody(tk.Payload, forgedSig), http.StatusUnauthorized, CodeInvalidSignature},
		{"unknown order", detachedBody(string(ghostPayload), ghostSig), http.StatusNotFound, CodeNotFound},
		{"no signature", `{"payload":"{}"}`, http.StatusBadRequest, CodeMalformedPayload},
		{"garbage", `not json`, http.StatusBadRequest, CodeMalformedPayload},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, path := range []string{"/api/verify", "/api/redeem"} {
				resp, body := postJSON(t, srv.URL+path, tc.body, nil)
				assert.Equal(t, tc.status, resp.StatusCode, path)
				assert.Equal(t, tc.code, body["error"], path)
				assert.NotContains(t, body["message"], testSecret)
			}
		})
	}
}

func TestConcurrentRedeemOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	tk := checkout(t, srv)
	body := detachedBody(tk.Payload, tk.Signature)

	const attempts = 16
	statuses := make(chan int, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(srv.URL+"/api/redeem", "application/json", bytes.NewBufferString(body))
			if err != nil {
				t.Errorf("redeem request: %v", err)
				return
			}
			resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(statuses)

	counts := map[int]int{}
	for s := range statuses {
		counts[s]++
	}
	assert.Equal(t, 1, counts[http.StatusOK])
	assert.Equal(t, attempts-1, counts[http.StatusConflict])
}

func TestGetTicketQR(t *testing.T) {
	srv := newTestServer(t)
	tk := checkout(t, srv)

	resp, err := http.Get(srv.URL + "/api/tickets/" + tk.ID + "/qr")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	png, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}

func TestGetTicketNotFound(t *testing.T) {
	srv := newTestServer(t)

	resp, body := getJSON(t, srv.URL+"/api/tickets/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, CodeNotFound, body["error"])

	resp, _ = getJSON(t, srv.URL+"/api/tickets/missing/qr", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminListOrders(t *testing.T) {
	srv := newTestServer(t)
	first := checkout(t, srv)
	second := checkout(t, srv)

	resp, _ := getJSON(t, srv.URL+"/api/admin/orders", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	auth := map[string]string{"Authorization": "Bearer " + adminToken}
	resp, body := getJSON(t, srv.URL+"/api/admin/orders?limit=10", auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["count"])

	var ids []string
	for _, o := range body["orders"].([]interface{}) {
		ids = append(ids, o.(map[string]interface{})["id"].(string))
	}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)

	resp, body = getJSON(t, srv.URL+"/api/admin/orders?limit=zero", auth)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "limit", body["field"])
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	resp, body := getJSON(t, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestStreamEventsFeed(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/admin/events?type=ticket.redeemed", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+adminToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	waitFor := func(prefix string) string {
		t.Helper()
		timeout := time.After(3 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream closed while waiting for %q", prefix)
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %q", prefix)
				return ""
			}
		}
	}

	waitFor("event: connected")

	tk := checkout(t, srv)
	resp2, _ := postJSON(t, srv.URL+"/api/redeem", detachedBody(tk.Payload, tk.Signature), nil)
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	assert.Equal(t, "event: ticket.redeemed", waitFor("event: "))
	data := waitFor("data: ")
	assert.Contains(t, data, tk.ID)
	assert.NotContains(t, data, tk.Signature)
}

func TestStreamEventsRequiresAdmin(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/admin/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
