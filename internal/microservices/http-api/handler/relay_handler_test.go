package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"chatrelay/internal/microservices/http-api/dto"
	relay "chatrelay/internal/microservices/udp-relay"
	"chatrelay/internal/transport/udp"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockRelayService mocks the RelayService interface
type MockRelayService struct {
	mock.Mock
}

func (m *MockRelayService) Addr() netip.AddrPort {
	args := m.Called()
	return args.Get(0).(netip.AddrPort)
}

func (m *MockRelayService) Peers(ctx context.Context) ([]netip.AddrPort, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]netip.AddrPort), args.Error(1)
}

func (m *MockRelayService) Announce(ctx context.Context, text string) (int, error) {
	args := m.Called(ctx, text)
	return args.Int(0), args.Error(1)
}

func (m *MockRelayService) Stats() relay.Stats {
	args := m.Called()
	return args.Get(0).(relay.Stats)
}

func setupRouter(svc RelayService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewRelayHandler(svc, "instance-1")
	r.GET("/healthz", h.Health)
	h.RegisterRoutes(r.Group("/api/v1/relay"))
	return r
}

func TestHealth(t *testing.T) {
	svc := new(MockRelayService)
	svc.On("Addr").Return(netip.MustParseAddrPort("127.0.0.1:9000"))
	router := setupRouter(svc)

	req, _ := http.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response dto.HealthResponse
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, "instance-1", response.InstanceID)
	assert.Equal(t, "127.0.0.1:9000", response.RelayAddr)

	svc.AssertExpectations(t)
}

func TestGetPeers_Success(t *testing.T) {
	svc := new(MockRelayService)
	peers := []netip.AddrPort{
		netip.MustParseAddrPort("127.0.0.1:9001"),
		netip.MustParseAddrPort("127.0.0.1:9002"),
	}
	svc.On("Peers", mock.Anything).Return(peers, nil)
	router := setupRouter(svc)

	req, _ := http.NewRequest("GET", "/api/v1/relay/peers", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response dto.PeersResponse
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, []string{"127.0.0.1:9001", "127.0.0.1:9002"}, response.Peers)
	assert.Equal(t, 2, response.Total)

	svc.AssertExpectations(t)
}

func TestGetPeers_Empty(t *testing.T) {
	svc := new(MockRelayService)
	svc.On("Peers", mock.Anything).Return([]netip.AddrPort{}, nil)
	router := setupRouter(svc)

	req, _ := http.NewRequest("GET", "/api/v1/relay/peers", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"peers":[],"total":0}`, w.Body.String())
}

func TestGetPeers_RelayStopped(t *testing.T) {
	svc := new(MockRelayService)
	svc.On("Peers", mock.Anything).Return(nil, relay.ErrServerClosed)
	router := setupRouter(svc)

	req, _ := http.NewRequest("GET", "/api/v1/relay/peers", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), relay.ErrServerClosed.Error())
}

func TestGetStats(t *testing.T) {
	svc := new(MockRelayService)
	svc.On("Stats").Return(relay.Stats{Received: 7, Relayed: 12, Peers: 2})
	router := setupRouter(svc)

	req, _ := http.NewRequest("GET", "/api/v1/relay/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response relay.Stats
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, uint64(7), response.Received)
	assert.Equal(t, uint64(12), response.Relayed)
	assert.Equal(t, int64(2), response.Peers)
}

func TestAnnounce_Success(t *testing.T) {
	svc := new(MockRelayService)
	svc.On("Announce", mock.Anything, "server restarting soon").Return(3, nil)
	router := setupRouter(svc)

	body, _ := json.Marshal(dto.AnnounceRequest{Message: "server restarting soon"})
	req, _ := http.NewRequest("POST", "/api/v1/relay/announce", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response dto.AnnounceResponse
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, 3, response.Delivered)

	svc.AssertExpectations(t)
}

func TestAnnounce_MissingMessage(t *testing.T) {
	svc := new(MockRelayService)
	router := setupRouter(svc)

	req, _ := http.NewRequest("POST", "/api/v1/relay/announce", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "Announce", mock.Anything, mock.Anything)
}

func TestAnnounce_Errors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"Undecodable", fmt.Errorf("%w (2 bytes)", udp.ErrDecode), http.StatusBadRequest},
		{"Relay stopped", relay.ErrServerClosed, http.StatusServiceUnavailable},
		{"Timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"Other", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(MockRelayService)
			svc.On("Announce", mock.Anything, "hello").Return(0, tc.err)
			router := setupRouter(svc)

			req, _ := http.NewRequest("POST", "/api/v1/relay/announce", bytes.NewBufferString(`{"message":"hello"}`))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tc.code, w.Code)
		})
	}
}
