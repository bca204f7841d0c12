package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"cargolink/internal/cargotech/auth"
	"cargolink/internal/sentinel"
)

// tokenCaller stands in for auth.Manager with a fixed token.
type tokenCaller struct {
	ops []string
	err error
}

func (c *tokenCaller) Call(ctx context.Context, op string, send auth.SendFunc) (*http.Response, error) {
	c.ops = append(c.ops, op)
	if c.err != nil {
		return nil, c.err
	}
	return send(ctx, "test-token")
}

type ClientSuite struct {
	suite.Suite
	mux    *http.ServeMux
	server *httptest.Server
	caller *tokenCaller
	client *Client

	mu   sync.Mutex
	seen *http.Request
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.mux = http.NewServeMux()
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.seen = r.Clone(context.Background())
		s.mu.Unlock()
		s.mux.ServeHTTP(w, r)
	}))
	s.caller = &tokenCaller{}
	s.client = New(s.server.URL, s.server.Client(), s.caller)
}

func (s *ClientSuite) TearDownTest() {
	s.server.Close()
}

func (s *ClientSuite) lastRequest() *http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen
}

func (s *ClientSuite) handle(path, body string) {
	s.mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})
}

func (s *ClientSuite) TestListCargosSendsFiltersAndDecodes() {
	s.handle(listPath, `{"data":[{"id":101,"title":"Pallets","from":{"id":12,"name":"Москва"},"to":{"id":34,"name":"Казань"},"weight":7.5,"volume":45,"price":{"value":"85000","currency":"RUB"}}],"meta":{"total":1,"limit":10,"offset":0}}`)
	q, err := NewListQuery(map[string]string{"wv": "7.5-45", "limit": "10"})
	s.Require().NoError(err)

	list, err := s.client.ListCargos(context.Background(), 42, q)

	s.Require().NoError(err)
	s.Require().Len(list.Data, 1)
	s.Equal(int64(101), list.Data[0].ID)
	s.Equal("Казань", list.Data[0].To.Name)
	s.Equal("85000", list.Data[0].Price.Value.String())
	s.Equal(1, list.Meta.Total)

	seen := s.lastRequest()
	s.Equal("Bearer test-token", seen.Header.Get("Authorization"))
	s.Equal("application/json", seen.Header.Get("Accept"))
	query, err := url.ParseQuery(seen.URL.RawQuery)
	s.Require().NoError(err)
	s.Equal("42", query.Get("filter[user_id]"))
	s.Equal("7.5-45", query.Get("filter[wv]"))
	s.Equal("contacts", query.Get("include"))
	s.Equal([]string{OpList}, s.caller.ops)
}

func (s *ClientSuite) TestGetCargoReturnsNote() {
	s.handle(detailPath+"101", `{"data":{"id":101,"title":"Pallets","extra":{"note":"Loading from 8:00"}}}`)

	detail, err := s.client.GetCargo(context.Background(), 101)

	s.Require().NoError(err)
	s.Equal("Loading from 8:00", detail.Note())
	s.Equal(int64(101), detail.ID)
}

func (s *ClientSuite) TestGetCargoNotFound() {
	_, err := s.client.GetCargo(context.Background(), 999)

	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ClientSuite) TestUnexpectedStatus() {
	s.mux.HandleFunc(pointsPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	q, err := NewPointQuery("каз")
	s.Require().NoError(err)

	_, err = s.client.SearchPoints(context.Background(), q)

	var statusErr *StatusError
	s.Require().ErrorAs(err, &statusErr)
	s.Equal(http.StatusBadRequest, statusErr.StatusCode)
	s.Equal(OpPoints, statusErr.Op)
}

func (s *ClientSuite) TestSearchPointsEmptyIsNotNil() {
	s.handle(pointsPath, `{"data":null}`)
	q, err := NewPointQuery("каз")
	s.Require().NoError(err)

	points, err := s.client.SearchPoints(context.Background(), q)

	s.Require().NoError(err)
	s.NotNil(points)
	s.Empty(points)
	s.Equal("каз", s.lastRequest().URL.Query().Get("filter[name]"))
}

func (s *ClientSuite) TestCallerErrorPropagates() {
	s.caller.err = auth.ErrAuthenticationFailure

	_, err := s.client.GetCargo(context.Background(), 1)

	s.True(errors.Is(err, auth.ErrAuthenticationFailure))
}

func (s *ClientSuite) TestMalformedBody() {
	s.handle(detailPath+"5", `{"data":`)

	_, err := s.client.GetCargo(context.Background(), 5)

	s.Require().Error(err)
	s.Contains(err.Error(), "decode response")
}
