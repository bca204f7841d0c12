package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"

	"cargolink/pkg/requestcontext"
)

type mockHandler struct {
	called  bool
	context context.Context
}

func (m *mockHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.called = true
	m.context = r.Context()
	w.WriteHeader(http.StatusOK)
}

type RequireUserSuite struct {
	suite.Suite
	next    *mockHandler
	handler http.Handler
}

func TestRequireUserSuite(t *testing.T) {
	suite.Run(t, new(RequireUserSuite))
}

func (s *RequireUserSuite) SetupTest() {
	s.next = &mockHandler{}
	s.handler = RequireUser(slog.New(slog.NewTextHandler(io.Discard, nil)))(s.next)
}

func (s *RequireUserSuite) serve(header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/cargos", nil)
	if header != "" {
		req.Header.Set(UserIDHeader, header)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *RequireUserSuite) TestValidHeaderPopulatesContext() {
	w := s.serve("123456789")

	s.Equal(http.StatusOK, w.Code)
	s.True(s.next.called)
	uid, ok := requestcontext.UserID(s.next.context)
	s.True(ok)
	s.Equal(int64(123456789), uid)
}

func (s *RequireUserSuite) TestRejectsBadHeaders() {
	for _, header := range []string{"", "abc", "0", "-5", "12.5"} {
		s.Run(header, func() {
			s.SetupTest()
			w := s.serve(header)

			s.Equal(http.StatusUnauthorized, w.Code)
			s.False(s.next.called)
			s.Contains(w.Body.String(), "unauthorized")
		})
	}
}
