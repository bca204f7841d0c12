package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"cargolink/internal/cargotech/limiter"
	"cargolink/internal/cargotech/retry"
	"cargolink/internal/platform/alert"
	"cargolink/pkg/testutil"
)

const (
	testPhone    = "+79001234567"
	testPassword = "s3cret-pass"
)

type captureNotifier struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (c *captureNotifier) Notify(_ context.Context, a alert.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}

// upstream fakes the login and detail endpoints. Tokens are issued as
// "<n>|tok" and resourceStatus decides the answer per presented token.
type upstream struct {
	logins         atomic.Int32
	loginDelay     time.Duration
	loginStatus    int
	resourceStatus func(token string) int
	lastLogin      loginRequest
	mu             sync.Mutex
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case loginPath:
		n := u.logins.Add(1)
		var req loginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		u.mu.Lock()
		u.lastLogin = req
		u.mu.Unlock()
		time.Sleep(u.loginDelay)
		if u.loginStatus != 0 {
			w.WriteHeader(u.loginStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"data":{"token":"%d|tok"}}`, n)
	default:
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		w.WriteHeader(u.resourceStatus(token))
	}
}

type ManagerSuite struct {
	suite.Suite
	upstream *upstream
	server   *httptest.Server
	clock    *testutil.Clock
	notifier *captureNotifier
	logs     *bytes.Buffer
	manager  *Manager
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.upstream = &upstream{resourceStatus: func(string) int { return http.StatusOK }}
	s.server = httptest.NewServer(s.upstream)
	s.clock = testutil.NewClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	s.notifier = &captureNotifier{}
	s.logs = &bytes.Buffer{}

	logger := slog.New(slog.NewJSONHandler(s.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	exec := retry.New(limiter.New(600),
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }),
		retry.WithLogger(logger),
	)
	s.manager = NewManager(s.server.URL, Credentials{Phone: testPhone, Password: testPassword}, s.server.Client(), exec,
		WithClock(s.clock.Now),
		WithLogger(logger),
		WithNotifier(s.notifier),
	)
}

func (s *ManagerSuite) TearDownTest() {
	s.server.Close()
}

func (s *ManagerSuite) send(path string) SendFunc {
	return func(ctx context.Context, token string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.server.URL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return s.server.Client().Do(req)
	}
}

// =============================================================================
// Token acquisition
// =============================================================================

func (s *ManagerSuite) TestTokenIsCachedUntilTTL() {
	ctx := context.Background()

	first, err := s.manager.Token(ctx)
	s.Require().NoError(err)
	s.Equal("1|tok", first)

	again, err := s.manager.Token(ctx)
	s.Require().NoError(err)
	s.Equal(first, again)
	s.Equal(int32(1), s.upstream.logins.Load())

	s.clock.Advance(DefaultTTL)
	renewed, err := s.manager.Token(ctx)
	s.Require().NoError(err)
	s.Equal("2|tok", renewed)
	s.Equal(int32(2), s.upstream.logins.Load())
}

func (s *ManagerSuite) TestLoginSendsCredentialsButNeverLogsThem() {
	_, err := s.manager.Token(context.Background())
	s.Require().NoError(err)

	s.upstream.mu.Lock()
	sent := s.upstream.lastLogin
	s.upstream.mu.Unlock()
	s.Equal(loginRequest{Phone: testPhone, Password: testPassword, Remember: true}, sent)

	s.NotContains(s.logs.String(), testPassword)
	s.NotContains(s.logs.String(), testPhone)
	s.NotContains(s.logs.String(), "1|tok")
}

// Justification: N callers racing on an empty cache must produce one login.
func (s *ManagerSuite) TestConcurrentAcquisitionSharesOneLogin() {
	s.upstream.loginDelay = 50 * time.Millisecond

	tokens, errs := testutil.RunConcurrentCollect(50, func(int) (string, error) {
		return s.manager.Token(context.Background())
	})

	for i := range tokens {
		s.Require().NoError(errs[i])
		s.Equal("1|tok", tokens[i])
	}
	s.Equal(int32(1), s.upstream.logins.Load())
	s.Equal(int64(1), s.manager.Logins())
}

func (s *ManagerSuite) TestRejectedLoginIsFatalAndAlerts() {
	s.upstream.loginStatus = http.StatusUnprocessableEntity

	_, err := s.manager.Token(context.Background())

	s.ErrorIs(err, ErrAuthenticationFailure)
	s.Equal(1, s.notifier.count())
	s.Equal("*******4567", s.notifier.alerts[0].Details["account"])
}

// =============================================================================
// Invalidation
// =============================================================================

func (s *ManagerSuite) TestInvalidateIsCompareAndClear() {
	ctx := context.Background()
	tok, err := s.manager.Token(ctx)
	s.Require().NoError(err)

	s.False(s.manager.Invalidate("someone-elses-token"))
	again, _ := s.manager.Token(ctx)
	s.Equal(tok, again, "mismatched invalidate keeps the token")

	s.True(s.manager.Invalidate(tok))
	s.False(s.manager.Invalidate(tok), "second invalidate of the same token is a no-op")

	fresh, err := s.manager.Token(ctx)
	s.Require().NoError(err)
	s.NotEqual(tok, fresh)
	s.Equal(int32(2), s.upstream.logins.Load())
}

// =============================================================================
// 401 recovery
// =============================================================================

func (s *ManagerSuite) TestSingle401TriggersOneReloginAndRetry() {
	s.upstream.resourceStatus = func(token string) int {
		if token == "1|tok" {
			return http.StatusUnauthorized
		}
		return http.StatusOK
	}

	resp, err := s.manager.Call(context.Background(), "cargos.detail", s.send("/v1/carrier/cargos/7"))

	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal(int32(2), s.upstream.logins.Load())
	s.Zero(s.notifier.count())
}

func (s *ManagerSuite) TestSecond401IsFatalWithoutThirdLogin() {
	s.upstream.resourceStatus = func(string) int { return http.StatusUnauthorized }

	resp, err := s.manager.Call(context.Background(), "cargos.detail", s.send("/v1/carrier/cargos/7"))

	s.Nil(resp)
	s.ErrorIs(err, ErrAuthenticationFailure)
	s.Equal(int32(2), s.upstream.logins.Load(), "initial login plus exactly one re-login")
	s.Equal(1, s.notifier.count())
	s.Equal(alert.SeverityCritical, s.notifier.alerts[0].Severity)
	s.Equal("cargos.detail", s.notifier.alerts[0].Details["op"])
}

// Justification: simultaneous 401s on the same stale token collapse into a
// single re-login.
func (s *ManagerSuite) TestConcurrent401sCollapseIntoOneRelogin() {
	ctx := context.Background()
	_, err := s.manager.Token(ctx)
	s.Require().NoError(err)

	s.upstream.loginDelay = 20 * time.Millisecond
	s.upstream.resourceStatus = func(token string) int {
		if token == "1|tok" {
			return http.StatusUnauthorized
		}
		return http.StatusOK
	}

	result := testutil.RunConcurrent(20, func(int) error {
		resp, err := s.manager.Call(ctx, "cargos.list", s.send("/v2/cargos/views"))
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})

	s.Equal(int32(20), result.Successes)
	s.Equal(int32(2), s.upstream.logins.Load())
}

func (s *ManagerSuite) TestNon401ErrorsPassThrough() {
	s.upstream.resourceStatus = func(string) int { return http.StatusNotFound }

	resp, err := s.manager.Call(context.Background(), "cargos.detail", s.send("/v1/carrier/cargos/404"))

	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.Equal(int32(1), s.upstream.logins.Load())
}
