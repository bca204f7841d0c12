package e2e

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cucumber/godog"

	billinghandler "cargolink/internal/billing/handler"
	"cargolink/internal/billing/store"
	cargohandler "cargolink/internal/cargo/handler"
	"cargolink/pkg/testutil"
)

// RegisterSteps registers all step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Background steps
	ctx.Step(`^the CargoLink service is running$`, tc.serviceIsRunning)

	// Marketplace behaviour
	ctx.Step(`^the marketplace rejects the next (\d+) authenticated requests? with 401$`, tc.marketplaceRejectsNext)
	ctx.Step(`^the marketplace fails the next (\d+) requests? with 503$`, tc.marketplaceFailsNext)
	ctx.Step(`^the marketplace sends a status change for cargo (\d+)$`, tc.cargoStatusChanged)
	ctx.Step(`^the marketplace announces a new listing$`, tc.cargoPosted)
	ctx.Step(`^an unsigned status change for cargo (\d+) arrives$`, tc.cargoStatusUnsigned)

	// Request steps
	ctx.Step(`^user (\d+) requests "([^"]*)"$`, tc.userRequests)
	ctx.Step(`^an anonymous caller requests "([^"]*)"$`, tc.anonymousRequests)
	ctx.Step(`^user (\d+) resets their cached searches$`, tc.userResetsCache)
	ctx.Step(`^YuKassa delivers a signed "([^"]*)" webhook for payment "([^"]*)" and user (\d+)$`, tc.deliverSigned)
	ctx.Step(`^YuKassa delivers a "([^"]*)" webhook for payment "([^"]*)" and user (\d+) with a tampered signature$`, tc.deliverTampered)

	// Assertion steps
	ctx.Step(`^the response status should be (\d+)$`, tc.responseStatusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, tc.responseFieldShouldEqual)
	ctx.Step(`^the marketplace should have received (\d+) (login|list|detail|points) requests?$`, tc.marketplaceReceived)
	ctx.Step(`^user (\d+) should have an active subscription$`, tc.userHasActiveSubscription)
	ctx.Step(`^the billing store should hold (\d+) events?, (\d+) payments? and (\d+) subscriptions?$`, tc.billingStoreHolds)
}

func (tc *TestContext) serviceIsRunning(ctx context.Context) error {
	return nil
}

func (tc *TestContext) marketplaceRejectsNext(ctx context.Context, n int) error {
	tc.Marketplace.RejectNext(n)
	return nil
}

func (tc *TestContext) marketplaceFailsNext(ctx context.Context, n int) error {
	tc.Marketplace.FailNext(n)
	return nil
}

func (tc *TestContext) cargoStatusChanged(ctx context.Context, cargoID int64) error {
	body := fmt.Appendf(nil, `{"cargo_id":%d,"status":"closed"}`, cargoID)
	return tc.POSTRaw("/webhooks/cargotech/cargo-status", body, cargoSignature(body))
}

func (tc *TestContext) cargoStatusUnsigned(ctx context.Context, cargoID int64) error {
	body := fmt.Appendf(nil, `{"cargo_id":%d,"status":"closed"}`, cargoID)
	return tc.POSTRaw("/webhooks/cargotech/cargo-status", body, nil)
}

func cargoSignature(body []byte) map[string]string {
	return map[string]string{cargohandler.SignatureHeader: testutil.Sign(testutil.WebhookSecret, body)}
}

func (tc *TestContext) cargoPosted(ctx context.Context) error {
	body := []byte(`{}`)
	return tc.POSTRaw("/webhooks/cargotech/cargo-posted", body, cargoSignature(body))
}

func (tc *TestContext) userRequests(ctx context.Context, userID int64, path string) error {
	return tc.GET(path, userID)
}

func (tc *TestContext) anonymousRequests(ctx context.Context, path string) error {
	return tc.GET(path, 0)
}

func (tc *TestContext) userResetsCache(ctx context.Context, userID int64) error {
	req, err := newDelete(tc.Server.URL+"/api/cache/me", userID)
	if err != nil {
		return err
	}
	return tc.do(req)
}

func paymentFixture(event, paymentID string, userID int64) testutil.PaymentWebhook {
	status := strings.TrimPrefix(event, "payment.")
	return testutil.PaymentWebhook{Event: event, PaymentID: paymentID, Status: status, UserID: userID}
}

func (tc *TestContext) deliverSigned(ctx context.Context, event, paymentID string, userID int64) error {
	body, signature := paymentFixture(event, paymentID, userID).Signed()
	return tc.POSTRaw("/webhooks/yookassa", body, map[string]string{billinghandler.SignatureHeader: signature})
}

func (tc *TestContext) deliverTampered(ctx context.Context, event, paymentID string, userID int64) error {
	body, signature := paymentFixture(event, paymentID, userID).Signed()
	tampered := []byte(strings.Replace(string(body), `"990.00"`, `"1.00"`, 1))
	return tc.POSTRaw("/webhooks/yookassa", tampered, map[string]string{billinghandler.SignatureHeader: signature})
}

func (tc *TestContext) responseStatusShouldBe(ctx context.Context, expected int) error {
	if tc.LastResponse == nil {
		return fmt.Errorf("no request has been made")
	}
	if tc.LastResponse.StatusCode != expected {
		return fmt.Errorf("expected status %d but got %d\nResponse: %s", expected, tc.LastResponse.StatusCode, tc.LastResponseBody)
	}
	return nil
}

func (tc *TestContext) responseFieldShouldEqual(ctx context.Context, field, expected string) error {
	value, err := tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if actual := fmt.Sprint(value); actual != expected {
		return fmt.Errorf("expected field %q to equal %q but got %q", field, expected, actual)
	}
	return nil
}

func (tc *TestContext) marketplaceReceived(ctx context.Context, expected int, kind string) error {
	if actual := tc.Marketplace.Count(kind); actual != expected {
		return fmt.Errorf("expected %d %s requests upstream but got %d", expected, kind, actual)
	}
	return nil
}

func (tc *TestContext) userHasActiveSubscription(ctx context.Context, userID int64) error {
	sub, err := tc.Billing.FindSubscription(ctx, userID)
	if err != nil {
		return fmt.Errorf("find subscription: %w", err)
	}
	if !sub.ActiveAt(time.Now()) {
		return fmt.Errorf("subscription for user %d is not active (expires %s)", userID, sub.ExpiresAt)
	}
	if sub.AccessToken == "" {
		return fmt.Errorf("subscription for user %d has no access token", userID)
	}
	return nil
}

func (tc *TestContext) billingStoreHolds(ctx context.Context, events, payments, subscriptions int) error {
	expected := store.Counts{Events: events, Payments: payments, Subscriptions: subscriptions}
	if actual := tc.Billing.Counts(); actual != expected {
		return fmt.Errorf("expected billing store %+v but got %+v", expected, actual)
	}
	return nil
}
