package external

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"subsync/internal/config"
	"subsync/internal/types"
)

func registryConfig(env, secretKey string) *config.Config {
	return &config.Config{
		Environment: env,
		Billing: config.BillingConfig{
			StripeSecretKey:     config.SecretString(secretKey),
			StripeWebhookSecret: testWebhookSecret,
			StripeAPIBase:       "https://api.stripe.com",
			ProPriceID:          "price_pro_123",
		},
	}
}

func TestNewClientRegistry_LocalWithoutStripeKeyUsesStub(t *testing.T) {
	reg, err := NewClientRegistry(registryConfig("local", "dummy"), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewClientRegistry: %v", err)
	}
	if !reg.Stub {
		t.Fatal("expected stub checkout in local mode")
	}
	if _, ok := reg.Checkout.(*StubCheckoutGateway); !ok {
		t.Errorf("Checkout is %T, want *StubCheckoutGateway", reg.Checkout)
	}
	if _, ok := reg.Webhooks.(*StripeGateway); !ok {
		t.Errorf("Webhooks is %T, want *StripeGateway", reg.Webhooks)
	}
}

func TestNewClientRegistry_RealKeyUsesGateway(t *testing.T) {
	for _, env := range []string{"local", "prod"} {
		reg, err := NewClientRegistry(registryConfig(env, "sk_test_abc"), slog.New(slog.DiscardHandler))
		if err != nil {
			t.Fatalf("%s: NewClientRegistry: %v", env, err)
		}
		if reg.Stub {
			t.Errorf("%s: a real secret key must not be stubbed", env)
		}
		if _, ok := reg.Checkout.(*StripeGateway); !ok {
			t.Errorf("%s: Checkout is %T", env, reg.Checkout)
		}
	}
}

func TestNewClientRegistry_RequiresWebhookSecret(t *testing.T) {
	cfg := registryConfig("prod", "sk_live_abc")
	cfg.Billing.StripeWebhookSecret = ""
	if _, err := NewClientRegistry(cfg, nil); err == nil {
		t.Fatal("expected an error without a webhook secret")
	}
}

func TestStubCheckoutGateway(t *testing.T) {
	stub := NewStubCheckoutGateway(map[types.PlanName]string{types.PlanPro: "price_pro"}, nil)

	redirect, err := stub.CreateCheckoutSession(context.Background(), "U1", types.PlanPro, "https://app.test/ok", "https://app.test/no")
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if !strings.HasPrefix(redirect, "https://checkout.stub.local/c/pay/cs_stub_") {
		t.Errorf("redirect = %q", redirect)
	}

	_, err = stub.CreateCheckoutSession(context.Background(), "U1", "Nonexistent", "https://a", "https://b")
	if !types.HasCode(err, types.ErrCodeValidationInvalidPlan) {
		t.Errorf("expected invalid plan, got %v", err)
	}
}
