package webhook

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/splax/deploydeck/pkg/config"
)

type countProjects int

func (c countProjects) Len() int { return int(c) }

const pushBody = `{"ref":"refs/heads/main","after":"abc123","repository":{"name":"acme","full_name":"org/acme"},"head_commit":{"id":"abc123","message":"fix it"},"pusher":{"name":"jdoe"}}`

func newService(cfg config.APIConfig, projects int) Service {
	return New(countProjects(projects), slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
}

func tokenConfig() config.APIConfig {
	return config.APIConfig{AutoDeployEnabled: true, AutoDeployWebhookToken: "s3cret"}
}

func TestEvaluateDisabled(t *testing.T) {
	svc := newService(config.APIConfig{AutoDeployWebhookToken: "x"}, 1)
	if _, err := svc.Evaluate(Delivery{Event: "push", Token: "x", Body: []byte(pushBody)}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected disabled, got %v", err)
	}
}

func TestEvaluateAuthModeMustBeExactlyOne(t *testing.T) {
	for name, cfg := range map[string]config.APIConfig{
		"none": {AutoDeployEnabled: true},
		"both": {AutoDeployEnabled: true, AutoDeployWebhookToken: "a", AutoDeployWebhookSecret: "b"},
	} {
		svc := newService(cfg, 1)
		if _, err := svc.Evaluate(Delivery{Event: "push", Token: "a", Body: []byte(pushBody)}); !errors.Is(err, ErrMisconfigured) {
			t.Fatalf("%s: expected misconfigured, got %v", name, err)
		}
	}
}

func TestEvaluateToken(t *testing.T) {
	svc := newService(tokenConfig(), 1)
	if _, err := svc.Evaluate(Delivery{Event: "push", Token: "wrong", Body: []byte(pushBody)}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	res, err := svc.Evaluate(Delivery{Event: "push", Token: "s3cret", Body: []byte(pushBody)})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Outcome != OutcomeDeploy || res.Push == nil {
		t.Fatalf("expected deploy outcome, got %+v", res)
	}
	push := res.Push
	if push.Branch != "main" || push.RepositoryFullName != "org/acme" || push.CommitHash != "abc123" || push.CommitMessage != "fix it" || push.Pusher != "jdoe" {
		t.Fatalf("unexpected push context %+v", push)
	}
}

func TestEvaluateSignature(t *testing.T) {
	cfg := config.APIConfig{AutoDeployEnabled: true, AutoDeployWebhookSecret: "hook-secret"}
	svc := newService(cfg, 1)
	body := []byte(pushBody)
	sig := Sign(body, []byte("hook-secret"))

	if res, err := svc.Evaluate(Delivery{Event: "push", Signature: sig, Body: body}); err != nil || res.Outcome != OutcomeDeploy {
		t.Fatalf("expected valid signature to pass, got %+v %v", res, err)
	}
	if _, err := svc.Evaluate(Delivery{Event: "push", Body: body}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected missing signature to fail, got %v", err)
	}
}

func TestValidateSignatureMutations(t *testing.T) {
	secret := []byte("hook-secret")
	body := []byte(pushBody)
	sig := Sign(body, secret)
	if err := ValidateSignature(body, secret, sig); err != nil {
		t.Fatalf("expected signature to verify: %v", err)
	}
	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01
		if err := ValidateSignature(mutated, secret, sig); !errors.Is(err, ErrInvalidSig) {
			t.Fatalf("mutation at byte %d verified: %v", i, err)
		}
	}
	for _, bad := range []string{sig[:len(sig)-1], sig + "0", strings.TrimPrefix(sig, "sha256="), "sha256=" + strings.Repeat("z", 64)} {
		if err := ValidateSignature(body, secret, bad); !errors.Is(err, ErrInvalidSigFmt) {
			t.Fatalf("expected format error for %q, got %v", bad, err)
		}
	}
	if err := ValidateSignature(body, secret, ""); !errors.Is(err, ErrMissingSig) {
		t.Fatalf("expected missing signature error, got %v", err)
	}
}

func TestEvaluateEventAndRefFilters(t *testing.T) {
	svc := newService(tokenConfig(), 1)
	cases := []struct {
		name    string
		event   string
		body    string
		outcome string
	}{
		{"ping", "ping", `not json`, OutcomePong},
		{"other event", "issues", pushBody, OutcomeIgnored},
		{"tag", "push", `{"ref":"refs/tags/v1","repository":{"full_name":"org/acme"}}`, OutcomeIgnored},
		{"deleted", "push", `{"ref":"refs/heads/old","deleted":true,"repository":{"full_name":"org/acme"}}`, OutcomeIgnored},
	}
	for _, tc := range cases {
		res, err := svc.Evaluate(Delivery{Event: tc.event, Token: "s3cret", Body: []byte(tc.body)})
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if res.Outcome != tc.outcome || res.Reason == "" {
			t.Fatalf("%s: got %+v, want outcome %s with reason", tc.name, res, tc.outcome)
		}
	}
}

func TestEvaluateMalformedPayloads(t *testing.T) {
	svc := newService(tokenConfig(), 1)
	for _, body := range []string{`{"ref":`, `{"ref":"refs/heads/main"}`, `{"ref":"refs/heads/main","repository":{}}`} {
		if _, err := svc.Evaluate(Delivery{Event: "push", Token: "s3cret", Body: []byte(body)}); !errors.Is(err, ErrMalformed) {
			t.Fatalf("expected malformed for %s, got %v", body, err)
		}
	}
}

func TestEvaluateWithoutProjects(t *testing.T) {
	svc := newService(tokenConfig(), 0)
	if _, err := svc.Evaluate(Delivery{Event: "push", Token: "s3cret", Body: []byte(pushBody)}); !errors.Is(err, ErrMisconfigured) {
		t.Fatalf("expected misconfigured, got %v", err)
	}
}

func TestBranchFromRef(t *testing.T) {
	if b, ok := BranchFromRef("refs/heads/feature/o'brien"); !ok || b != "feature/o'brien" {
		t.Fatalf("unexpected branch %q %v", b, ok)
	}
	for _, ref := range []string{"refs/tags/v1", "refs/heads/", "main", ""} {
		if _, ok := BranchFromRef(ref); ok {
			t.Fatalf("expected %q to be rejected", ref)
		}
	}
}
