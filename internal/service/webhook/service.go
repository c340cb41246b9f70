package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/splax/deploydeck/internal/domain"
	"github.com/splax/deploydeck/pkg/config"
)

// Header and event names used by GitHub-compatible senders.
const (
	SignatureHeader = "X-Hub-Signature-256"
	EventHeader     = "X-GitHub-Event"
	TokenParam      = "token"

	EventPush = "push"
	EventPing = "ping"

	signaturePrefix = "sha256="
	branchRefPrefix = "refs/heads/"
)

// Error kinds returned by Evaluate. Handlers map them to HTTP statuses.
var (
	ErrDisabled      = errors.New("auto deploy is disabled")
	ErrMisconfigured = errors.New("auto deploy is misconfigured")
	ErrUnauthorized  = errors.New("webhook authentication failed")
	ErrMalformed     = errors.New("malformed webhook payload")

	ErrMissingSig    = errors.New("missing webhook signature")
	ErrInvalidSigFmt = errors.New("invalid webhook signature format")
	ErrInvalidSig    = errors.New("invalid webhook signature")
	errNoProjects    = errors.New("no projects are configured")
)

// Outcomes of a successfully evaluated delivery.
const (
	OutcomePong    = "ok"
	OutcomeIgnored = "ignored"
	OutcomeDeploy  = "deploy"
)

// Result is the decision for a delivery that passed authentication.
// Push is set only when Outcome is OutcomeDeploy.
type Result struct {
	Outcome string
	Reason  string
	Push    *domain.AutoDeployContext
}

// Delivery is one inbound webhook request.
type Delivery struct {
	Event     string
	Token     string
	Signature string
	Body      []byte
}

// Projects reports how many projects are configured.
type Projects interface {
	Len() int
}

// Service validates auto-deploy webhook deliveries.
type Service struct {
	enabled  bool
	token    string
	secret   string
	projects Projects
	logger   *slog.Logger
}

// New constructs a webhook service.
func New(projects Projects, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{
		enabled:  cfg.AutoDeployEnabled,
		token:    strings.TrimSpace(cfg.AutoDeployWebhookToken),
		secret:   strings.TrimSpace(cfg.AutoDeployWebhookSecret),
		projects: projects,
		logger:   logger,
	}
}

type pushPayload struct {
	Ref        string `json:"ref"`
	Deleted    bool   `json:"deleted"`
	After      string `json:"after"`
	Repository *struct {
		Name     string `json:"name"`
		FullName string `json:"full_name"`
	} `json:"repository"`
	HeadCommit *struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"head_commit"`
	Pusher struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"pusher"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

// Evaluate runs the delivery through each check in order and stops at the
// first one that decides the outcome.
func (s Service) Evaluate(d Delivery) (Result, error) {
	if !s.enabled {
		return Result{}, ErrDisabled
	}
	if err := s.authenticate(d); err != nil {
		return Result{}, err
	}
	event := strings.ToLower(strings.TrimSpace(d.Event))
	switch event {
	case EventPing:
		return Result{Outcome: OutcomePong, Reason: "pong"}, nil
	case EventPush:
	default:
		return Result{Outcome: OutcomeIgnored, Reason: fmt.Sprintf("event %q is not a push", d.Event)}, nil
	}

	var payload pushPayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	branch, ok := BranchFromRef(payload.Ref)
	if !ok {
		return Result{Outcome: OutcomeIgnored, Reason: fmt.Sprintf("ref %q is not a branch", payload.Ref)}, nil
	}
	if payload.Deleted {
		return Result{Outcome: OutcomeIgnored, Reason: fmt.Sprintf("branch %q was deleted", branch)}, nil
	}
	if payload.Repository == nil || (strings.TrimSpace(payload.Repository.FullName) == "" && strings.TrimSpace(payload.Repository.Name) == "") {
		return Result{}, fmt.Errorf("%w: repository is missing", ErrMalformed)
	}
	if s.projects.Len() == 0 {
		return Result{}, fmt.Errorf("%w: %v", ErrMisconfigured, errNoProjects)
	}

	push := domain.AutoDeployContext{
		RepositoryName:     strings.TrimSpace(payload.Repository.Name),
		RepositoryFullName: strings.TrimSpace(payload.Repository.FullName),
		Branch:             branch,
		CommitHash:         payload.After,
		Pusher:             firstNonEmpty(payload.Pusher.Name, payload.Sender.Login, payload.Pusher.Email),
	}
	if push.RepositoryName == "" {
		_, name, _ := strings.Cut(push.RepositoryFullName, "/")
		push.RepositoryName = name
	}
	if payload.HeadCommit != nil {
		push.CommitHash = firstNonEmpty(payload.HeadCommit.ID, push.CommitHash)
		push.CommitMessage = payload.HeadCommit.Message
	}
	return Result{Outcome: OutcomeDeploy, Push: &push}, nil
}

func (s Service) authenticate(d Delivery) error {
	hasToken, hasSecret := s.token != "", s.secret != ""
	if hasToken == hasSecret {
		s.logger.Error("auto deploy auth misconfigured", "token_set", hasToken, "secret_set", hasSecret)
		return fmt.Errorf("%w: configure exactly one of AUTO_DEPLOY_WEBHOOK_TOKEN or AUTO_DEPLOY_WEBHOOK_SECRET", ErrMisconfigured)
	}
	if hasToken {
		if !hmac.Equal([]byte(strings.TrimSpace(d.Token)), []byte(s.token)) {
			return fmt.Errorf("%w: invalid token", ErrUnauthorized)
		}
		return nil
	}
	if err := ValidateSignature(d.Body, []byte(s.secret), d.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}

// ValidateSignature checks a "sha256=<hex>" HMAC signature for payload.
func ValidateSignature(payload []byte, secret []byte, provided string) error {
	provided = strings.TrimSpace(provided)
	if provided == "" {
		return ErrMissingSig
	}
	digest, ok := strings.CutPrefix(provided, signaturePrefix)
	if !ok || len(digest) != sha256.Size*2 {
		return ErrInvalidSigFmt
	}
	got, err := hex.DecodeString(digest)
	if err != nil {
		return ErrInvalidSigFmt
	}
	hasher := hmac.New(sha256.New, secret)
	hasher.Write(payload)
	if !hmac.Equal(got, hasher.Sum(nil)) {
		return ErrInvalidSig
	}
	return nil
}

// Sign returns the signature header value for payload.
func Sign(payload []byte, secret []byte) string {
	hasher := hmac.New(sha256.New, secret)
	hasher.Write(payload)
	return signaturePrefix + hex.EncodeToString(hasher.Sum(nil))
}

// BranchFromRef extracts the branch from a refs/heads/ ref.
func BranchFromRef(ref string) (string, bool) {
	branch, ok := strings.CutPrefix(strings.TrimSpace(ref), branchRefPrefix)
	if !ok || branch == "" {
		return "", false
	}
	return branch, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
