// Package identity resolves the caller of a request to a quota subject.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cryptofx/api_gateway/internal/keystore"
	"cryptofx/api_gateway/internal/plans"
	"cryptofx/pkg/logging"
)

// ErrInvalidCredential is returned when a presented key is unknown or
// inactive. Callers without any key are anonymous, not invalid.
var ErrInvalidCredential = errors.New("invalid or inactive API key")

// Credential carriers, in precedence order.
const (
	HeaderAuthorization = "Authorization"
	HeaderAPIKey        = "X-API-Key"
	HeaderRapidAPIKey   = "X-RapidAPI-Key"
	QueryAPIKey         = "api_key"
)

// Carrier names where a credential was found.
type Carrier string

const (
	CarrierNone     Carrier = ""
	CarrierBearer   Carrier = "bearer"
	CarrierAPIKey   Carrier = "x-api-key"
	CarrierRapidAPI Carrier = "x-rapidapi-key"
	CarrierQuery    Carrier = "query"
)

// Subject is the resolved caller. It is recomputed on every request.
type Subject struct {
	ID        string
	Plan      plans.Plan
	Anonymous bool
	// Key is the presented credential, empty for anonymous subjects.
	Key string
}

// ExtractCredential returns the first non-empty credential in carrier
// precedence order. Later carriers are not consulted once one matches.
func ExtractCredential(r *http.Request) (string, Carrier) {
	if auth := r.Header.Get(HeaderAuthorization); auth != "" {
		if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token, CarrierBearer
			}
		}
	}
	if key := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); key != "" {
		return key, CarrierAPIKey
	}
	if key := strings.TrimSpace(r.Header.Get(HeaderRapidAPIKey)); key != "" {
		return key, CarrierRapidAPI
	}
	if r.URL != nil {
		if key := strings.TrimSpace(r.URL.Query().Get(QueryAPIKey)); key != "" {
			return key, CarrierQuery
		}
	}
	return "", CarrierNone
}

// Resolver maps requests to subjects.
type Resolver struct {
	store        keystore.Store
	registry     *plans.Registry
	logger       logging.Logger
	touchTimeout time.Duration
	now          func() time.Time
}

// NewResolver builds a resolver over a key store and plan registry.
func NewResolver(store keystore.Store, registry *plans.Registry, logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Resolver{
		store:        store,
		registry:     registry,
		logger:       logger,
		touchTimeout: 2 * time.Second,
		now:          time.Now,
	}
}

// Resolve identifies the caller. clientAddr is the caller's network address
// and names anonymous subjects. Key store failures other than a missing key
// are returned wrapped and are not credential failures.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request, clientAddr string) (Subject, error) {
	key, carrier := ExtractCredential(req)
	if key == "" {
		return r.Anonymous(clientAddr), nil
	}

	cred, err := r.store.Lookup(ctx, key)
	if errors.Is(err, keystore.ErrNotFound) {
		return Subject{}, ErrInvalidCredential
	}
	if err != nil {
		return Subject{}, fmt.Errorf("resolve credential: %w", err)
	}
	if !cred.Active {
		return Subject{}, ErrInvalidCredential
	}

	r.touch(ctx, key)

	plan := r.registry.Lookup(cred.PlanTier)
	if !r.registry.Known(cred.PlanTier) {
		r.logger.WithFields(logging.Fields{
			"subject_id": cred.SubjectID,
			"plan_tier":  cred.PlanTier,
		}).Warn("Credential bound to unknown plan tier, using free plan")
	}

	r.logger.WithFields(logging.Fields{
		"subject_id": cred.SubjectID,
		"plan":       plan.Tier,
		"carrier":    carrier,
	}).Info("Authenticated request")

	return Subject{
		ID:   "user:" + cred.SubjectID,
		Plan: plan,
		Key:  key,
	}, nil
}

// Anonymous returns the free-plan subject for a network address.
func (r *Resolver) Anonymous(clientAddr string) Subject {
	return Subject{
		ID:        "anon:" + clientAddr,
		Plan:      r.registry.Free(),
		Anonymous: true,
	}
}

// touch records usage off the request path. A lost touch is acceptable.
func (r *Resolver) touch(ctx context.Context, key string) {
	at := r.now()
	go func() {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.touchTimeout)
		defer cancel()
		if err := r.store.Touch(tctx, key, at); err != nil {
			r.logger.WithError(err).WithField("key", keystore.Masked(key)).Debug("Failed to record API key usage")
		}
	}()
}
