package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cryptofx/api_gateway/internal/admission"
	"cryptofx/api_gateway/internal/identity"
	"cryptofx/api_gateway/internal/plans"
	pkgmw "cryptofx/pkg/middleware"
)

// KindFeatureUnavailable is the rejection kind of the feature gate.
const KindFeatureUnavailable admission.Kind = "FEATURE_NOT_AVAILABLE"

const contextSubject = "subject"

// Evaluator decides whether a request is admitted.
type Evaluator interface {
	Evaluate(ctx context.Context, req *http.Request, clientAddr string) admission.Decision
}

// Admission runs every request through the admission pipeline. Rejections
// abort with the decision's status and body; admitted requests carry the
// resolved subject in the gin context.
func Admission(p Evaluator) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Counters must reflect the decision even if the client disconnects.
		ctx := context.WithoutCancel(c.Request.Context())
		d := p.Evaluate(ctx, c.Request, c.ClientIP())

		for k, v := range d.Headers {
			c.Header(k, v)
		}
		if !d.Allowed {
			c.AbortWithStatusJSON(d.Status, d.Body)
			return
		}

		c.Set(contextSubject, d.Subject)
		c.Set(pkgmw.KeySubjectID, d.Subject.ID)
		c.Set(pkgmw.KeyPlan, string(d.Subject.Plan.Tier))
		c.Next()
	}
}

// SubjectFromContext returns the subject stored by Admission.
func SubjectFromContext(c *gin.Context) (identity.Subject, bool) {
	v, ok := c.Get(contextSubject)
	if !ok {
		return identity.Subject{}, false
	}
	s, ok := v.(identity.Subject)
	return s, ok
}

// PlanFromContext returns the caller's plan, or fallback when the request
// was not admitted through Admission.
func PlanFromContext(c *gin.Context, fallback plans.Plan) plans.Plan {
	if s, ok := SubjectFromContext(c); ok {
		return s.Plan
	}
	return fallback
}

// FeatureDetails is the detail block of a feature-gate rejection.
type FeatureDetails struct {
	Kind            admission.Kind `json:"kind"`
	RequiredFeature string         `json:"requiredFeature"`
	CurrentPlan     string         `json:"currentPlan"`
	UpgradeInfo     string         `json:"upgradeInfo"`
}

// FeatureError is the body of a feature-gate rejection.
type FeatureError struct {
	Success   bool           `json:"success"`
	Error     string         `json:"error"`
	Timestamp string         `json:"timestamp"`
	Details   FeatureDetails `json:"details"`
}

// RequireFeature rejects callers whose plan lacks feature with 403.
// Requests that did not pass through Admission are judged against the
// registry's free plan.
func RequireFeature(registry *plans.Registry, feature string) gin.HandlerFunc {
	return func(c *gin.Context) {
		plan := PlanFromContext(c, registry.Free())
		if plan.HasFeature(feature) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, FeatureError{
			Success:   false,
			Error:     "Feature not available in your plan",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Details: FeatureDetails{
				Kind:            KindFeatureUnavailable,
				RequiredFeature: feature,
				CurrentPlan:     string(plan.Tier),
				UpgradeInfo:     plan.FeatureUpgradeInfo(),
			},
		})
	}
}
