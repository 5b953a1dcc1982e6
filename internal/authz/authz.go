// README: Role and ownership checks evaluated by an embedded OPA Rego policy.
package authz

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"campusride/internal/domain"
	"campusride/internal/types"
)

type Action string

const (
	RideCreate     Action = "ride.create"
	RideUpdate     Action = "ride.update"
	RideCancel     Action = "ride.cancel"
	RideStart      Action = "ride.start"
	RideComplete   Action = "ride.complete"
	RideSendUpdate Action = "ride.send_update"
	BookingCreate  Action = "booking.create"
	BookingRespond Action = "booking.respond"
	BookingCancel  Action = "booking.cancel"
	ReviewCreate   Action = "review.create"

	BookingListByDriver    Action = "booking.list_by_driver"
	BookingListByPassenger Action = "booking.list_by_passenger"
	ReviewListByReviewer   Action = "review.list_by_reviewer"
)

const (
	allowQuery       = "data.campusride.authz.allow"
	policyModuleName = "campusride/authz.rego"
)

//go:embed policy.rego
var policySource string

// Resource carries the ownership facts of the entity being acted on.
type Resource struct {
	DriverID    types.ID
	PassengerID types.ID
}

type Request struct {
	Action   Action
	Actor    types.Identity
	Resource Resource
}

type Authorizer interface {
	Authorize(ctx context.Context, req Request) error
}

// Policy evaluates requests against the compiled Rego module.
type Policy struct {
	query rego.PreparedEvalQuery
}

func NewPolicy(ctx context.Context) (*Policy, error) {
	return NewPolicyFromSource(ctx, policySource)
}

// NewPolicyFromSource compiles a custom module exposing data.campusride.authz.allow.
func NewPolicyFromSource(ctx context.Context, src string) (*Policy, error) {
	q, err := rego.New(
		rego.Query(allowQuery),
		rego.Module(policyModuleName, src),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile authz policy: %w", err)
	}
	return &Policy{query: q}, nil
}

// Authorize returns a NotAuthorizedError unless the policy allows the request.
func (p *Policy) Authorize(ctx context.Context, req Request) error {
	rs, err := p.query.Eval(ctx, rego.EvalInput(input(req)))
	if err != nil {
		return fmt.Errorf("evaluate authz policy for %s: %w", req.Action, err)
	}
	if !rs.Allowed() {
		return &domain.NotAuthorizedError{Action: string(req.Action)}
	}
	return nil
}

func input(req Request) map[string]any {
	return map[string]any{
		"action": string(req.Action),
		"actor": map[string]any{
			"id":              string(req.Actor.ID),
			"role":            string(req.Actor.Role),
			"driver_verified": req.Actor.DriverVerified,
		},
		"resource": map[string]any{
			"driver_id":    string(req.Resource.DriverID),
			"passenger_id": string(req.Resource.PassengerID),
		},
	}
}
