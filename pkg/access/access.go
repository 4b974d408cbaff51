package access

import (
	"context"
	"fmt"

	"britepool/pkg/config"
	"britepool/pkg/identity"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("access", fx.Provide(NewFromConfig))

const (
	ObjectParticipation = "participation"

	ActionReview = "review"
	ActionDecide = "decide"
)

const defaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

const defaultPolicy = `
p, steward, participation, review
p, steward, participation, decide
g, admin, steward
`

// Owned is anything attributed to a member, such as a participation entry.
type Owned interface {
	OwnerID() string
}

type Approver interface {
	CanReview(ctx context.Context, actor identity.Actor) (bool, error)
	CanApprove(ctx context.Context, actor identity.Actor, target Owned) (bool, error)
}

type casbinApprover struct {
	enforcer *casbin.Enforcer
}

// NewFromConfig loads the model and policy files named by ACCESS_CONTROL and
// falls back to the built-in steward/admin policy.
func NewFromConfig(cfg *config.Config) (Approver, error) {
	ac := cfg.AccessControl
	if ac.Model != "" && ac.Policy != "" {
		e, err := casbin.NewEnforcer(ac.Model, ac.Policy)
		if err != nil {
			return nil, fmt.Errorf("load access control files: %w", err)
		}
		zap.L().Info("[Access] policy loaded from files", zap.String("model", ac.Model), zap.String("policy", ac.Policy))
		return &casbinApprover{enforcer: e}, nil
	}
	return NewDefault()
}

func NewDefault() (Approver, error) {
	return NewFromStrings(defaultModel, defaultPolicy)
}

func NewFromStrings(modelText, policy string) (Approver, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("parse access model: %w", err)
	}
	e, err := casbin.NewEnforcer(m, stringadapter.NewAdapter(policy))
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}
	return &casbinApprover{enforcer: e}, nil
}

func (a *casbinApprover) CanReview(_ context.Context, actor identity.Actor) (bool, error) {
	if actor.Role == "" {
		return false, nil
	}
	return a.enforcer.Enforce(actor.Role, ObjectParticipation, ActionReview)
}

// CanApprove never lets a member decide on their own entry, whatever the role.
func (a *casbinApprover) CanApprove(_ context.Context, actor identity.Actor, target Owned) (bool, error) {
	if actor.Role == "" || actor.MemberID == "" {
		return false, nil
	}
	if target != nil && target.OwnerID() == actor.MemberID {
		return false, nil
	}
	return a.enforcer.Enforce(actor.Role, ObjectParticipation, ActionDecide)
}
