package environment

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/polarisops/gcp-common/errors"
)

// ValueAttribute is the metadata key holding the declared environments.
const ValueAttribute = "value"

// ConditionMetadata is the declarative configuration a condition was
// declared with: attribute values keyed by attribute name. A nil attribute
// map means the condition was never declared at all.
type ConditionMetadata struct {
	Attributes map[string]any
}

// ProviderRegistry resolves the environment provider for a condition.
// Lookup failures propagate to the caller unmodified.
type ProviderRegistry interface {
	EnvironmentProvider() (Provider, error)
}

// ProviderRegistryFunc adapts a lookup function to ProviderRegistry.
type ProviderRegistryFunc func() (Provider, error)

func (f ProviderRegistryFunc) EnvironmentProvider() (Provider, error) {
	return f()
}

// StaticRegistry is a ProviderRegistry over a fixed provider reference.
type StaticRegistry struct {
	Provider Provider
}

func (r StaticRegistry) EnvironmentProvider() (Provider, error) {
	return r.Provider, nil
}

// ConditionContext carries the collaborators available to a condition at
// evaluation time.
type ConditionContext struct {
	Registry ProviderRegistry
}

// Outcome is the result of a condition evaluation: whether the declared
// environments match the current one, and a human-readable explanation.
type Outcome struct {
	Match   bool
	Message string
}

// OnGcpEnvironmentCondition activates configuration only when the current
// environment is one of the declared set. Stateless: every evaluation
// re-queries the provider exactly once.
type OnGcpEnvironmentCondition struct{}

// MatchOutcome decides whether the declared environments include the one
// the provider reports. Each violated precondition fails fast with its own
// fixed diagnostic; the wording is part of the contract.
func (OnGcpEnvironmentCondition) MatchOutcome(ctx context.Context, condCtx *ConditionContext, metadata *ConditionMetadata) (Outcome, error) {
	if condCtx == nil {
		return Outcome{}, errors.InvalidArgument("Application context cannot be null.")
	}
	if metadata == nil {
		return Outcome{}, errors.InvalidArgument("AnnotationTypeMetadata cannot be null.")
	}
	if condCtx.Registry == nil {
		return Outcome{}, errors.InvalidArgument("Bean factory cannot be null.")
	}

	targets, err := metadata.environments()
	if err != nil {
		return Outcome{}, err
	}

	provider, err := condCtx.Registry.EnvironmentProvider()
	if err != nil {
		return Outcome{}, err
	}
	if provider == nil {
		return Outcome{}, errors.InvalidArgument("GcpEnvironmentProvider not found in context.")
	}

	current := provider.CurrentEnvironment(ctx)
	if lo.Contains(targets, current) {
		return Outcome{Match: true, Message: fmt.Sprintf("Application is running on %v", current)}, nil
	}

	names := lo.Map(targets, func(e Environment, _ int) string { return e.String() })
	return Outcome{Match: false, Message: fmt.Sprintf("Application is not running on any of %s", strings.Join(names, ", "))}, nil
}

func (m *ConditionMetadata) environments() ([]Environment, error) {
	if m.Attributes == nil {
		return nil, errors.InvalidArgument("@ConditionalOnGcpEnvironment annotation not declared on type.")
	}
	raw := m.Attributes[ValueAttribute]
	if raw == nil {
		return nil, errors.InvalidArgument("Value attribute of ConditionalOnGcpEnvironment cannot be null.")
	}
	// A wrong attribute shape is a distinct error kind, surfaced as-is
	// rather than folded into the invalid-argument family.
	targets, ok := raw.([]Environment)
	if !ok {
		return nil, errors.New(errors.KindTypeMismatch, fmt.Sprintf("value of type %T cannot be cast to []environment.Environment", raw))
	}
	return targets, nil
}
