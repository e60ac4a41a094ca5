package reflexive

import (
	"fmt"
	"sort"
)

// Scenario is a predefined risk situation used to exercise the reflexive
// core through simulation without touching the ledger.
type Scenario struct {
	Name              string         `json:"name"`
	ActionContext     *ActionContext `json:"action_context"`
	ExpectedDecision  DecisionType   `json:"expected_decision"`
	ExpectedRiskLevel RiskLevel      `json:"expected_risk_level"`
}

type scenarioBuilder func(params map[string]interface{}) *Scenario

func paramString(params map[string]interface{}, key, fallback string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

var scenarioBuilders = map[string]scenarioBuilder{
	"admin_privilege_escalation": func(params map[string]interface{}) *Scenario {
		return &Scenario{
			Name: "admin_privilege_escalation",
			ActionContext: &ActionContext{
				ActionID:   "admin_escalation_admin_privilege_escalation",
				ActorID:    paramString(params, "actor_type", "guest_user"),
				ActionType: "admin_access",
				ResourceID: paramString(params, "target_resource", "admin_panel"),
				Metadata: map[string]interface{}{
					"privilege_level":    "admin",
					"escalation_attempt": true,
				},
			},
			ExpectedDecision:  DecisionHalt,
			ExpectedRiskLevel: RiskHigh,
		}
	},
	"suspicious_activity": func(params map[string]interface{}) *Scenario {
		return &Scenario{
			Name: "suspicious_activity",
			ActionContext: &ActionContext{
				ActionID:   "suspicious_suspicious_activity",
				ActorID:    paramString(params, "actor_type", "suspicious_user"),
				ActionType: "data_access",
				ResourceID: paramString(params, "target_resource", "sensitive_data"),
				Metadata: map[string]interface{}{
					"access_pattern": "unusual",
					"time_of_day":    "off_hours",
				},
			},
			ExpectedDecision:  DecisionEscalate,
			ExpectedRiskLevel: RiskMedium,
		}
	},
	"integrity_violation": func(params map[string]interface{}) *Scenario {
		return &Scenario{
			Name: "integrity_violation",
			ActionContext: &ActionContext{
				ActionID:   "integrity_integrity_violation",
				ActorID:    "system",
				ActionType: "ledger_modification",
				ResourceID: "provenance_ledger",
				Metadata: map[string]interface{}{
					"modification_type": "unauthorized",
					"integrity_check":   "failed",
				},
			},
			ExpectedDecision:  DecisionHalt,
			ExpectedRiskLevel: RiskCritical,
		}
	},
	"rate_limit_exceeded": func(params map[string]interface{}) *Scenario {
		return &Scenario{
			Name: "rate_limit_exceeded",
			ActionContext: &ActionContext{
				ActionID:   "rate_limit_rate_limit_exceeded",
				ActorID:    paramString(params, "actor_type", "high_frequency_user"),
				ActionType: "api_call",
				ResourceID: "api_endpoint",
				Metadata: map[string]interface{}{
					"request_count": 1000,
					"time_window":   "1_minute",
				},
			},
			ExpectedDecision:  DecisionEscalate,
			ExpectedRiskLevel: RiskMedium,
		}
	},
}

// NewScenario synthesizes a named risk scenario. Parameters override the
// default actor and resource where the scenario supports it.
func NewScenario(name string, params map[string]interface{}) (*Scenario, error) {
	builder, ok := scenarioBuilders[name]
	if !ok {
		return nil, fmt.Errorf("reflexive: unknown scenario %q", name)
	}
	return builder(params), nil
}

// ScenarioNames lists the available scenario names in sorted order.
func ScenarioNames() []string {
	names := make([]string, 0, len(scenarioBuilders))
	for name := range scenarioBuilders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
