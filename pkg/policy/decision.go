package policy

// Obligation is an advisory action the caller of an allow decision must
// perform. Ignoring one is a contract violation but not a deny.
type Obligation struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allow       bool                   `json:"allow"`
	Reason      string                 `json:"reason"`
	Obligations []Obligation           `json:"obligations,omitempty"`
	Proof       map[string]interface{} `json:"proof,omitempty"`
}

// Allowed builds an allow decision.
func Allowed(reason string) Decision {
	return Decision{Allow: true, Reason: reason}
}

// Denied builds a deny decision.
func Denied(reason string) Decision {
	return Decision{Allow: false, Reason: reason}
}

// WithObligation appends an obligation and returns the decision.
func (d Decision) WithObligation(obligationType, description string) Decision {
	d.Obligations = append(d.Obligations, Obligation{Type: obligationType, Description: description})
	return d
}

// WithProof attaches structured evidence and returns the decision.
func (d Decision) WithProof(proof map[string]interface{}) Decision {
	d.Proof = proof
	return d
}

// HasObligation reports whether an obligation of the given type is present.
func (d Decision) HasObligation(obligationType string) bool {
	for _, o := range d.Obligations {
		if o.Type == obligationType {
			return true
		}
	}
	return false
}
