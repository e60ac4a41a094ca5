package policy

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// HIPAA implements an actor-aware subset of the HIPAA privacy and security
// rules. It is a reference ruleset; decisions carry the triggering
// regulatory citation in their proof.
type HIPAA struct {
	name    string
	version string
	clock   func() time.Time
}

// NewHIPAA builds the policy.
func NewHIPAA(name, version string) *HIPAA {
	if name == "" {
		name = "hipaa"
	}
	if version == "" {
		version = "1.0.0"
	}
	return &HIPAA{name: name, version: version, clock: time.Now}
}

func hipaaFactory(name, version string, _ map[string]interface{}) (Policy, error) {
	return NewHIPAA(name, version), nil
}

func (p *HIPAA) Name() string    { return p.name }
func (p *HIPAA) Version() string { return p.version }

// permittedElements maps HIPAA roles to the data elements they may request
// outside of treatment. full_record short-circuits the subset check.
var permittedElements = map[string][]string{
	"provider": {"full_record"},
	"payee":    {"demographics", "billing_codes", "dates_of_service", "insurance_info"},
	"admin":    {"full_record"},
}

func (p *HIPAA) Evaluate(ctx context.Context, pc Context) (Decision, error) {
	resource := pc.Sub("resource")

	if !resource.Bool("is_phi") {
		return Allowed("Policy does not apply to non-PHI resources."), nil
	}

	if pc.Bool("is_emergency_access") {
		return Allowed("Access permitted under emergency provisions.").
			WithObligation("audit_log", fmt.Sprintf(
				"EMERGENCY access to PHI by %s was permitted.", pc.Sub("user").String("id"))).
			WithObligation("follow_up",
				"Document the nature of the emergency and what was disclosed.").
			WithProof(map[string]interface{}{
				"policy":   p.name,
				"citation": "§ 164.510 / § 164.512(j)",
			}), nil
	}

	if d, decided, err := p.patientRights(pc); err != nil {
		return Decision{}, err
	} else if decided {
		return d, nil
	}
	if d, decided := p.authorizations(pc); decided {
		return d, nil
	}
	return p.actorRules(pc), nil
}

// patientRights handles patient-requested restrictions and the 50-year
// post-mortem release.
func (p *HIPAA) patientRights(pc Context) (Decision, bool, error) {
	patient := pc.Sub("patient")

	if patient.Bool("has_restriction") {
		restriction := patient.Sub("restriction_details")
		if restriction.String("action") == pc.String("action") &&
			restriction.String("recipient") == pc.Sub("recipient").String("id") {
			return Denied("Disclosure is blocked by a patient-requested restriction.").
				WithProof(map[string]interface{}{
					"policy":   p.name,
					"citation": "§ 164.522(a)(1)",
				}), true, nil
		}
	}

	if patient.Bool("is_deceased") {
		if dod := patient.String("date_of_death"); dod != "" {
			dateOfDeath, err := time.Parse("2006-01-02", dod)
			if err != nil {
				return Decision{}, false, fmt.Errorf("hipaa: parse date_of_death: %w", err)
			}
			if p.clock().After(dateOfDeath.AddDate(50, 0, 0)) {
				return Allowed("Patient deceased for over 50 years; information is not considered PHI.").
					WithProof(map[string]interface{}{
						"policy":   p.name,
						"citation": "§ 164.502(f)",
					}), true, nil
			}
		}
	}
	return Decision{}, false, nil
}

// authorizations covers uses that require explicit patient authorization.
func (p *HIPAA) authorizations(pc Context) (Decision, bool) {
	resource := pc.Sub("resource")
	request := pc.Sub("request")
	purpose := strings.ToLower(pc.String("purpose"))

	if resource.String("type") == "psychotherapy_notes" && purpose != "treatment" &&
		!request.Bool("authorization_present") {
		return Denied("Disclosure of psychotherapy notes requires specific patient authorization.").
			WithProof(map[string]interface{}{
				"policy":   p.name,
				"citation": "§ 164.508(a)(2)",
			}), true
	}

	if (purpose == "marketing" || purpose == "sale_of_phi") && !request.Bool("authorization_present") {
		return Denied(fmt.Sprintf("Purpose '%s' requires patient authorization.", purpose)).
			WithProof(map[string]interface{}{
				"policy":   p.name,
				"citation": "§ 164.508(a)(3-4)",
			}), true
	}
	return Decision{}, false
}

func (p *HIPAA) actorRules(pc Context) Decision {
	userRoles := pc.Sub("user").Strings("roles")
	switch {
	case contains(userRoles, "provider"):
		return p.providerAccess(pc)
	case contains(userRoles, "payee"):
		return p.payeeAccess(pc)
	case contains(userRoles, "patient"):
		return p.patientSelfAccess(pc)
	}
	return Denied("User does not have a recognized HIPAA actor role (provider, payee, patient).")
}

func (p *HIPAA) providerAccess(pc Context) Decision {
	if d := p.minimumNecessary(pc); !d.Allow {
		return d
	}

	d := Allowed("Provider access permitted for a valid purpose.").
		WithObligation("audit_log", fmt.Sprintf("Provider %s accessed PHI for %s.",
			pc.Sub("user").String("id"), pc.String("purpose")))
	if pc.String("action") == "disclose" {
		d = d.WithObligation("transmission_security", "PHI disclosure must be encrypted.")
	}
	return d.WithProof(map[string]interface{}{
		"policy":    p.name,
		"actor":     "provider",
		"citations": []string{"164.502(b)", "164.308(a)(1)(ii)(D)", "164.312(e)(1)"},
	})
}

func (p *HIPAA) payeeAccess(pc Context) Decision {
	resource := pc.Sub("resource")
	action := pc.String("action")

	if resource.Bool("is_clinical") && (action == "write" || action == "delete") {
		return Denied("Payee role is prohibited from modifying clinical PHI to ensure data integrity.").
			WithProof(map[string]interface{}{
				"policy":   p.name,
				"actor":    "payee",
				"citation": "164.312(c)(1)",
			})
	}

	if d := p.minimumNecessary(pc); !d.Allow {
		return d
	}

	d := Allowed("Payee access to non-clinical data permitted.").
		WithObligation("audit_log", fmt.Sprintf("Payee %s accessed PHI for %s.",
			pc.Sub("user").String("id"), pc.String("purpose")))
	if action == "export" {
		d = d.WithObligation("encryption", "Exported PHI must be encrypted.")
	}
	return d.WithProof(map[string]interface{}{
		"policy":    p.name,
		"actor":     "payee",
		"citations": []string{"164.502(b)", "164.312(a)(2)(iv)"},
	})
}

func (p *HIPAA) patientSelfAccess(pc Context) Decision {
	user := pc.Sub("user")
	patient := pc.Sub("patient")

	if user.String("id") != patient.String("id") {
		return Denied("Patient role can only access their own records.")
	}

	d := Allowed("Patient has a right of access to their own PHI; minimum necessary does not apply.").
		WithObligation("audit_log", fmt.Sprintf("Patient %s accessed their own PHI.", user.String("id")))
	if pc.String("action") == "export" {
		d = d.WithObligation("encryption", "Exported PHI must be provided securely/encrypted.")
	}
	return d.WithProof(map[string]interface{}{
		"policy":    p.name,
		"actor":     "patient",
		"citations": []string{"164.524", "164.312(a)(2)(iv)"},
	})
}

// minimumNecessary enforces § 164.502(b): outside of treatment, the
// requested data elements must stay within the role's permitted set.
func (p *HIPAA) minimumNecessary(pc Context) Decision {
	if strings.ToLower(pc.String("purpose")) == "treatment" {
		return Allowed("Minimum Necessary does not apply to disclosures for treatment.")
	}

	userRoles := pc.Sub("user").Strings("roles")
	permitted := make(map[string]struct{})
	for _, role := range userRoles {
		elements, ok := permittedElements[role]
		if !ok {
			continue
		}
		if contains(elements, "full_record") {
			return Allowed("User role permits access to the full record.")
		}
		for _, element := range elements {
			permitted[element] = struct{}{}
		}
	}

	requested := pc.Sub("resource").Strings("data_elements")
	for _, element := range requested {
		if _, ok := permitted[element]; !ok {
			permittedList := make([]string, 0, len(permitted))
			for e := range permitted {
				permittedList = append(permittedList, e)
			}
			return Denied("Request exceeds the minimum necessary information for the user's role.").
				WithProof(map[string]interface{}{
					"policy":             p.name,
					"citation":           "§ 164.502(b)",
					"user_roles":         userRoles,
					"permitted_elements": permittedList,
					"requested_elements": requested,
				})
		}
	}
	return Allowed("Minimum Necessary check passed.")
}
