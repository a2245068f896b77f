// Package knowledge serves deterministic, citation-backed guidance from
// versioned packs. Answers come from fixed rule lookup, never from a
// generative model; a rule without at least one citation is never returned.
package knowledge

import (
	"time"

	"github.com/brightclass/steward/internal/telemetry"
)

// Confidence is the authoring pipeline's assessment of a pack.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceDraft  Confidence = "draft"
)

// Authority ranks how binding a citation's source is.
type Authority string

const (
	AuthorityStatutory     Authority = "statutory"
	AuthorityGuidance      Authority = "guidance"
	AuthorityLocalPolicy   Authority = "local_policy"
	AuthorityTrustStandard Authority = "trust_standard"
)

// Rank orders authority levels: statutory > guidance > local_policy >
// trust_standard. Unknown levels rank lowest.
func (a Authority) Rank() int {
	switch a {
	case AuthorityStatutory:
		return 4
	case AuthorityGuidance:
		return 3
	case AuthorityLocalPolicy:
		return 2
	case AuthorityTrustStandard:
		return 1
	default:
		return 0
	}
}

// Pack is one versioned knowledge pack for a domain.
// Created by the authoring pipeline; read-only here.
type Pack struct {
	ID            string
	Domain        string
	Title         string
	Version       string
	EffectiveDate time.Time
	ReviewByDate  time.Time
	Confidence    Confidence
	SourceURL     string
	SupersededBy  string // pack id of the successor, empty if current
}

// Citation points a rule at its source material.
type Citation struct {
	Source    string
	Section   string
	Page      int    // 0 when not applicable
	Quote     string // short verbatim excerpt, bounded by the authoring pipeline
	URL       string
	Authority Authority
}

// Rule is one advisory entry in a pack.
type Rule struct {
	ID          string
	PackID      string
	Topic       string
	AppliesWhen string            // free-text applicability description
	Predicate   map[string]string // optional structured applicability
	Advisory    string
	Citations   []Citation
	// AuthorityOverride pins the rule's authority level; when empty the
	// level derives from the highest-ranked citation.
	AuthorityOverride Authority
}

// AuthorityLevel returns the rule's effective authority.
func (r *Rule) AuthorityLevel() Authority {
	if r.AuthorityOverride != "" {
		return r.AuthorityOverride
	}
	best := Authority("")
	for _, c := range r.Citations {
		if c.Authority.Rank() > best.Rank() {
			best = c.Authority
		}
	}
	return best
}

// QueryResult is the deterministic answer to a knowledge query.
type QueryResult struct {
	Rules                 []Rule
	Pack                  *Pack // nil when no pack resolved
	Warnings              []string
	RetrievedAt           time.Time
	MissingCitationsCount int
	MissingRuleIDs        []string
	MissingRuleTopics     []string
	CitationFilterMessage string

	// packResolved distinguishes "pack found, no matching rules" from
	// "no pack for domain" when classifying telemetry outcomes.
	packResolved bool
}

// TelemetryOutcome classifies the result for the telemetry ledger.
func (q *QueryResult) TelemetryOutcome() telemetry.Outcome {
	switch {
	case !q.packResolved:
		return telemetry.OutcomeInsufficientData
	case len(q.Rules) > 0:
		return telemetry.OutcomeSuccess
	case q.MissingCitationsCount > 0:
		return telemetry.OutcomeRulesFilteredNoCite
	default:
		return telemetry.OutcomeNoRulesFound
	}
}
