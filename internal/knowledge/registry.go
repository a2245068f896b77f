package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrPackNotFound is returned only for explicit pack-id lookups that miss.
// Domain queries with no published pack return an empty result instead.
var ErrPackNotFound = errors.New("knowledge pack not found")

// QueryOptions refines a knowledge query.
type QueryOptions struct {
	// PackID bypasses latest-pack resolution and queries a specific pack,
	// superseded or not.
	PackID string
	// Context is the caller's structured predicate context. When both a
	// rule and the caller provide one, matching is structural; otherwise
	// it falls back to text matching with a precision warning.
	Context map[string]string
}

// Registry answers deterministic knowledge queries against a Source.
type Registry struct {
	source Source
	logger *zap.Logger
	now    func() time.Time
}

// NewRegistry creates a Registry over the given source.
func NewRegistry(source Source, logger *zap.Logger) *Registry {
	return &Registry{
		source: source,
		logger: logger,
		now:    time.Now,
	}
}

// Query resolves the applicable pack, selects matching rules, and filters
// out any rule without a citation. "No rules found" is an empty result,
// never an error; errors are reserved for malformed input and storage
// failure.
func (r *Registry) Query(ctx context.Context, domain, topic string, opts QueryOptions) (*QueryResult, error) {
	if domain == "" {
		return nil, errors.New("Query: domain is required")
	}
	if topic == "" {
		return nil, errors.New("Query: topic is required")
	}

	result := &QueryResult{RetrievedAt: r.now().UTC()}

	pack, err := r.resolvePack(ctx, domain, opts.PackID)
	if err != nil {
		return nil, err
	}
	if pack == nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("no knowledge pack published for domain %q", domain))
		return result, nil
	}
	result.Pack = pack
	result.packResolved = true

	rules, err := r.source.PackRules(ctx, pack.ID)
	if err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}

	candidates, textFallback := selectRules(rules, topic, opts.Context)
	if textFallback {
		result.Warnings = append(result.Warnings,
			"structured predicate unavailable for one or more rules; matched on text only (reduced precision)")
	}

	// Citation partition: uncited rules are never returned.
	for _, rule := range candidates {
		if len(rule.Citations) == 0 {
			result.MissingCitationsCount++
			result.MissingRuleIDs = append(result.MissingRuleIDs, rule.ID)
			result.MissingRuleTopics = append(result.MissingRuleTopics, rule.Topic)
			continue
		}
		result.Rules = append(result.Rules, rule)
	}
	if result.MissingCitationsCount > 0 {
		result.CitationFilterMessage = fmt.Sprintf(
			"%d rule(s) withheld: no citations on record; consult the pack source at %s",
			result.MissingCitationsCount, pack.SourceURL)
	}

	result.Warnings = append(result.Warnings, packWarnings(pack, r.now().UTC())...)

	r.logger.Debug("knowledge query",
		zap.String("domain", domain),
		zap.String("topic", topic),
		zap.String("pack_id", pack.ID),
		zap.Int("rules", len(result.Rules)),
		zap.Int("withheld", result.MissingCitationsCount),
	)
	return result, nil
}

func (r *Registry) resolvePack(ctx context.Context, domain, packID string) (*Pack, error) {
	if packID != "" {
		pack, err := r.source.PackByID(ctx, packID)
		if err != nil {
			return nil, fmt.Errorf("resolvePack: %w", err)
		}
		if pack == nil {
			return nil, fmt.Errorf("resolvePack: %w: %s", ErrPackNotFound, packID)
		}
		return pack, nil
	}
	pack, err := r.source.LatestPack(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("resolvePack: %w", err)
	}
	return pack, nil
}

// selectRules returns rules whose topic matches, refined by predicate when
// both sides provide one. The second return reports whether any candidate
// fell back to text-only matching.
func selectRules(rules []Rule, topic string, callerCtx map[string]string) ([]Rule, bool) {
	var out []Rule
	textFallback := false
	for _, rule := range rules {
		if !topicMatches(rule.Topic, topic) {
			continue
		}
		if len(rule.Predicate) > 0 && len(callerCtx) > 0 {
			if !predicateMatches(rule.Predicate, callerCtx) {
				continue
			}
		} else if len(rule.Predicate) > 0 || len(callerCtx) > 0 {
			// Only one side has structure: keep the rule, note the
			// reduced precision.
			textFallback = true
		}
		out = append(out, rule)
	}
	return out, textFallback
}

func topicMatches(ruleTopic, queryTopic string) bool {
	rt := strings.ToLower(strings.TrimSpace(ruleTopic))
	qt := strings.ToLower(strings.TrimSpace(queryTopic))
	if rt == "" || qt == "" {
		return false
	}
	return rt == qt || strings.Contains(rt, qt) || strings.Contains(qt, rt)
}

// predicateMatches requires every rule predicate key to be present in the
// caller context with an equal value (case-insensitive).
func predicateMatches(pred, callerCtx map[string]string) bool {
	for k, want := range pred {
		got, ok := callerCtx[k]
		if !ok || !strings.EqualFold(strings.TrimSpace(got), strings.TrimSpace(want)) {
			return false
		}
	}
	return true
}

func packWarnings(pack *Pack, now time.Time) []string {
	var warnings []string
	if pack.SupersededBy != "" {
		warnings = append(warnings, fmt.Sprintf(
			"pack %s (%s) is superseded by %s; request the successor for current guidance",
			pack.ID, pack.Version, pack.SupersededBy))
	}
	if !pack.ReviewByDate.IsZero() && now.After(pack.ReviewByDate) && pack.Confidence != ConfidenceHigh {
		warnings = append(warnings, fmt.Sprintf(
			"pack %s passed its review-by date (%s); guidance may be stale",
			pack.ID, pack.ReviewByDate.Format("2006-01-02")))
	}
	switch pack.Confidence {
	case ConfidenceDraft:
		warnings = append(warnings, fmt.Sprintf(
			"pack %s is a draft; do not rely on it without human review", pack.ID))
	case ConfidenceMedium:
		warnings = append(warnings, fmt.Sprintf(
			"pack %s has medium confidence; cross-reference the cited sources", pack.ID))
	}
	return warnings
}
