package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

const packFixture = `id: safeguarding-2026-v1
domain: safeguarding
title: Keeping children safe
version: "1.0"
effective_date: "2026-01-01"
review_by_date: "2027-01-01"
confidence: high
source_url: https://example.gov.uk/kcsie
rules:
  - id: r-dsl
    topic: designated safeguarding lead
    applies_when: any concern about a child is raised
    advisory: Report the concern to the designated safeguarding lead the same day.
    citations:
      - source: Keeping children safe in education
        section: "1.14"
        page: 12
        quote: report to the designated safeguarding lead
        url: https://example.gov.uk/kcsie#1.14
        authority: statutory
  - id: r-record
    topic: record keeping
    applies_when: a concern has been reported
    predicate:
      phase: primary
    advisory: Record the concern in the safeguarding log within 24 hours.
    authority: local_policy
    citations:
      - source: Trust safeguarding policy
        section: "3"
        authority: local_policy
`

func TestNewFileSource(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "safeguarding.yaml"), []byte(packFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	// Non-yaml files are skipped
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("notes"), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := NewFileSource(dir, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	pack, err := src.LatestPack(context.Background(), "safeguarding")
	if err != nil {
		t.Fatal(err)
	}
	if pack == nil || pack.ID != "safeguarding-2026-v1" {
		t.Fatalf("pack: %+v", pack)
	}
	if pack.Confidence != ConfidenceHigh {
		t.Fatalf("confidence: %s", pack.Confidence)
	}
	if pack.EffectiveDate.Format("2006-01-02") != "2026-01-01" {
		t.Fatalf("effective date: %s", pack.EffectiveDate)
	}

	rules, err := src.PackRules(context.Background(), pack.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 2 {
		t.Fatalf("rules: %d", len(rules))
	}
	if rules[0].Citations[0].Authority != AuthorityStatutory {
		t.Fatalf("citation authority: %s", rules[0].Citations[0].Authority)
	}
	if rules[1].Predicate["phase"] != "primary" {
		t.Fatalf("predicate: %v", rules[1].Predicate)
	}
	if rules[1].AuthorityLevel() != AuthorityLocalPolicy {
		t.Fatalf("override authority: %s", rules[1].AuthorityLevel())
	}
}

func TestNewFileSource_RejectsBadConfidence(t *testing.T) {
	dir := t.TempDir()
	bad := `id: p1
domain: d1
confidence: certain
`
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileSource(dir, zap.NewNop()); err == nil {
		t.Fatal("expected error for unknown confidence")
	}
}

func TestNewFileSource_RequiresIDAndDomain(t *testing.T) {
	dir := t.TempDir()
	bad := `title: no identity
confidence: high
`
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileSource(dir, zap.NewNop()); err == nil {
		t.Fatal("expected error for missing id/domain")
	}
}
