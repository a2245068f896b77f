package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// YAML shapes for pack files produced by the authoring pipeline.

type filePack struct {
	ID            string     `yaml:"id"`
	Domain        string     `yaml:"domain"`
	Title         string     `yaml:"title"`
	Version       string     `yaml:"version"`
	EffectiveDate string     `yaml:"effective_date"`
	ReviewByDate  string     `yaml:"review_by_date"`
	Confidence    string     `yaml:"confidence"`
	SourceURL     string     `yaml:"source_url"`
	SupersededBy  string     `yaml:"superseded_by"`
	Rules         []fileRule `yaml:"rules"`
}

type fileRule struct {
	ID          string            `yaml:"id"`
	Topic       string            `yaml:"topic"`
	AppliesWhen string            `yaml:"applies_when"`
	Predicate   map[string]string `yaml:"predicate"`
	Advisory    string            `yaml:"advisory"`
	Authority   string            `yaml:"authority"` // optional override
	Citations   []fileCitation    `yaml:"citations"`
}

type fileCitation struct {
	Source    string `yaml:"source"`
	Section   string `yaml:"section"`
	Page      int    `yaml:"page"`
	Quote     string `yaml:"quote"`
	URL       string `yaml:"url"`
	Authority string `yaml:"authority"`
}

// NewFileSource loads every *.yaml pack file in dir into a MemorySource.
// Packs are immutable once loaded; redeploy to pick up new ones.
func NewFileSource(dir string, logger *zap.Logger) (*MemorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("NewFileSource: %w", err)
	}

	src := NewMemorySource()
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		pack, rules, err := loadPackFile(path)
		if err != nil {
			return nil, err
		}
		src.AddPack(pack, rules)
		loaded++
	}

	logger.Info("knowledge packs loaded",
		zap.String("dir", dir),
		zap.Int("packs", loaded),
	)
	return src, nil
}

func loadPackFile(path string) (*Pack, []Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loadPackFile: %w", err)
	}

	var fp filePack
	if err := yaml.Unmarshal(data, &fp); err != nil {
		return nil, nil, fmt.Errorf("loadPackFile: parse %s: %w", path, err)
	}
	if fp.ID == "" || fp.Domain == "" {
		return nil, nil, fmt.Errorf("loadPackFile: %s: id and domain are required", path)
	}

	effective, err := parseDate(fp.EffectiveDate)
	if err != nil {
		return nil, nil, fmt.Errorf("loadPackFile: %s: effective_date: %w", path, err)
	}
	reviewBy, err := parseDate(fp.ReviewByDate)
	if err != nil {
		return nil, nil, fmt.Errorf("loadPackFile: %s: review_by_date: %w", path, err)
	}

	confidence := Confidence(fp.Confidence)
	switch confidence {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceDraft:
	default:
		return nil, nil, fmt.Errorf("loadPackFile: %s: unknown confidence %q", path, fp.Confidence)
	}

	pack := &Pack{
		ID:            fp.ID,
		Domain:        fp.Domain,
		Title:         fp.Title,
		Version:       fp.Version,
		EffectiveDate: effective,
		ReviewByDate:  reviewBy,
		Confidence:    confidence,
		SourceURL:     fp.SourceURL,
		SupersededBy:  fp.SupersededBy,
	}

	rules := make([]Rule, 0, len(fp.Rules))
	for _, fr := range fp.Rules {
		citations := make([]Citation, 0, len(fr.Citations))
		for _, fc := range fr.Citations {
			citations = append(citations, Citation{
				Source:    fc.Source,
				Section:   fc.Section,
				Page:      fc.Page,
				Quote:     fc.Quote,
				URL:       fc.URL,
				Authority: Authority(fc.Authority),
			})
		}
		rules = append(rules, Rule{
			ID:                fr.ID,
			PackID:            fp.ID,
			Topic:             fr.Topic,
			AppliesWhen:       fr.AppliesWhen,
			Predicate:         fr.Predicate,
			Advisory:          fr.Advisory,
			Citations:         citations,
			AuthorityOverride: Authority(fr.Authority),
		})
	}

	return pack, rules, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}
