// Package profile loads site profiles: the selectors, rules and output
// settings that turn the generic engine into a scraper for one site.
package profile

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitescraper/internal/crawler"
	"github.com/JakeFAU/sitescraper/internal/extract"
	"github.com/JakeFAU/sitescraper/internal/sink"
)

// KeyPlaceholder is replaced by the lookup key in Lookup.URLTemplate.
const KeyPlaceholder = "{key}"

// Profile describes one site.
type Profile struct {
	Name        string               `mapstructure:"name"`
	Lookup      LookupConfig         `mapstructure:"lookup"`
	Catalog     CatalogConfig        `mapstructure:"catalog"`
	Fields      []extract.Rule       `mapstructure:"fields"`
	Pairs       extract.PairShape    `mapstructure:"pairs"`
	Series      []extract.SeriesRule `mapstructure:"series"`
	Significant []string             `mapstructure:"significant"`
	Output      OutputConfig         `mapstructure:"output"`
}

// LookupConfig drives keyed lookups: one page per input key.
type LookupConfig struct {
	URLTemplate     string   `mapstructure:"url_template"`
	NotFoundMarkers []string `mapstructure:"not_found_markers"`
	KeyColumn       string   `mapstructure:"key_column"`
}

// CatalogConfig drives hierarchical catalog crawls.
type CatalogConfig struct {
	RootURL       string `mapstructure:"root_url"`
	RootName      string `mapstructure:"root_name"`
	CategoryLink  string `mapstructure:"category_link"`
	MinNameLength int    `mapstructure:"min_name_length"`
	ItemContainer string `mapstructure:"item_container"`
	ItemFallback  string `mapstructure:"item_fallback"`
	DetailLink    string `mapstructure:"detail_link"`
	Code          string `mapstructure:"code"`
	Title         string `mapstructure:"title"`
	FollowDetail  bool   `mapstructure:"follow_detail"`
	MaxDepth      int    `mapstructure:"max_depth"`
	MaxSiblings   int    `mapstructure:"max_siblings"`
	KeyColumn     string `mapstructure:"key_column"`
}

// OutputConfig places the result files.
type OutputConfig struct {
	Path            string `mapstructure:"path"`
	Delimiter       string `mapstructure:"delimiter"`
	TimestampColumn string `mapstructure:"timestamp_column"`
	MissingPath     string `mapstructure:"missing_path"`
}

// Load reads and validates the profile at path.
func Load(path string) (Profile, error) {
	if strings.TrimSpace(path) == "" {
		return Profile{}, errors.New("profile path is required")
	}
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	if err := v.Unmarshal(&p); err != nil {
		return Profile{}, fmt.Errorf("unmarshal profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("lookup.key_column", "key")
	v.SetDefault("catalog.key_column", "key")
	v.SetDefault("catalog.max_depth", crawler.DefaultMaxDepth)
	v.SetDefault("catalog.max_siblings", crawler.DefaultMaxSiblings)
	v.SetDefault("catalog.min_name_length", 3)
	v.SetDefault("output.delimiter", ";")
	v.SetDefault("output.timestamp_column", sink.DefaultTimestampColumn)
}

// Validate checks the profile and compiles its rules once so selector and
// transform errors surface before any fetch.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("name is required")
	}
	if !p.HasLookup() && !p.HasCatalog() {
		return errors.New("lookup.url_template or catalog.root_url is required")
	}
	if p.HasLookup() && !strings.Contains(p.Lookup.URLTemplate, KeyPlaceholder) {
		return fmt.Errorf("lookup.url_template must contain %s", KeyPlaceholder)
	}
	if p.HasCatalog() {
		if _, err := url.ParseRequestURI(p.Catalog.RootURL); err != nil {
			return fmt.Errorf("catalog.root_url: %w", err)
		}
		if p.Catalog.ItemContainer == "" && p.Catalog.CategoryLink == "" {
			return errors.New("catalog needs item_container or category_link")
		}
		if p.Catalog.MaxDepth < 0 || p.Catalog.MaxSiblings < 0 {
			return errors.New("catalog.max_depth and catalog.max_siblings must be >= 0")
		}
	}
	if strings.TrimSpace(p.Output.Path) == "" {
		return errors.New("output.path is required")
	}
	if _, err := p.Delimiter(); err != nil {
		return err
	}
	if _, err := p.NewExtractor(); err != nil {
		return fmt.Errorf("fields: %w", err)
	}
	if p.HasCatalog() {
		if _, err := p.NewClassifier(); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
	}
	return nil
}

// HasLookup reports whether the profile supports keyed lookups.
func (p Profile) HasLookup() bool { return strings.TrimSpace(p.Lookup.URLTemplate) != "" }

// HasCatalog reports whether the profile supports catalog crawls.
func (p Profile) HasCatalog() bool { return strings.TrimSpace(p.Catalog.RootURL) != "" }

// FieldMap returns the extraction rules.
func (p Profile) FieldMap() extract.FieldMap {
	return extract.FieldMap{
		Rules:       p.Fields,
		Pairs:       p.Pairs,
		Series:      p.Series,
		Significant: p.Significant,
	}
}

// NewExtractor compiles the field map.
func (p Profile) NewExtractor() (*extract.Extractor, error) {
	return extract.New(p.FieldMap())
}

// Columns returns the record columns written after the key.
func (p Profile) Columns() []string {
	return p.FieldMap().Columns()
}

// Delimiter returns the output delimiter rune.
func (p Profile) Delimiter() (rune, error) {
	switch p.Output.Delimiter {
	case "", ";":
		return ';', nil
	case ",":
		return ',', nil
	default:
		return 0, fmt.Errorf("output.delimiter must be ';' or ',', got %q", p.Output.Delimiter)
	}
}

// LookupURL renders the lookup URL for key.
func (p Profile) LookupURL(key string) string {
	return strings.ReplaceAll(p.Lookup.URLTemplate, KeyPlaceholder, url.PathEscape(strings.TrimSpace(key)))
}

// NotFound reports whether text carries one of the not-found markers.
func (p Profile) NotFound(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range p.Lookup.NotFoundMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" && strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// KeyColumn returns the key column for the given mode.
func (p Profile) KeyColumn(catalog bool) string {
	if catalog {
		return p.Catalog.KeyColumn
	}
	return p.Lookup.KeyColumn
}

// SinkConfig describes the main output file.
func (p Profile) SinkConfig(catalog, reset bool, logger *zap.Logger) sink.Config {
	delim, _ := p.Delimiter()
	return sink.Config{
		Path:            p.Output.Path,
		KeyColumn:       p.KeyColumn(catalog),
		Columns:         p.Columns(),
		TimestampColumn: p.Output.TimestampColumn,
		Delimiter:       delim,
		Reset:           reset,
		Logger:          logger,
	}
}

// MissingSinkConfig describes the side file of keys without information.
// ok is false when the profile has none.
func (p Profile) MissingSinkConfig(reset bool, logger *zap.Logger) (sink.Config, bool) {
	if strings.TrimSpace(p.Output.MissingPath) == "" {
		return sink.Config{}, false
	}
	delim, _ := p.Delimiter()
	return sink.Config{
		Path:            p.Output.MissingPath,
		KeyColumn:       p.Lookup.KeyColumn,
		TimestampColumn: p.Output.TimestampColumn,
		Delimiter:       delim,
		Reset:           reset,
		Logger:          logger,
	}, true
}

// FrontierConfig returns the traversal bounds.
func (p Profile) FrontierConfig() crawler.Config {
	return crawler.Config{MaxDepth: p.Catalog.MaxDepth, MaxSiblings: p.Catalog.MaxSiblings}
}

// RootNode returns the catalog entry point.
func (p Profile) RootNode() *crawler.Node {
	return &crawler.Node{URL: p.Catalog.RootURL, Name: p.Catalog.RootName, Kind: crawler.KindCategory}
}
