package localfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
)

type Config struct {
	// DataDir holds the taxonomies/ directory scanned when there is no registry file.
	DataDir          string
	MarketplacesFile string
	PromptFile       string
}

// Storage serves marketplace taxonomies and the prompt template from local files.
type Storage struct {
	dataDir          string
	marketplacesFile string
	promptFile       string
}

func New(cfg Config) (*Storage, error) {
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	info, err := os.Stat(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("stat data dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data dir %s is not a directory", cfg.DataDir)
	}
	if cfg.MarketplacesFile == "" {
		cfg.MarketplacesFile = filepath.Join(cfg.DataDir, "marketplaces.yaml")
	}
	if cfg.PromptFile == "" {
		cfg.PromptFile = filepath.Join(cfg.DataDir, "prompts", "category_prompt.md")
	}
	return &Storage{
		dataDir:          cfg.DataDir,
		marketplacesFile: cfg.MarketplacesFile,
		promptFile:       cfg.PromptFile,
	}, nil
}

func (s *Storage) DataDir() string { return s.dataDir }

type registryFile struct {
	Marketplaces []domain.MarketplaceSpec `yaml:"marketplaces"`
}

// ListMarketplaces reads the marketplace registry. The registry is YAML (JSON
// is accepted as a YAML subset) holding either a "marketplaces" list or a bare
// list. Without a registry file every taxonomies/*.json file becomes a
// marketplace named after the file with default field names.
func (s *Storage) ListMarketplaces(ctx context.Context) ([]domain.MarketplaceSpec, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.marketplacesFile)
	if errors.Is(err, fs.ErrNotExist) {
		return s.scanTaxonomyDir()
	}
	if err != nil {
		return nil, fmt.Errorf("read marketplaces file: %w", err)
	}

	specs, err := decodeRegistry(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(s.marketplacesFile), err)
	}
	base := filepath.Dir(s.marketplacesFile)
	for i := range specs {
		if err := validateSpec(specs[i]); err != nil {
			return nil, fmt.Errorf("marketplace #%d: %w", i+1, err)
		}
		if !filepath.IsAbs(specs[i].TaxonomyFile) {
			specs[i].TaxonomyFile = filepath.Join(base, specs[i].TaxonomyFile)
		}
	}
	return specs, nil
}

func decodeRegistry(raw []byte) ([]domain.MarketplaceSpec, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	doc := root.Content[0]
	if doc.Kind == yaml.SequenceNode {
		var specs []domain.MarketplaceSpec
		if err := doc.Decode(&specs); err != nil {
			return nil, err
		}
		return specs, nil
	}
	var file registryFile
	if err := doc.Decode(&file); err != nil {
		return nil, err
	}
	return file.Marketplaces, nil
}

func validateSpec(spec domain.MarketplaceSpec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(spec.TaxonomyFile) == "" {
		return fmt.Errorf("%s: taxonomy_file is required", spec.Name)
	}
	switch spec.Format {
	case "", domain.TaxonomyFormatTree, domain.TaxonomyFormatFlat:
		return nil
	default:
		return fmt.Errorf("%s: unknown format %q", spec.Name, spec.Format)
	}
}

func (s *Storage) scanTaxonomyDir() ([]domain.MarketplaceSpec, error) {
	dir := filepath.Join(s.dataDir, "taxonomies")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("no marketplaces file and no taxonomy dir: %w", err)
	}
	var specs []domain.MarketplaceSpec
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		specs = append(specs, domain.MarketplaceSpec{
			Name:         strings.TrimSuffix(e.Name(), ".json"),
			TaxonomyFile: filepath.Join(dir, e.Name()),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

// ReadTaxonomy decodes a taxonomy file. JSON numbers stay json.Number so
// numeric ids keep their exact text.
func (s *Storage) ReadTaxonomy(ctx context.Context, spec domain.MarketplaceSpec) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(spec.TaxonomyFile)
	if err != nil {
		return nil, fmt.Errorf("open taxonomy file: %w", err)
	}

	var doc any
	switch strings.ToLower(filepath.Ext(spec.TaxonomyFile)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode taxonomy yaml: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode taxonomy json: %w", err)
		}
		if _, err := dec.Token(); !errors.Is(err, io.EOF) {
			return nil, errors.New("decode taxonomy json: trailing data after document")
		}
	}
	return doc, nil
}

func (s *Storage) ReadPromptTemplate(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := os.ReadFile(s.promptFile)
	if err != nil {
		return "", fmt.Errorf("read prompt template: %w", err)
	}
	return string(raw), nil
}
