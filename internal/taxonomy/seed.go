package taxonomy

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Seed is a whole taxonomy in a portable form.
type Seed struct {
	Categories []SeedCategory `yaml:"categories"`
}

// SeedCategory is a category with its tree.
type SeedCategory struct {
	Name          string            `yaml:"name"`
	Color         string            `yaml:"color,omitempty"`
	Description   string            `yaml:"description,omitempty"`
	Tags          []string          `yaml:"tags,omitempty"`
	Subcategories []SeedSubcategory `yaml:"subcategories,omitempty"`
}

// SeedSubcategory is a subcategory with its tags.
type SeedSubcategory struct {
	Name        string   `yaml:"name"`
	Color       string   `yaml:"color,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
}

// ParseSeed decodes a YAML seed.
func ParseSeed(data []byte) (Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Seed{}, fmt.Errorf("parse seed: %w", err)
	}
	for i, c := range s.Categories {
		if strings.TrimSpace(c.Name) == "" {
			return Seed{}, Invalid("seed: category #%d has no name", i+1)
		}
		for j, sc := range c.Subcategories {
			if strings.TrimSpace(sc.Name) == "" {
				return Seed{}, Invalid("seed: subcategory #%d of %q has no name", j+1, c.Name)
			}
		}
	}
	return s, nil
}

// Marshal encodes the seed as YAML.
func (s Seed) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

// ImportStats counts what an import created.
type ImportStats struct {
	Categories    int
	Subcategories int
	Tags          int
}

// Import merges a seed into the user's taxonomy. Existing entities are
// matched by exact name and reused; tags are upserted. On failure the stats
// count what was created before it, and the version moves whenever something
// was.
func (o *Orchestrator) Import(ctx context.Context, seed Seed) (ImportStats, error) {
	var stats ImportStats
	err := o.importSeed(ctx, seed, &stats)
	if err != nil {
		o.log.Warn("taxonomy: seed import failed", "error", err,
			"categories", stats.Categories, "subcategories", stats.Subcategories, "tags", stats.Tags)
		if stats != (ImportStats{}) {
			o.bumpVersion()
		}
		return stats, err
	}

	o.log.Info("taxonomy: seed imported",
		"categories", stats.Categories, "subcategories", stats.Subcategories, "tags", stats.Tags)
	o.bumpVersion()
	return stats, nil
}

func (o *Orchestrator) importSeed(ctx context.Context, seed Seed, stats *ImportStats) error {
	cats, err := o.gw.FetchCategories(ctx, o.userID)
	if err != nil {
		return fmt.Errorf("fetch categories: %w", err)
	}
	catByName := make(map[string]string, len(cats))
	for _, c := range cats {
		catByName[c.Name] = c.ID
	}

	for _, sc := range seed.Categories {
		name := strings.TrimSpace(sc.Name)
		catID, ok := catByName[name]
		if !ok {
			in := CategoryInput{UserID: o.userID, Name: name, Color: sc.Color, Description: sc.Description}
			if err := Validate(in); err != nil {
				return err
			}
			c, err := o.gw.CreateCategory(ctx, in)
			if err != nil {
				return fmt.Errorf("create category %q: %w", name, err)
			}
			catID = c.ID
			catByName[name] = catID
			stats.Categories++
		}

		if tags := union(sc.Tags); len(tags) > 0 {
			before, err := o.gw.FetchCategoryTags(ctx, o.userID, catID)
			if err != nil {
				return fmt.Errorf("fetch tags of %q: %w", name, err)
			}
			if _, err := o.gw.UpsertCategoryTagsByNames(ctx, o.userID, catID, tags); err != nil {
				return fmt.Errorf("upsert tags of %q: %w", name, err)
			}
			stats.Tags += countNew(tags, before)
		}

		if err := o.importSubcategories(ctx, catID, sc.Subcategories, stats); err != nil {
			return fmt.Errorf("import %q: %w", name, err)
		}
	}
	return nil
}

func (o *Orchestrator) importSubcategories(ctx context.Context, catID string, subs []SeedSubcategory, stats *ImportStats) error {
	if len(subs) == 0 {
		return nil
	}
	existing, err := o.gw.FetchSubcategories(ctx, o.userID, catID)
	if err != nil {
		return fmt.Errorf("fetch subcategories: %w", err)
	}
	subByName := make(map[string]string, len(existing))
	for _, s := range existing {
		subByName[s.Name] = s.ID
	}

	for _, ss := range subs {
		name := strings.TrimSpace(ss.Name)
		subID, ok := subByName[name]
		if !ok {
			in := SubcategoryInput{UserID: o.userID, CategoryID: catID, Name: name, Color: ss.Color, Description: ss.Description}
			if err := Validate(in); err != nil {
				return err
			}
			s, err := o.gw.CreateSubcategory(ctx, in)
			if err != nil {
				return fmt.Errorf("create subcategory %q: %w", name, err)
			}
			subID = s.ID
			subByName[name] = subID
			stats.Subcategories++
		}

		tags := union(ss.Tags)
		if len(tags) == 0 {
			continue
		}
		before, err := o.gw.FetchSubcategoryTags(ctx, o.userID, subID)
		if err != nil {
			return fmt.Errorf("fetch tags of %q: %w", name, err)
		}
		if _, err := o.gw.UpsertSubcategoryTagsByNames(ctx, o.userID, subID, tags); err != nil {
			return fmt.Errorf("upsert tags of %q: %w", name, err)
		}
		stats.Tags += countNew(tags, before)
	}
	return nil
}

func countNew(names []string, before []Tag) int {
	have := make(map[string]struct{}, len(before))
	for _, t := range before {
		have[t.Name] = struct{}{}
	}
	n := 0
	for _, name := range names {
		if _, ok := have[name]; !ok {
			n++
		}
	}
	return n
}

// Export reads the user's whole taxonomy.
func (o *Orchestrator) Export(ctx context.Context) (Seed, error) {
	cats, err := o.gw.FetchCategories(ctx, o.userID)
	if err != nil {
		return Seed{}, fmt.Errorf("fetch categories: %w", err)
	}
	seed := Seed{Categories: make([]SeedCategory, 0, len(cats))}
	for _, c := range cats {
		sc := SeedCategory{Name: c.Name, Color: c.Color, Description: c.Description}

		tags, err := o.gw.FetchCategoryTags(ctx, o.userID, c.ID)
		if err != nil {
			return Seed{}, fmt.Errorf("fetch tags of %q: %w", c.Name, err)
		}
		sc.Tags = TagNames(tags)

		subs, err := o.gw.FetchSubcategories(ctx, o.userID, c.ID)
		if err != nil {
			return Seed{}, fmt.Errorf("fetch subcategories of %q: %w", c.Name, err)
		}
		for _, s := range subs {
			stags, err := o.gw.FetchSubcategoryTags(ctx, o.userID, s.ID)
			if err != nil {
				return Seed{}, fmt.Errorf("fetch tags of %q: %w", s.Name, err)
			}
			sc.Subcategories = append(sc.Subcategories, SeedSubcategory{
				Name:        s.Name,
				Color:       s.Color,
				Description: s.Description,
				Tags:        TagNames(stags),
			})
		}
		seed.Categories = append(seed.Categories, sc)
	}
	return seed, nil
}
