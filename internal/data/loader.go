package data

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/udisondev/projectlux/internal/ability"
	"github.com/udisondev/projectlux/internal/attribute"
	"github.com/udisondev/projectlux/internal/effect"
	"github.com/udisondev/projectlux/internal/tag"
)

// ErrInvalidCatalog wraps every load-time validation failure.
var ErrInvalidCatalog = errors.New("invalid definition catalog")

//go:embed projectlux.yaml
var defaultData []byte

type document struct {
	Attributes []attributeDoc `yaml:"attributes"`
	Effects    []effectDoc    `yaml:"effects"`
	Abilities  []abilityDoc   `yaml:"abilities"`
}

type attributeDoc struct {
	Name      string   `yaml:"name"`
	Base      float64  `yaml:"base"`
	Min       *float64 `yaml:"min"`
	Max       *float64 `yaml:"max"`
	MinAttr   string   `yaml:"min_attr"`
	MaxAttr   string   `yaml:"max_attr"`
	Meta      bool     `yaml:"meta"`
	DrainInto string   `yaml:"drain_into"`
}

type modifierDoc struct {
	Attribute string  `yaml:"attribute"`
	Op        string  `yaml:"op"`
	Magnitude float64 `yaml:"magnitude"`
}

type effectDoc struct {
	ID          string        `yaml:"id"`
	Duration    string        `yaml:"duration"`
	Length      time.Duration `yaml:"length"`
	Period      time.Duration `yaml:"period"`
	Stacking    string        `yaml:"stacking"`
	MaxStacks   int           `yaml:"max_stacks"`
	Modifiers   []modifierDoc `yaml:"modifiers"`
	GrantedTags []string      `yaml:"granted_tags"`
	Execution   string        `yaml:"execution"`
}

type costDoc struct {
	Attribute string  `yaml:"attribute"`
	Amount    float64 `yaml:"amount"`
}

type abilityDoc struct {
	ID             string        `yaml:"id"`
	Tags           []string      `yaml:"tags"`
	Costs          []costDoc     `yaml:"costs"`
	Cooldown       time.Duration `yaml:"cooldown"`
	CooldownTags   []string      `yaml:"cooldown_tags"`
	RequiredTags   []string      `yaml:"required_tags"`
	BlockedTags    []string      `yaml:"blocked_tags"`
	CancelTags     []string      `yaml:"cancel_tags"`
	GrantedTags    []string      `yaml:"granted_tags"`
	GrantedEffects []string      `yaml:"granted_effects"`
	CastTime       time.Duration `yaml:"cast_time"`
	ActiveDuration time.Duration `yaml:"active_duration"`
}

// LoadDefault builds the catalog from the embedded ProjectLux data set.
func LoadDefault(reg *tag.Registry) (*Catalog, error) {
	return Parse(defaultData, reg)
}

// Load reads and validates a YAML catalog file.
func Load(path string, reg *tag.Registry) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	c, err := Parse(b, reg)
	if err != nil {
		return nil, fmt.Errorf("loading catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog, interning tags into reg.
// Every problem found is reported at once, joined into one error matching
// ErrInvalidCatalog.
func Parse(b []byte, reg *tag.Registry) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	l := &loader{reg: reg}
	c := &Catalog{
		effects:   make(map[string]*effect.Definition, len(doc.Effects)),
		abilities: make(map[string]*ability.Definition, len(doc.Abilities)),
	}

	c.attributes = l.attributes(doc.Attributes)
	schema := make(map[string]bool, len(c.attributes))
	for _, d := range c.attributes {
		schema[d.Name] = true
	}

	for _, ed := range doc.Effects {
		def := l.effect(ed, schema)
		if def == nil {
			continue
		}
		if _, dup := c.effects[def.ID]; dup {
			l.failf("effect %q: duplicate id", def.ID)
			continue
		}
		c.effects[def.ID] = def
	}

	for _, ad := range doc.Abilities {
		def := l.ability(ad, schema, c.effects)
		if def == nil {
			continue
		}
		if _, dup := c.abilities[def.ID]; dup {
			l.failf("ability %q: duplicate id", def.ID)
			continue
		}
		c.abilities[def.ID] = def
		c.order = append(c.order, def.ID)
	}

	if err := errors.Join(l.errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}

	slog.Info("loaded definition catalog",
		"attributes", len(c.attributes),
		"effects", len(c.effects),
		"abilities", len(c.abilities))
	return c, nil
}

// loader accumulates validation errors while converting documents.
type loader struct {
	reg  *tag.Registry
	errs []error
}

func (l *loader) fail(err error) {
	l.errs = append(l.errs, err)
}

func (l *loader) failf(format string, args ...any) {
	l.errs = append(l.errs, fmt.Errorf(format, args...))
}

func (l *loader) tags(owner, field string, paths []string) tag.Set {
	set, err := l.reg.ParseAll(paths)
	if err != nil {
		l.failf("%s %s: %w", owner, field, err)
	}
	return set
}

func (l *loader) attributes(docs []attributeDoc) []attribute.Definition {
	defs := make([]attribute.Definition, 0, len(docs))
	for _, d := range docs {
		defs = append(defs, attribute.Definition{
			Name:      d.Name,
			Base:      d.Base,
			Min:       d.Min,
			Max:       d.Max,
			MinAttr:   d.MinAttr,
			MaxAttr:   d.MaxAttr,
			Meta:      d.Meta,
			DrainInto: d.DrainInto,
		})
	}
	// The Set constructor owns the schema rules: duplicates, unknown bound
	// references and bound cycles.
	if _, err := attribute.NewSet(defs...); err != nil {
		l.failf("attributes: %w", err)
	}
	return defs
}

func (l *loader) effect(d effectDoc, schema map[string]bool) *effect.Definition {
	owner := fmt.Sprintf("effect %q", d.ID)
	nerr := len(l.errs)

	duration, err := effect.ParseDurationPolicy(d.Duration)
	if err != nil {
		l.failf("%s: %w", owner, err)
	}
	stacking, err := effect.ParseStackingPolicy(d.Stacking)
	if err != nil {
		l.failf("%s: %w", owner, err)
	}

	def := &effect.Definition{
		ID:          d.ID,
		Duration:    duration,
		Length:      d.Length,
		Period:      d.Period,
		Stacking:    stacking,
		MaxStacks:   d.MaxStacks,
		GrantedTags: l.tags(owner, "granted_tags", d.GrantedTags),
		Execution:   d.Execution,
	}
	for _, md := range d.Modifiers {
		op, err := attribute.ParseOp(md.Op)
		if err != nil {
			l.failf("%s: %w", owner, err)
		}
		if !schema[md.Attribute] {
			l.failf("%s: %w: %s", owner, attribute.ErrUnknownAttribute, md.Attribute)
		}
		def.Modifiers = append(def.Modifiers, effect.ModifierDef{
			Attribute: md.Attribute,
			Op:        op,
			Magnitude: md.Magnitude,
		})
	}
	if err := def.Validate(); err != nil {
		l.fail(err)
	}

	if len(l.errs) > nerr {
		return nil
	}
	return def
}

func (l *loader) ability(d abilityDoc, schema map[string]bool, effects map[string]*effect.Definition) *ability.Definition {
	owner := fmt.Sprintf("ability %q", d.ID)
	nerr := len(l.errs)

	def := &ability.Definition{
		ID:             d.ID,
		Tags:           l.tags(owner, "tags", d.Tags),
		Cooldown:       d.Cooldown,
		CooldownTags:   l.tags(owner, "cooldown_tags", d.CooldownTags),
		RequiredTags:   l.tags(owner, "required_tags", d.RequiredTags),
		BlockedTags:    l.tags(owner, "blocked_tags", d.BlockedTags),
		CancelTags:     l.tags(owner, "cancel_tags", d.CancelTags),
		GrantedTags:    l.tags(owner, "granted_tags", d.GrantedTags),
		CastTime:       d.CastTime,
		ActiveDuration: d.ActiveDuration,
	}
	for _, cd := range d.Costs {
		if !schema[cd.Attribute] {
			l.failf("%s: cost: %w: %s", owner, attribute.ErrUnknownAttribute, cd.Attribute)
		}
		def.Costs = append(def.Costs, ability.Cost{Attribute: cd.Attribute, Amount: cd.Amount})
	}
	for _, id := range d.GrantedEffects {
		ed, ok := effects[id]
		if !ok {
			l.failf("%s: unknown granted effect %q", owner, id)
			continue
		}
		def.GrantedEffects = append(def.GrantedEffects, ed)
	}
	if err := def.Validate(); err != nil {
		l.fail(err)
	}

	if len(l.errs) > nerr {
		return nil
	}
	return def
}
