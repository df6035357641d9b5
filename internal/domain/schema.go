package domain

// FieldKind enumerates the data kinds a wizard field can hold.
type FieldKind string

const (
	KindText   FieldKind = "text"
	KindNumber FieldKind = "number"
	KindDate   FieldKind = "date"
	KindEnum   FieldKind = "enum"
	KindBool   FieldKind = "bool"
	KindGroup  FieldKind = "group" // repeatable group, value is a list of entries
)

// FieldSpec describes one field within a step.
// Plans lists the plan ids under which the field is active; an empty list
// means the field is active for every plan (plan-conditional visibility is
// data attached to the field, not branching logic in the renderer).
type FieldSpec struct {
	Key        string    `yaml:"key"`
	Label      string    `yaml:"label"`
	Kind       FieldKind `yaml:"kind"`
	Required   bool      `yaml:"required"`
	Pattern    string    `yaml:"pattern,omitempty"`
	Min        *float64  `yaml:"min,omitempty"`
	Max        *float64  `yaml:"max,omitempty"`
	Options    []string  `yaml:"options,omitempty"`
	Plans      []string  `yaml:"plans,omitempty"`
	Prefill    string    `yaml:"prefill,omitempty"` // "email" or "name", seeded from the session
	MinEntries int       `yaml:"min_entries,omitempty"`
}

// DocumentSpec declares an upload slot requested by a step. When Repeat is
// set there is one slot per repeatable-group entry and Key acts
// as a prefix: a slot key "partner_pan" accepts uploads under
// "partner_pan_0", "partner_pan_1", and so on.
type DocumentSpec struct {
	Key      string   `yaml:"key"`
	Label    string   `yaml:"label"`
	Category string   `yaml:"category"` // label passed to the external upload service
	Required bool     `yaml:"required"`
	Repeat   bool     `yaml:"repeat,omitempty"`
	Plans    []string `yaml:"plans,omitempty"`
}

// Matches reports whether an upload key belongs to this slot.
func (d DocumentSpec) Matches(key string) bool {
	if d.Key == key {
		return true
	}
	return d.Repeat && len(key) > len(d.Key)+1 && key[:len(d.Key)+1] == d.Key+"_"
}

// RuleSeverity distinguishes hard errors from soft warnings.
type RuleSeverity string

const (
	SeverityHard RuleSeverity = "hard"
	SeveritySoft RuleSeverity = "soft"
)

// CrossRule is a cross-field validation rule evaluated against the step's
// field values. Expr is an expr-lang boolean expression that must hold.
// Hard rules block advancing; soft rules block only until the user
// acknowledges the warning identified by Key.
type CrossRule struct {
	Key      string       `yaml:"key"`
	Expr     string       `yaml:"expr"`
	Message  string       `yaml:"message"`
	Severity RuleSeverity `yaml:"severity"`
}

// StepSpec describes one screen's worth of fields within a wizard.
type StepSpec struct {
	ID        string         `yaml:"id"`
	Label     string         `yaml:"label"`
	Plans     []string       `yaml:"plans,omitempty"`
	Fields    []FieldSpec    `yaml:"fields,omitempty"`
	Documents []DocumentSpec `yaml:"documents,omitempty"`
	Rules     []CrossRule    `yaml:"rules,omitempty"`
}

// PlanTier is a priced service package. Price is in minor currency units.
type PlanTier struct {
	ID       string   `yaml:"id"`
	Title    string   `yaml:"title"`
	Price    int      `yaml:"price"`
	Features []string `yaml:"features,omitempty"`
}

// ServiceDefinition is the static description of one filing service.
// Plans are ordered lowest tier first; Steps are in wizard order.
// Immutable for the lifetime of a wizard session.
type ServiceDefinition struct {
	ID    string     `yaml:"id"`
	Name  string     `yaml:"name"`
	Plans []PlanTier `yaml:"plans"`
	Steps []StepSpec `yaml:"steps"`
}

// Plan returns the tier with the given id.
func (s ServiceDefinition) Plan(id string) (PlanTier, bool) {
	for _, p := range s.Plans {
		if p.ID == id {
			return p, true
		}
	}
	return PlanTier{}, false
}

// LowestPlan returns the first (cheapest) tier. Definitions are validated to
// have at least one plan when loaded.
func (s ServiceDefinition) LowestPlan() PlanTier {
	return s.Plans[0]
}

// ResolvedSchema is the step list active under a specific plan.
type ResolvedSchema struct {
	Service ServiceDefinition
	Plan    PlanTier
	Steps   []StepSpec
}

// TotalSteps returns the number of active steps under the plan.
func (r ResolvedSchema) TotalSteps() int { return len(r.Steps) }

// Step returns the 1-based active step.
func (r ResolvedSchema) Step(n int) (StepSpec, bool) {
	if n < 1 || n > len(r.Steps) {
		return StepSpec{}, false
	}
	return r.Steps[n-1], true
}

// StepOfField returns the 1-based index of the active step owning a field key.
func (r ResolvedSchema) StepOfField(key string) (int, bool) {
	for i, step := range r.Steps {
		for _, f := range step.Fields {
			if f.Key == key {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// Resolve filters a service definition through a plan tier, producing the
// ordered active steps with their active field and document sets. Pure
// function: same inputs always yield the same schema, no side effects.
//
// An unknown plan id falls back to the service's lowest tier; the second
// return value reports whether the requested plan was found so the caller
// can log the degradation (it determines pricing and deliverables and must
// not be substituted without signal).
func Resolve(def ServiceDefinition, planID string) (ResolvedSchema, bool) {
	plan, known := def.Plan(planID)
	if !known {
		plan = def.LowestPlan()
	}

	steps := make([]StepSpec, 0, len(def.Steps))
	for _, step := range def.Steps {
		if !activeFor(step.Plans, plan.ID) {
			continue
		}
		resolved := step
		resolved.Fields = filterFields(step.Fields, plan.ID)
		resolved.Documents = filterDocuments(step.Documents, plan.ID)
		steps = append(steps, resolved)
	}

	return ResolvedSchema{Service: def, Plan: plan, Steps: steps}, known
}

func filterFields(fields []FieldSpec, planID string) []FieldSpec {
	out := make([]FieldSpec, 0, len(fields))
	for _, f := range fields {
		if activeFor(f.Plans, planID) {
			out = append(out, f)
		}
	}
	return out
}

func filterDocuments(docs []DocumentSpec, planID string) []DocumentSpec {
	out := make([]DocumentSpec, 0, len(docs))
	for _, d := range docs {
		if activeFor(d.Plans, planID) {
			out = append(out, d)
		}
	}
	return out
}

// activeFor reports whether a plan-tagged element applies under the plan.
// An empty tag list means "all plans".
func activeFor(plans []string, planID string) bool {
	if len(plans) == 0 {
		return true
	}
	for _, p := range plans {
		if p == planID {
			return true
		}
	}
	return false
}
