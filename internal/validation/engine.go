// Package validation evaluates record snapshots against schema-declared
// rules before a save reaches the adapter. Rules compile once at engine
// construction; evaluation is pure and side-effect free.
package validation

import (
	"fmt"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"recordcore/pkg/domain"
)

// Rule checks one snapshot and returns field-scoped findings. An empty result
// means the rule passed.
type Rule interface {
	Name() string
	Evaluate(schema domain.EntitySchema, snap domain.RecordSnapshot) []domain.FieldError
}

// Engine runs an ordered rule list against a snapshot.
type Engine struct {
	rules []Rule
}

// NewEngine builds an engine over the given rules, evaluated in order.
func NewEngine(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// Validate runs every rule and aggregates findings into a single
// ValidationError, or nil when the snapshot passes.
func (e *Engine) Validate(schema domain.EntitySchema, snap domain.RecordSnapshot) *domain.ValidationError {
	var fieldErrs []domain.FieldError
	for _, rule := range e.rules {
		fieldErrs = append(fieldErrs, rule.Evaluate(schema, snap)...)
	}
	if len(fieldErrs) == 0 {
		return nil
	}
	return &domain.ValidationError{Identity: snap.Identity, Errors: fieldErrs}
}

// exprRule is a compiled attribute constraint. The expression environment
// exposes every attribute by name plus "value" for the constrained attribute.
type exprRule struct {
	entity    string
	attribute string
	message   string
	program   *vm.Program
}

func (r *exprRule) Name() string {
	return fmt.Sprintf("%s.%s", r.entity, r.attribute)
}

func (r *exprRule) Evaluate(schema domain.EntitySchema, snap domain.RecordSnapshot) []domain.FieldError {
	if schema.Name != r.entity {
		return nil
	}
	env := make(map[string]any, len(snap.Attributes)+1)
	for k, v := range snap.Attributes {
		env[k] = v
	}
	env["value"] = snap.Attributes[r.attribute]
	out, err := expr.Run(r.program, env)
	if err != nil {
		return []domain.FieldError{{Field: r.attribute, Message: fmt.Sprintf("constraint evaluation failed: %v", err)}}
	}
	if ok, _ := out.(bool); ok {
		return nil
	}
	msg := r.message
	if msg == "" {
		msg = fmt.Sprintf("constraint %q failed", r.attribute)
	}
	return []domain.FieldError{{Field: r.attribute, Message: msg}}
}

// CompileSchemaRules compiles the Validate expression of every attribute in
// the schema set into rules. An attribute with no expression contributes no
// rule; a malformed expression fails compilation for the whole set.
func CompileSchemaRules(schemas *domain.SchemaSet) ([]Rule, error) {
	var rules []Rule
	names := schemas.Entities()
	sort.Strings(names)
	for _, name := range names {
		schema, _ := schemas.Entity(name)
		attrNames := make([]string, 0, len(schema.Attributes))
		for attrName := range schema.Attributes {
			attrNames = append(attrNames, attrName)
		}
		sort.Strings(attrNames)
		for _, attrName := range attrNames {
			attr := schema.Attributes[attrName]
			if attr.Validate == "" {
				continue
			}
			program, err := expr.Compile(attr.Validate, expr.AllowUndefinedVariables(), expr.AsBool())
			if err != nil {
				return nil, fmt.Errorf("compile constraint for %s.%s: %w", schema.Name, attr.Name, err)
			}
			rules = append(rules, &exprRule{
				entity:    schema.Name,
				attribute: attr.Name,
				message:   attr.Message,
				program:   program,
			})
		}
	}
	return rules, nil
}

// NewSchemaEngine compiles schema constraints and wraps them in an engine.
func NewSchemaEngine(schemas *domain.SchemaSet) (*Engine, error) {
	rules, err := CompileSchemaRules(schemas)
	if err != nil {
		return nil, err
	}
	return NewEngine(rules...), nil
}
