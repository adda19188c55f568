// Package intent implements the deterministic intent/response engine.
//
// The engine is loaded once from an embedded declarative rule set and is
// read-only afterwards, so it is safe for concurrent use without locking.
// Classification and response selection are pure functions of
// (rule set, message, context).
package intent

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var rulesYAML []byte

// Sentinel and fallback intent tags. The remaining tags are defined by the
// rule set itself (activation, reinitialisation, escalade, ...).
const (
	// Defer marks messages that must be handled by the model-driven path.
	// Commerce keywords map here so shopping queries are never intercepted
	// by a canned reply.
	Defer = "defer"

	// Fallback is returned when no keyword matches.
	Fallback = "inconnu"

	// TypeError tags responses built from the shared generic-error phrase.
	TypeError = "error"
)

// ErrRuleSetInvalid indicates the embedded rule set failed validation.
// This is fatal at startup: the engine must not run with a partial rule set.
var ErrRuleSetInvalid = errors.New("invalid rule set")

// Intent kinds. Business intents are checked before conversational ones.
const (
	kindBusiness       = "business"
	kindConversational = "conversational"
)

// Template is one conditioned response. All conditions must hold (exact
// string equality against the context) for the template to be selected.
type Template struct {
	Conditions map[string]string `yaml:"conditions"`
	Text       string            `yaml:"text"`
	Type       string            `yaml:"type"`
}

// Rule declares one intent: its keywords and its ordered templates.
type Rule struct {
	Name      string     `yaml:"name"`
	Kind      string     `yaml:"kind"`
	Account   bool       `yaml:"account"`
	Keywords  []string   `yaml:"keywords"`
	Templates []Template `yaml:"templates"`
}

// ruleSet is the on-disk shape of rules.yaml.
type ruleSet struct {
	DeferKeywords   []string            `yaml:"defer_keywords"`
	Phrases         map[string]string   `yaml:"phrases"`
	StatusOverrides map[string]Template `yaml:"status_overrides"`
	Intents         []Rule              `yaml:"intents"`
}

// Response is the outcome of template selection.
type Response struct {
	Text string
	Type string
}

// Engine classifies messages and selects responses. Immutable after Load.
type Engine struct {
	deferKeywords   []string
	phrases         map[string]string
	statusOverrides map[string]Template
	business        []Rule
	conversational  []Rule
	byName          map[string]Rule
}

// Load parses and validates the embedded rule set.
func Load() (*Engine, error) {
	return loadFrom(rulesYAML)
}

func loadFrom(data []byte) (*Engine, error) {
	var rs ruleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("%w: parsing rules: %v", ErrRuleSetInvalid, err)
	}

	if len(rs.DeferKeywords) == 0 {
		return nil, fmt.Errorf("%w: defer_keywords must not be empty", ErrRuleSetInvalid)
	}
	if rs.Phrases["generic_error"] == "" {
		return nil, fmt.Errorf("%w: phrases.generic_error is required", ErrRuleSetInvalid)
	}
	if rs.Phrases["escalation_contact"] == "" {
		return nil, fmt.Errorf("%w: phrases.escalation_contact is required", ErrRuleSetInvalid)
	}

	e := &Engine{
		deferKeywords:   lowercaseAll(rs.DeferKeywords),
		phrases:         rs.Phrases,
		statusOverrides: rs.StatusOverrides,
		byName:          make(map[string]Rule, len(rs.Intents)),
	}

	for _, rule := range rs.Intents {
		if rule.Name == "" {
			return nil, fmt.Errorf("%w: intent with empty name", ErrRuleSetInvalid)
		}
		if len(rule.Keywords) == 0 {
			return nil, fmt.Errorf("%w: intent %q has no keywords", ErrRuleSetInvalid, rule.Name)
		}
		if len(rule.Templates) == 0 {
			return nil, fmt.Errorf("%w: intent %q has no templates", ErrRuleSetInvalid, rule.Name)
		}
		rule.Keywords = lowercaseAll(rule.Keywords)

		switch rule.Kind {
		case kindBusiness:
			e.business = append(e.business, rule)
		case kindConversational:
			e.conversational = append(e.conversational, rule)
		default:
			return nil, fmt.Errorf("%w: intent %q has unknown kind %q", ErrRuleSetInvalid, rule.Name, rule.Kind)
		}
		e.byName[rule.Name] = rule
	}

	if len(e.business) == 0 {
		return nil, fmt.Errorf("%w: no business intents declared", ErrRuleSetInvalid)
	}

	return e, nil
}

func lowercaseAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

// Classify maps a message to an intent tag.
//
// Precedence is fixed and covered by tests: commerce keywords first (which
// defer to the model path regardless of any other match), then business
// intents, then conversational intents, each in declaration order with
// first keyword match winning. No match yields Fallback.
func (e *Engine) Classify(message string) string {
	msg := strings.ToLower(message)

	for _, kw := range e.deferKeywords {
		if strings.Contains(msg, kw) {
			return Defer
		}
	}

	for _, rule := range e.business {
		if matchesAny(msg, rule.Keywords) {
			return rule.Name
		}
	}
	for _, rule := range e.conversational {
		if matchesAny(msg, rule.Keywords) {
			return rule.Name
		}
	}

	return Fallback
}

func matchesAny(msg string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// AccountRelated reports whether the intent requires an account-status
// lookup before responding.
func (e *Engine) AccountRelated(tag string) bool {
	rule, ok := e.byName[tag]
	return ok && rule.Account
}

// Respond selects the response for an intent given the current context.
// The first declared template whose condition set is fully satisfied wins;
// conditions are exact string-equality tests against named context values.
// When no template matches (or the intent is unknown), the shared
// generic-error phrase is returned with type "error".
func (e *Engine) Respond(tag string, context map[string]string) Response {
	rule, ok := e.byName[tag]
	if !ok {
		return e.genericError(context)
	}

	for _, tpl := range rule.Templates {
		if !satisfied(tpl.Conditions, context) {
			continue
		}
		respType := tpl.Type
		if respType == "" {
			respType = tag
		}
		return Response{Text: e.render(tpl.Text, context), Type: respType}
	}

	return e.genericError(context)
}

// StatusOverride returns the response overriding the regular template for a
// given account status, if the rule set declares one.
func (e *Engine) StatusOverride(status string, context map[string]string) (Response, bool) {
	tpl, ok := e.statusOverrides[status]
	if !ok {
		return Response{}, false
	}
	respType := tpl.Type
	if respType == "" {
		respType = TypeError
	}
	return Response{Text: e.render(tpl.Text, context), Type: respType}, true
}

// Phrase returns a shared phrase by name, rendered against the context.
// The escalation contact is injected automatically so phrases can reference
// {{contact}} without every caller threading it through.
func (e *Engine) Phrase(name string, context map[string]string) string {
	merged := map[string]string{"contact": e.phrases["escalation_contact"]}
	for k, v := range context {
		merged[k] = v
	}
	return e.render(e.phrases[name], merged)
}

// EscalationContact returns the human-support contact address.
func (e *Engine) EscalationContact() string {
	return e.phrases["escalation_contact"]
}

func (e *Engine) genericError(context map[string]string) Response {
	return Response{Text: e.render(e.phrases["generic_error"], context), Type: TypeError}
}

func satisfied(conditions, context map[string]string) bool {
	for name, want := range conditions {
		if context[name] != want {
			return false
		}
	}
	return true
}

var placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// render substitutes {{name}} placeholders from the context. Unresolved
// placeholders render as an ellipsis instead of failing, so a missing
// context value can never break a response.
func (e *Engine) render(text string, context map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := context[name]; ok {
			return v
		}
		return "…"
	})
}
