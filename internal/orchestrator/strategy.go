package orchestrator

// Strategy selects how a turn is handled.
type Strategy int

const (
	// StrategyModel drives the generative model with the discovered tool
	// set.
	StrategyModel Strategy = iota
	// StrategyDeterministic answers from the rule engine without any
	// model call.
	StrategyDeterministic
)

func (s Strategy) String() string {
	switch s {
	case StrategyModel:
		return "model"
	case StrategyDeterministic:
		return "deterministic"
	default:
		return "unknown"
	}
}

// Prompt types accepted on the chat request.
const (
	PromptTypeVADF     = "vadf"
	PromptTypeCommerce = "commerce"
)

// ResolveStrategy maps the request's prompt type to a strategy, once per
// request. Unknown or empty values get the model path, which handles
// anything.
func ResolveStrategy(promptType string) Strategy {
	if promptType == PromptTypeVADF {
		return StrategyDeterministic
	}
	return StrategyModel
}
