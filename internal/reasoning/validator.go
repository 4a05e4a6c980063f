package reasoning

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Family is the provider family a base model belongs to, which decides how
// reasoning parameters are expressed upstream.
type Family int

const (
	FamilyNone Family = iota
	FamilyOpenAI
	FamilyAnthropic
	FamilyGemini
)

// Budget clamp bounds per family.
const (
	AnthropicBudgetMin = 1024
	AnthropicBudgetMax = 32000
	GeminiBudgetMin    = 0
	GeminiBudgetMax    = 24576
)

// Kind tags the variant of a resolved reasoning config.
type Kind int

const (
	KindNone Kind = iota
	KindOpenAIEffort
	KindAnthropicThinking
	KindGeminiThinking
)

// Config is the resolved reasoning configuration attached to an upstream
// request. Exactly one variant applies, selected by Kind.
type Config struct {
	Kind      Kind
	Effort    string // low|medium|high
	Budget    int    // token budget for thinking variants
	Exclude   bool   // drop thinking deltas from the client stream
	Verbosity string // optional OpenAI verbosity hint
}

// openaiEffortMax approximates the reasoning capacity used to map integer
// budgets onto effort levels for OpenAI reasoning models.
var openaiEffortMax = map[string]int{
	"o1":      100000,
	"o1-mini": 65536,
	"o3":      100000,
	"o3-mini": 65536,
	"o4-mini": 65536,
	"gpt-5":   128000,
}

const defaultOpenAIEffortMax = 65536

var openaiFamilyPrefixes = []string{"o1", "o3", "o4-mini", "gpt-5"}

var anthropicFamilyPrefixes = []string{
	"claude-3-7-", "claude-4-", "claude-opus-4-", "claude-sonnet-4-",
}

var geminiFamilyPrefixes = []string{"gemini-2.5-flash", "gemini-3-"}

// DetectFamily classifies a base model by name prefix.
func DetectFamily(model string) Family {
	m := strings.ToLower(model)
	for _, p := range openaiFamilyPrefixes {
		if strings.HasPrefix(m, p) {
			return FamilyOpenAI
		}
	}
	for _, p := range anthropicFamilyPrefixes {
		if strings.HasPrefix(m, p) {
			return FamilyAnthropic
		}
	}
	for _, p := range geminiFamilyPrefixes {
		if strings.HasPrefix(m, p) {
			return FamilyGemini
		}
	}
	return FamilyNone
}

// FromSuffix converts a parsed suffix into a family-shaped config. Returns
// nil when the suffix carries no usable override: unrecognized suffixes and
// suffixes on models outside every reasoning family warn and fall through.
func FromSuffix(model string, sfx Suffix, log *logrus.Entry) *Config {
	if sfx.Kind == SuffixNone {
		return nil
	}
	if sfx.Kind == SuffixUnrecognized {
		log.WithFields(logrus.Fields{"model": model, "suffix": sfx.Raw}).
			Warn("unrecognized reasoning suffix, proceeding without override")
		return nil
	}

	family := DetectFamily(model)
	if family == FamilyNone {
		log.WithField("model", model).
			Warn("reasoning suffix on non-reasoning model, dropping")
		return nil
	}

	cfg := &Config{}
	switch family {
	case FamilyOpenAI:
		cfg.Kind = KindOpenAIEffort
		if sfx.Kind == SuffixEffort {
			cfg.Effort = sfx.Effort
		} else {
			cfg.Effort = budgetToEffort(model, sfx.Budget)
		}
	case FamilyAnthropic:
		cfg.Kind = KindAnthropicThinking
		if sfx.Kind == SuffixBudget {
			cfg.Budget = sfx.Budget
		} else {
			cfg.Budget = effortToBudget(sfx.Effort, AnthropicBudgetMax)
		}
	case FamilyGemini:
		cfg.Kind = KindGeminiThinking
		if sfx.Kind == SuffixBudget {
			cfg.Budget = sfx.Budget
		} else {
			cfg.Budget = effortToBudget(sfx.Effort, GeminiBudgetMax)
		}
	}
	return Validate(model, cfg, log)
}

// budgetToEffort maps an integer budget to the nearest effort level using
// the model's known reasoning capacity: <=25% low, <=60% medium, else high.
func budgetToEffort(model string, budget int) string {
	max := defaultOpenAIEffortMax
	m := strings.ToLower(model)
	longest := -1
	for prefix, limit := range openaiEffortMax {
		if strings.HasPrefix(m, prefix) && len(prefix) > longest {
			max = limit
			longest = len(prefix)
		}
	}
	ratio := float64(budget) / float64(max)
	switch {
	case ratio <= 0.25:
		return "low"
	case ratio <= 0.60:
		return "medium"
	default:
		return "high"
	}
}

// effortToBudget maps an effort keyword onto a budget scale.
func effortToBudget(effort string, max int) int {
	switch effort {
	case "low":
		return max / 4
	case "medium":
		return max / 2
	default:
		return max
	}
}

// Validate clamps a config to its family bounds. Clamps are logged with
// the original and final values. Validate(Validate(x)) == Validate(x).
func Validate(model string, cfg *Config, log *logrus.Entry) *Config {
	if cfg == nil {
		return nil
	}
	out := *cfg
	switch out.Kind {
	case KindOpenAIEffort:
		switch out.Effort {
		case "low", "medium", "high":
		default:
			log.WithFields(logrus.Fields{"model": model, "effort": out.Effort}).
				Warn("invalid reasoning effort, using medium")
			out.Effort = "medium"
		}
	case KindAnthropicThinking:
		out.Budget = clampBudget(model, out.Budget, AnthropicBudgetMin, AnthropicBudgetMax, log)
	case KindGeminiThinking:
		out.Budget = clampBudget(model, out.Budget, GeminiBudgetMin, GeminiBudgetMax, log)
	}
	return &out
}

func clampBudget(model string, budget, min, max int, log *logrus.Entry) int {
	clamped := budget
	if clamped < min {
		clamped = min
	}
	if clamped > max {
		clamped = max
	}
	if clamped != budget {
		log.WithFields(logrus.Fields{
			"model":    model,
			"original": budget,
			"clamped":  clamped,
		}).Warn("thinking budget out of range, clamped")
	}
	return clamped
}

// Resolve composes the final config for a request: suffix override first,
// then route defaults, then global defaults. The winner is validated.
func Resolve(model string, sfx Suffix, routeDefault, globalDefault *Config, log *logrus.Entry) *Config {
	if fromSfx := FromSuffix(model, sfx, log); fromSfx != nil {
		return fromSfx
	}
	if routeDefault != nil {
		return Validate(model, routeDefault, log)
	}
	if globalDefault != nil {
		return Validate(model, globalDefault, log)
	}
	return nil
}
