package prompt

import (
	"errors"
	"strings"
)

// Base value keys of an Env.
const (
	CognitionName    = "cog_n"
	CognitionValue   = "cog_v"
	CognitionConcept = "cog_cn"
	PerceptionName   = "perc_n"
	PerceptionValue  = "perc_v"
	// PerceptionConcept holds the perception concept name, or the list of
	// component names for a combined perception.
	PerceptionConcept = "perc_cn"

	InputValue     = "input_value"
	ConceptName    = "concept_name"
	ConceptContext = "concept_context"
	ConceptType    = "concept_type"
)

var errMissingValue = errors.New("prompt: missing base value")

// Value derives a variable as the text of the named base value.
func Value(key string) Derivation {
	return func(env Env) (string, error) {
		v, ok := env[key]
		if !ok {
			return "", errMissingValue
		}
		return Text(v), nil
	}
}

// TrimSuffix derives the named base value with suffix removed.
func TrimSuffix(key, suffix string) Derivation {
	base := Value(key)
	return func(env Env) (string, error) {
		s, err := base(env)
		if err != nil {
			return "", err
		}
		return strings.TrimSuffix(s, suffix), nil
	}
}

// Bullets derives a bullet list from three list-valued base values.
func Bullets(cnKey, nKey, vKey string) Derivation {
	return func(env Env) (string, error) {
		for _, k := range []string{cnKey, nKey, vKey} {
			if _, ok := env[k]; !ok {
				return "", errMissingValue
			}
		}
		return FormatBullets(List(env[cnKey]), List(env[nKey]), List(env[vKey])), nil
	}
}

// Placeholders derives the template held in templateKey with its {i}
// placeholders filled from the list held in valuesKey.
func Placeholders(templateKey, valuesKey string) Derivation {
	return func(env Env) (string, error) {
		tmpl, ok := env[templateKey]
		if !ok {
			return "", errMissingValue
		}
		values, ok := env[valuesKey]
		if !ok {
			return "", errMissingValue
		}
		return ReplacePlaceholders(Text(tmpl), List(values)), nil
	}
}

// DefaultDefinitions returns the variables available to cognition templates.
func DefaultDefinitions() Definitions {
	return Definitions{
		"cog_n":                      Value(CognitionName),
		"cog_cn":                     Value(CognitionConcept),
		"cog_cn_classification_base": TrimSuffix(CognitionConcept, "?"),
		"cog_v":                      Value(CognitionValue),
		"perc_n":                     Value(PerceptionName),
		"perc_cn":                    Value(PerceptionConcept),
		"perc_v":                     Value(PerceptionValue),
		"perc_cn_n_v_bullets":        Bullets(PerceptionConcept, PerceptionName, PerceptionValue),
		"cog_n_with_perc_n":          Placeholders(CognitionName, PerceptionName),
		"cog_v_with_perc_n":          Placeholders(CognitionValue, PerceptionName),
	}
}

// InputDefinitions returns the variables available to input explanation
// templates.
func InputDefinitions() Definitions {
	return Definitions{
		InputValue:     Value(InputValue),
		ConceptName:    Value(ConceptName),
		ConceptContext: Value(ConceptContext),
		ConceptType:    Value(ConceptType),
	}
}

// ClassificationTemplate asks the oracle for instances of a classification
// concept found in one perception.
const ClassificationTemplate = `Your task is to find instances of "$cog_cn_classification_base" from a specific text about an instance of "$perc_cn".

What finding "$cog_cn_classification_base" means: "$cog_v"

**Find from "$perc_cn": "$perc_n"**

(context for "$perc_n": "$perc_v")

Your output should start with some context, reasonings and explanations of the existence of the instance. Your summary key should be an instance of "$cog_n".`

// JudgementTemplate asks the oracle for a TRUE/FALSE/N/A judgement.
const JudgementTemplate = `Your task is to judge if "$cog_n_with_perc_n" is true or false.

What each of the component in "$cog_n_with_perc_n" refers to:
$perc_cn_n_v_bullets

**Truth conditions to judge if it is true or false that "$cog_n_with_perc_n":**
    "$cog_v_with_perc_n"

When judging **quote** the specific part of the Truth conditions you mentioned to make the judgement in your output, this is to make sure you are not cheating and the answer is intelligible without the Truth conditions.

Now, judge if "$cog_n_with_perc_n" is true or false based **strictly** on the above Truth conditions, and quote the specific part of the Truth conditions you mentioned to make the judgement in your output.

Your output should be a JSON object with Explanation and Summary_Key fields. The Explanation should contain your reasoning and the specific part of the Truth conditions you mentioned. The Summary_Key should be either "TRUE", "FALSE", or "N/A" (if not applicable).`

// AgentExplanationTemplate is the default input template for oracle-explained
// inputs.
const AgentExplanationTemplate = "What does $input_value likely mean? Explain in few sentences."

// ConstantTemplate is the default template used to explain constant concepts
// of a plan from their context.
const ConstantTemplate = `Given the context: $concept_context

In few sentences, define faithfully the meaning and significance of the concept '$concept_name'. Be clear about its purpose of use, and make sure the important context is included such that it is intelligible without any prior knowledge of the context.`
