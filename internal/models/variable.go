package models

// VariableSource records where a resolved variable's value originated, for
// display and for enforcing which sources may carry private values.
type VariableSource string

const (
	VariableSourceUser           VariableSource = "user"
	VariableSourceSystem         VariableSource = "system"
	VariableSourcePipelineConfig VariableSource = "pipeline_config"
	VariableSourceRun            VariableSource = "run"
	VariableSourceExtension      VariableSource = "extension"
)

type VariableSensitivity string

const (
	SensitivityPublic  VariableSensitivity = "public"
	SensitivityPrivate VariableSensitivity = "private"
)

type Variable struct {
	Key         string              `json:"key"`
	Value       string              `json:"value"`
	Source      VariableSource      `json:"source"`
	Sensitivity VariableSensitivity `json:"sensitivity"`
}

// Redacted returns the variable with its value hidden when private, safe to
// hand to API responses and logs.
func (v Variable) Redacted() Variable {
	if v.Sensitivity == SensitivityPrivate {
		v.Value = "********"
	}
	return v
}
