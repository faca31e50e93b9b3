package syncer

import (
	"gopkg.in/yaml.v3"
)

// PlanStep is one step entry in a dry-run plan.
type PlanStep struct {
	StepName   string `yaml:"step_name"`
	ScriptPath string `yaml:"script_path"`
}

// PlanWorkflow is one workflow entry in a dry-run plan.
type PlanWorkflow struct {
	Key   string     `yaml:"key"`
	ID    string     `yaml:"id"`
	Name  string     `yaml:"name"`
	Steps []PlanStep `yaml:"steps"`
}

// Plan describes what a run would push without touching the browser.
type Plan struct {
	BaseURL   string         `yaml:"base_url"`
	Workflows []PlanWorkflow `yaml:"workflows"`
}

// BuildPlan assembles the dry-run plan for the selected workflow keys. An
// empty key list covers every configured workflow in deterministic order.
func BuildPlan(configuration *Configuration, workflowKeys []string) (Plan, error) {
	selectedKeys := workflowKeys
	if len(selectedKeys) == 0 {
		selectedKeys = configuration.WorkflowKeys()
	}

	plan := Plan{BaseURL: configuration.BaseURL}
	for _, workflowKey := range selectedKeys {
		workflow, lookupError := configuration.Workflow(workflowKey)
		if lookupError != nil {
			return Plan{}, lookupError
		}
		planWorkflow := PlanWorkflow{Key: workflowKey, ID: workflow.ID, Name: workflow.Name}
		for _, step := range workflow.Steps {
			planWorkflow.Steps = append(planWorkflow.Steps, PlanStep{
				StepName:   step.StepName,
				ScriptPath: step.ScriptPath,
			})
		}
		plan.Workflows = append(plan.Workflows, planWorkflow)
	}
	return plan, nil
}

// Render serializes the plan as YAML for display.
func (plan Plan) Render() (string, error) {
	encodedPlan, marshalError := yaml.Marshal(plan)
	if marshalError != nil {
		return "", marshalError
	}
	return string(encodedPlan), nil
}
