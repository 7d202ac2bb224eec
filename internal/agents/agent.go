// Package agents holds the LLM-backed collaborators of the audit pipeline
// and the personas of the investment brief workflow.
package agents

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/stefanos11892/GVD-Engine/internal/llm"
)

// Persona is the fixed identity of an agent: its name, its role and the
// system prompt that frames every call.
type Persona struct {
	Name   string
	Role   string
	System string
	// Temperature overrides the service default when set.
	Temperature *float64
	// JSON marks personas that must answer with a JSON object.
	JSON bool
}

// Agent runs prompts for one persona against a text service.
type Agent struct {
	persona Persona
	gen     llm.Generator
}

// New creates an agent.
func New(gen llm.Generator, persona Persona) *Agent {
	return &Agent{persona: persona, gen: gen}
}

// Name returns the persona name.
func (a *Agent) Name() string { return a.persona.Name }

// Persona returns the agent's persona.
func (a *Agent) Persona() Persona { return a.persona }

// Run sends input, framed by the optional context, and returns the raw
// reply text.
func (a *Agent) Run(ctx context.Context, input, contextText string) (string, error) {
	if contextText == "" {
		contextText = "No additional context provided."
	}
	return a.Ask(ctx, fmt.Sprintf("Context:\n%s\n\nUser Input:\n%s\n", contextText, input))
}

// Ask sends prompt as-is, without the context framing.
func (a *Agent) Ask(ctx context.Context, prompt string) (string, error) {
	resp, err := a.gen.Generate(ctx, llm.Request{
		Role:        a.persona.Role,
		System:      a.persona.System,
		Prompt:      prompt,
		Temperature: a.persona.Temperature,
		JSON:        a.persona.JSON,
	})
	if err != nil {
		return "", eris.Wrapf(err, "agents: %s", a.persona.Name)
	}
	return resp.Text, nil
}
