// Package brief runs the new-idea workflow: an originator pitch, a
// concurrent review by analyst, risk officer and radar, and a final
// decision by the architect.
package brief

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stefanos11892/GVD-Engine/internal/agents"
	"github.com/stefanos11892/GVD-Engine/internal/fanout"
	"github.com/stefanos11892/GVD-Engine/internal/llm"
)

// Reviewer task names, also the keys of Result.Errors.
const (
	RoleAnalyst     = "analyst"
	RoleRiskOfficer = "risk_officer"
	RoleRadar       = "radar"
)

const architectPrompt = "Review the full packet and issue a BUY/PASS decision. Use the Portfolio Snapshot to determine sizing."

// Agents are the five participants of the workflow.
type Agents struct {
	Originator  fanout.Runner
	Analyst     fanout.Runner
	RiskOfficer fanout.Runner
	Radar       fanout.Runner
	Architect   fanout.Runner
}

// NewAgents builds the standard personas on gen.
func NewAgents(gen llm.Generator) Agents {
	return Agents{
		Originator:  agents.New(gen, agents.Originator),
		Analyst:     agents.New(gen, agents.Analyst),
		RiskOfficer: agents.New(gen, agents.RiskOfficer),
		Radar:       agents.New(gen, agents.Radar),
		Architect:   agents.New(gen, agents.Architect),
	}
}

// Input is what the originator works from.
type Input struct {
	Theme     string
	Material  string
	Portfolio string
}

// Result holds every agent's reply. Errors lists reviewers that failed in
// partial mode.
type Result struct {
	Originator  string            `json:"originator" yaml:"originator"`
	Analyst     string            `json:"analyst" yaml:"analyst"`
	RiskOfficer string            `json:"risk" yaml:"risk"`
	Radar       string            `json:"radar" yaml:"radar"`
	Architect   string            `json:"architect" yaml:"architect"`
	Errors      map[string]string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithPartial keeps going when some reviewers fail. The architect sees
// which reviews are missing. By default any reviewer failure aborts the
// workflow.
func WithPartial(enabled bool) Option {
	return func(w *Workflow) { w.partial = enabled }
}

// Workflow runs the new-idea chain.
type Workflow struct {
	agents  Agents
	partial bool
}

// New creates a Workflow.
func New(a Agents, opts ...Option) *Workflow {
	w := &Workflow{agents: a}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run executes the chain.
func (w *Workflow) Run(ctx context.Context, in Input) (*Result, error) {
	log := zap.L().With(zap.Bool("partial", w.partial))
	res := &Result{}

	theme := in.Theme
	if theme == "" {
		theme = "Find the single best long idea in the material."
	}

	log.Info("brief: originator generating ideas")
	pitch, err := w.agents.Originator.Run(ctx, theme, in.Material)
	if err != nil {
		return nil, eris.Wrap(err, "brief: originator")
	}
	res.Originator = pitch

	tasks := []fanout.Task{
		{Name: RoleAnalyst, Agent: w.agents.Analyst, Prompt: "Analyze the top pick from the previous step.", Context: pitch},
		{Name: RoleRiskOfficer, Agent: w.agents.RiskOfficer, Prompt: "Simulate impact of this new trade.", Context: pitch},
		{Name: RoleRadar, Agent: w.agents.Radar, Prompt: "Search for news on the top pick.", Context: pitch},
	}

	log.Info("brief: reviewing pitch", zap.Int("reviewers", len(tasks)))
	var reviews map[string]string
	if w.partial {
		collected, collectErr := fanout.Collect(ctx, tasks)
		if collectErr != nil {
			return nil, eris.Wrap(collectErr, "brief: review")
		}
		if len(collected.Values) == 0 {
			return nil, eris.Wrap(collected.Err(), "brief: every reviewer failed")
		}
		reviews = collected.Values
		if len(collected.Errors) > 0 {
			res.Errors = make(map[string]string, len(collected.Errors))
			for name, e := range collected.Errors {
				res.Errors[name] = e.Error()
			}
			log.Warn("brief: continuing without some reviews", zap.Error(collected.Err()))
		}
	} else {
		reviews, err = fanout.Run(ctx, tasks)
		if err != nil {
			return nil, eris.Wrap(err, "brief: review")
		}
	}
	res.Analyst = reviews[RoleAnalyst]
	res.RiskOfficer = reviews[RoleRiskOfficer]
	res.Radar = reviews[RoleRadar]

	log.Info("brief: architect deciding")
	decision, err := w.agents.Architect.Run(ctx, architectPrompt, packet(res, in.Portfolio))
	if err != nil {
		return nil, eris.Wrap(err, "brief: architect")
	}
	res.Architect = decision
	return res, nil
}

// packet assembles the architect's context. Missing reviews are named so
// the architect does not mistake them for empty findings.
func packet(res *Result, portfolio string) string {
	section := func(title, body, role string) string {
		if body == "" {
			if e, ok := res.Errors[role]; ok {
				body = fmt.Sprintf("(unavailable: %s)", e)
			}
		}
		return title + ":\n" + body
	}

	parts := []string{
		section("Analyst", res.Analyst, RoleAnalyst),
		section("Risk", res.RiskOfficer, RoleRiskOfficer),
		section("Radar", res.Radar, RoleRadar),
	}
	if portfolio == "" {
		portfolio = "Portfolio Snapshot:\nNo positions on record."
	}
	parts = append(parts, portfolio)
	return strings.Join(parts, "\n\n")
}
