package main

import (
	"context"
	"fmt"

	"github.com/questweaver/questweaver/agent"
	"github.com/questweaver/questweaver/types"
)

// demoAgents returns the stock table: a narrator, a combat resolver, and an
// illustrator. Each one fakes its craft with canned text so the binary runs
// without any model backend.
func demoAgents() []agent.Executor {
	return []agent.Executor{
		&cannedExecutor{
			id:  "narrator-1",
			typ: "narrative",
			caps: []types.Capability{
				{Name: "narrate_scene", Description: "describe a scene to the players"},
				{Name: "recap_session", Description: "summarize what just happened"},
			},
			lines: map[string]string{
				"narrate_scene": "Mist clings to the king's road as shapes stir in the treeline.",
				"recap_session": "The ambush is broken; the party stands victorious among the brambles.",
			},
		},
		&cannedExecutor{
			id:  "combat-1",
			typ: "combat",
			caps: []types.Capability{
				{Name: "resolve_round", Description: "resolve one round of combat"},
			},
			lines: map[string]string{
				"resolve_round": "Initiative favors the party: three goblins down, one fled into the dark.",
			},
		},
		&cannedExecutor{
			id:  "artist-1",
			typ: "art",
			caps: []types.Capability{
				{Name: "render_scene", Description: "illustrate the current scene"},
			},
			lines: map[string]string{
				"render_scene": "[charcoal sketch: broken goblin spears scattered across a mist-lit road]",
			},
		},
	}
}

// cannedExecutor answers each known action with a fixed line.
type cannedExecutor struct {
	id    string
	typ   string
	caps  []types.Capability
	lines map[string]string
}

func (c *cannedExecutor) ID() string                       { return c.id }
func (c *cannedExecutor) Type() string                     { return c.typ }
func (c *cannedExecutor) Capabilities() []types.Capability { return c.caps }

func (c *cannedExecutor) Execute(ctx context.Context, action string, params map[string]any) (any, error) {
	line, ok := c.lines[action]
	if !ok {
		return nil, fmt.Errorf("%s cannot perform %q", c.id, action)
	}
	return line, nil
}
