package agent

import (
	"fmt"
	"strings"

	"crewmind/pkg/mapgraph"
	"crewmind/pkg/protocol"
)

// PromptParams contains all inputs needed to assemble an agent's system prompt.
type PromptParams struct {
	Name         string
	Role         protocol.Role
	Impostors    []string // peer impostors, disclosed only to impostors
	Instructions string   // free-form, may be empty
	Players      []string
	Map          *mapgraph.Graph
}

// section writes a markdown section (## header + body) to the builder.
func section(b *strings.Builder, header, body string) {
	fmt.Fprintf(b, "## %s\n\n%s\n\n", header, strings.TrimSpace(body))
}

const rulesBody = `The game takes place on a spaceship with rooms connected by hallways and vents.
Each player is either a crewmate or an impostor.
Crewmates win by completing their tasks around the ship or by voting out every impostor.
Impostors win by killing crewmates without being caught.
Short tasks take 4 seconds, common tasks take 6 seconds, and long tasks take 12 seconds.
Impostors can sabotage the ship to split the crew up and create chances to kill.
Impostors have a kill cooldown of 30 seconds and can only kill crewmates in range.
Impostors can vent to move quickly and hide, but they can be seen entering or leaving a vent.
When a body is reported or the emergency button is pressed, everyone meets, discusses for three rounds and then votes.`

const sabotageBody = `1. Electrical - impostors keep full vision while crewmates only see the area around them. Fixed in Electrical.
2. O2 - crewmates have 30 seconds to fix it or they lose. Needs one player in O2 and another in Admin.
3. Reactor - crewmates have 30 seconds to fix it or they lose. Needs two players in Reactor.`

// BuildSystemPrompt assembles the fixed prompt for one agent. It is built
// once when the engine is created.
func BuildSystemPrompt(p PromptParams) string {
	var b strings.Builder

	section(&b, "Game", "You are an agent playing a variant of the social deduction game Among Us.\n"+rulesBody)

	if p.Map != nil {
		b.WriteString(p.Map.Describe())
		b.WriteString("\n")
	}
	section(&b, "Sabotages", sabotageBody)

	if len(p.Players) > 0 {
		var players strings.Builder
		for i, name := range p.Players {
			fmt.Fprintf(&players, "%d. %s\n", i+1, name)
		}
		section(&b, "Players", players.String())
	}

	identity := fmt.Sprintf("You are %s. Your role is %s.", p.Name, p.Role)
	if p.Role == protocol.RoleImpostor && len(p.Impostors) > 0 {
		identity += fmt.Sprintf(" The other impostors are: %s.", strings.Join(p.Impostors, ", "))
	}
	section(&b, "Identity", identity)

	section(&b, "How To Play", strings.Join([]string{
		"- Each turn you receive new events and your current state.",
		"- Call exactly one tool per response.",
		"- Use think to update your plan and the information tools to plan routes.",
		"- Finish the turn with an action, or continue_current_action to keep going.",
	}, "\n"))

	if s := strings.TrimSpace(p.Instructions); s != "" {
		section(&b, "Additional Instructions", s)
	}

	return strings.TrimRight(b.String(), "\n")
}
