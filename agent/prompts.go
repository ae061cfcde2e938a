package agent

import (
	"fmt"
	"strings"
)

// systemPrompt defines the agent's behavior, game knowledge, and the
// hierarchical decision structure the service must respond with.
const systemPrompt = `You are an expert AI agent playing The Legend of Zelda: A Link to the Past on SNES.

## YOUR CAPABILITIES
You receive VISUAL INPUTS (game screenshots) and must decide controller actions to progress through the game.
You reason directly from pixels - no intermediate text representations.

## YOUR MISSION
Complete the First Quest by:
1. Exploring the world of Hyrule
2. Defeating enemies and collecting items
3. Solving dungeon puzzles
4. Rescuing Princess Zelda

## VISUAL ANALYSIS FRAMEWORK
You will receive a FILMSTRIP of 3 consecutive frames: [Frame T-2 | Frame T-1 | Frame T]

Analyze:
- **Link's State**: Health (hearts in top-left), position, facing direction
- **Enemies**: Types, positions, movement patterns (compare across frames)
- **Environment**: Walls, doors, obstacles, dungeon vs overworld
- **Items**: Hearts, rupees, keys visible on screen
- **Threats**: Projectiles, enemy proximity, environmental hazards
- **Motion**: What changed between frames? (enemy advancing, Link moving, etc.)

## DECISION STRUCTURE
You MUST respond with a JSON object following this hierarchical reasoning:

1. **visual_observation**: Describe what you SEE (be specific about positions, states)
2. **threat_assessment**: "none" | "low" | "medium" | "high" | "critical"
3. **threat_details**: Specific threats (enemy types, distances, attack patterns)
4. **strategic_goal**: High-level objective (e.g., "Exit room to the north")
5. **immediate_tactic**: Short-term action (e.g., "Dodge left to avoid Moblin")
6. **controller_output**:
   - buttons: ["UP", "DOWN", "LEFT", "RIGHT", "A", "B", "X", "START"] (can combine)
   - duration_ms: 100-1000 (how long to hold)
   - hold: true/false (hold vs tap)
7. **confidence**: 0.0-1.0 (how confident you are)

## GAME KNOWLEDGE
**Combat:**
- Sword (A button): Link's primary weapon
- Charge attack: Hold direction + A to dash-attack
- Enemy patterns: Most enemies have predictable movement
- Invincibility frames: After taking damage, Link is briefly invulnerable

**Health:**
- Hearts in top-left HUD show current health
- Full heart = healthy, half heart = critical
- Death at 0 hearts = lesson to learn from

**Navigation:**
- Dark green = grass (safe)
- Gray/stone = dungeon (dangerous)
- Black areas = unexplored or walls
- Doors = rectangular openings in walls

**Items:**
- Red hearts = health restore
- Green rupees = currency (1)
- Blue rupees = currency (5)
- Keys = unlock doors in dungeons

**Strategic Principles:**
1. **Survival First**: Low health? Avoid combat, seek hearts
2. **Learn Patterns**: Enemies are predictable - observe before engaging
3. **Explore Methodically**: Check all areas, talk to NPCs
4. **Resource Management**: Don't waste bombs/arrows on weak enemies
5. **Dungeon Logic**: Keys open doors, find boss key to reach boss

## EXAMPLE OUTPUT
` + "```json" + `
{
  "visual_observation": "Link (green tunic, center) faces north. Red Moblin 3 tiles ahead moving south (comparing frames shows it's advancing). Health: 2.5 hearts visible. Stone corridor = dungeon environment.",
  "threat_assessment": "medium",
  "threat_details": "Moblin closing distance, predictable charge pattern. Link has moderate health buffer.",
  "strategic_goal": "Defeat Moblin to clear room and proceed north",
  "immediate_tactic": "Attack while retreating to maintain distance",
  "controller_output": {
    "buttons": ["UP", "A"],
    "duration_ms": 300,
    "hold": false
  },
  "confidence": 0.8
}
` + "```" + `

## CRITICAL RULES
- ALWAYS output valid JSON matching the schema
- Use multi-frame analysis to detect motion and velocity
- Prioritize Link's survival over aggression when health is low
- Be specific in observations (use positions, directions, quantities)
- Low confidence (<0.5)? Choose defensive actions (wait, retreat, menu)

Think step-by-step. Observe carefully. Act decisively.`

// criticalHealthPrompt is injected when the caller's health bucket is
// critical; survival overrides every other priority.
const criticalHealthPrompt = `**CRITICAL HEALTH WARNING**

Link has 1 heart or less remaining. ONE HIT WILL KILL YOU.

Priority actions:
1. AVOID ALL COMBAT (flee from enemies)
2. SEARCH FOR HEARTS (pick up heart drops)
3. RETREAT TO SAFE AREAS (previously cleared rooms)
4. DO NOT TAKE RISKS (no aggressive strategies)

Survival is the ONLY goal until health is restored.`

const decisionPrompt = `Analyze the filmstrip above (3 consecutive frames showing game progression).

**Task**: Decide the next controller action.

**Output**: JSON only, following the exact schema. No additional text.`

// SystemPrompt returns the core system prompt for the decision service.
func SystemPrompt() string {
	return systemPrompt
}

// FormatDecisionRequest assembles the per-cycle prompt: objective, health,
// previous action, injected lessons, the critical-health directive when
// applicable, and the decision request itself.
func FormatDecisionRequest(previousAction string, lessons []string, objective, healthStatus string, isCriticalHealth bool) string {
	var parts []string

	if ctx := formatContext(previousAction, lessons, objective, healthStatus); ctx != "" {
		parts = append(parts, ctx)
	}

	if isCriticalHealth {
		parts = append(parts, criticalHealthPrompt, "")
	}

	parts = append(parts, decisionPrompt)
	return strings.Join(parts, "\n")
}

func formatContext(previousAction string, lessons []string, objective, healthStatus string) string {
	var parts []string

	if objective != "" {
		parts = append(parts, fmt.Sprintf("**CURRENT OBJECTIVE**: %s", objective))
	}
	if healthStatus != "" {
		parts = append(parts, fmt.Sprintf("**HEALTH STATUS**: %s", healthStatus))
	}
	if previousAction != "" {
		parts = append(parts, fmt.Sprintf("**PREVIOUS ACTION**: %s", previousAction))
	}
	if len(lessons) > 0 {
		parts = append(parts, "**LESSONS LEARNED** (from past deaths/failures):")
		for _, lesson := range lessons {
			parts = append(parts, fmt.Sprintf("- %s", lesson))
		}
	}

	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n") + "\n"
}

// FormatFailureAnalysisRequest builds the analysis-mode prompt from the
// recent action transcript.
func FormatFailureAnalysisRequest(failureType, context, historyTranscript string) string {
	if context == "" {
		context = "Unknown"
	}
	return fmt.Sprintf(`**FAILURE ANALYSIS**

Failure Type: %s
Context: %s

**Recent Actions:**
%s

**Task**: Analyze what went wrong and generate a lesson to prevent this in the future.

Output JSON:
{
  "cause_of_failure": "Immediate cause (e.g., 'Moblin charge attack')",
  "mistake": "What decision was wrong (e.g., 'Engaged enemy with critical health')",
  "lesson": "Concise lesson (1-2 sentences, e.g., 'Avoid combat when health is critical. Retreat to find hearts first.')",
  "context": "When this applies (e.g., 'Low health in dungeon')"
}`, failureType, context, historyTranscript)
}

// SchemaPrompt documents the output contract for the decision service.
func SchemaPrompt() string {
	return fmt.Sprintf(`## OUTPUT SCHEMA

Your response must be valid JSON matching this schema:

%s

Remember: Output ONLY the JSON object, no other text.`, JSONSchema())
}
