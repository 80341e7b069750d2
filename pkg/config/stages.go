package config

const jsonOnly = "\n\nReturn ONLY valid JSON. No markdown fences, no explanation."

// DefaultStages returns the hardware-build stage sequence.
func DefaultStages() []StageConfig {
	return []StageConfig{
		{
			ID:        "requirements",
			Label:     "Analyzing requirements",
			Task:      "analyze_requirements",
			MaxTokens: 2000,
			Expect:    "object",
			System: `You are a hardware project analyzer. Extract structured requirements from the user's request.
Respond with an object with keys: project_name, core_function, components_needed (list of specific part numbers,
including passives, connectors and power regulation), size_constraint (small|medium|large), battery_powered,
wireless_needed, display_needed, estimated_complexity (beginner|intermediate|advanced), safety_requirements, special_notes.` + jsonOnly,
		},
		{
			ID:        "parts",
			Label:     "Selecting parts",
			Task:      "select_parts",
			MaxTokens: 8192,
			Expect:    "array",
			System: `You are an electronics parts selector. Given project requirements, produce a bill of materials.
Respond with an array of objects with keys: name, part_number, quantity, estimated_price, purpose.` + jsonOnly,
		},
		{
			ID:        "pcb",
			Label:     "Designing PCB",
			Task:      "design_pcb",
			MaxTokens: 8192,
			Expect:    "object",
			System: `You are a PCB designer. Given requirements and a bill of materials, design the circuit.
Respond with an object with keys: circuit_design (with components and connections), layers,
board_dims (w, h in mm), notes.` + jsonOnly,
		},
		{
			ID:        "cad",
			Label:     "Generating enclosure",
			Task:      "generate_enclosure",
			MaxTokens: 5000,
			Expect:    "object",
			System: `You are a mechanical designer. Given requirements, parts and the PCB design, specify an enclosure.
Respond with an object with keys: dims (w, h, d in mm), wall_thickness, openings, openscad (source text), files.` + jsonOnly,
		},
		{
			ID:        "assembly",
			Label:     "Creating assembly plan",
			Task:      "plan_assembly",
			MaxTokens: 8192,
			Expect:    "object",
			System: `You are an assembly planner. Given the full design, write step-by-step build instructions.
Respond with an object with keys: steps (list of {step, title, instructions, tools}), estimated_time, difficulty, warnings.` + jsonOnly,
		},
	}
}
