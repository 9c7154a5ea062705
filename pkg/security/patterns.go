package security

// =============================================================================
// PATTERN DEFINITIONS BY EVENT TYPE
// All patterns are registered here and compiled once at first use.
// =============================================================================

// --- INJECTION ATTEMPT PATTERNS (alert + log) ---
func (r *Registry) registerInjectionPatterns() {
	typ := EventInjection

	// Directive override
	r.register("ignore_instructions", `(?i)ignore\s+(all\s+)?(previous|prior|above|your)\s+(instructions?|prompts?|rules?|directives?)`, typ, "Instruction override attempt")
	r.register("disregard_instructions", `(?i)disregard\s+(all\s+)?(previous|prior|your)\s+(instructions?|training|rules?)`, typ, "Instruction override attempt")
	r.register("forget_instructions", `(?i)forget\s+(everything|all|your)\s+(above|instructions?|rules?|training)`, typ, "Instruction override attempt")
	r.register("new_instructions", `(?i)(your\s+)?new\s+instructions?\s+(are|is|follow)`, typ, "Instruction replacement attempt")
	r.register("override_directives", `(?i)override\s+(your\s+)?(safety|system|default)\s+(settings?|directives?|behavior)`, typ, "Directive override attempt")

	// Configuration / system prompt extraction
	r.register("reveal_system_prompt", `(?i)(reveal|show|display|output|print|repeat|leak|extract)\s+(me\s+)?(your\s+)?(system\s+prompt|initial\s+prompt|instructions?|configuration|internal\s+state)`, typ, "System prompt extraction")
	r.register("repeat_above", `(?i)repeat\s+(everything|the\s+text|all\s+text)\s+above`, typ, "System prompt extraction")
	r.register("what_were_you_told", `(?i)what\s+(exactly\s+)?(were|was)\s+you\s+(told|instructed|programmed)`, typ, "System prompt extraction")

	// Jailbreak / role override
	r.register("unrestricted_persona", `(?i)you\s+are\s+now\s+.{0,40}(no\s+(restrictions?|rules?|limits?|filters?)|unrestricted|unfiltered|uncensored)`, typ, "Persona hijack")
	r.register("pretend_unrestricted", `(?i)(pretend|imagine|act\s+as\s+if|suppose)\s+(you'?re?|you\s+are|to\s+be)\s+(an?\s+)?(evil|unrestricted|unfiltered|uncensored|jailbroken)`, typ, "Persona hijack")
	r.register("developer_mode", `(?i)(developer\s*mode|jailbreak\s*mode|dan\s+mode)`, typ, "Persona hijack mode request")
	r.register("no_ethics", `(?i)without\s+(any\s+)?(ethical|moral)\s+(guidelines|constraints|restrictions)`, typ, "Amoral persona request")
	r.register("roleplay_as_admin", `(?i)act\s+as\s+(an?\s+)?(admin|root|superuser)\s+with\s+full\s+(access|permissions)`, typ, "Privilege roleplay")
}

// --- RECONNAISSANCE PATTERNS (log only) ---
func (r *Registry) registerReconPatterns() {
	typ := EventRecon

	// Model probing
	r.register("which_model", `(?i)(what|which)\s+(llm|language\s+model|ai\s+model|model)\s+(are\s+you|is\s+this|powers?|runs?)`, typ, "Model identity probe")
	r.register("model_vendor", `(?i)are\s+you\s+(gpt|claude|gemini|llama|chatgpt|anthropic|openai)`, typ, "Model vendor probe")
	r.register("model_version", `(?i)(model\s+version|version\s+of\s+(the\s+)?model|which\s+version\s+are\s+you)`, typ, "Model version probe")

	// Stack probing
	r.register("tech_stack", `(?i)(what|which)\s+(tech(nology)?\s+stack|framework|database|backend|infrastructure)\s+(do\s+you|does\s+this|is\s+(this|it))`, typ, "Technology stack probe")
	r.register("how_built", `(?i)how\s+(is|was)\s+(this|your)\s+(system|bot|assistant|backend)\s+built`, typ, "Architecture probe")
	r.register("api_probe", `(?i)(what|which)\s+api\s+(do\s+you\s+use|is\s+behind|powers)`, typ, "API probe")

	// Business methodology probing
	r.register("methodology_probe", `(?i)(how\s+do\s+you\s+(qualify|score|classify)\s+(leads?|clients?|prospects?))`, typ, "Qualification methodology probe")
	r.register("pricing_logic_probe", `(?i)(what\s+(criteria|rules|thresholds?)\s+.{0,30}(qualif|escalat|pric))`, typ, "Business rules probe")
	r.register("prompt_engineering_probe", `(?i)(how\s+(is|was)\s+your\s+prompt\s+(written|engineered|designed))`, typ, "Prompt design probe")
}
