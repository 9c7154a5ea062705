// Package signal extracts structured, deterministic detections from chat
// messages: pain vocabulary, competitor mentions, AI-literacy zone, urgency
// path, contact details, and first-match-wins context signals (industry,
// location, payment method, communication channel). Matching is
// case-insensitive keyword/substring detection against curated tables:
// no network and no model calls, so the extractor stays pure, cheap, and
// auditable.
package signal

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Group is one ordered bucket of a single-valued taxonomy. Taxonomies are
// resolved first-match-wins in slice order, so the order of groups in the
// table is part of the contract.
type Group struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Tables holds every keyword taxonomy the extractor matches against.
// Tables are configuration data, not code: tuning them must not require
// redeploying detection logic, so they load from YAML with the compiled-in
// defaults below as fallback.
type Tables struct {
	Pain        []string `yaml:"pain"`
	Competitors []string `yaml:"competitors"`

	// AI-literacy zones, most-specific-wins: technical beats practitioner
	// beats novice.
	ZoneTechnical    []string `yaml:"zone_technical"`
	ZonePractitioner []string `yaml:"zone_practitioner"`
	ZoneNovice       []string `yaml:"zone_novice"`

	// Path type: urgency keywords take priority over planning keywords.
	Urgency  []string `yaml:"urgency"`
	Planning []string `yaml:"planning"`

	Industries []Group `yaml:"industries"`
	Locations  []Group `yaml:"locations"`
	Payments   []Group `yaml:"payments"`
	Channels   []Group `yaml:"channels"`

	// Segmentation taxonomies (role and behavioral type).
	Roles     []Group `yaml:"roles"`
	Behaviors []Group `yaml:"behaviors"`
}

// DefaultTables returns the built-in keyword tables.
func DefaultTables() *Tables {
	return &Tables{
		Pain: []string{
			"manual", "data entry", "spreadsheet", "losing", "wasting",
			"overwhelmed", "repetitive", "copy paste", "no time", "drowning",
			"bottleneck", "error-prone", "falling behind", "missed follow-up",
			"double work", "chasing invoices",
		},
		Competitors: []string{
			"chatgpt", "openai", "zapier", "make.com", "intercom", "drift",
			"hubspot", "salesforce", "jasper", "copilot",
		},
		ZoneTechnical: []string{
			"api", "fine-tune", "fine tuning", "rag", "embedding", "token",
			"webhook", "integration", "self-host", "open source model",
		},
		ZonePractitioner: []string{
			"automation", "workflow", "prompt", "chatbot", "no-code",
			"ai tool", "use case",
		},
		ZoneNovice: []string{
			"what is ai", "new to ai", "never used", "heard about ai",
			"explain ai", "is ai safe",
		},
		Urgency: []string{
			"urgent", "asap", "this week", "immediately", "right away",
			"yesterday", "as soon as possible",
		},
		Planning: []string{
			"next quarter", "exploring", "researching", "roadmap",
			"eventually", "someday", "down the line",
		},
		Industries: []Group{
			{Name: "Logistics", Keywords: []string{"logistics", "fleet", "shipping", "delivery", "freight", "trucking", "warehouse"}},
			{Name: "Healthcare", Keywords: []string{"clinic", "hospital", "patient", "pharmacy", "medical"}},
			{Name: "Retail", Keywords: []string{"retail", "ecommerce", "e-commerce", "shop", "store", "inventory"}},
			{Name: "Finance", Keywords: []string{"bank", "sacco", "lending", "loans", "insurance", "fintech"}},
			{Name: "Real Estate", Keywords: []string{"real estate", "property", "landlord", "tenants", "rentals"}},
			{Name: "Legal", Keywords: []string{"law firm", "legal", "advocate", "contracts"}},
			{Name: "Hospitality", Keywords: []string{"hotel", "restaurant", "lodge", "bookings", "guests"}},
			{Name: "Education", Keywords: []string{"school", "students", "tuition", "course", "training center"}},
			{Name: "Agriculture", Keywords: []string{"farm", "agri", "crops", "livestock", "produce"}},
			{Name: "Manufacturing", Keywords: []string{"factory", "manufacturing", "production line", "assembly"}},
		},
		Locations: []Group{
			{Name: "Kenya", Keywords: []string{"nairobi", "kenya", "mombasa", "shilling", "ksh"}},
			{Name: "Nigeria", Keywords: []string{"lagos", "nigeria", "abuja", "naira"}},
			{Name: "India", Keywords: []string{"mumbai", "india", "delhi", "bangalore", "rupee"}},
			{Name: "United States", Keywords: []string{"new york", "california", "texas", "usa", "united states"}},
			{Name: "United Kingdom", Keywords: []string{"london", "uk", "united kingdom"}},
		},
		Payments: []Group{
			{Name: "M-Pesa", Keywords: []string{"m-pesa", "mpesa"}},
			{Name: "UPI", Keywords: []string{"upi"}},
			{Name: "Stripe", Keywords: []string{"stripe"}},
			{Name: "Bank Transfer", Keywords: []string{"bank transfer", "wire transfer", "eft"}},
		},
		Channels: []Group{
			{Name: "WhatsApp", Keywords: []string{"whatsapp"}},
			{Name: "Email", Keywords: []string{"email", "e-mail"}},
			{Name: "SMS", Keywords: []string{"sms", "text message"}},
		},
		Roles: []Group{
			{Name: "owner", Keywords: []string{"my business", "my company", "founder", "i own", "we run", "ceo"}},
			{Name: "ops_manager", Keywords: []string{"operations", "ops", "manage the team", "coordinat", "dispatch"}},
			{Name: "marketing", Keywords: []string{"marketing", "campaigns", "leads", "content", "social media"}},
			{Name: "developer", Keywords: []string{"developer", "engineer", "our stack", "codebase", "deploy"}},
			{Name: "executive", Keywords: []string{"board", "strategy", "c-suite", "director", "head of"}},
		},
		Behaviors: []Group{
			{Name: "urgent_buyer", Keywords: []string{"urgent", "asap", "this week", "ready to start", "budget"}},
			{Name: "researcher", Keywords: []string{"comparing", "exploring", "researching", "how does", "what about"}},
			{Name: "price_sensitive", Keywords: []string{"cheap", "discount", "too expensive", "cost", "pricing"}},
			{Name: "delegator", Keywords: []string{"my assistant", "my team will", "someone else", "hand off"}},
		},
	}
}

// LoadTables reads keyword tables from a YAML file. Sections left empty in
// the file fall back to the built-in defaults, so operators can tune one
// taxonomy without restating all of them.
func LoadTables(path string) (*Tables, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signal: read keyword tables: %w", err)
	}
	var loaded Tables
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return nil, fmt.Errorf("signal: parse keyword tables: %w", err)
	}

	t := DefaultTables()
	if len(loaded.Pain) > 0 {
		t.Pain = loaded.Pain
	}
	if len(loaded.Competitors) > 0 {
		t.Competitors = loaded.Competitors
	}
	if len(loaded.ZoneTechnical) > 0 {
		t.ZoneTechnical = loaded.ZoneTechnical
	}
	if len(loaded.ZonePractitioner) > 0 {
		t.ZonePractitioner = loaded.ZonePractitioner
	}
	if len(loaded.ZoneNovice) > 0 {
		t.ZoneNovice = loaded.ZoneNovice
	}
	if len(loaded.Urgency) > 0 {
		t.Urgency = loaded.Urgency
	}
	if len(loaded.Planning) > 0 {
		t.Planning = loaded.Planning
	}
	if len(loaded.Industries) > 0 {
		t.Industries = loaded.Industries
	}
	if len(loaded.Locations) > 0 {
		t.Locations = loaded.Locations
	}
	if len(loaded.Payments) > 0 {
		t.Payments = loaded.Payments
	}
	if len(loaded.Channels) > 0 {
		t.Channels = loaded.Channels
	}
	if len(loaded.Roles) > 0 {
		t.Roles = loaded.Roles
	}
	if len(loaded.Behaviors) > 0 {
		t.Behaviors = loaded.Behaviors
	}
	return t, nil
}
