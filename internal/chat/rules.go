package chat

import (
	"strings"

	"github.com/Mirudhula24/smart-triage/internal/triage"
)

// Canned responses. Rules refer to them by index.
const (
	respGreeting = iota
	respFallback
	respClosing
	respCardiac
	respBreathing
	respNeuro
	respBleeding
	respCrisis
	respAllergy
	respFever
	respStomach
	respSeverePain
	respDizzy
	respInfection
	respCold
	respMild
	respSkin
)

var responses = []string{
	respGreeting:   "Hello, I'm the clinic's triage assistant. Tell me what symptoms you're having and how long you've had them.",
	respFallback:   "Thanks. Can you describe your symptoms in a bit more detail, for example where it hurts, how bad it is and when it started?",
	respClosing:    "Thank you, that's everything I need for now.",
	respCardiac:    "Chest pain can be a sign of a heart problem. Please stop what you're doing and call your local emergency number now.",
	respBreathing:  "Trouble breathing needs urgent attention. Please call your local emergency number or go to the nearest emergency department now.",
	respNeuro:      "These can be signs of a stroke or another serious neurological problem. Please call your local emergency number immediately.",
	respBleeding:   "Apply firm pressure to the wound and call your local emergency number now.",
	respCrisis:     "I'm sorry you're going through this. Please call your local emergency number or a crisis line right now, you don't have to face this alone.",
	respAllergy:    "Swelling of the throat or a severe allergic reaction is an emergency. Use an adrenaline auto-injector if you have one and call your local emergency number.",
	respFever:      "A fever is your body fighting an infection. How high is your temperature, and have you had it for more than two days?",
	respStomach:    "Stomach symptoms can leave you dehydrated. Try small sips of water. Are you able to keep fluids down?",
	respSeverePain: "Severe pain should be looked at by a doctor soon. Is the pain constant, and is it getting worse?",
	respDizzy:      "Dizziness has many causes. Sit or lie down until it passes. Have you also fainted or hit your head?",
	respInfection:  "That sounds like it could be an infection that may need treatment. Do you have a fever as well?",
	respCold:       "That sounds like a common cold or mild viral illness. Rest and fluids usually help. Is anything else bothering you?",
	respMild:       "That is usually manageable at home with rest, fluids and over-the-counter relief. Anything else you'd like to mention?",
	respSkin:       "Skin irritation is usually not serious. Avoid scratching and note whether it spreads. Anything else?",
}

// Rule maps keywords to an urgency and a canned response.
type Rule struct {
	Keywords []string
	Urgency  triage.Urgency
	Response int
}

// rules are scanned in order and the first match wins, so more urgent
// rules come first.
var rules = []Rule{
	{Keywords: []string{"chest pain", "chest tightness", "heart attack"}, Urgency: triage.UrgencyHigh, Response: respCardiac},
	{Keywords: []string{"can't breathe", "cannot breathe", "difficulty breathing", "shortness of breath", "choking"}, Urgency: triage.UrgencyHigh, Response: respBreathing},
	{Keywords: []string{"unconscious", "passed out", "fainted", "seizure", "stroke", "slurred speech", "face drooping"}, Urgency: triage.UrgencyHigh, Response: respNeuro},
	{Keywords: []string{"severe bleeding", "bleeding heavily", "won't stop bleeding", "coughing blood", "vomiting blood"}, Urgency: triage.UrgencyHigh, Response: respBleeding},
	{Keywords: []string{"suicidal", "kill myself", "overdose", "self harm"}, Urgency: triage.UrgencyHigh, Response: respCrisis},
	{Keywords: []string{"throat swelling", "anaphylaxis", "severe allergic"}, Urgency: triage.UrgencyHigh, Response: respAllergy},

	{Keywords: []string{"high fever", "fever", "chills"}, Urgency: triage.UrgencyMedium, Response: respFever},
	{Keywords: []string{"vomiting", "diarrhea", "abdominal pain", "stomach pain"}, Urgency: triage.UrgencyMedium, Response: respStomach},
	{Keywords: []string{"severe headache", "migraine", "severe pain", "broken", "sprain"}, Urgency: triage.UrgencyMedium, Response: respSeverePain},
	{Keywords: []string{"dizzy", "dizziness", "lightheaded"}, Urgency: triage.UrgencyMedium, Response: respDizzy},
	{Keywords: []string{"infection", "burning urination", "ear pain", "swollen"}, Urgency: triage.UrgencyMedium, Response: respInfection},

	{Keywords: []string{"cold", "cough", "sore throat", "runny nose", "sneezing", "congestion"}, Urgency: triage.UrgencyLow, Response: respCold},
	{Keywords: []string{"headache", "tired", "fatigue", "muscle ache", "back pain"}, Urgency: triage.UrgencyLow, Response: respMild},
	{Keywords: []string{"rash", "itch", "itchy", "bug bite"}, Urgency: triage.UrgencyLow, Response: respSkin},
}

var closingPhrases = []string{"done", "that's all", "that is all", "no more", "bye", "nothing else"}

// Match is the outcome of running a message through the rules.
type Match struct {
	Matched  bool
	Urgency  triage.Urgency
	Keywords []string
	Response string
}

// MatchMessage applies the rules to a patient message.
func MatchMessage(text string) Match {
	lower := normalizeQuotes(strings.ToLower(text))
	for _, r := range rules {
		var hits []string
		for _, kw := range r.Keywords {
			if strings.Contains(lower, kw) {
				hits = append(hits, kw)
			}
		}
		if len(hits) > 0 {
			return Match{Matched: true, Urgency: r.Urgency, Keywords: hits, Response: responses[r.Response]}
		}
	}
	return Match{Response: responses[respFallback]}
}

// Greeting is the opening line of every chat.
func Greeting() string { return responses[respGreeting] }

// isClosing reports whether text contains a closing phrase as whole words.
func isClosing(text string) bool {
	norm := " " + strings.Join(strings.Fields(strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '\'':
			return r
		default:
			return ' '
		}
	}, normalizeQuotes(strings.ToLower(text)))), " ") + " "

	for _, p := range closingPhrases {
		if strings.Contains(norm, " "+p+" ") {
			return true
		}
	}
	return false
}

func normalizeQuotes(s string) string {
	return strings.ReplaceAll(s, "\u2019", "'")
}
