package classifier

import (
	"sort"
	"strings"
)

type Intent string

const (
	IntentBooking     Intent = "booking"
	IntentPricing     Intent = "pricing"
	IntentMenu        Intent = "menu"
	IntentSupport     Intent = "support"
	IntentComplaint   Intent = "complaint"
	IntentHuman       Intent = "human"
	IntentGreeting    Intent = "greeting"
	IntentInformation Intent = "information"
)

type Classifier interface {
	Classify(content string) Intent
}

// KeywordClassifier picks the intent whose keywords appear most often. It
// needs no network and serves when the reasoning provider is down.
type KeywordClassifier struct {
	keywords map[Intent][]string
}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		keywords: map[Intent][]string{
			IntentBooking:   {"book", "appointment", "schedule", "reschedule", "available", "availability", "slot", "reserve", "cancel"},
			IntentPricing:   {"price", "cost", "how much", "quote", "fee", "rate"},
			IntentMenu:      {"menu", "catalog", "catalogue", "brochure", "products"},
			IntentSupport:   {"help", "problem", "issue", "broken", "not working", "support"},
			IntentComplaint: {"complaint", "refund", "terrible", "angry", "disappointed", "worst"},
			IntentHuman:     {"human", "person", "agent", "representative", "someone real", "operator"},
			IntentGreeting:  {"hello", "hi", "hey", "good morning", "good afternoon", "good evening"},
		},
	}
}

func (c *KeywordClassifier) Classify(content string) Intent {
	content = strings.ToLower(content)
	words := strings.FieldsFunc(content, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	wordSet := make(map[string]struct{}, len(words))
	for _, w := range words {
		wordSet[w] = struct{}{}
	}

	// Sorted so ties resolve the same way every time
	intents := make([]string, 0, len(c.keywords))
	for intent := range c.keywords {
		intents = append(intents, string(intent))
	}
	sort.Strings(intents)

	best, bestScore := IntentInformation, 0
	for _, name := range intents {
		score := 0
		for _, kw := range c.keywords[Intent(name)] {
			if strings.Contains(kw, " ") {
				if strings.Contains(content, kw) {
					score++
				}
				continue
			}
			if _, ok := wordSet[kw]; ok {
				score++
			}
		}
		// Greetings only win when nothing else matched
		if Intent(name) == IntentGreeting && score > 0 {
			score = 0
			if bestScore == 0 {
				best = IntentGreeting
			}
			continue
		}
		if score > bestScore {
			best, bestScore = Intent(name), score
		}
	}
	return best
}

// FallbackReply is a polite canned answer for an intent.
func FallbackReply(intent Intent) string {
	switch intent {
	case IntentBooking:
		return "I'd be glad to help with your appointment. I'm having a little trouble right now, please try again in a moment or use /availability to see open times."
	case IntentPricing:
		return "Thanks for asking about our prices. I can't look that up right now, but someone from our team will get back to you shortly."
	case IntentMenu:
		return "Thanks for your interest! I can't send our menu right this moment, please try again shortly."
	case IntentSupport, IntentComplaint:
		return "I'm sorry for the trouble. I've noted your message and a member of our team will follow up with you as soon as possible."
	case IntentHuman:
		return "I'll let our team know you'd like to talk to a person. Someone will be with you shortly."
	case IntentGreeting:
		return "Hello! Thanks for reaching out. How can I help you today?"
	default:
		return "Thanks for your message! I'm having a little trouble right now, please try again in a moment."
	}
}
