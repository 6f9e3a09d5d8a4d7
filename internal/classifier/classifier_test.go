package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier()

	tests := []struct {
		content  string
		expected Intent
	}{
		{"I'd like to book an appointment for Friday", IntentBooking},
		{"Hi! How much does a haircut cost?", IntentPricing},
		{"Can you send me the menu?", IntentMenu},
		{"My order arrived broken, I need help", IntentSupport},
		{"This is terrible, I want a refund", IntentComplaint},
		{"Can I talk to a real person please", IntentHuman},
		{"Hello there", IntentGreeting},
		{"Good morning", IntentGreeting},
		{"Where are you located?", IntentInformation},
		{"", IntentInformation},
	}

	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			assert.Equal(t, tt.expected, c.Classify(tt.content))
		})
	}
}

func TestKeywordsMatchWholeWords(t *testing.T) {
	c := NewKeywordClassifier()

	// "this" contains "hi" but is not a greeting
	assert.Equal(t, IntentInformation, c.Classify("what is this"))
	assert.Equal(t, IntentBooking, c.Classify("BOOK"))
}

func TestFallbackReplyCoversEveryIntent(t *testing.T) {
	intents := []Intent{IntentBooking, IntentPricing, IntentMenu, IntentSupport, IntentComplaint, IntentHuman, IntentGreeting, IntentInformation}
	for _, intent := range intents {
		assert.NotEmpty(t, FallbackReply(intent), intent)
	}
	assert.Equal(t, FallbackReply(IntentInformation), FallbackReply("unknown"))
}
