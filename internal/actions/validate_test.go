package actions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeErr(t *testing.T, name, raw string) *ValidationError {
	t.Helper()
	_, err := Decode(name, json.RawMessage(raw))
	require.Error(t, err)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	return vErr
}

func TestDecodeValidArguments(t *testing.T) {
	inv, err := Decode("book_appointment", json.RawMessage(`{"date":"2025-03-10","time":"10:00","customer_name":"Ana","send_confirmation":true}`))
	require.NoError(t, err)

	book, ok := inv.(*BookAppointment)
	require.True(t, ok)
	assert.Equal(t, KindBookAppointment, book.Kind())
	assert.Equal(t, "Ana", book.CustomerName)
	assert.True(t, book.SendConfirmation)

	inv, err = Decode("analyze_customer_intent", json.RawMessage(`{"intent":"pricing","confidence":0.8,"lead_score":60,"tags":["vip"]}`))
	require.NoError(t, err)
	intent := inv.(*AnalyzeCustomerIntent)
	require.NotNil(t, intent.LeadScore)
	assert.Equal(t, 60, *intent.LeadScore)
}

func TestDecodeRejections(t *testing.T) {
	cases := []struct {
		name   string
		action string
		raw    string
		field  string
	}{
		{"unknown action", "delete_everything", `{}`, "action"},
		{"not an object", "check_availability", `[1,2]`, "arguments"},
		{"missing required", "check_availability", `{}`, "date"},
		{"blank required string", "book_appointment", `{"date":"2025-03-10","time":"10:00","customer_name":"  "}`, "customer_name"},
		{"bad date", "check_availability", `{"date":"10/03/2025"}`, "date"},
		{"bad time", "book_appointment", `{"date":"2025-03-10","time":"9:00","customer_name":"Ana"}`, "time"},
		{"enum", "send_multimedia", `{"media_category":"video"}`, "media_category"},
		{"unknown field", "get_upcoming_appointments", `{"scope":"today","extra":1}`, "extra"},
		{"below minimum", "schedule_follow_up", `{"follow_up_type":"reminder","delay_hours":0,"message":"hi"}`, "delay_hours"},
		{"not an integer", "schedule_follow_up", `{"follow_up_type":"reminder","delay_hours":1.5,"message":"hi"}`, "delay_hours"},
		{"above maximum", "analyze_customer_intent", `{"intent":"pricing","confidence":1.5}`, "confidence"},
		{"wrong type", "save_conversation_data", `{"data_type":"order","data":"pizza"}`, "data"},
		{"too many buttons", "send_interactive_message", `{"message_type":"buttons","body":"pick","buttons":[{"id":"a","title":"A"},{"id":"b","title":"B"},{"id":"c","title":"C"},{"id":"d","title":"D"}]}`, "buttons"},
		{"no buttons", "send_interactive_message", `{"message_type":"buttons","body":"pick","buttons":[]}`, "buttons"},
		{"button title too long", "send_interactive_message", `{"message_type":"buttons","body":"pick","buttons":[{"id":"a","title":"This title is far too long"}]}`, "buttons[0].title"},
		{"button missing id", "send_interactive_message", `{"message_type":"buttons","body":"pick","buttons":[{"title":"A"}]}`, "buttons[0].id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			vErr := decodeErr(t, tc.action, tc.raw)
			assert.Contains(t, vErr.FieldErrors, tc.field)
		})
	}
}

func TestDecodeEmptyArguments(t *testing.T) {
	vErr := decodeErr(t, "get_upcoming_appointments", ``)
	assert.Equal(t, "is required", vErr.FieldErrors["scope"])

	vErr = decodeErr(t, "get_upcoming_appointments", `null`)
	assert.Contains(t, vErr.FieldErrors, "scope")
}

func TestDecodeCollectsEveryFieldError(t *testing.T) {
	vErr := decodeErr(t, "book_appointment", `{"date":"tomorrow","time":"noon"}`)
	assert.Len(t, vErr.FieldErrors, 3)
	assert.Equal(t, "validation failed: customer_name: is required; date: must be a date in YYYY-MM-DD format; time: must be a time in HH:MM format", vErr.Error())
}

func TestFreeFormObjectAcceptsAnyKeys(t *testing.T) {
	inv, err := Decode("save_conversation_data", json.RawMessage(`{"data_type":"order","data":{"item":"pizza","qty":2}}`))
	require.NoError(t, err)
	assert.Equal(t, "pizza", inv.(*SaveConversationData).Data["item"])
}

func TestCatalogSchema(t *testing.T) {
	defs := Catalog()
	require.Len(t, defs, 8)

	seen := map[Kind]bool{}
	for _, d := range defs {
		assert.False(t, seen[d.Kind], "duplicate %s", d.Kind)
		seen[d.Kind] = true
		assert.NotEmpty(t, d.Description)

		schema := d.JSONSchema()
		assert.Equal(t, "object", schema["type"])
		assert.Equal(t, false, schema["additionalProperties"])

		// Every schema must serialise for the provider
		_, err := json.Marshal(schema)
		require.NoError(t, err)
	}

	def, ok := Lookup("book_appointment")
	require.True(t, ok)
	schema := def.JSONSchema()
	assert.ElementsMatch(t, []string{"date", "time", "customer_name"}, schema["required"])
	props := schema["properties"].(map[string]any)
	assert.Equal(t, `^\d{2}:\d{2}$`, props["time"].(map[string]any)["pattern"])

	def, _ = Lookup("send_interactive_message")
	buttons := def.JSONSchema()["properties"].(map[string]any)["buttons"].(map[string]any)
	assert.Equal(t, 3, buttons["maxItems"])
	item := buttons["items"].(map[string]any)
	assert.ElementsMatch(t, []string{"id", "title"}, item["required"])

	_, ok = Lookup("nope")
	assert.False(t, ok)
}

func TestResultJSONIsFlat(t *testing.T) {
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(ok(map[string]any{"booked": true}).JSON()), &out))
	assert.Equal(t, map[string]any{"booked": true, "success": true}, out)

	out = nil
	require.NoError(t, json.Unmarshal([]byte(fail(CodeSlotUnavailable, "Time slot not available", nil).JSON()), &out))
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "Time slot not available", out["error"])
	assert.Equal(t, "slot_unavailable", out["code"])
}
