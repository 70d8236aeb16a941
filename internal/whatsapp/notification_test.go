package whatsapp

import "testing"

func textMsg(from, body string) Message {
	return Message{From: from, Type: "text", Text: &Text{Body: body}}
}

func notification(entries ...Entry) Notification {
	return Notification{Object: "whatsapp_business_account", Entry: entries}
}

func TestParseNotification_NoEntry(t *testing.T) {
	res := ParseNotification(Notification{})
	if res.StatusCode != 403 {
		t.Errorf("expected 403, got %d", res.StatusCode)
	}
	if res.Body != "unsupported method" {
		t.Errorf("unexpected body: %q", res.Body)
	}
	if res.IsBase64Encoded {
		t.Error("IsBase64Encoded should be false")
	}
}

func TestParseNotification_EmptyEntry(t *testing.T) {
	res := ParseNotification(notification())
	if res.StatusCode != 403 {
		t.Errorf("expected 403, got %d", res.StatusCode)
	}
}

func TestParseNotification_MissingValue(t *testing.T) {
	res := ParseNotification(notification(Entry{
		Changes: []Change{{Field: "messages"}},
	}))
	if res.StatusCode != 403 {
		t.Errorf("expected 403 for change without value, got %d", res.StatusCode)
	}
}

func TestParseNotification_NonTextOnly(t *testing.T) {
	res := ParseNotification(notification(Entry{
		Changes: []Change{{
			Value: &Value{Messages: []Message{
				{From: "111", Type: "image"},
				{From: "222", Type: "sticker"},
			}},
		}},
	}))
	if res.StatusCode != 403 {
		t.Errorf("expected 403 for non-text messages, got %d", res.StatusCode)
	}
	if res.Sender != "" {
		t.Errorf("sender should be empty, got %q", res.Sender)
	}
}

func TestParseNotification_TextMessage(t *testing.T) {
	res := ParseNotification(notification(Entry{
		Changes: []Change{{
			Value: &Value{Messages: []Message{textMsg("5511999999999", "what is a pointer?")}},
		}},
	}))
	if res.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if res.Body != "what is a pointer?" {
		t.Errorf("body: got %q", res.Body)
	}
	if res.Sender != "5511999999999" {
		t.Errorf("sender: got %q", res.Sender)
	}
	if res.IsBase64Encoded {
		t.Error("IsBase64Encoded should be false")
	}
	if !res.Actionable() {
		t.Error("result should be actionable")
	}
}

func TestParseNotification_FirstTextWins(t *testing.T) {
	// The scan walks entries, then changes, then messages, in order, and
	// short-circuits on the first text message.
	n := notification(
		Entry{Changes: []Change{{
			Value: &Value{Messages: []Message{
				{From: "000", Type: "image"},
				textMsg("111", "first"),
				textMsg("222", "second"),
			}},
		}}},
		Entry{Changes: []Change{{
			Value: &Value{Messages: []Message{textMsg("333", "third")}},
		}}},
	)
	res := ParseNotification(n)
	if res.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if res.Body != "first" || res.Sender != "111" {
		t.Errorf("expected first text message, got body=%q sender=%q", res.Body, res.Sender)
	}
}

func TestParseNotification_TextAcrossEntries(t *testing.T) {
	// Non-text in the first entry, text in a later one.
	n := notification(
		Entry{Changes: []Change{{
			Value: &Value{Messages: []Message{{From: "000", Type: "audio"}}},
		}}},
		Entry{Changes: []Change{
			{Field: "statuses"},
			{Value: &Value{Messages: []Message{textMsg("444", "hello")}}},
		}},
	)
	res := ParseNotification(n)
	if res.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if res.Body != "hello" || res.Sender != "444" {
		t.Errorf("got body=%q sender=%q", res.Body, res.Sender)
	}
}

func TestNotificationResult_SentinelNotActionable(t *testing.T) {
	res := ParseNotification(Notification{})
	if res.Actionable() {
		t.Error("403 sentinel must not be actionable")
	}
}
