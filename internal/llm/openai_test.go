package llm

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestUserMessage_ImagesBecomeDataURLParts(t *testing.T) {
	c := NewOpenAI("test-key")

	msg := c.userMessage(Request{
		Prompt: "judge these frames",
		Images: [][]byte{{0xFF, 0xD8, 0xFF}},
	})
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal user message: %v", err)
	}
	body := string(data)
	if !strings.Contains(body, "judge these frames") {
		t.Error("prompt text missing from message")
	}
	if !strings.Contains(body, "data:image/jpeg;base64,") {
		t.Error("image data URL missing from message")
	}
	if !strings.Contains(body, `"high"`) {
		t.Error("image detail missing from message")
	}
}

func TestUserMessage_PlainPrompt(t *testing.T) {
	c := NewOpenAI("test-key")

	msg := c.userMessage(Request{Prompt: "describe the scene"})
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal user message: %v", err)
	}
	if !strings.Contains(string(data), "describe the scene") {
		t.Error("prompt text missing from message")
	}
}
