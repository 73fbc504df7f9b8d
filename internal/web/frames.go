package web

import (
	"time"

	"github.com/invopop/jsonschema"

	"foundrychat/internal/agent"
)

// Inbound websocket frame types
const (
	FrameMessage = "message"
	FrameReset   = "reset"
	FrameHistory = "history"
)

// Outbound websocket frame types. FrameReset and FrameHistory are echoed
// back as the confirmation of the matching request.
const (
	FrameWelcome = "welcome"
	FrameReply   = "reply"
	FrameError   = "error"
)

const (
	WelcomeText        = "🤖 Welcome to the Azure AI Foundry Chat Bot!\n\nI'm here to help you with any questions you have. Feel free to ask me anything!"
	ResetText          = "🔄 Conversation has been reset! You can start a fresh conversation now."
	NotInitializedText = "❌ Chat bot is not initialized. Please refresh the page and try again."
	configHint         = "Please check your Azure AI Foundry configuration and try again."
)

// InboundFrame is a frame sent by the browser
type InboundFrame struct {
	Type string `json:"type" jsonschema:"enum=message,enum=reset,enum=history" jsonschema_description:"The requested action."`
	Text string `json:"text,omitempty" jsonschema_description:"The user message. Required for 'message' frames."`
}

// OutboundFrame is a frame sent to the browser
type OutboundFrame struct {
	Type      string               `json:"type" jsonschema:"enum=welcome,enum=reply,enum=reset,enum=history,enum=error" jsonschema_description:"The kind of frame."`
	Text      string               `json:"text,omitempty" jsonschema_description:"Reply, notice or error text."`
	History   []agent.HistoryEntry `json:"history,omitempty" jsonschema_description:"Conversation history, oldest first. Only set on 'history' frames."`
	Timestamp int64                `json:"timestamp" jsonschema_description:"Unix milliseconds when the frame was produced."`
}

func newFrame(frameType, text string) OutboundFrame {
	return OutboundFrame{Type: frameType, Text: text, Timestamp: time.Now().UnixMilli()}
}

func initFailureText(err error) string {
	return "❌ Error initializing chat bot: " + err.Error() + "\n\n" + configHint
}

// GenerateSchema reflects the JSON schema of T with every definition inlined
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	var v T

	return reflector.Reflect(v)
}

// FrameSchemas describes the websocket protocol served at /api/schema
type FrameSchemas struct {
	Inbound  *jsonschema.Schema `json:"inbound"`
	Outbound *jsonschema.Schema `json:"outbound"`
}

var frameSchemas = FrameSchemas{
	Inbound:  GenerateSchema[InboundFrame](),
	Outbound: GenerateSchema[OutboundFrame](),
}
