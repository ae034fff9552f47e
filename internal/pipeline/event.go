package pipeline

// Event types sent back to the client.
const (
	EventConnection   = "connection"
	EventSpeechStart  = "speech_start"
	EventSpeechEnd    = "speech_end"
	EventNotification = "notification"
	EventResponse     = "response"
	EventError        = "error"
)

// Client-facing literals.
const (
	NoSpeechMarker      = "(No speech detected)"
	AudioUnavailable    = "(Synthesized audio not available)"
	ProcessingError     = "Processing error"
	AudioTooShort       = "Audio too short"
	ConversationReset   = "Conversation reset"
	ConnectionReady     = "Ready"
	ConnectionConnected = "connected"
)

// Event is one JSON message to the client. Exactly one payload pointer is
// set for payload-bearing types; its fields are inlined.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`

	*SpeechStartPayload
	*SpeechEndPayload
	*ResponsePayload
}

// SpeechStartPayload reports the energy that opened a segment.
type SpeechStartPayload struct {
	RMS       float64 `json:"rms"`
	Threshold float64 `json:"threshold"`
}

// SpeechEndPayload reports the frame counts of a closed segment.
type SpeechEndPayload struct {
	SpeechChunks  int `json:"speech_chunks"`
	SilenceChunks int `json:"silence_chunks"`
}

// ResponsePayload carries each stage's output for one utterance.
type ResponsePayload struct {
	STT       string `json:"stt"`
	LLM       string `json:"llm"`
	TTS       string `json:"tts"`
	AudioFile string `json:"audio_file"`
}

// EventSink delivers events to the client.
type EventSink func(Event)

// ErrorEvent builds the generic error event clients see for any stage fault.
func ErrorEvent(sessionID string) Event {
	return Event{Type: EventError, SessionID: sessionID, Message: ProcessingError}
}

// NotificationEvent builds a notification event.
func NotificationEvent(sessionID, message string) Event {
	return Event{Type: EventNotification, SessionID: sessionID, Message: message}
}
