package prompts

const DefaultSystem = `You are a helpful assistant. Keep responses very concise and friendly.
IMPORTANT: Use only plain text without any formatting like asterisks, bullets, or special characters.
Avoid markdown formatting. Speak naturally as if in conversation. Keep responses under 50 words.`

// RoundsExhausted is spoken when the agent gives up on a tool loop.
const RoundsExhausted = "Sorry, I couldn't finish that request."

// ForSession resolves the system prompt for a session: the client's prompt,
// then the configured one, then DefaultSystem.
func ForSession(systemPrompt, configured string) string {
	if systemPrompt != "" {
		return systemPrompt
	}
	if configured != "" {
		return configured
	}
	return DefaultSystem
}
