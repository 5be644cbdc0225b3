// Package stt transcribes voice-note attachments (spec §4.6 step 3) so
// the auto-reply engine can fold a Transcript block into the message
// body before handing it to the agent.
package stt

// Provider transcribes a single audio file to text.
type Provider interface {
	// Transcribe converts the audio file at path to text.
	Transcribe(path string) (string, error)

	// Name identifies the backend, for logging.
	Name() string

	// Close releases any held resources (connections, handles).
	Close() error
}
