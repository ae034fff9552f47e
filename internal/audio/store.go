package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// UtteranceStore writes raw utterance audio to disk for audit.
type UtteranceStore struct {
	dir        string
	sampleRate int
	now        func() time.Time
}

// NewUtteranceStore creates dir if needed.
func NewUtteranceStore(dir string, sampleRate int) (*UtteranceStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &UtteranceStore{dir: dir, sampleRate: sampleRate, now: time.Now}, nil
}

// Dir returns the directory files are written to.
func (s *UtteranceStore) Dir() string { return s.dir }

// Save writes samples as a 16-bit mono WAV named after the session and the
// current time, returning the file name (not the full path).
func (s *UtteranceStore) Save(sessionID string, samples []float32) (string, error) {
	name := fmt.Sprintf("utterance_%s_%s.wav", sessionID, s.now().Format("20060102-150405.000"))

	f, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return "", fmt.Errorf("create wav: %w", err)
	}
	defer f.Close()

	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(toPCM16(v))
	}

	enc := wav.NewEncoder(f, s.sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: s.sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err = enc.Write(buf); err != nil {
		return "", fmt.Errorf("encode wav: %w", err)
	}
	if err = enc.Close(); err != nil {
		return "", fmt.Errorf("finalize wav: %w", err)
	}
	return name, nil
}
