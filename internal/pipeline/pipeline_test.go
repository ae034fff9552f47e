package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/voice-agent/gateway/internal/workpool"
)

type fakeTranscriber struct {
	text  string
	err   error
	block bool
	calls atomic.Int32
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, _ []float32, _ int) (*ASRResult, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &ASRResult{Text: f.text}, nil
}

type fakeResponder struct {
	reply string
	err   error
	got   []string
}

func (f *fakeResponder) Invoke(_ context.Context, text string) (string, error) {
	f.got = append(f.got, text)
	return f.reply, f.err
}

type fakeSynth struct {
	audio []byte
	err   error
	got   []string
}

func (f *fakeSynth) SynthesizeAudio(_ context.Context, text string) ([]byte, error) {
	f.got = append(f.got, text)
	return f.audio, f.err
}

type fakeStore struct {
	name string
	err  error
}

func (f *fakeStore) Save(string, []float32) (string, error) { return f.name, f.err }

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func newOrchestrator(t *testing.T, tr Transcriber, sy Synthesizer, store UtteranceSaver, timeout time.Duration) *Orchestrator {
	t.Helper()
	pool := workpool.New(2, 4)
	t.Cleanup(func() { _ = pool.Close(context.Background()) })
	o, err := NewOrchestrator(Config{
		Transcriber:  tr,
		Synthesizer:  sy,
		Store:        store,
		Executor:     pool,
		SampleRate:   16000,
		StageTimeout: timeout,
	})
	require.NoError(t, err)
	return o
}

func utterance() Utterance {
	return Utterance{SessionID: "s1", Samples: make([]float32, 1600), EndedAt: time.Now()}
}

func TestProcess_FullRun(t *testing.T) {
	tr := &fakeTranscriber{text: "what's the weather"}
	resp := &fakeResponder{reply: "Sunny today ☀️"}
	sy := &fakeSynth{audio: []byte("mp3-bytes")}
	o := newOrchestrator(t, tr, sy, &fakeStore{name: "utterance_s1_x.wav"}, time.Second)

	var rec recorder
	require.NoError(t, o.Process(context.Background(), utterance(), resp, rec.emit))

	assert.Equal(t, []string{"what's the weather"}, resp.got)
	assert.Equal(t, []string{"Sunny today"}, sy.got, "synthesizer receives ASCII-only text")
	require.Len(t, rec.events, 1)
	ev := rec.events[0]
	assert.Equal(t, EventResponse, ev.Type)
	assert.Equal(t, "s1", ev.SessionID)
	require.NotNil(t, ev.ResponsePayload)
	assert.Equal(t, ResponsePayload{
		STT:       "what's the weather",
		LLM:       "Sunny today ☀️",
		TTS:       base64.StdEncoding.EncodeToString([]byte("mp3-bytes")),
		AudioFile: "utterance_s1_x.wav",
	}, *ev.ResponsePayload)
}

func TestProcess_EmptyTranscriptionStopsEarly(t *testing.T) {
	tr := &fakeTranscriber{text: ""}
	resp := &fakeResponder{reply: "unused"}
	sy := &fakeSynth{audio: []byte("x")}
	o := newOrchestrator(t, tr, sy, &fakeStore{name: "f.wav"}, time.Second)

	var rec recorder
	require.NoError(t, o.Process(context.Background(), utterance(), resp, rec.emit))

	require.Len(t, rec.events, 1)
	assert.Equal(t, ResponsePayload{STT: NoSpeechMarker, AudioFile: "f.wav"}, *rec.events[0].ResponsePayload)
	assert.Empty(t, resp.got)
	assert.Empty(t, sy.got)

	raw, err := json.Marshal(rec.events[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"response","session_id":"s1","stt":"(No speech detected)","llm":"","tts":"","audio_file":"f.wav"}`, string(raw))
}

func TestProcess_NoAudioUsesPlaceholder(t *testing.T) {
	o := newOrchestrator(t, &fakeTranscriber{text: "hi"}, &fakeSynth{}, nil, time.Second)

	var rec recorder
	require.NoError(t, o.Process(context.Background(), utterance(), &fakeResponder{reply: "Hello!"}, rec.emit))
	require.Len(t, rec.events, 1)
	assert.Equal(t, AudioUnavailable, rec.events[0].TTS)
	assert.Empty(t, rec.events[0].AudioFile)
}

func TestProcess_NonASCIIOnlyReplySkipsSynthesis(t *testing.T) {
	sy := &fakeSynth{audio: []byte("x")}
	o := newOrchestrator(t, &fakeTranscriber{text: "hi"}, sy, nil, time.Second)

	var rec recorder
	require.NoError(t, o.Process(context.Background(), utterance(), &fakeResponder{reply: "👍"}, rec.emit))
	assert.Empty(t, sy.got)
	assert.Equal(t, AudioUnavailable, rec.events[0].TTS)
}

func TestProcess_StageErrorsAreGeneric(t *testing.T) {
	tests := []struct {
		name string
		tr   *fakeTranscriber
		resp *fakeResponder
		sy   *fakeSynth
	}{
		{"asr", &fakeTranscriber{err: errors.New("whisper down")}, &fakeResponder{}, &fakeSynth{}},
		{"llm", &fakeTranscriber{text: "hi"}, &fakeResponder{err: errors.New("secret key invalid")}, &fakeSynth{}},
		{"tts", &fakeTranscriber{text: "hi"}, &fakeResponder{reply: "ok"}, &fakeSynth{err: errors.New("quota")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOrchestrator(t, tt.tr, tt.sy, nil, time.Second)

			var rec recorder
			err := o.Process(context.Background(), utterance(), tt.resp, rec.emit)
			require.Error(t, err)
			require.Len(t, rec.events, 1)
			assert.Equal(t, Event{Type: EventError, SessionID: "s1", Message: ProcessingError}, rec.events[0])
		})
	}
}

func TestProcess_StageTimeout(t *testing.T) {
	tr := &fakeTranscriber{block: true}
	resp := &fakeResponder{}
	o := newOrchestrator(t, tr, &fakeSynth{}, nil, 20*time.Millisecond)

	var rec recorder
	err := o.Process(context.Background(), utterance(), resp, rec.emit)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out")
	assert.Eventually(t, func() bool { return tr.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, resp.got)
	require.Len(t, rec.events, 1)
	assert.Equal(t, EventError, rec.events[0].Type)
}

func TestProcess_CancelledSessionEmitsNothing(t *testing.T) {
	o := newOrchestrator(t, &fakeTranscriber{block: true}, &fakeSynth{}, nil, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	var rec recorder
	err := o.Process(ctx, utterance(), &fakeResponder{}, rec.emit)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.events)
}

type transcriberFunc func(ctx context.Context) (*ASRResult, error)

func (f transcriberFunc) Transcribe(ctx context.Context, _ []float32, _ int) (*ASRResult, error) {
	return f(ctx)
}

func TestProcess_NoSpeechAfterCloseEmitsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := transcriberFunc(func(context.Context) (*ASRResult, error) {
		cancel()
		return &ASRResult{Text: ""}, nil
	})
	o := newOrchestrator(t, tr, &fakeSynth{}, nil, time.Second)

	var rec recorder
	err := o.Process(ctx, utterance(), &fakeResponder{}, rec.emit)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.events)
}

func TestProcess_PersistFailureContinues(t *testing.T) {
	o := newOrchestrator(t, &fakeTranscriber{text: "hi"}, &fakeSynth{audio: []byte("a")}, &fakeStore{err: errors.New("disk full")}, time.Second)

	var rec recorder
	require.NoError(t, o.Process(context.Background(), utterance(), &fakeResponder{reply: "ok"}, rec.emit))
	require.Len(t, rec.events, 1)
	assert.Equal(t, "", rec.events[0].AudioFile)
	assert.Equal(t, "ok", rec.events[0].LLM)
}

func TestNewOrchestrator_RequiresCollaborators(t *testing.T) {
	_, err := NewOrchestrator(Config{Synthesizer: &fakeSynth{}, Executor: workpool.New(1, 0)})
	assert.Error(t, err)
}

func TestEventJSON(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{
			Event{Type: EventSpeechStart, SessionID: "a", SpeechStartPayload: &SpeechStartPayload{RMS: 0.5, Threshold: 0.01}},
			`{"type":"speech_start","session_id":"a","rms":0.5,"threshold":0.01}`,
		},
		{
			Event{Type: EventSpeechEnd, SessionID: "a", SpeechEndPayload: &SpeechEndPayload{SpeechChunks: 5, SilenceChunks: 21}},
			`{"type":"speech_end","session_id":"a","speech_chunks":5,"silence_chunks":21}`,
		},
		{
			Event{Type: EventConnection, SessionID: "a", Status: ConnectionConnected, Message: ConnectionReady},
			`{"type":"connection","session_id":"a","status":"connected","message":"Ready"}`,
		},
		{NotificationEvent("a", AudioTooShort), `{"type":"notification","session_id":"a","message":"Audio too short"}`},
		{ErrorEvent("a"), `{"type":"error","session_id":"a","message":"Processing error"}`},
	}
	for _, tt := range tests {
		raw, err := json.Marshal(tt.ev)
		require.NoError(t, err)
		assert.JSONEq(t, tt.want, string(raw))
	}
}

func TestSanitizeForSpeech(t *testing.T) {
	assert.Equal(t, "Hi there!", SanitizeForSpeech("  Hi there! 😀 "))
	assert.Equal(t, "nave", SanitizeForSpeech("naïve"))
	assert.Equal(t, "", SanitizeForSpeech("🎉"))
}
