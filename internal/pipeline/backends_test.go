package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/voice-agent/gateway/internal/metrics"
)

func TestWhisperClient_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/inference", r.URL.Path)
		file, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "audio.wav", hdr.Filename)

		wav, _ := io.ReadAll(file)
		assert.Equal(t, "RIFF", string(wav[0:4]))
		assert.Len(t, wav, 44+2*800)
		assert.Equal(t, "json", r.FormValue("response_format"))

		_, _ = io.WriteString(w, `{"text":"  hello world \n"}`)
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL+"/", srv.Client())
	res, err := c.Transcribe(context.Background(), make([]float32, 800), 8000)
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
}

func TestWhisperClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, srv.Client())
	_, err := c.Transcribe(context.Background(), make([]float32, 10), 16000)
	assert.ErrorContains(t, err, "whisper status 503")

	assert.Error(t, c.Warmup(context.Background(), 16000))
}

func TestPiperSynthesizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/synthesize", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"text": "Hello", "voice": "en_US-amy"}, body)
		_, _ = w.Write([]byte("RIFF...."))
	}))
	defer srv.Close()

	got, err := NewPiperSynthesizer(srv.URL, "en_US-amy", srv.Client()).SynthesizeAudio(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF...."), got)
}

func TestOpenAISynthesizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)
		assert.Equal(t, "Bearer sk", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tts-1", body["model"])
		assert.Equal(t, "alloy", body["voice"])
		assert.Equal(t, "Hi", body["input"])
		_, _ = w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	got, err := NewOpenAISynthesizer(srv.URL, "sk", "tts-1", "alloy", srv.Client()).SynthesizeAudio(context.Background(), "Hi")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3"), got)
}

func TestElevenLabsSynthesizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/voice-1", r.URL.Path)
		assert.Equal(t, "xi-key", r.Header.Get("xi-api-key"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := &elevenlabsSynthesizer{url: srv.URL, apiKey: "xi-key", voiceID: "voice-1", modelID: "m", client: srv.Client()}
	_, err := s.SynthesizeAudio(context.Background(), "Hi")
	assert.ErrorContains(t, err, "tts status 401")
}

type fakePolly struct {
	input *polly.SynthesizeSpeechInput
	out   *polly.SynthesizeSpeechOutput
	err   error
}

func (f *fakePolly) SynthesizeSpeech(_ context.Context, in *polly.SynthesizeSpeechInput, _ ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error) {
	f.input = in
	return f.out, f.err
}

func TestPollySynthesizer(t *testing.T) {
	fake := &fakePolly{out: &polly.SynthesizeSpeechOutput{AudioStream: io.NopCloser(bytes.NewReader([]byte("ID3")))}}
	s := NewPollySynthesizer(PollyConfig{Region: "us-east-1", Voice: "Matthew", Engine: "standard"}, fake)

	got, err := s.SynthesizeAudio(context.Background(), "Good morning")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3"), got)
	require.NotNil(t, fake.input.Text)
	assert.Equal(t, "Good morning", *fake.input.Text)
	assert.Equal(t, pollytypes.VoiceId("Matthew"), fake.input.VoiceId)
	assert.Equal(t, pollytypes.EngineStandard, fake.input.Engine)
	assert.Equal(t, pollytypes.OutputFormatMp3, fake.input.OutputFormat)
}

func TestPollySynthesizer_Defaults(t *testing.T) {
	fake := &fakePolly{out: &polly.SynthesizeSpeechOutput{}}
	s := NewPollySynthesizer(PollyConfig{}, fake)

	got, err := s.SynthesizeAudio(context.Background(), "x")
	require.NoError(t, err)
	assert.Empty(t, got, "missing stream means no audio")
	assert.Equal(t, pollytypes.VoiceId("Joanna"), fake.input.VoiceId)
	assert.Equal(t, pollytypes.EngineNeural, fake.input.Engine)
}

func TestPollySynthesizer_ClassifiesErrors(t *testing.T) {
	rejected := &fakePolly{err: &smithy.GenericAPIError{Code: "TextLengthExceededException", Message: "too long"}}
	_, err := NewPollySynthesizer(PollyConfig{}, rejected).SynthesizeAudio(context.Background(), "x")
	assert.ErrorIs(t, err, ErrPollyRejected)

	throttled := &fakePolly{err: &smithy.GenericAPIError{Code: "TooManyRequestsException"}}
	_, err = NewPollySynthesizer(PollyConfig{}, throttled).SynthesizeAudio(context.Background(), "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPollyRejected)
	assert.Contains(t, err.Error(), "TooManyRequestsException")

	transport := &fakePolly{err: errors.New("dial tcp: refused")}
	_, err = NewPollySynthesizer(PollyConfig{}, transport).SynthesizeAudio(context.Background(), "x")
	assert.ErrorContains(t, err, "polly: dial tcp")
}

func TestWithMetricsPassesThrough(t *testing.T) {
	s := WithMetrics("fake", &fakeSynth{audio: []byte("a")})
	got, err := s.SynthesizeAudio(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)

	_, err = WithMetrics("fake", &fakeSynth{err: errors.New("boom")}).SynthesizeAudio(context.Background(), "x")
	assert.Error(t, err)
}

func TestRouter(t *testing.T) {
	built := 0
	r := NewRouter[string]("piper").
		Register("piper", func() (string, error) { built++; return "piper-backend", nil }).
		Register("polly", func() (string, error) { return "", errors.New("no credentials") })

	got, name, err := r.Build("piper")
	require.NoError(t, err)
	assert.Equal(t, "piper-backend", got)
	assert.Equal(t, "piper", name)

	got, name, err = r.Build("unknown")
	require.NoError(t, err)
	assert.Equal(t, "piper-backend", got)
	assert.Equal(t, "piper", name)
	assert.Equal(t, 2, built)

	_, _, err = r.Build("polly")
	assert.ErrorContains(t, err, "no credentials")

	assert.True(t, r.Has("polly"))
	assert.False(t, r.Has("melo"))
	assert.Equal(t, []string{"piper", "polly"}, r.Engines())

	_, _, err = NewRouter[int]("none").Build("x")
	assert.Error(t, err)
}

func sampleCount(t *testing.T, obs prometheus.Observer) uint64 {
	t.Helper()
	m, ok := obs.(prometheus.Metric)
	require.True(t, ok)
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	return out.GetHistogram().GetSampleCount()
}

func newBackendServer(t *testing.T, whisperStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/inference", func(w http.ResponseWriter, _ *http.Request) {
		if whisperStatus != http.StatusOK {
			http.Error(w, "busy", whisperStatus)
			return
		}
		_, _ = io.WriteString(w, `{"text":"hello"}`)
	})
	mux.HandleFunc("/synthesize", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("RIFF"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestProcess_OneStageSamplePerRun(t *testing.T) {
	srv := newBackendServer(t, http.StatusOK)
	o := newOrchestrator(t,
		NewWhisperClient(srv.URL, srv.Client()),
		WithMetrics("piper", NewPiperSynthesizer(srv.URL, "", srv.Client())),
		nil, time.Second)

	stages := map[string]uint64{}
	for _, s := range []string{"asr", "llm", "tts"} {
		stages[s] = sampleCount(t, metrics.StageDuration.WithLabelValues(s))
	}
	whisperBefore := sampleCount(t, metrics.BackendDuration.WithLabelValues("whisper"))
	piperBefore := sampleCount(t, metrics.BackendDuration.WithLabelValues("piper"))

	var rec recorder
	require.NoError(t, o.Process(context.Background(), utterance(), &fakeResponder{reply: "hi"}, rec.emit))
	require.Len(t, rec.events, 1)

	for s, before := range stages {
		assert.Equal(t, before+1, sampleCount(t, metrics.StageDuration.WithLabelValues(s)), "stage %s", s)
	}
	assert.Equal(t, whisperBefore+1, sampleCount(t, metrics.BackendDuration.WithLabelValues("whisper")))
	assert.Equal(t, piperBefore+1, sampleCount(t, metrics.BackendDuration.WithLabelValues("piper")))
}

func TestProcess_StageErrorCountedOnce(t *testing.T) {
	srv := newBackendServer(t, http.StatusServiceUnavailable)
	o := newOrchestrator(t, NewWhisperClient(srv.URL, srv.Client()), &fakeSynth{}, nil, time.Second)

	stageErrs := testutil.ToFloat64(metrics.Errors.WithLabelValues("asr", "error"))
	backendErrs := testutil.ToFloat64(metrics.BackendErrors.WithLabelValues("whisper", "status"))
	asrStatus := testutil.ToFloat64(metrics.Errors.WithLabelValues("asr", "status"))

	var rec recorder
	require.Error(t, o.Process(context.Background(), utterance(), &fakeResponder{}, rec.emit))

	assert.Equal(t, stageErrs+1, testutil.ToFloat64(metrics.Errors.WithLabelValues("asr", "error")))
	assert.Equal(t, backendErrs+1, testutil.ToFloat64(metrics.BackendErrors.WithLabelValues("whisper", "status")))
	assert.Equal(t, asrStatus, testutil.ToFloat64(metrics.Errors.WithLabelValues("asr", "status")))
}
