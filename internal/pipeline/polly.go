package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
)

// PollyAPI is the subset of the Polly client the synthesizer calls.
type PollyAPI interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollyConfig selects the region, voice and engine.
type PollyConfig struct {
	Region string
	Voice  string
	Engine string
}

// PollySynthesizer synthesizes MP3 through Amazon Polly. The AWS client is
// built lazily from the default credential chain on first use.
type PollySynthesizer struct {
	cfg PollyConfig

	mu     sync.Mutex
	client PollyAPI
}

// NewPollySynthesizer creates a synthesizer. client may be nil.
func NewPollySynthesizer(cfg PollyConfig, client PollyAPI) *PollySynthesizer {
	if strings.TrimSpace(cfg.Voice) == "" {
		cfg.Voice = "Joanna"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	return &PollySynthesizer{cfg: cfg, client: client}
}

func (p *PollySynthesizer) SynthesizeAudio(ctx context.Context, text string) ([]byte, error) {
	client, err := p.resolveClient(ctx)
	if err != nil {
		return nil, err
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(p.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}

	out, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(p.cfg.Voice),
	})
	if err != nil {
		return nil, classifyPollyError(err)
	}
	if out == nil || out.AudioStream == nil {
		return nil, nil
	}
	defer out.AudioStream.Close()

	audio, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("read polly audio: %w", err)
	}
	return audio, nil
}

// ErrPollyRejected marks requests Polly refused as invalid; retrying them
// cannot succeed.
var ErrPollyRejected = errors.New("polly rejected request")

func classifyPollyError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("polly: %w", err)
	}
	switch apiErr.ErrorCode() {
	case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException",
		"MarksNotSupportedForFormatException", "InvalidSampleRateException":
		return fmt.Errorf("%w: %s: %s", ErrPollyRejected, apiErr.ErrorCode(), apiErr.ErrorMessage())
	default:
		return fmt.Errorf("polly %s: %w", apiErr.ErrorCode(), err)
	}
}

func (p *PollySynthesizer) resolveClient(ctx context.Context) (PollyAPI, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if p.cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(p.cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	p.client = polly.NewFromConfig(awsCfg)
	return p.client, nil
}
