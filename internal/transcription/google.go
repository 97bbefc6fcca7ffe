package transcription

import (
	"context"
	"fmt"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
)

// GoogleRecognizer calls Cloud Speech-to-Text synchronous recognition.
type GoogleRecognizer struct {
	client   *speech.Client
	language string
}

var _ Recognizer = (*GoogleRecognizer)(nil)

func NewGoogleRecognizer(client *speech.Client, language string) *GoogleRecognizer {
	return &GoogleRecognizer{client: client, language: language}
}

func (g *GoogleRecognizer) Recognize(ctx context.Context, audio []byte, sampleRate int) ([]string, error) {
	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: int32(sampleRate),
			LanguageCode:    g.language,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("speech recognize: %w", err)
	}
	return bestAlternatives(resp.GetResults()), nil
}

func bestAlternatives(results []*speechpb.SpeechRecognitionResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		out = append(out, alts[0].GetTranscript())
	}
	return out
}
