package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/theRAGEhero/world-cafe/internal/conf"
	"github.com/theRAGEhero/world-cafe/internal/errors"
)

// batchResult is the shape of a prerecorded transcription response.
type batchResult struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Word           string  `json:"word"`
					PunctuatedWord string  `json:"punctuated_word"`
					Start          float64 `json:"start"`
					End            float64 `json:"end"`
					Confidence     float64 `json:"confidence"`
					Speaker        int     `json:"speaker"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// BatchClient transcribes complete audio files in one request, for the
// upload path. The response is converted into the same final word events the
// live stream produces.
type BatchClient struct {
	settings conf.SpeechSettings
	client   *http.Client
}

// NewBatchClient creates a batch transcription client.
func NewBatchClient(settings conf.SpeechSettings) *BatchClient {
	return &BatchClient{
		settings: settings,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

// Transcribe sends the audio to the service and returns the word events of
// the best alternative, all marked final.
func (c *BatchClient) Transcribe(ctx context.Context, audio []byte, contentType string) ([]WordEvent, error) {
	u, err := url.Parse(c.settings.BatchURL)
	if err != nil {
		return nil, errors.New(err).
			Component("speech").
			Category(errors.CategoryConfiguration).
			Build()
	}
	q := u.Query()
	q.Set("language", c.settings.Language)
	q.Set("diarize", "true")
	q.Set("punctuate", "true")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(audio))
	if err != nil {
		return nil, errors.New(err).
			Component("speech").
			Category(errors.CategoryTranscription).
			Build()
	}
	req.Header.Set("Content-Type", contentType)
	if c.settings.APIKey != "" {
		req.Header.Set("Authorization", "Token "+c.settings.APIKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.New(err).
			Component("speech").
			Category(errors.CategoryNetwork).
			Timing("batch-transcription", time.Since(start)).
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.Newf("transcription request failed: status %d: %s", resp.StatusCode, body).
			Component("speech").
			Category(errors.CategoryTranscription).
			Context("status", resp.StatusCode).
			Timing("batch-transcription", time.Since(start)).
			Build()
	}

	var result batchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.New(fmt.Errorf("decoding transcription response: %w", err)).
			Component("speech").
			Category(errors.CategoryTranscription).
			Build()
	}

	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return nil, nil
	}
	alternative := result.Results.Channels[0].Alternatives[0]
	events := make([]WordEvent, 0, len(alternative.Words))
	for _, word := range alternative.Words {
		if word.Confidence < c.settings.MinConfidence {
			continue
		}
		text := word.PunctuatedWord
		if text == "" {
			text = word.Word
		}
		events = append(events, WordEvent{
			Speaker:    word.Speaker,
			Word:       text,
			IsFinal:    true,
			Start:      word.Start,
			End:        word.End,
			Confidence: word.Confidence,
		})
	}
	return events, nil
}
