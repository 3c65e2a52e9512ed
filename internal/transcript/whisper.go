package transcript

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/dsiemon2/Recruiting-AI-Docker-sub001/internal/interview"
)

const defaultWhisperBaseURL = "https://api.openai.com/v1"

// Whisper posts a batch as a WAV file to an OpenAI-compatible
// /audio/transcriptions endpoint.
type Whisper struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string
	Model      string
}

func NewWhisper(apiKey, baseURL, model string) *Whisper {
	if baseURL == "" {
		baseURL = defaultWhisperBaseURL
	}
	if model == "" {
		model = "whisper-1"
	}
	return &Whisper{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		APIKey:     apiKey,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Model:      model,
	}
}

func (w *Whisper) Transcribe(ctx context.Context, pcm []byte, hints interview.Hints) (string, error) {
	if w.APIKey == "" {
		return "", fmt.Errorf("whisper api key missing")
	}
	if Silent(pcm) {
		return "", nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "answer.wav")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(wav(pcm, 16000)); err != nil {
		return "", err
	}
	fields := map[string]string{
		"model":           w.Model,
		"response_format": "json",
	}
	if lang := strings.TrimSpace(hints.Language); lang != "" {
		// the API takes ISO-639-1, so "en-US" becomes "en"
		fields["language"] = strings.ToLower(strings.SplitN(lang, "-", 2)[0])
	}
	if prompt := whisperPrompt(hints); prompt != "" {
		fields["prompt"] = prompt
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+w.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("whisper error: status=%d body=%s", resp.StatusCode, string(b))
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("whisper decode: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

func whisperPrompt(h interview.Hints) string {
	parts := make([]string, 0, 2)
	if h.Prompt != "" {
		parts = append(parts, h.Prompt)
	}
	if len(h.Keyterms) > 0 {
		parts = append(parts, strings.Join(h.Keyterms, ", "))
	}
	return strings.Join(parts, " ")
}

// wav wraps mono PCM16LE in a canonical 44-byte RIFF header.
func wav(pcm []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * channels * bitsPerSample / 8
	out := make([]byte, 44+len(pcm))
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+len(pcm)))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 1)
	binary.LittleEndian.PutUint16(out[22:], channels)
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], channels*bitsPerSample/8)
	binary.LittleEndian.PutUint16(out[34:], bitsPerSample)
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}
