package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/nikhilbhutani/dictation/internal/api/respond"
	"github.com/nikhilbhutani/dictation/internal/apperror"
	"github.com/nikhilbhutani/dictation/internal/auth"
	"github.com/nikhilbhutani/dictation/internal/pipeline"
	"github.com/nikhilbhutani/dictation/internal/stt"
	"github.com/nikhilbhutani/dictation/internal/usage"
)

// multipartMemory is how much of a form is held in memory before spilling to disk.
const multipartMemory = 8 << 20

type Runner interface {
	Run(ctx context.Context, in pipeline.Input) (*pipeline.Result, error)
}

type VoiceHandler struct {
	pipeline       Runner
	recorder       usage.Recorder
	maxUploadBytes int64
}

func NewVoiceHandler(p Runner, rec usage.Recorder, maxUploadBytes int64) *VoiceHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 25 << 20
	}
	return &VoiceHandler{pipeline: p, recorder: rec, maxUploadBytes: maxUploadBytes}
}

type voiceResponse struct {
	RequestID  string             `json:"request_id"`
	Transcript transcriptBody     `json:"transcript"`
	Provider   providerBody       `json:"provider"`
	Timing     timingBody         `json:"timing"`
	Warnings   []pipeline.Warning `json:"warnings"`
}

type transcriptBody struct {
	RawText   string `json:"raw_text"`
	CleanText string `json:"clean_text"`
}

type providerBody struct {
	STT     sttProviderBody     `json:"stt"`
	Rewrite rewriteProviderBody `json:"rewrite"`
}

type sttProviderBody struct {
	Name    string `json:"name"`
	ModelID string `json:"model_id"`
}

type rewriteProviderBody struct {
	Name    string `json:"name"`
	ModelID string `json:"model_id"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

type timingBody struct {
	STTLatencyMs     int64 `json:"stt_latency_ms"`
	RewriteLatencyMs int64 `json:"rewrite_latency_ms"`
	TotalLatencyMs   int64 `json:"total_latency_ms"`
}

// Transcribe handles POST /v1/voice-to-text.
func (h *VoiceHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := respond.RequestID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		respond.Error(w, r, formError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	audio, header, err := readAudio(r)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	user := auth.UserFromContext(ctx)
	keys := auth.ProviderKeysFromContext(ctx)

	res, err := h.pipeline.Run(ctx, pipeline.Input{
		Audio:         audio,
		FileName:      header.Filename,
		MimeType:      header.Header.Get("Content-Type"),
		Options:       parseOptions(r.MultipartForm),
		OpenAIKey:     keys.OpenAI,
		ElevenLabsKey: keys.ElevenLabs,
	})
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	usage.Record(context.WithoutCancel(ctx), h.recorder, usage.Event{
		RequestID:        requestID,
		UserID:           user.UserID,
		AuthSource:       string(user.AuthSource),
		ClientLabel:      user.ClientLabel,
		STTProvider:      res.STTProvider,
		STTModel:         res.STTModelID,
		RewriteProvider:  res.RewriteProvider,
		RewriteModel:     res.RewriteModel,
		RewriteStatus:    string(res.RewriteStatus),
		RewriteCached:    res.RewriteCached,
		InputTokens:      res.RewriteInputTokens,
		OutputTokens:     res.RewriteOutputTokens,
		CostUSD:          res.RewriteCostUSD,
		AudioBytes:       len(audio),
		STTLatencyMs:     res.STTLatencyMs,
		RewriteLatencyMs: res.RewriteLatencyMs,
		TotalLatencyMs:   res.TotalLatencyMs,
	})

	respond.JSON(w, http.StatusOK, voiceResponse{
		RequestID:  requestID,
		Transcript: transcriptBody{RawText: res.RawText, CleanText: res.CleanText},
		Provider: providerBody{
			STT: sttProviderBody{Name: res.STTProvider, ModelID: res.STTModelID},
			Rewrite: rewriteProviderBody{
				Name:    res.RewriteProvider,
				ModelID: res.RewriteModel,
				Status:  string(res.RewriteStatus),
				Error:   res.RewriteError,
			},
		},
		Timing: timingBody{
			STTLatencyMs:     res.STTLatencyMs,
			RewriteLatencyMs: res.RewriteLatencyMs,
			TotalLatencyMs:   res.TotalLatencyMs,
		},
		Warnings: res.Warnings,
	})
}

func formError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperror.New(http.StatusRequestEntityTooLarge, apperror.CodeBadRequest, "audio upload is too large").
			WithDetail("max_bytes", tooLarge.Limit)
	}
	return apperror.BadRequest("request must be multipart/form-data with a file field").WithCause(err)
}

func readAudio(r *http.Request) ([]byte, *multipart.FileHeader, error) {
	f, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil, apperror.BadRequest(`missing required multipart field "file"`)
		}
		return nil, nil, apperror.BadRequest(`could not read multipart field "file"`).WithCause(err)
	}
	defer f.Close()

	audio, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, apperror.BadRequest("could not read audio upload").WithCause(err)
	}
	return audio, header, nil
}

// parseOptions reads the optional tuning fields. Values that do not parse
// are dropped rather than rejected.
func parseOptions(form *multipart.Form) stt.Options {
	return stt.Options{
		ModelID:        formString(form, "model_id"),
		LanguageCode:   formString(form, "language_code"),
		Temperature:    formFloat(form, "temperature"),
		Diarize:        formBool(form, "diarize"),
		TagAudioEvents: formBool(form, "tag_audio_events"),
		Keyterms:       formKeyterms(form, "keyterms"),
	}
}

func formString(form *multipart.Form, key string) string {
	if vs := form.Value[key]; len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}

func formFloat(form *multipart.Form, key string) *float64 {
	s := formString(form, key)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func formBool(form *multipart.Form, key string) *bool {
	var b bool
	switch strings.ToLower(formString(form, key)) {
	case "true", "1", "yes", "on":
		b = true
	case "false", "0", "no", "off":
		b = false
	default:
		return nil
	}
	return &b
}

// formKeyterms accepts repeated fields, a JSON array of strings, or a
// comma-separated list.
func formKeyterms(form *multipart.Form, key string) []string {
	var out []string
	for _, v := range form.Value[key] {
		v = strings.TrimSpace(v)
		if strings.HasPrefix(v, "[") {
			var arr []string
			if err := json.Unmarshal([]byte(v), &arr); err == nil {
				for _, term := range arr {
					if term = strings.TrimSpace(term); term != "" {
						out = append(out, term)
					}
				}
				continue
			}
		}
		for _, term := range strings.Split(v, ",") {
			if term = strings.TrimSpace(term); term != "" {
				out = append(out, term)
			}
		}
	}
	return out
}
