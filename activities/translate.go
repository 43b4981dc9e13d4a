package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.temporal.io/sdk/activity"

	"github.com/curiohq/curio/ids"
	"github.com/curiohq/curio/rest"
	"github.com/curiohq/curio/telemetry"
)

type (
	// Translator turns text into the target language. Two implementations
	// exist, DeepL and Microsoft; the worker picks one at startup.
	Translator interface {
		Translate(ctx context.Context, text, targetLanguage string) (string, error)
	}

	// TranslateInput lists the entries to translate and the target language.
	TranslateInput struct {
		EntryIDs       []string `json:"entryIds"`
		TargetLanguage string   `json:"targetLanguage"`
		BatchTraceID   string   `json:"batchTraceId,omitempty"`
	}

	// TranslateOutput counts outcomes per disposition.
	TranslateOutput struct {
		Translated int            `json:"translated"`
		Skipped    int            `json:"skipped"`
		Error      *ActivityError `json:"error,omitempty"`
	}

	// DeepLTranslator calls the DeepL v2 text API.
	DeepLTranslator struct {
		BaseURL string
		APIKey  string
		HTTP    *http.Client
	}

	// MicrosoftTranslator calls the Azure Cognitive Services translate API.
	MicrosoftTranslator struct {
		Endpoint string
		APIKey   string
		Region   string
		HTTP     *http.Client
	}
)

// TranslateEntries translates each entry's filtered content into the target
// language and stores the result, heartbeating per entry. Empty target
// language disables the stage. Storing is idempotent; re-running overwrites
// the same column.
func (a *Activities) TranslateEntries(ctx context.Context, in TranslateInput) (TranslateOutput, error) {
	if in.TargetLanguage == "" || a.Translator == nil {
		return TranslateOutput{Skipped: len(in.EntryIDs)}, nil
	}

	var out TranslateOutput
	for i, id := range in.EntryIDs {
		entryCtx := telemetry.WithTraceID(ctx, ids.EntryTraceID(id, in.BatchTraceID))

		entry, ok, err := a.Backend.GetEntry(entryCtx, id)
		if err != nil {
			if actErr, passthrough := fromAPIError(err); passthrough == nil {
				out.Error = actErr
				out.Skipped++
				continue
			}
			return out, fmt.Errorf("translate %s: load entry: %w", id, err)
		}
		if !ok || entry.FilteredContent == "" {
			out.Skipped++
			continue
		}

		translated, err := a.Translator.Translate(entryCtx, entry.FilteredContent, in.TargetLanguage)
		if err != nil {
			return out, fmt.Errorf("translate %s: %w", id, err)
		}
		patch := rest.EntryPatch{TranslatedContent: &translated}
		if err := a.Backend.PatchEntry(entryCtx, id, patch); err != nil {
			if actErr, passthrough := fromAPIError(err); passthrough == nil {
				out.Error = actErr
				out.Skipped++
				continue
			}
			return out, fmt.Errorf("translate %s: store: %w", id, err)
		}
		out.Translated++
		activity.RecordHeartbeat(ctx, i+1)
	}
	return out, nil
}

// Translate sends one text to DeepL and returns the translation.
func (t *DeepLTranslator) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	base := t.BaseURL
	if base == "" {
		base = "https://api-free.deepl.com"
	}
	form := url.Values{}
	form.Set("text", text)
	form.Set("target_lang", strings.ToUpper(targetLanguage))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v2/translate", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("deepl: build request: %w", err)
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+t.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("deepl: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("deepl: returned %d", resp.StatusCode)
	}

	var body struct {
		Translations []struct {
			Text string `json:"text"`
		} `json:"translations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("deepl: decode response: %w", err)
	}
	if len(body.Translations) == 0 {
		return "", fmt.Errorf("deepl: empty response")
	}
	return body.Translations[0].Text, nil
}

func (t *DeepLTranslator) client() *http.Client {
	if t.HTTP != nil {
		return t.HTTP
	}
	return http.DefaultClient
}

// Translate sends one text to the Microsoft translator and returns the
// translation.
func (t *MicrosoftTranslator) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = "https://api.cognitive.microsofttranslator.com"
	}
	u := endpoint + "/translate?api-version=3.0&to=" + url.QueryEscape(targetLanguage)

	payload, err := json.Marshal([]map[string]string{{"Text": text}})
	if err != nil {
		return "", fmt.Errorf("mstranslate: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(string(payload)))
	if err != nil {
		return "", fmt.Errorf("mstranslate: build request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", t.APIKey)
	if t.Region != "" {
		req.Header.Set("Ocp-Apim-Subscription-Region", t.Region)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("mstranslate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("mstranslate: returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var body []struct {
		Translations []struct {
			Text string `json:"text"`
		} `json:"translations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("mstranslate: decode response: %w", err)
	}
	if len(body) == 0 || len(body[0].Translations) == 0 {
		return "", fmt.Errorf("mstranslate: empty response")
	}
	return body[0].Translations[0].Text, nil
}

func (t *MicrosoftTranslator) client() *http.Client {
	if t.HTTP != nil {
		return t.HTTP
	}
	return http.DefaultClient
}
