// Package llm is the semantic extractor: a provider-agnostic client that
// asks an LLM to classify site topology, propose container selectors, and
// fill listing fields that the regex table could not resolve.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rentwatch/internal/config"
	"rentwatch/internal/model"
	"rentwatch/internal/patterns"
)

// Provider represents a logical LLM provider.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
)

// Client is the semantic-extraction surface consumed by the orchestrator and
// the selector engine.
type Client interface {
	// ClassifySiteTopology decides where a site's listings live and returns
	// whatever site metadata the page text yields along the way.
	ClassifySiteTopology(ctx context.Context, pageURL, text string) (model.SiteClassification, error)
	// ProposeContainerSelectors returns 1-3 ranked CSS selector candidates
	// for the repeating listing card on the page.
	ProposeContainerSelectors(ctx context.Context, pageURL, text string) (model.CandidateSelectorSet, error)
	// ExtractFields fills only the requested field names from one listing
	// snippet. Missing answers are simply absent from the map.
	ExtractFields(ctx context.Context, snippet string, fields []string) (map[string]string, error)
}

// completer is one provider's single-turn completion call.
type completer interface {
	complete(ctx context.Context, system, user string) (string, error)
}

// client implements the three semantic operations on top of any completer.
type client struct {
	c completer
}

// NewClientFromConfig constructs a Client based on global config.
func NewClientFromConfig(cfg *config.Config) (Client, Provider, string, error) {
	prov := Provider(cfg.LLM.DefaultProvider)
	timeout := time.Duration(cfg.LLM.TimeoutMs) * time.Millisecond

	switch prov {
	case ProviderOpenAI:
		oc := cfg.LLM.OpenAI
		if oc.APIKey == "" || oc.Model == "" {
			return nil, prov, oc.Model, errors.New("openai llm provider is not fully configured")
		}
		return &client{c: &openAIClient{
			apiKey:  oc.APIKey,
			baseURL: oc.BaseURL,
			model:   oc.Model,
			http:    &http.Client{Timeout: timeout},
		}}, prov, oc.Model, nil
	case ProviderAnthropic:
		ac := cfg.LLM.Anthropic
		if ac.APIKey == "" || ac.Model == "" {
			return nil, prov, ac.Model, errors.New("anthropic llm provider is not fully configured")
		}
		return &client{c: &anthropicClient{
			apiKey: ac.APIKey,
			model:  ac.Model,
			http:   &http.Client{Timeout: timeout},
		}}, prov, ac.Model, nil
	case ProviderGoogle:
		gc := cfg.LLM.Google
		if gc.APIKey == "" || gc.Model == "" {
			return nil, prov, gc.Model, errors.New("google llm provider is not fully configured")
		}
		return &client{c: &googleClient{
			apiKey: gc.APIKey,
			model:  gc.Model,
			http:   &http.Client{Timeout: timeout},
		}}, prov, gc.Model, nil
	default:
		return nil, prov, "", fmt.Errorf("unsupported llm provider: %s", cfg.LLM.DefaultProvider)
	}
}

const jsonOnlySystem = "You are a JSON-only web-scraping assistant. Respond with a single JSON object and no extra text."

// classificationPayload mirrors the JSON shape the classification prompt
// requests.
type classificationPayload struct {
	FloorplansURL string `json:"floorplans_url"`
	Properties    []struct {
		Title         string `json:"title"`
		FloorplansURL string `json:"floorplans_url"`
		Address       string `json:"address"`
		Amenities     string `json:"amenities"`
	} `json:"properties"`
	State     string `json:"state"`
	Address   string `json:"address"`
	Amenities string `json:"amenities"`
	Deals     string `json:"deals"`
}

func (cl *client) ClassifySiteTopology(ctx context.Context, pageURL, text string) (model.SiteClassification, error) {
	prompt := fmt.Sprintf(
		"You are given the cleaned HTML of a real-estate website page together with its URL.\n\n"+
			"Current URL: %s\nHTML: %s\n\n"+
			"Decide which scenario applies and respond with a JSON object of shape "+
			`{"floorplans_url": string, "properties": [{"title": string, "floorplans_url": string, "address": string, "amenities": string}], "state": string, "address": string, "amenities": string, "deals": string}.`+"\n\n"+
			"Scenario rules (mutually exclusive), return either a non-empty floorplans_url or a non-empty properties list, never both:\n"+
			"1. If this page already lists all floor-plans for the whole site, set floorplans_url to the current URL and leave properties empty.\n"+
			"2. If a single link points to a page containing all floor-plans, set floorplans_url to that link and leave properties empty.\n"+
			"3. Otherwise, if the website contains several distinct buildings each with its own floor-plans page, return those links in properties. "+
			"Do not treat individual floor-plan types such as '1-Bedroom', '2-Bed 2-Bath', or 'Studio' as properties. "+
			"Only use properties when there are two or more real buildings; with exactly one, fall back to rule 2.\n"+
			"4. If none apply, return empty strings.\n\n"+
			"Convert relative links to absolute URLs using the scheme and host of the current URL. "+
			"Also fill state, address, amenities, and deals for the site when the page shows them.",
		pageURL, text)

	content, err := cl.c.complete(ctx, jsonOnlySystem, prompt)
	if err != nil {
		return model.SiteClassification{}, err
	}

	raw, err := parseJSONFields(content)
	if err != nil {
		return model.SiteClassification{}, fmt.Errorf("parse topology response: %w", err)
	}
	var payload classificationPayload
	buf, _ := json.Marshal(raw)
	if err := json.Unmarshal(buf, &payload); err != nil {
		return model.SiteClassification{}, fmt.Errorf("decode topology response: %w", err)
	}

	out := model.SiteClassification{
		FloorplansURL: absolutize(pageURL, payload.FloorplansURL),
		State:         payload.State,
		Address:       payload.Address,
		Amenities:     payload.Amenities,
		Deals:         payload.Deals,
	}
	for _, p := range payload.Properties {
		out.Properties = append(out.Properties, model.PropertyLink{
			Title:         p.Title,
			FloorplansURL: absolutize(pageURL, p.FloorplansURL),
			Address:       p.Address,
			Amenities:     p.Amenities,
		})
	}

	switch {
	case len(out.Properties) > 0:
		out.Topology = model.TopologyMultiProperty
	case out.FloorplansURL == pageURL:
		out.Topology = model.TopologyListingsHere
	case out.FloorplansURL != "":
		out.Topology = model.TopologySingleLink
	default:
		out.Topology = model.TopologyUnknown
	}
	return out, nil
}

func (cl *client) ProposeContainerSelectors(ctx context.Context, pageURL, text string) (model.CandidateSelectorSet, error) {
	prompt := fmt.Sprintf(
		"You are given the cleaned HTML of a rental floor-plans page together with its URL.\n\n"+
			"Current URL: %s\nHTML: %s\n\n"+
			"Find the CSS selector that matches each individual repeating listing card (one floor plan per match). "+
			"A good container: %s.\n"+
			"Selector shapes that have worked on similar sites: %s.\n\n"+
			`Respond with a JSON object of shape {"selectors": [string]} holding 1 to 3 candidate selectors, best first.`,
		pageURL, text,
		strings.Join(patterns.ContainerTraits, "; "),
		strings.Join(patterns.CommonContainerSelectors, ", "))

	content, err := cl.c.complete(ctx, jsonOnlySystem, prompt)
	if err != nil {
		return nil, err
	}

	raw, err := parseJSONFields(content)
	if err != nil {
		return nil, fmt.Errorf("parse selector response: %w", err)
	}

	list, _ := raw["selectors"].([]any)
	set := make(model.CandidateSelectorSet, 0, 3)
	for _, v := range list {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			set = append(set, strings.TrimSpace(s))
		}
		if len(set) == 3 {
			break
		}
	}
	if len(set) == 0 {
		return nil, errors.New("selector response held no candidates")
	}
	return set, nil
}

func (cl *client) ExtractFields(ctx context.Context, snippet string, fields []string) (map[string]string, error) {
	if len(fields) == 0 {
		return map[string]string{}, nil
	}

	prompt := fmt.Sprintf(
		"You are given the markup of one rental listing card.\n\nListing:\n%s\n\n"+
			"Extract a JSON object with exactly these keys: %s. "+
			"Use plain string values; leave a key out entirely when the listing does not show it. Do not guess.",
		snippet, strings.Join(fields, ", "))

	content, err := cl.c.complete(ctx, jsonOnlySystem, prompt)
	if err != nil {
		return nil, err
	}

	raw, err := parseJSONFields(content)
	if err != nil {
		return nil, fmt.Errorf("parse field response: %w", err)
	}

	requested := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		requested[f] = struct{}{}
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if _, ok := requested[k]; !ok {
			continue
		}
		if s := anyToString(v); s != "" {
			out[k] = s
		}
	}
	return out, nil
}

// parseJSONFields attempts to parse a JSON object from the given content.
// It first tries the whole string, and if that fails, it attempts to
// extract the first {...} block.
func parseJSONFields(content string) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(content), &fields); err == nil {
		return fields, nil
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return nil, errors.New("no JSON object found in content")
	}

	if err := json.Unmarshal([]byte(content[start:end+1]), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func anyToString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

func absolutize(base, link string) string {
	if link == "" || strings.HasPrefix(link, "http") {
		return link
	}
	bu, err := url.Parse(base)
	if err != nil {
		return link
	}
	lu, err := url.Parse(link)
	if err != nil {
		return link
	}
	return bu.ResolveReference(lu).String()
}

// openAIClient implements completer using OpenAI-compatible Chat Completions.
type openAIClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

type openAIChatRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIChatMessage   `json:"messages"`
	Temperature    float64               `json:"temperature"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIChatMessage `json:"message"`
	} `json:"choices"`
}

func (c *openAIClient) complete(ctx context.Context, system, user string) (string, error) {
	body := openAIChatRequest{
		Model: c.model,
		Messages: []openAIChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0.0,
		ResponseFormat: &openAIResponseFormat{Type: "json_object"},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	endpoint := c.baseURL
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	endpoint = endpoint + "/chat/completions"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("openai chat completion failed with status %d", resp.StatusCode)
	}

	var parsed openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("openai chat completion returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// anthropicClient implements completer using Anthropic's Messages API.
type anthropicClient struct {
	apiKey string
	model  string
	http   *http.Client
}

type anthropicMessagesRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string                 `json:"role"`
	Content []anthropicTextContent `json:"content"`
}

type anthropicTextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicMessagesResponse struct {
	Content []anthropicTextContent `json:"content"`
}

func (c *anthropicClient) complete(ctx context.Context, system, user string) (string, error) {
	body := anthropicMessagesRequest{
		Model:     c.model,
		MaxTokens: 1024,
		System:    system,
		Messages: []anthropicMessage{
			{
				Role:    "user",
				Content: []anthropicTextContent{{Type: "text", Text: user}},
			},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.anthropic.com/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("anthropic messages request failed with status %d", resp.StatusCode)
	}

	var parsed anthropicMessagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Content) == 0 {
		return "", errors.New("anthropic messages returned no content")
	}
	return parsed.Content[0].Text, nil
}

// googleClient implements completer using Gemini's generateContent API.
type googleClient struct {
	apiKey string
	model  string
	http   *http.Client
}

type googleGenerateContentRequest struct {
	Contents []googleContent `json:"contents"`
}

type googleContent struct {
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text,omitempty"`
}

type googleGenerateContentResponse struct {
	Candidates []struct {
		Content googleContent `json:"content"`
	} `json:"candidates"`
}

func (c *googleClient) complete(ctx context.Context, system, user string) (string, error) {
	body := googleGenerateContentRequest{
		Contents: []googleContent{
			{Parts: []googlePart{{Text: system + "\n\n" + user}}},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s",
		c.model, url.QueryEscape(c.apiKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("google generateContent failed with status %d", resp.StatusCode)
	}

	var parsed googleGenerateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("google generateContent returned no candidates")
	}

	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}
