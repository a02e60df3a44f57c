// Package aigen implements the AI Content Generator: composes a warmup
// email or a reply using whichever API key in the configured key-ring is
// not currently rate-limited, falling back to a local template composer
// when every key is exhausted.
package aigen

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"warmit/config"
	"warmit/models"
	"warmit/ratelimit"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"
)

// GenerationContext carries everything the composer needs to know about
// the email it is about to write.
type GenerationContext struct {
	SenderName          string
	ReceiverName        string
	Language            models.Language
	IsReply             bool
	OriginalSubject     string
	ConversationContext string
}

// EmailContent is the composer's output; Model records which key (or
// "local_template") produced it, for observability.
type EmailContent struct {
	Subject string
	Body    string
	Prompt  string
	Model   string
}

type providerModel struct {
	baseURL string
	model   string
}

var providerModels = map[ratelimit.Provider]providerModel{
	ratelimit.ProviderOpenRouter: {baseURL: "https://openrouter.ai/api/v1", model: "meta-llama/llama-3.1-8b-instruct:free"},
	ratelimit.ProviderGroq:       {baseURL: "https://api.groq.com/openai/v1", model: "llama-3.1-8b-instant"},
	ratelimit.ProviderOpenAI:     {baseURL: "", model: "gpt-4o-mini"},
}

// Generator composes warmup and reply email content.
type Generator struct {
	ledger  *ratelimit.Ledger
	clients map[string]*openai.Client
	keyIDs  map[ratelimit.Provider][]string
	order   []ratelimit.Provider
	rng     *rand.Rand
}

// New builds a Generator from the configured key-rings, registering each
// key with the shared Ledger under a stable id and constructing one
// openai-go client per key with the provider's base URL.
func New(cfg *config.Config, ledger *ratelimit.Ledger) *Generator {
	g := &Generator{
		ledger:  ledger,
		clients: make(map[string]*openai.Client),
		keyIDs:  make(map[ratelimit.Provider][]string),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	register := func(provider ratelimit.Provider, keys []string) {
		pm := providerModels[provider]
		for i, key := range keys {
			id := fmt.Sprintf("%s_%d", provider, i+1)
			opts := []option.RequestOption{option.WithAPIKey(key)}
			if pm.baseURL != "" {
				opts = append(opts, option.WithBaseURL(pm.baseURL))
			}
			client := openai.NewClient(opts...)
			g.clients[id] = &client
			g.keyIDs[provider] = append(g.keyIDs[provider], id)
			ledger.Register(id, provider)
		}
	}

	register(ratelimit.ProviderOpenRouter, cfg.OpenRouterKeys)
	register(ratelimit.ProviderGroq, cfg.GroqKeys)
	if cfg.OpenAIKey != "" {
		register(ratelimit.ProviderOpenAI, []string{cfg.OpenAIKey})
	}

	g.order = providerOrder(cfg.AIProvider)
	return g
}

func providerOrder(preferred string) []ratelimit.Provider {
	all := []ratelimit.Provider{ratelimit.ProviderOpenRouter, ratelimit.ProviderGroq, ratelimit.ProviderOpenAI}
	order := []ratelimit.Provider{}
	pref := ratelimit.Provider(strings.ToLower(preferred))
	for _, p := range all {
		if p == pref {
			order = append(order, p)
		}
	}
	for _, p := range all {
		if p != pref {
			order = append(order, p)
		}
	}
	return order
}

// Generate walks the key-ring in provider-preference order, skipping any
// key the Ledger currently denies, until one call succeeds or the ring is
// exhausted — at which point it falls back to the local template
// composer so a campaign never stalls on provider exhaustion.
func (g *Generator) Generate(ctx context.Context, gc GenerationContext) (EmailContent, error) {
	tried := make(map[string]bool)

	for _, provider := range g.order {
		for _, keyID := range g.keyIDs[provider] {
			if tried[keyID] {
				continue
			}
			tried[keyID] = true

			if ok, reason := g.ledger.CanUse(keyID); !ok {
				logrus.WithField("key", keyID).Debug("skipping key: " + reason)
				continue
			}
			if !g.ledger.Record(keyID) {
				continue
			}

			content, err := g.tryKey(ctx, keyID, provider, gc)
			if err != nil {
				logrus.WithField("key", keyID).WithError(err).Warn("ai generation attempt failed")
				time.Sleep(time.Second)
				continue
			}
			return content, nil
		}
	}

	logrus.Warn("ai key-ring exhausted, falling back to local template")
	return g.localTemplate(gc), nil
}

func (g *Generator) tryKey(ctx context.Context, keyID string, provider ratelimit.Provider, gc GenerationContext) (EmailContent, error) {
	client, ok := g.clients[keyID]
	if !ok {
		return EmailContent{}, fmt.Errorf("no client for key %s", keyID)
	}

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	system, user := buildPrompts(gc)
	model := providerModels[provider].model

	resp, err := client.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Opt(0.8),
		MaxTokens:   openai.Opt(int64(500)),
	})
	if err != nil {
		return EmailContent{}, err
	}
	if len(resp.Choices) == 0 {
		return EmailContent{}, fmt.Errorf("empty completion from %s", keyID)
	}

	raw := resp.Choices[0].Message.Content
	subject, body := parseResponse(raw, gc.Language)
	return EmailContent{Subject: subject, Body: body, Prompt: user, Model: keyID}, nil
}

func buildPrompts(gc GenerationContext) (system, user string) {
	lang := "English"
	if gc.Language == models.LanguageIT {
		lang = "Italian"
	}

	if gc.IsReply {
		system = fmt.Sprintf(
			"You are %s, replying naturally and briefly to an email from %s. Write in %s. Keep it to two or three short sentences, conversational, no signature block.",
			gc.SenderName, gc.ReceiverName, lang,
		)
		user = fmt.Sprintf("The email you received had the subject %q and said:\n\n%s\n\nWrite a short, friendly reply.", gc.OriginalSubject, gc.ConversationContext)
		return system, user
	}

	system = fmt.Sprintf(
		"You are %s, writing a short casual email to %s as part of normal correspondence. Write in %s. Start with a line naming the subject, formatted as 'Subject: ...' (or 'Oggetto: ...' in Italian), then a blank line, then two or three short paragraphs.",
		gc.SenderName, gc.ReceiverName, lang,
	)
	user = "Write the email now."
	return system, user
}

// parseResponse splits a raw completion into subject and body, looking
// for a leading "Subject:"/"Oggetto:" line; falls back to a locale
// greeting subject if none is present.
func parseResponse(raw string, lang models.Language) (subject, body string) {
	lines := strings.SplitN(strings.TrimSpace(raw), "\n", 2)
	first := strings.TrimSpace(lines[0])
	lower := strings.ToLower(first)

	for _, prefix := range []string{"subject:", "oggetto:"} {
		if strings.HasPrefix(lower, prefix) {
			subject = strings.TrimSpace(first[len(prefix):])
			if len(lines) > 1 {
				body = strings.TrimSpace(lines[1])
			}
			return subject, body
		}
	}

	if lang == models.LanguageIT {
		subject = "Ciao!"
	} else {
		subject = "Hello!"
	}
	body = strings.TrimSpace(raw)
	return subject, body
}

// localTemplate composes an email from the local phrase banks without
// calling any network API, so a fully exhausted key-ring still produces
// usable content.
func (g *Generator) localTemplate(gc GenerationContext) EmailContent {
	lang := "en"
	if gc.Language == models.LanguageIT {
		lang = "it"
	}
	topics, _, greetings, openings, middles, closings, acks, responses, extras, subjects := localeArrays(lang)

	idx := len(gc.SenderName) + len(gc.ReceiverName) // deterministic-ish spread without rand
	topic := topics[idx%len(topics)]

	var sb strings.Builder
	sb.WriteString(greetings[idx%len(greetings)])
	sb.WriteString("\n\n")

	if gc.IsReply {
		sb.WriteString(acks[idx%len(acks)])
		sb.WriteString(" ")
		sb.WriteString(responses[(idx+1)%len(responses)])
		if g.rng.Float64() < 0.5 {
			sb.WriteString(" ")
			sb.WriteString(extras[(idx+2)%len(extras)])
		}
	} else {
		sb.WriteString(fmt.Sprintf(openings[idx%len(openings)], topic))
		sb.WriteString(" ")
		sb.WriteString(middles[(idx+1)%len(middles)])
	}

	sb.WriteString("\n\n")
	sb.WriteString(closings[(idx+2)%len(closings)])
	sb.WriteString("\n")
	sb.WriteString(gc.SenderName)

	subject := fmt.Sprintf(subjects[idx%len(subjects)], topic)
	if gc.IsReply && gc.OriginalSubject != "" {
		subject = "Re: " + gc.OriginalSubject
	}

	return EmailContent{
		Subject: subject,
		Body:    sb.String(),
		Prompt:  "Local fallback template",
		Model:   "local_template",
	}
}
