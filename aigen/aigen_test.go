package aigen

import (
	"math/rand"
	"testing"

	"warmit/models"

	"github.com/stretchr/testify/assert"
)

func TestParseResponseWithSubjectPrefix(t *testing.T) {
	subject, body := parseResponse("Subject: Quick thought on photography\n\nHi there, been thinking about cameras lately.", models.LanguageEN)
	assert.Equal(t, "Quick thought on photography", subject)
	assert.Equal(t, "Hi there, been thinking about cameras lately.", body)
}

func TestParseResponseItalianPrefixCaseInsensitive(t *testing.T) {
	subject, body := parseResponse("OGGETTO: Un pensiero veloce\n\nCiao, come va?", models.LanguageIT)
	assert.Equal(t, "Un pensiero veloce", subject)
	assert.Equal(t, "Ciao, come va?", body)
}

func TestParseResponseNoPrefixFallsBackToGreeting(t *testing.T) {
	subject, body := parseResponse("Just a plain message with no subject line.", models.LanguageEN)
	assert.Equal(t, "Hello!", subject)
	assert.Equal(t, "Just a plain message with no subject line.", body)

	subject, _ = parseResponse("Un messaggio semplice.", models.LanguageIT)
	assert.Equal(t, "Ciao!", subject)
}

func TestLocalTemplateFallbackNonEmpty(t *testing.T) {
	g := &Generator{rng: rand.New(rand.NewSource(1))}
	gc := GenerationContext{SenderName: "Alice", ReceiverName: "Bob", Language: models.LanguageEN}
	content := g.localTemplate(gc)

	assert.Equal(t, "local_template", content.Model)
	assert.Equal(t, "Local fallback template", content.Prompt)
	assert.NotEmpty(t, content.Subject)
	assert.NotEmpty(t, content.Body)
	assert.Contains(t, content.Body, "Alice")
}

func TestLocalTemplateItalianReplyUsesOriginalSubject(t *testing.T) {
	g := &Generator{rng: rand.New(rand.NewSource(1))}
	gc := GenerationContext{
		SenderName:      "Marco",
		ReceiverName:    "Giulia",
		Language:        models.LanguageIT,
		IsReply:         true,
		OriginalSubject: "Un pensiero veloce",
	}
	content := g.localTemplate(gc)

	assert.Equal(t, "local_template", content.Model)
	assert.Equal(t, "Re: Un pensiero veloce", content.Subject)
	assert.Contains(t, content.Body, "Marco")
}

// fixedSource is a rand.Source that always returns the same value, letting
// tests pin Float64() below or above the 50% extras threshold exactly.
type fixedSource int64

func (f fixedSource) Int63() int64  { return int64(f) }
func (f fixedSource) Seed(int64)    {}

func TestLocalTemplateReplyExtrasAreProbabilistic(t *testing.T) {
	gc := GenerationContext{SenderName: "Marco", ReceiverName: "Giulia", Language: models.LanguageEN, IsReply: true}

	withExtras := (&Generator{rng: rand.New(fixedSource(0))}).localTemplate(gc)
	withoutExtras := (&Generator{rng: rand.New(fixedSource(1<<62 + 1<<61))}).localTemplate(gc)

	assert.NotEqual(t, withExtras.Body, withoutExtras.Body)
}

func TestProviderOrderPutsPreferredFirst(t *testing.T) {
	order := providerOrder("groq")
	assert.Equal(t, "groq", string(order[0]))
	assert.Len(t, order, 3)
}
