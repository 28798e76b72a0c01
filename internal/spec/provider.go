package spec

import (
	"crypto/sha1"
	"strings"
	"unicode/utf16"

	"github.com/google/uuid"

	"tracetrigger/pkg/models"
)

// Provider identifies the event provider a trigger listens to.
type Provider struct {
	Name string
	GUID uuid.UUID
	// Dynamic providers are resolved by name hash rather than by registry.
	Dynamic bool
}

// Matches reports whether ev was emitted by p.
func (p Provider) Matches(ev *models.TraceEvent) bool {
	if p.GUID != uuid.Nil && ev.ProviderGUID == p.GUID {
		return true
	}
	return p.Name != "" && strings.EqualFold(ev.ProviderName, p.Name)
}

var wellKnownProviders = map[string]uuid.UUID{
	"microsoft-windows-dotnetruntime":        uuid.MustParse("e13c0d23-ccbc-4e12-931b-d9cc2eee27e4"),
	"microsoft-windows-dotnetruntimerundown": uuid.MustParse("a669021c-c450-4609-a035-5af59af4df18"),
	"microsoft-windows-dotnetruntimeprivate": uuid.MustParse("763fd754-7086-4dfe-95eb-c01a46faf4ca"),
	"microsoft-windows-kernel-process":       uuid.MustParse("22fb2cd6-0e7b-422b-a0c7-2fad1fd0e716"),
	"system.threading.tasks.tpleventsource":  uuid.MustParse("2e5dba47-a3d2-4d16-8ee0-6671ffdcd7b5"),
	"windows kernel":                         uuid.MustParse("9e814aad-3204-11d2-9a82-006008a86939"),
	"clr":                                    uuid.MustParse("e13c0d23-ccbc-4e12-931b-d9cc2eee27e4"),
}

// LookupProvider returns the registered GUID for a well-known provider name.
func LookupProvider(name string) (uuid.UUID, bool) {
	id, ok := wellKnownProviders[strings.ToLower(strings.TrimSpace(name))]
	return id, ok
}

var eventSourceNamespace = [16]byte{0x48, 0x2C, 0x2D, 0xB2, 0xC3, 0x90, 0x47, 0xC8, 0x87, 0xF8, 0x1A, 0x15, 0xBF, 0xC1, 0x30, 0xFB}

// EventSourceGUID derives the provider GUID an EventSource with the given
// name registers under: SHA-1 over a fixed namespace and the upper-cased
// UTF-16BE name, with version nibble 5.
func EventSourceGUID(name string) uuid.UUID {
	h := sha1.New()
	h.Write(eventSourceNamespace[:])
	for _, c := range utf16.Encode([]rune(strings.ToUpper(name))) {
		h.Write([]byte{byte(c >> 8), byte(c)})
	}
	sum := h.Sum(nil)
	sum[7] = (sum[7] & 0x0F) | 0x50

	// sum is in little-endian GUID field order.
	var id uuid.UUID
	id[0], id[1], id[2], id[3] = sum[3], sum[2], sum[1], sum[0]
	id[4], id[5] = sum[5], sum[4]
	id[6], id[7] = sum[7], sum[6]
	copy(id[8:], sum[8:16])
	return id
}

func parseProvider(text string) (Provider, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Provider{}, "", errEmptyProvider
	}
	if strings.HasPrefix(text, "*") {
		name := strings.TrimSpace(text[1:])
		if name == "" {
			return Provider{}, "", errEmptyProvider
		}
		return Provider{Name: name, GUID: EventSourceGUID(name), Dynamic: true}, "", nil
	}
	if id, err := uuid.Parse(strings.Trim(text, "{}")); err == nil {
		return Provider{GUID: id}, "", nil
	}
	if id, ok := LookupProvider(text); ok {
		return Provider{Name: text, GUID: id}, "", nil
	}
	warning := "provider " + text + " is not registered, using its EventSource name GUID"
	return Provider{Name: text, GUID: EventSourceGUID(text), Dynamic: true}, warning, nil
}
