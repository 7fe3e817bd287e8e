package soundtouch

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
)

// sourceBluetooth requires an explicit empty sourceAccount attribute in
// the select command; other sources omit the attribute when accountless.
const sourceBluetooth = "BLUETOOTH"

// SourceDescriptor is one entry of the speaker's source catalog, used to
// resolve a human-friendly selection request into the exact
// (source, sourceAccount) pair the device understands.
type SourceDescriptor struct {
	Name        string `json:"name"`
	Source      string `json:"source"`
	Account     string `json:"account,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Location    string `json:"location,omitempty"`
	Presetable  bool   `json:"presetable,omitempty"`
}

// Matches reports whether the descriptor answers to the given request
// string by name, source key, or account key.
func (s SourceDescriptor) Matches(request string) bool {
	candidate := strings.ToLower(strings.TrimSpace(request))
	if candidate == "" {
		return false
	}
	return candidate == strings.ToLower(s.Name) ||
		candidate == strings.ToLower(s.Source) ||
		(s.Account != "" && candidate == strings.ToLower(s.Account))
}

// contentItem converts the descriptor into its select-command payload.
func (s SourceDescriptor) contentItem() ContentItem {
	return ContentItem{
		Source:     s.Source,
		Account:    s.Account,
		Type:       s.ContentType,
		Location:   s.Location,
		Presetable: s.Presetable,
		Name:       s.Name,
	}
}

// Sources fetches the speaker's source catalog. Entries the device reports
// as unavailable (status neither READY nor PLAYING) are filtered out.
func (c *Client) Sources(ctx context.Context) ([]SourceDescriptor, error) {
	body, err := c.get(ctx, pathSources)
	if err != nil {
		return nil, err
	}
	var response sourcesResponse
	if err := xml.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedResponse, pathSources, err)
	}

	descriptors := make([]SourceDescriptor, 0, len(response.Items))
	for _, item := range response.Items {
		status := strings.ToUpper(strings.TrimSpace(item.Status))
		if status != "" && status != "READY" && status != "PLAYING" {
			continue
		}
		name := strings.TrimSpace(item.Name)
		if name == "" {
			name = item.SourceAccount
		}
		if name == "" {
			name = item.Source
		}
		descriptors = append(descriptors, SourceDescriptor{
			Name:        name,
			Source:      strings.ToUpper(item.Source),
			Account:     item.SourceAccount,
			ContentType: item.ContentType,
			Location:    item.Location,
			Presetable:  strings.EqualFold(item.IsPresetable, "true"),
		})
	}
	return descriptors, nil
}

// SelectSource switches the speaker to the requested source.
//
// The request is resolved against the source catalog by human name first,
// then by source key, then by source+account pair. When nothing matches,
// the request is passed through verbatim as a raw content item. Selection
// does not trigger a refresh; that is the caller's responsibility.
func (c *Client) SelectSource(ctx context.Context, request string) error {
	catalog, err := c.Sources(ctx)
	if err != nil {
		// Catalog unavailable: fall through to the raw content item so a
		// flaky /sources endpoint cannot block explicit selections.
		catalog = nil
	}

	if descriptor, ok := ResolveSource(catalog, request); ok {
		return c.SelectDescriptor(ctx, descriptor)
	}
	return c.selectContentItem(ctx, fallbackContentItem(request))
}

// SelectDescriptor switches the speaker to a known catalog entry.
func (c *Client) SelectDescriptor(ctx context.Context, descriptor SourceDescriptor) error {
	return c.selectContentItem(ctx, descriptor.contentItem())
}

func (c *Client) selectContentItem(ctx context.Context, item ContentItem) error {
	_, err := c.post(ctx, pathSelect, contentItemToXML(item))
	return err
}

// ResolveSource matches a selection request against a catalog, in order of
// specificity: human name, then source key, then source+account pair.
func ResolveSource(catalog []SourceDescriptor, request string) (SourceDescriptor, bool) {
	candidate := strings.ToLower(strings.TrimSpace(request))
	if candidate == "" {
		return SourceDescriptor{}, false
	}

	for _, d := range catalog {
		if candidate == strings.ToLower(d.Name) {
			return d, true
		}
	}
	for _, d := range catalog {
		if candidate == strings.ToLower(d.Source) {
			return d, true
		}
	}
	for _, d := range catalog {
		pair := strings.ToLower(d.Source) + ":" + strings.ToLower(d.Account)
		if d.Account != "" && (candidate == pair || candidate == strings.ToLower(d.Account)) {
			return d, true
		}
	}
	return SourceDescriptor{}, false
}

// fallbackContentItem builds a raw content item from an unresolved request.
// "SOURCE:account" splits into the pair; a bare word selects the source
// directly. BLUETOOTH keeps an explicit empty account. An empty request
// falls back to AUX.
func fallbackContentItem(request string) ContentItem {
	raw := strings.TrimSpace(request)
	var source, account string
	if before, after, found := strings.Cut(raw, ":"); found {
		source, account = strings.TrimSpace(before), strings.TrimSpace(after)
	} else {
		source = raw
	}

	source = strings.ToUpper(source)
	if source == "" {
		source = "AUX"
	}
	return ContentItem{Source: source, Account: account}
}
