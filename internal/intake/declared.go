package intake

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"vodpipe/internal/services"
	"vodpipe/internal/textutil"
)

const (
	MaxTitleRunes       = 200
	MaxDescriptionRunes = 5000
	MaxTags             = 20
	MaxTagRunes         = 50
)

// Declared is the user-supplied metadata sent with an upload.
type Declared struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	OwnerID     string   `json:"owner_id,omitempty"`
	Filename    string   `json:"filename,omitempty"`
}

// Normalize trims every field and returns a copy with tags normalised and
// de-duplicated.
func (d Declared) Normalize() Declared {
	out := Declared{
		Title:       strings.TrimSpace(d.Title),
		Description: strings.TrimSpace(d.Description),
		OwnerID:     textutil.CleanIdentifier(d.OwnerID),
		Filename:    textutil.SanitizeFileName(d.Filename),
	}
	seen := make(map[string]struct{}, len(d.Tags))
	for _, tag := range d.Tags {
		tag = textutil.NormalizeTag(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out.Tags = append(out.Tags, tag)
	}
	return out
}

// Validate checks the normalised fields against the limits.
func (d Declared) Validate() error {
	titleLen := utf8.RuneCountInString(d.Title)
	switch {
	case titleLen == 0:
		return invalid("title", "title is required", "send a non-empty title field")
	case titleLen > MaxTitleRunes:
		return invalid("title", "title is too long", fmt.Sprintf("use at most %d characters", MaxTitleRunes))
	case utf8.RuneCountInString(d.Description) > MaxDescriptionRunes:
		return invalid("description", "description is too long", fmt.Sprintf("use at most %d characters", MaxDescriptionRunes))
	case len(d.Tags) > MaxTags:
		return invalid("tags", "too many tags", fmt.Sprintf("send at most %d tags", MaxTags))
	}
	for _, tag := range d.Tags {
		if utf8.RuneCountInString(tag) > MaxTagRunes {
			return invalid("tags", fmt.Sprintf("tag %q is too long", truncate(tag, 20)), fmt.Sprintf("keep tags under %d characters", MaxTagRunes))
		}
	}
	return nil
}

// ParseTags splits a comma separated tag list.
func ParseTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func invalid(field, message, hint string) error {
	return services.WithHint(services.Wrap(services.ErrValidation, "intake", field, message, nil), hint)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
