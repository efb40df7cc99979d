package textutil

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxFileNameBytes  = 255
	MaxIdentifierLen  = 64
	identifierSymbols = "-_.@"
)

var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizeFileName makes a client-supplied file name safe to log and store.
// Directory parts are dropped, control characters removed, unsafe
// punctuation replaced, and the result capped at 255 bytes.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(fileNameReplacer.Replace(name))
	if name == "." || name == ".." {
		return ""
	}
	if len(name) > maxFileNameBytes {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = truncateBytes(name[:len(name)-len(ext)], maxFileNameBytes-len(ext)) + ext
	}
	return name
}

// CleanIdentifier keeps ASCII letters, digits and "-_.@" from value and
// caps the result at MaxIdentifierLen bytes. Case is preserved.
func CleanIdentifier(value string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(value) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case strings.ContainsRune(identifierSymbols, r):
			b.WriteRune(r)
		}
		if b.Len() >= MaxIdentifierLen {
			break
		}
	}
	return b.String()
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
