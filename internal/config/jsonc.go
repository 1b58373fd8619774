package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// whitelistedJSONCKeys are the only keys RewriteJSONCKeys will touch.
// Per spec.md §9 design notes, this is a narrow, regex-based line editor,
// not a general JSON editor, and is restricted on purpose.
var whitelistedJSONCKeys = map[string]bool{
	"session_id":               true,
	"message_id":               true,
	"id_updater_last_mode":     true,
	"id_updater_battle_target": true,
}

// RewriteJSONCKeys rewrites the string value of one or more whitelisted
// keys in a JSONC file in place, preserving comments and everything else
// byte-for-byte. Keys not already present are appended before the file's
// closing brace. Used by the id_updater CLI to persist captured session
// and message identifiers without a general JSON-editing dependency.
func RewriteJSONCKeys(path string, updates map[string]string) error {
	for key := range updates {
		if !whitelistedJSONCKeys[key] {
			return fmt.Errorf("config: %q is not a whitelisted JSONC key", key)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	content := string(raw)

	for key, value := range updates {
		content = replaceJSONCKey(content, key, value)
	}

	return os.WriteFile(path, []byte(content), 0o644)
}

// ReadJSONCFile strips // and /* */ comments from a JSONC file and decodes
// the remainder into v. Used for the legacy single-file id-capture config
// alongside the declarative YAML files.
func ReadJSONCFile(path string, v interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	return ReadJSONCFileFromBytes(raw, v)
}

// ReadJSONCFileFromBytes strips comments from already-loaded JSONC bytes
// and decodes the remainder into v.
func ReadJSONCFileFromBytes(raw []byte, v interface{}) error {
	return json.Unmarshal(stripJSONCComments(raw), v)
}

var (
	jsoncLineComment  = regexp.MustCompile(`(?m)//[^\n]*$`)
	jsoncBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// stripJSONCComments removes line and block comments. It does not attempt
// to distinguish comment markers that appear inside string literals; the
// config files this reads are hand-authored and avoid that ambiguity.
func stripJSONCComments(data []byte) []byte {
	out := jsoncBlockComment.ReplaceAll(data, nil)
	out = jsoncLineComment.ReplaceAll(out, nil)
	return out
}

var jsoncClosingBrace = regexp.MustCompile(`}\s*$`)

// replaceJSONCKey replaces the string value of key in content, or appends
// it just before the final closing brace if it isn't already present.
func replaceJSONCKey(content, key, value string) string {
	pattern := regexp.MustCompile(fmt.Sprintf(`(?m)("%s"\s*:\s*").*?("?)(,?\s*)$`, regexp.QuoteMeta(key)))
	if !pattern.MatchString(content) {
		return jsoncClosingBrace.ReplaceAllString(content, fmt.Sprintf("  ,\"%s\": \"%s\"\n}", key, value))
	}
	return pattern.ReplaceAllString(content, fmt.Sprintf(`${1}%s${2}${3}`, value))
}
