package config

import (
	"os"
	"path/filepath"
	"regexp"
)

// AntigravityConstants are the OAuth client credentials shipped with the
// opencode-antigravity-auth plugin. They are used as defaults when the
// environment does not provide GOOGLE_CLIENT_ID / GOOGLE_CLIENT_SECRET.
type AntigravityConstants struct {
	ClientID     string
	ClientSecret string
}

var (
	clientIDRe     = regexp.MustCompile(`ANTIGRAVITY_CLIENT_ID\s*=\s*"([^"]+)"`)
	clientSecretRe = regexp.MustCompile(`ANTIGRAVITY_CLIENT_SECRET\s*=\s*"([^"]+)"`)
)

func getConstantsFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "opencode", "node_modules",
		"opencode-antigravity-auth", "dist", "src", "constants.d.ts")
}

// LoadAntigravityConstants reads the plugin constants file, returning nil when
// it is missing or incomplete.
func LoadAntigravityConstants() *AntigravityConstants {
	path := getConstantsFilePath()
	if path == "" {
		return nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	return parseConstants(string(content))
}

func parseConstants(content string) *AntigravityConstants {
	constants := &AntigravityConstants{}

	if match := clientIDRe.FindStringSubmatch(content); len(match) > 1 {
		constants.ClientID = match[1]
	}
	if match := clientSecretRe.FindStringSubmatch(content); len(match) > 1 {
		constants.ClientSecret = match[1]
	}

	if constants.ClientID == "" || constants.ClientSecret == "" {
		return nil
	}

	return constants
}
