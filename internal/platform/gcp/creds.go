package gcp

import (
	"os"
	"strings"

	"google.golang.org/api/option"
)

const userAgent = "studio-ingest"

// CredentialSource names where ClientOptionsFromEnv found credentials.
type CredentialSource string

const (
	CredentialSourceInlineJSON CredentialSource = "inline_json"
	CredentialSourceFile       CredentialSource = "file"
	CredentialSourceADC        CredentialSource = "application_default"
)

// ResolveCredentials picks inline JSON over a file path. An empty result
// means application default credentials.
func ResolveCredentials(inline, path string) (CredentialSource, string) {
	if v := strings.TrimSpace(inline); v != "" {
		if strings.HasPrefix(v, "{") {
			return CredentialSourceInlineJSON, v
		}
		return CredentialSourceFile, v
	}
	if v := strings.TrimSpace(path); v != "" {
		if strings.HasPrefix(v, "{") {
			return CredentialSourceInlineJSON, v
		}
		return CredentialSourceFile, v
	}
	return CredentialSourceADC, ""
}

// ClientOptionsFromEnv builds the shared options for the storage and vision clients.
func ClientOptionsFromEnv() []option.ClientOption {
	source, value := ResolveCredentials(
		os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"),
		os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
	)
	opts := []option.ClientOption{option.WithUserAgent(userAgent)}
	if project := strings.TrimSpace(os.Getenv("GCP_QUOTA_PROJECT")); project != "" {
		opts = append(opts, option.WithQuotaProject(project))
	}
	switch source {
	case CredentialSourceInlineJSON:
		opts = append(opts, option.WithCredentialsJSON([]byte(value)))
	case CredentialSourceFile:
		opts = append(opts, option.WithCredentialsFile(value))
	}
	return opts
}
