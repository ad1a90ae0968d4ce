package gcp

import "testing"

func TestResolveCredentials(t *testing.T) {
	cases := []struct {
		name       string
		inline     string
		path       string
		wantSource CredentialSource
		wantValue  string
	}{
		{name: "none", wantSource: CredentialSourceADC},
		{name: "inline json", inline: ` {"type":"service_account"} `, path: "/ignored.json", wantSource: CredentialSourceInlineJSON, wantValue: `{"type":"service_account"}`},
		{name: "inline var holding a path", inline: "/etc/sa.json", wantSource: CredentialSourceFile, wantValue: "/etc/sa.json"},
		{name: "path", path: "/etc/sa.json", wantSource: CredentialSourceFile, wantValue: "/etc/sa.json"},
		{name: "path var holding json", path: `{"type":"x"}`, wantSource: CredentialSourceInlineJSON, wantValue: `{"type":"x"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			source, value := ResolveCredentials(tc.inline, tc.path)
			if source != tc.wantSource || value != tc.wantValue {
				t.Fatalf("ResolveCredentials: got (%s, %q) want (%s, %q)", source, value, tc.wantSource, tc.wantValue)
			}
		})
	}
}

func TestClientOptionsFromEnvAlwaysSetsUserAgent(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS_JSON", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	t.Setenv("GCP_QUOTA_PROJECT", "")
	if got := len(ClientOptionsFromEnv()); got != 1 {
		t.Fatalf("options: want 1 got=%d", got)
	}
	t.Setenv("GCP_QUOTA_PROJECT", "studio")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "/etc/sa.json")
	if got := len(ClientOptionsFromEnv()); got != 3 {
		t.Fatalf("options: want 3 got=%d", got)
	}
}
