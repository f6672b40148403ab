package command

import (
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/yndnr/retouch-go/internal/core/domain"
)

func TestAPIKeyNew(t *testing.T) {
	res := runCLI(t, "", "apikey", "new", "--name", "ci", "--role", "Viewer", "--rate-limit", "50", "--allow", "10.0.0.0/8")
	if res.err != nil {
		t.Fatalf("apikey new: %v", res.err)
	}

	var secret string
	for _, line := range strings.Split(res.stdout, "\n") {
		if v, ok := strings.CutPrefix(line, "# Secret: "); ok {
			secret = v
		}
	}
	if !strings.HasPrefix(secret, "rtas_") {
		t.Fatalf("secret line missing:\n%s", res.stdout)
	}

	var entries []apiKeyEntry
	if err := yaml.Unmarshal([]byte(res.stdout), &entries); err != nil {
		t.Fatalf("output is not YAML: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	e := entries[0]
	if !strings.HasPrefix(e.KeyID, "rtak-") || e.Name != "ci" || e.Role != "viewer" || e.RateLimit != 50 {
		t.Errorf("entry = %+v", e)
	}
	if len(e.Allowlist) != 1 || e.Allowlist[0] != "10.0.0.0/8" {
		t.Errorf("allowlist = %v", e.Allowlist)
	}
	if !domain.VerifySecret(secret, e.SecretHash) {
		t.Error("secret does not verify against the printed hash")
	}
	if strings.Contains(e.SecretHash, secret) {
		t.Error("hash contains the plaintext secret")
	}
}

func TestAPIKeyNew_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad role", []string{"--name", "x", "--role", "root"}, "unknown role"},
		{"negative rate", []string{"--name", "x", "--rate-limit", "-1"}, "rate-limit"},
		{"missing name", nil, "name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runCLI(t, "", append([]string{"apikey", "new"}, tt.args...)...)
			if res.err == nil || !strings.Contains(res.err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", res.err, tt.want)
			}
		})
	}
}

func TestAPIKeyList(t *testing.T) {
	ts := newTestServer(t)

	res := runCLI(t, "", append(ts.authArgs(), "apikey", "list")...)
	if res.err != nil {
		t.Fatalf("apikey list: %v", res.err)
	}
	if !strings.Contains(res.stdout, ts.keyID) || !strings.Contains(res.stdout, "Total: 1") {
		t.Errorf("stdout = %q", res.stdout)
	}
	if strings.Contains(res.stdout, ts.secret) {
		t.Error("listing leaked the secret")
	}

	res = runCLI(t, "", append(ts.authArgs(), "-o", "json", "apikey", "list")...)
	if res.err != nil {
		t.Fatal(res.err)
	}
	var keys []apiKeyInfo
	if err := json.Unmarshal([]byte(res.stdout), &keys); err != nil {
		t.Fatalf("json output: %v", err)
	}
	if len(keys) != 1 || keys[0].Role != string(domain.RoleAdmin) {
		t.Errorf("keys = %+v", keys)
	}
}
