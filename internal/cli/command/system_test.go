package command

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/yndnr/retouch-go/internal/cli/connection"
	"github.com/yndnr/retouch-go/internal/infra/buildinfo"
	"github.com/yndnr/retouch-go/internal/server/localserver"
)

func TestSystemHealth(t *testing.T) {
	ts := newTestServer(t)

	res := runCLI(t, "", "--server", ts.URL, "-o", "json", "system", "health")
	if res.err != nil {
		t.Fatalf("system health: %v", res.err)
	}
	var rows []healthRow
	if err := json.Unmarshal([]byte(res.stdout), &rows); err != nil {
		t.Fatal(err)
	}
	want := []healthRow{{"health", "healthy"}, {"ready", "ready"}}
	if len(rows) != len(want) {
		t.Fatalf("rows = %+v", rows)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, rows[i], want[i])
		}
	}
}

func TestSystemHealth_Unreachable(t *testing.T) {
	ts := newTestServer(t)
	url := ts.URL
	ts.Close()

	res := runCLI(t, "", "--server", url, "system", "health")
	if res.err == nil {
		t.Fatal("expected error")
	}
	for _, check := range []string{"health:", "ready:"} {
		if !strings.Contains(res.err.Error(), check) {
			t.Errorf("error %q does not mention %s", res.err, check)
		}
	}
}

func TestSystemStatus(t *testing.T) {
	ts := newTestServer(t)

	res := runCLI(t, "", append(ts.authArgs(), "-o", "json", "system", "status")...)
	if res.err != nil {
		t.Fatalf("system status: %v", res.err)
	}
	var status map[string]any
	if err := json.Unmarshal([]byte(res.stdout), &status); err != nil {
		t.Fatal(err)
	}
	if status["status"] != "running" || status["version"] != buildinfo.Version {
		t.Errorf("status = %v", status)
	}

	res = runCLI(t, "", "--server", ts.URL, "system", "status")
	var apiErr *connection.APIError
	if !errors.As(res.err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Errorf("unauthenticated status err = %v", res.err)
	}
}

func TestSystemStatus_Local(t *testing.T) {
	socket := startSocket(t, nil)

	res := runCLI(t, "", "--socket", socket, "-o", "json", "system", "status", "--local")
	if res.err != nil {
		t.Fatalf("status --local: %v", res.err)
	}
	var st localserver.StatusPayload
	if err := json.Unmarshal([]byte(res.stdout), &st); err != nil {
		t.Fatal(err)
	}
	if st.Version != buildinfo.Version || st.Sessions != 0 {
		t.Errorf("status = %+v", st)
	}
}

func TestSystemVersion(t *testing.T) {
	res := runCLI(t, "", "system", "version")
	if res.err != nil {
		t.Fatal(res.err)
	}
	if strings.TrimSpace(res.stdout) != buildinfo.String() {
		t.Errorf("version = %q, want %q", res.stdout, buildinfo.String())
	}

	res = runCLI(t, "", "-o", "yaml", "system", "version")
	if res.err != nil {
		t.Fatal(res.err)
	}
	if !strings.Contains(res.stdout, buildinfo.Version) {
		t.Errorf("yaml version = %q", res.stdout)
	}
}
