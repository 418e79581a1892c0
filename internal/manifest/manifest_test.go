package manifest

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const origin = "chrome-extension://abcdefghijklmnopabcdefghijklmnop/"

func TestNewValidates(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		path    string
		origins []string
		wantErr string
	}{
		{"ok", "com.scheduleai.host", "/usr/local/bin/focushost", []string{origin}, ""},
		{"uppercase name", "com.ScheduleAI.host", "/bin/h", []string{origin}, "invalid host name"},
		{"relative path", "com.scheduleai.host", "bin/h", []string{origin}, "absolute"},
		{"no origins", "com.scheduleai.host", "/bin/h", nil, "allowed origin"},
		{"bad origin", "com.scheduleai.host", "/bin/h", []string{"https://example.com/"}, "invalid origin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.host, "desc", tt.path, tt.origins)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("New() error: %v", err)
				}
				if m.Type != "stdio" {
					t.Errorf("type = %q", m.Type)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDir(t *testing.T) {
	got, err := Dir("linux", "/home/u", "chrome")
	if err != nil {
		t.Fatalf("Dir() error: %v", err)
	}
	if got != "/home/u/.config/google-chrome/NativeMessagingHosts" {
		t.Errorf("linux chrome dir = %s", got)
	}

	got, err = Dir("darwin", "/Users/u", "chromium")
	if err != nil {
		t.Fatalf("Dir() error: %v", err)
	}
	if got != "/Users/u/Library/Application Support/Chromium/NativeMessagingHosts" {
		t.Errorf("darwin chromium dir = %s", got)
	}

	if _, err := Dir("windows", `C:\Users\u`, "chrome"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("windows: expected ErrUnsupported, got %v", err)
	}
	if _, err := Dir("linux", "/home/u", "netscape"); err == nil {
		t.Error("unknown browser accepted")
	}
	if len(Browsers("linux")) != 4 {
		t.Errorf("browsers = %v", Browsers("linux"))
	}
}

func TestInstall(t *testing.T) {
	m, err := New("com.scheduleai.host", "Schedule AI Native Messaging Host", "/opt/focusbridge/focushost", []string{origin})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "NativeMessagingHosts")
	path, err := Install(m, dir)
	if err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	if filepath.Base(path) != "com.scheduleai.host.json" {
		t.Errorf("path = %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("manifest is not JSON: %v", err)
	}
	if doc["type"] != "stdio" || doc["path"] != "/opt/focusbridge/focushost" {
		t.Errorf("manifest = %v", doc)
	}
	origins, _ := doc["allowed_origins"].([]any)
	if len(origins) != 1 || origins[0] != origin {
		t.Errorf("allowed_origins = %v", doc["allowed_origins"])
	}
}
