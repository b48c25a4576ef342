package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/3cpo-dev/pvemcp/internal/audit"
	"github.com/3cpo-dev/pvemcp/internal/config"
	"github.com/3cpo-dev/pvemcp/internal/server"
	"github.com/3cpo-dev/pvemcp/internal/ssh"
	"github.com/3cpo-dev/pvemcp/internal/tools"
)

// fakeProxmox answers pct commands the way a quiet test host would.
type fakeProxmox struct{}

func (fakeProxmox) Execute(ctx context.Context, command string, timeout time.Duration) (ssh.ExecResult, error) {
	switch command {
	case "pct list":
		return ssh.ExecResult{Stdout: "VMID Status Lock Name\n100 running  web\n101 stopped  db\n"}, nil
	case "pct status 100":
		return ssh.ExecResult{Stdout: "status: running\n"}, nil
	}
	return ssh.ExecResult{Stdout: "ok\n"}, nil
}
func (fakeProxmox) GetFile(remotePath, localPath string) error { return nil }
func (fakeProxmox) PutFile(localPath, remotePath string) error { return nil }
func (fakeProxmox) RemoveRemoteFile(remotePath string) bool    { return true }

// TestFullWorkflow tests the complete end-to-end workflow
func TestFullWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tmpDir := t.TempDir()

	t.Run("Config", func(t *testing.T) {
		testConfigLoading(t, tmpDir)
	})

	t.Run("Tool_Surface", func(t *testing.T) {
		testToolSurface(t, tmpDir)
	})

	t.Run("HTTP_Server", func(t *testing.T) {
		testHTTPServer(t)
	})
}

func testConfigLoading(t *testing.T, tmpDir string) {
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `host: 192.0.2.10
port: 2222
username: root
password: secret
accept_risks: true
character_limit: 12000
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to create config file: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Config should validate: %v", err)
	}
	if cfg.Addr() != "192.0.2.10:2222" {
		t.Fatalf("Unexpected address: %s", cfg.Addr())
	}
	if cfg.CharacterLimit != 12000 {
		t.Fatalf("Unexpected character limit: %d", cfg.CharacterLimit)
	}
}

func testToolSurface(t *testing.T, tmpDir string) {
	store, err := audit.Open(filepath.Join(tmpDir, "audit.db"))
	if err != nil {
		t.Fatalf("Failed to open audit store: %v", err)
	}
	defer store.Close()

	cfg := config.Config{CharacterLimit: config.DefaultCharacterLimit, MaxFileSize: config.DefaultMaxFileSize}
	bridge := tools.NewBridge(cfg, fakeProxmox{}, store, zerolog.Nop())
	registry := bridge.Registry()
	ctx := context.Background()

	for _, name := range []string{"proxmox_list_containers", "proxmox_container_status", "proxmox_container_exec_command"} {
		h, ok := registry[name]
		if !ok {
			t.Fatalf("Missing tool: %s", name)
		}
		result, err := h(ctx, json.RawMessage(`{"vmid": 100, "command": "uptime"}`))
		if err != nil {
			t.Fatalf("Tool %s failed: %v", name, err)
		}
		t.Logf("Tool %s output: %s", name, result)
	}

	n, err := store.CountByTool(ctx, "proxmox_list_containers")
	if err != nil {
		t.Fatalf("Audit count failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Expected one audited list invocation, got %d", n)
	}
}

func testHTTPServer(t *testing.T) {
	cfg := config.Config{CharacterLimit: config.DefaultCharacterLimit, MaxFileSize: config.DefaultMaxFileSize}
	bridge := tools.NewBridge(cfg, fakeProxmox{}, nil, zerolog.Nop())
	srv := &server.Server{Version: "test", Bridge: bridge, Connected: func() bool { return true }}

	addr := "127.0.0.1:18811"
	go func() {
		_ = srv.ListenAndServe(addr)
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	// Wait for the listener to come up
	base := "http://" + addr
	var resp *http.Response
	var err error
	for i := 0; i < 20; i++ {
		resp, err = http.Get(base + "/v0/health")
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Health check never succeeded: %v", err)
	}
	defer resp.Body.Close()

	var health server.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if health.Service != "pvemcp" || !health.SSHConnected {
		t.Fatalf("Unexpected health response: %+v", health)
	}

	body, _ := json.Marshal(server.ToolRequest{Args: json.RawMessage(`{"vmid": 100}`)})
	toolResp, err := http.Post(base+"/v0/tools/proxmox_container_status", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Tool request failed: %v", err)
	}
	defer toolResp.Body.Close()
	if toolResp.StatusCode != 200 {
		t.Fatalf("Tool request status %d", toolResp.StatusCode)
	}
	var tr server.ToolResponse
	if err := json.NewDecoder(toolResp.Body).Decode(&tr); err != nil {
		t.Fatalf("Failed to decode tool response: %v", err)
	}
	var status map[string]string
	if err := json.Unmarshal([]byte(tr.Result), &status); err != nil {
		t.Fatalf("Tool result not JSON: %v", err)
	}
	if status["status"] != "running" {
		t.Fatalf("Expected running, got %s", fmt.Sprint(status))
	}
}
