package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/3cpo-dev/pvemcp/internal/audit"
	"github.com/3cpo-dev/pvemcp/internal/config"
	"github.com/3cpo-dev/pvemcp/internal/server"
	"github.com/3cpo-dev/pvemcp/internal/ssh"
	"github.com/3cpo-dev/pvemcp/internal/tools"
)

// Validate configuration and report the resolved target
func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration without connecting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			auth := "password"
			if cfg.KeyPath != "" {
				auth = "key: " + cfg.KeyPath
			}
			fmt.Printf("target: %s@%s (%s)\n", cfg.Username, cfg.Addr(), auth)
			if cfg.EnableHostExec {
				fmt.Println("host execution: enabled")
			}
			if cfg.AuditDB != "" {
				fmt.Printf("audit log: %s\n", cfg.AuditDB)
			}
			return nil
		},
	}
}

// Serve the tool surface over stdio or HTTP
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to the Proxmox host and serve the tool surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			creds, err := buildCredentials(cfg)
			if err != nil {
				return err
			}
			sess := ssh.NewSession(creds, log.Logger)
			if err := sess.Connect(); err != nil {
				return fmt.Errorf("connect to %s: %w", cfg.Addr(), err)
			}
			defer sess.Disconnect()
			log.Info().Str("addr", cfg.Addr()).Str("user", cfg.Username).Msg("session established")

			var store *audit.Store
			if cfg.AuditDB != "" {
				store, err = audit.Open(cfg.AuditDB)
				if err != nil {
					return fmt.Errorf("open audit log: %w", err)
				}
				defer store.Close()
			}

			bridge := tools.NewBridge(cfg, sess, store, log.Logger)

			httpAddr, _ := cmd.Flags().GetString("http")
			if httpAddr != "" {
				return serveHTTP(httpAddr, bridge, sess)
			}
			return serveStdio(cmd.Context(), bridge)
		},
	}
	cmd.Flags().String("http", "", "serve over HTTP on this address instead of stdio (example: 127.0.0.1:8811)")
	return cmd
}

// Build SSH credentials from the configuration
func buildCredentials(cfg config.Config) (ssh.Credentials, error) {
	creds := ssh.Credentials{
		Addr:        cfg.Addr(),
		User:        cfg.Username,
		Password:    cfg.Password,
		DialTimeout: 15 * time.Second,
	}
	if cfg.KeyPath != "" {
		signer, err := ssh.LoadPrivateKeySigner(cfg.KeyPath)
		if err != nil {
			return creds, fmt.Errorf("load key %s: %w", cfg.KeyPath, err)
		}
		creds.Signer = signer
	}
	if cfg.KnownHosts != "" {
		if err := ssh.EnsureKnownHostsFile(cfg.KnownHosts); err != nil {
			return creds, err
		}
		cb, err := ssh.LoadKnownHostsCallback(cfg.KnownHosts)
		if err != nil {
			return creds, err
		}
		creds.KnownHosts = cb
	}
	return creds, nil
}

type stdioRequest struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

type stdioResponse struct {
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// One JSON request per line on stdin, one JSON response per line on stdout.
// Logs stay on stderr so the protocol stream remains clean.
func serveStdio(ctx context.Context, bridge *tools.Bridge) error {
	registry := bridge.Registry()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	log.Info().Strs("tools", names).Msg("serving on stdio")

	enc := json.NewEncoder(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req stdioRequest
		if err := json.Unmarshal(line, &req); err != nil {
			_ = enc.Encode(stdioResponse{Error: "malformed request: " + err.Error()})
			continue
		}
		h, ok := registry[req.Tool]
		if !ok {
			_ = enc.Encode(stdioResponse{Error: "unknown tool: " + req.Tool})
			continue
		}
		result, err := h(ctx, req.Args)
		if err != nil {
			_ = enc.Encode(stdioResponse{Error: err.Error()})
			continue
		}
		_ = enc.Encode(stdioResponse{Result: result})
	}
	return scanner.Err()
}

func serveHTTP(addr string, bridge *tools.Bridge, sess *ssh.Session) error {
	srv := &server.Server{Version: version, Bridge: bridge, Connected: sess.Connected}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe(addr)
	}()
	log.Info().Str("addr", addr).Msg("serving over HTTP")

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case <-sigc:
	}
	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
