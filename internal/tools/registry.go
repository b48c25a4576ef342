package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler decodes raw arguments and runs one tool. The returned string is
// the tool result; the error is reserved for undecodable arguments.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

func handler[T any](fn func(context.Context, T) string) Handler {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var in T
		if len(args) > 0 {
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("decode arguments: %w", err)
			}
		}
		return fn(ctx, in), nil
	}
}

// Registry maps wire-level tool names to their handlers.
func (b *Bridge) Registry() map[string]Handler {
	return map[string]Handler{
		"proxmox_container_exec_command":       handler(b.ExecInContainer),
		"proxmox_list_containers":              handler(b.ListContainers),
		"proxmox_container_status":             handler(b.ContainerStatus),
		"proxmox_start_container":              handler(b.StartContainer),
		"proxmox_stop_container":               handler(b.StopContainer),
		"proxmox_host_exec_command":            handler(b.ExecOnHost),
		"proxmox_download_file_from_container": handler(b.DownloadFromContainer),
		"proxmox_upload_file_to_container":     handler(b.UploadToContainer),
		"proxmox_download_file_from_host":      handler(b.DownloadFromHost),
		"proxmox_upload_file_to_host":          handler(b.UploadToHost),
	}
}
