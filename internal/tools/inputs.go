package tools

// Argument shapes accepted by the dispatch layer. Field names mirror the
// wire protocol exposed to callers.

type ExecCommandInput struct {
	VMID    int    `json:"vmid"`
	Command string `json:"command"`
	Timeout int    `json:"timeout"`
	Format  string `json:"response_format"`
}

type ListContainersInput struct {
	Format string `json:"response_format"`
}

type ContainerStatusInput struct {
	VMID   int    `json:"vmid"`
	Format string `json:"response_format"`
}

type ContainerActionInput struct {
	VMID int `json:"vmid"`
}

type HostExecInput struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout"`
	Format  string `json:"response_format"`
}

type DownloadFromContainerInput struct {
	VMID          int    `json:"vmid"`
	ContainerPath string `json:"container_path"`
	LocalPath     string `json:"local_path"`
	Overwrite     bool   `json:"overwrite"`
}

type UploadToContainerInput struct {
	VMID          int    `json:"vmid"`
	LocalPath     string `json:"local_path"`
	ContainerPath string `json:"container_path"`
	Permissions   string `json:"permissions"`
	Overwrite     bool   `json:"overwrite"`
}

type DownloadFromHostInput struct {
	HostPath  string `json:"host_path"`
	LocalPath string `json:"local_path"`
	Overwrite bool   `json:"overwrite"`
}

type UploadToHostInput struct {
	LocalPath   string `json:"local_path"`
	HostPath    string `json:"host_path"`
	Permissions string `json:"permissions"`
	Overwrite   bool   `json:"overwrite"`
}
