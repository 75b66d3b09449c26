package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	defaultImage   = "appforge-app:latest"
	defaultAppPort = "3000/tcp"
	defaultWorkDir = "/home/user/app"

	stopTimeoutSecs = 10
	reapInterval    = time.Minute

	// Resource limits per sandbox.
	memoryLimitBytes = 1024 * 1024 * 1024 // 1GB
	cpuQuota         = 100000             // 1 CPU
	pidsLimit        = 512
)

// DockerConfig holds the tunables for Docker-backed sandboxes.
type DockerConfig struct {
	Image    string
	AppPort  string // container port serving the generated app, e.g. "3000/tcp"
	WorkDir  string
	HostAddr string // address the published port is reachable on, e.g. "localhost"
}

func (c DockerConfig) withDefaults() DockerConfig {
	if c.Image == "" {
		c.Image = defaultImage
	}
	if c.AppPort == "" {
		c.AppPort = defaultAppPort
	}
	if c.WorkDir == "" {
		c.WorkDir = defaultWorkDir
	}
	if c.HostAddr == "" {
		c.HostAddr = "localhost"
	}
	return c
}

// DockerProvisioner implements Provisioner using the Docker Engine API. Idle
// timeouts are enforced by a reaper goroutine that stops containers whose
// deadline has passed.
type DockerProvisioner struct {
	cli *client.Client
	cfg DockerConfig

	mu        sync.Mutex
	deadlines map[string]time.Time
	stopReap  chan struct{}
	reapOnce  sync.Once
}

func NewDockerProvisioner(cfg DockerConfig) (*DockerProvisioner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	p := &DockerProvisioner{
		cli:       cli,
		cfg:       cfg.withDefaults(),
		deadlines: make(map[string]time.Time),
		stopReap:  make(chan struct{}),
	}
	go p.reapLoop()
	return p, nil
}

// Close stops the idle reaper. Running containers are left to their deadlines.
func (p *DockerProvisioner) Close() {
	p.reapOnce.Do(func() { close(p.stopReap) })
}

func (p *DockerProvisioner) Create(ctx context.Context) (Sandbox, error) {
	name := fmt.Sprintf("appforge-sandbox-%s", uuid.NewString()[:8])
	port := nat.Port(p.cfg.AppPort)

	resp, err := p.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        p.cfg.Image,
			WorkingDir:   p.cfg.WorkDir,
			ExposedPorts: nat.PortSet{port: struct{}{}},
			Labels:       map[string]string{"appforge.sandbox": "true"},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: ""}},
			},
			Resources: container.Resources{
				Memory:    memoryLimitBytes,
				CPUQuota:  cpuQuota,
				PidsLimit: ptrInt64(pidsLimit),
			},
		},
		nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("create sandbox container: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start sandbox container %s: %w", resp.ID, err)
	}

	sb, err := p.handle(ctx, resp.ID)
	if err != nil {
		return nil, err
	}
	log.Info().Str("sandbox_id", sb.ID()).Str("url", sb.URL()).Msg("sandbox provisioned")
	return sb, nil
}

func (p *DockerProvisioner) Connect(ctx context.Context, id string) (Sandbox, error) {
	inspect, err := p.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("inspect sandbox %s: %w", id, err)
	}
	if !inspect.State.Running {
		return nil, fmt.Errorf("sandbox %s is not running", id)
	}
	return p.handle(ctx, id)
}

// handle builds a Sandbox from a running container, resolving the published
// host port for the preview URL.
func (p *DockerProvisioner) handle(ctx context.Context, id string) (*dockerSandbox, error) {
	inspect, err := p.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("inspect sandbox %s: %w", id, err)
	}
	url := ""
	if bindings, ok := inspect.NetworkSettings.Ports[nat.Port(p.cfg.AppPort)]; ok && len(bindings) > 0 {
		url = fmt.Sprintf("http://%s:%s", p.cfg.HostAddr, bindings[0].HostPort)
	}
	return &dockerSandbox{p: p, id: id, url: url}, nil
}

func (p *DockerProvisioner) setDeadline(id string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deadlines[id] = time.Now().Add(d)
}

func (p *DockerProvisioner) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopReap:
			return
		case <-ticker.C:
			p.reapExpired()
		}
	}
}

func (p *DockerProvisioner) reapExpired() {
	now := time.Now()
	p.mu.Lock()
	var expired []string
	for id, deadline := range p.deadlines {
		if now.After(deadline) {
			expired = append(expired, id)
			delete(p.deadlines, id)
		}
	}
	p.mu.Unlock()

	for _, id := range expired {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		timeout := stopTimeoutSecs
		if err := p.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
			log.Warn().Err(err).Str("sandbox_id", id).Msg("failed to stop expired sandbox")
		} else {
			log.Info().Str("sandbox_id", id).Msg("stopped expired sandbox")
		}
		if err := p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
			log.Warn().Err(err).Str("sandbox_id", id).Msg("failed to remove expired sandbox")
		}
		cancel()
	}
}

type dockerSandbox struct {
	p   *DockerProvisioner
	id  string
	url string
}

func (s *dockerSandbox) ID() string  { return s.id }
func (s *dockerSandbox) URL() string { return s.url }

func (s *dockerSandbox) SetTimeout(ctx context.Context, d time.Duration) error {
	s.p.setDeadline(s.id, d)
	return nil
}

func (s *dockerSandbox) WriteFile(ctx context.Context, filePath, content string) error {
	target := s.absPath(filePath)

	if dir := path.Dir(target); dir != "/" && dir != "." {
		if _, err := s.RunCommand(ctx, fmt.Sprintf("mkdir -p %q", dir)); err != nil {
			return fmt.Errorf("create parent dir for %s: %w", filePath, err)
		}
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: strings.TrimPrefix(target, "/"),
		Mode: 0644,
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header for %s: %w", filePath, err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		return fmt.Errorf("write tar body for %s: %w", filePath, err)
	}
	if err := tw.Close(); err != nil {
		return err
	}

	if err := s.p.cli.CopyToContainer(ctx, s.id, "/", &buf, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copy %s into sandbox %s: %w", filePath, s.id, err)
	}
	return nil
}

func (s *dockerSandbox) ReadFile(ctx context.Context, filePath string) (string, error) {
	reader, _, err := s.p.cli.CopyFromContainer(ctx, s.id, s.absPath(filePath))
	if err != nil {
		return "", fmt.Errorf("copy %s from sandbox %s: %w", filePath, s.id, err)
	}
	defer reader.Close()

	tr := tar.NewReader(reader)
	if _, err := tr.Next(); err != nil {
		return "", fmt.Errorf("read tar stream for %s: %w", filePath, err)
	}
	data, err := io.ReadAll(tr)
	if err != nil {
		return "", fmt.Errorf("read %s from sandbox %s: %w", filePath, s.id, err)
	}
	return string(data), nil
}

func (s *dockerSandbox) RunCommand(ctx context.Context, command string) (string, error) {
	execResp, err := s.p.cli.ContainerExecCreate(ctx, s.id, container.ExecOptions{
		Cmd:          []string{"sh", "-c", command},
		WorkingDir:   s.p.cfg.WorkDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("create exec in sandbox %s: %w", s.id, err)
	}

	attachResp, err := s.p.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return "", fmt.Errorf("attach exec in sandbox %s: %w", s.id, err)
	}
	defer attachResp.Close()

	output, err := readExecOutput(attachResp.Reader)
	if err != nil {
		return "", fmt.Errorf("read exec output: %w", err)
	}

	inspect, err := s.p.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return "", fmt.Errorf("inspect exec: %w", err)
	}
	if inspect.ExitCode != 0 {
		return output, fmt.Errorf("command exited with code %d", inspect.ExitCode)
	}
	return output, nil
}

// readExecOutput demultiplexes a non-TTY exec attach stream. Docker frames
// stdout and stderr on one connection; reading it raw would interleave the
// 8-byte frame headers into the command output.
func readExecOutput(r io.Reader) (string, error) {
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, r); err != nil {
		return "", err
	}
	stdout.Write(stderr.Bytes())
	return stdout.String(), nil
}

func (s *dockerSandbox) absPath(filePath string) string {
	if path.IsAbs(filePath) {
		return path.Clean(filePath)
	}
	return path.Join(s.p.cfg.WorkDir, filePath)
}

func ptrInt64(v int64) *int64 { return &v }
