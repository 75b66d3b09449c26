package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FakeProvisioner is an in-memory Provisioner for tests. Sandboxes can be
// expired to exercise the reconnect-or-recreate path, and individual paths
// can be made to fail writes to exercise best-effort replay.
type FakeProvisioner struct {
	mu        sync.Mutex
	sandboxes map[string]*FakeSandbox

	// FailWrites lists paths whose WriteFile calls fail on every sandbox
	// created by this provisioner.
	FailWrites map[string]bool
	// CreateErr, when set, makes Create fail.
	CreateErr error

	created int
}

func NewFakeProvisioner() *FakeProvisioner {
	return &FakeProvisioner{
		sandboxes:  make(map[string]*FakeSandbox),
		FailWrites: make(map[string]bool),
	}
}

func (p *FakeProvisioner) Create(ctx context.Context) (Sandbox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CreateErr != nil {
		return nil, p.CreateErr
	}
	p.created++
	sb := &FakeSandbox{
		id:         uuid.NewString(),
		files:      make(map[string]string),
		failWrites: p.FailWrites,
	}
	sb.url = fmt.Sprintf("http://sandbox-%d.test", p.created)
	p.sandboxes[sb.id] = sb
	return sb, nil
}

func (p *FakeProvisioner) Connect(ctx context.Context, id string) (Sandbox, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sb, ok := p.sandboxes[id]
	if !ok || sb.expired {
		return nil, fmt.Errorf("sandbox %s unreachable", id)
	}
	return sb, nil
}

// Expire marks a sandbox unreachable, simulating idle-timeout expiry.
func (p *FakeProvisioner) Expire(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sb, ok := p.sandboxes[id]; ok {
		sb.expired = true
	}
}

// CreatedCount reports how many sandboxes were provisioned.
func (p *FakeProvisioner) CreatedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

type FakeSandbox struct {
	mu         sync.Mutex
	id         string
	url        string
	files      map[string]string
	commands   []string
	timeout    time.Duration
	expired    bool
	failWrites map[string]bool

	// CommandOutput maps a command to its canned output; unmatched commands
	// return an empty string.
	CommandOutput map[string]string
}

func (s *FakeSandbox) ID() string  { return s.id }
func (s *FakeSandbox) URL() string { return s.url }

func (s *FakeSandbox) SetTimeout(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
	return nil
}

// Timeout reports the last applied idle timeout.
func (s *FakeSandbox) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

func (s *FakeSandbox) WriteFile(ctx context.Context, path, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites[path] {
		return fmt.Errorf("write %s: permission denied", path)
	}
	s.files[path] = content
	return nil
}

func (s *FakeSandbox) ReadFile(ctx context.Context, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[path]
	if !ok {
		return "", fmt.Errorf("read %s: no such file", path)
	}
	return content, nil
}

func (s *FakeSandbox) RunCommand(ctx context.Context, command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, command)
	if out, ok := s.CommandOutput[command]; ok {
		return out, nil
	}
	return "", nil
}

// Files returns a copy of the sandbox file system.
func (s *FakeSandbox) Files() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.files))
	for k, v := range s.files {
		out[k] = v
	}
	return out
}

// Commands returns the commands executed so far.
func (s *FakeSandbox) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}
