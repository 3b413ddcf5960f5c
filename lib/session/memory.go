// Copyright 2026 The Terragon Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryProvider is an in-process Provider used by tests and local
// development. Sessions it creates execute nothing; commands resolve
// against a scriptable response table and all file writes are kept in
// memory.
type MemoryProvider struct {
	mu       sync.Mutex
	name     string
	sessions map[string]*MemorySession

	// CreateErr, when set, is returned by Create. Lets tests exercise
	// provisioning failure paths.
	CreateErr error

	// OnCreate, when set, is invoked with every freshly created
	// session before it is returned. Lets tests script sessions the
	// code under test creates internally.
	OnCreate func(*MemorySession)
}

// NewMemoryProvider creates a provider registered under name.
func NewMemoryProvider(name string) *MemoryProvider {
	return &MemoryProvider{
		name:     name,
		sessions: make(map[string]*MemorySession),
	}
}

// Name implements Provider.
func (provider *MemoryProvider) Name() string { return provider.name }

// Create implements Provider.
func (provider *MemoryProvider) Create(ctx context.Context, request CreateRequest) (Session, error) {
	provider.mu.Lock()
	defer provider.mu.Unlock()

	if provider.CreateErr != nil {
		return nil, provider.CreateErr
	}

	repoDir := "/home/user/workspace"
	if request.Repository != "" {
		repoDir = "/home/user/" + path.Base(request.Repository)
	}

	memorySession := &MemorySession{
		id:       uuid.NewString(),
		provider: provider.name,
		repoDir:  repoDir,
		homeDir:  "/home/user",
		files:    make(map[string]string),
		results:  make(map[string]string),
		errors:   make(map[string]error),
	}
	provider.sessions[memorySession.id] = memorySession
	if provider.OnCreate != nil {
		provider.OnCreate(memorySession)
	}
	return memorySession, nil
}

// Get implements Provider. Shut-down sandboxes report ErrNotFound,
// matching real providers whose instances disappear after shutdown.
func (provider *MemoryProvider) Get(ctx context.Context, sandboxID string) (Session, error) {
	provider.mu.Lock()
	defer provider.mu.Unlock()

	memorySession, ok := provider.sessions[sandboxID]
	if !ok {
		return nil, fmt.Errorf("sandbox %s: %w", sandboxID, ErrNotFound)
	}
	memorySession.mu.Lock()
	defer memorySession.mu.Unlock()
	if memorySession.shutdownCalls > 0 {
		return nil, fmt.Errorf("sandbox %s: %w", sandboxID, ErrNotFound)
	}
	return memorySession, nil
}

// BackgroundCommand records one detached command start.
type BackgroundCommand struct {
	Command string
	Env     map[string]string
}

// MemorySession is the Session implementation backing MemoryProvider.
// All state is guarded by one mutex; accessor methods return copies so
// test assertions never race the operation under test.
type MemorySession struct {
	mu       sync.Mutex
	id       string
	provider string
	repoDir  string
	homeDir  string

	files      map[string]string
	results    map[string]string
	errors     map[string]error
	commands   []string
	background []BackgroundCommand

	shutdownCalls  int
	hibernateCalls int
}

// SandboxID implements Session.
func (memorySession *MemorySession) SandboxID() string { return memorySession.id }

// Provider implements Session.
func (memorySession *MemorySession) Provider() string { return memorySession.provider }

// RepoDir implements Session.
func (memorySession *MemorySession) RepoDir() string { return memorySession.repoDir }

// HomeDir implements Session.
func (memorySession *MemorySession) HomeDir() string { return memorySession.homeDir }

// SetCommandResult scripts the stdout returned for an exact command
// string. Unscripted commands return empty output.
func (memorySession *MemorySession) SetCommandResult(command, stdout string) {
	memorySession.mu.Lock()
	defer memorySession.mu.Unlock()
	memorySession.results[command] = stdout
}

// SetCommandError scripts a failure for an exact command string.
func (memorySession *MemorySession) SetCommandError(command string, err error) {
	memorySession.mu.Lock()
	defer memorySession.mu.Unlock()
	memorySession.errors[command] = err
}

// RunCommand implements Session.
func (memorySession *MemorySession) RunCommand(ctx context.Context, command string, options RunOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	memorySession.mu.Lock()
	defer memorySession.mu.Unlock()

	memorySession.commands = append(memorySession.commands, command)
	if err, scripted := memorySession.errors[command]; scripted {
		return "", err
	}
	if stdout, scripted := memorySession.results[command]; scripted {
		return stdout, nil
	}
	// Unscripted echo commands behave like a real shell so readiness
	// probes work against a fresh fake.
	if after, ok := strings.CutPrefix(command, "echo "); ok {
		return after + "\n", nil
	}
	return "", nil
}

// RunBackgroundCommand implements Session.
func (memorySession *MemorySession) RunBackgroundCommand(ctx context.Context, command string, options BackgroundOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	memorySession.mu.Lock()
	defer memorySession.mu.Unlock()

	env := make(map[string]string, len(options.Env))
	for key, value := range options.Env {
		env[key] = value
	}
	memorySession.background = append(memorySession.background, BackgroundCommand{
		Command: command,
		Env:     env,
	})
	return nil
}

// ReadTextFile implements Session.
func (memorySession *MemorySession) ReadTextFile(ctx context.Context, filePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	memorySession.mu.Lock()
	defer memorySession.mu.Unlock()

	content, ok := memorySession.files[filePath]
	if !ok {
		return "", fmt.Errorf("reading %s: no such file", filePath)
	}
	return content, nil
}

// WriteTextFile implements Session.
func (memorySession *MemorySession) WriteTextFile(ctx context.Context, filePath string, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	memorySession.mu.Lock()
	defer memorySession.mu.Unlock()

	memorySession.files[filePath] = content
	return nil
}

// Shutdown implements Session. Idempotent.
func (memorySession *MemorySession) Shutdown(ctx context.Context) error {
	memorySession.mu.Lock()
	defer memorySession.mu.Unlock()
	memorySession.shutdownCalls++
	return nil
}

// Hibernate implements Session.
func (memorySession *MemorySession) Hibernate(ctx context.Context) error {
	memorySession.mu.Lock()
	defer memorySession.mu.Unlock()
	memorySession.hibernateCalls++
	return nil
}

// ShutdownCalls returns how many times Shutdown was invoked.
func (memorySession *MemorySession) ShutdownCalls() int {
	memorySession.mu.Lock()
	defer memorySession.mu.Unlock()
	return memorySession.shutdownCalls
}

// HibernateCalls returns how many times Hibernate was invoked.
func (memorySession *MemorySession) HibernateCalls() int {
	memorySession.mu.Lock()
	defer memorySession.mu.Unlock()
	return memorySession.hibernateCalls
}

// Commands returns the synchronous commands run so far, in order.
func (memorySession *MemorySession) Commands() []string {
	memorySession.mu.Lock()
	defer memorySession.mu.Unlock()
	commands := make([]string, len(memorySession.commands))
	copy(commands, memorySession.commands)
	return commands
}

// BackgroundCommands returns the detached commands started so far.
func (memorySession *MemorySession) BackgroundCommands() []BackgroundCommand {
	memorySession.mu.Lock()
	defer memorySession.mu.Unlock()
	background := make([]BackgroundCommand, len(memorySession.background))
	copy(background, memorySession.background)
	return background
}

// FileContent returns the content written to filePath and whether the
// file exists.
func (memorySession *MemorySession) FileContent(filePath string) (string, bool) {
	memorySession.mu.Lock()
	defer memorySession.mu.Unlock()
	content, ok := memorySession.files[filePath]
	return content, ok
}

// CommandMatching returns the first recorded command containing
// substring, or "" if none matched.
func (memorySession *MemorySession) CommandMatching(substring string) string {
	memorySession.mu.Lock()
	defer memorySession.mu.Unlock()
	for _, command := range memorySession.commands {
		if strings.Contains(command, substring) {
			return command
		}
	}
	return ""
}
