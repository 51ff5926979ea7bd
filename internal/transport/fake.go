package transport

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FakeHandler answers a Run call on a Fake.
type FakeHandler func(ctx context.Context, commandLine string, w io.Writer) (*Result, error)

// Fake is an in-memory Transport. Remote files live in a map keyed by
// remote path.
type Fake struct {
	mu      sync.Mutex
	handler FakeHandler
	calls   []string
	files   map[string][]byte
}

func NewFake(handler FakeHandler) *Fake {
	return &Fake{handler: handler, files: make(map[string][]byte)}
}

// Respond returns a handler that writes stdout and exits with exitCode.
func Respond(stdout string, exitCode int) FakeHandler {
	return func(ctx context.Context, commandLine string, w io.Writer) (*Result, error) {
		if _, err := io.WriteString(w, stdout); err != nil {
			return nil, err
		}
		result := &Result{ExitCode: exitCode}
		if exitCode != 0 {
			return result, &CommandError{ExitCode: exitCode}
		}
		return result, nil
	}
}

func (f *Fake) SetHandler(handler FakeHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *Fake) Run(ctx context.Context, commandLine string, w io.Writer) (*Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, commandLine)
	handler := f.handler
	f.mu.Unlock()

	if w == nil {
		w = io.Discard
	}
	if handler == nil {
		return &Result{}, nil
	}
	return handler(ctx, commandLine, w)
}

// Calls returns the command lines passed to Run, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *Fake) SetRemoteFile(remotePath string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[remotePath] = append([]byte(nil), data...)
}

func (f *Fake) RemoteFile(remotePath string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[remotePath]
	return data, ok
}

func (f *Fake) CopyToRemote(ctx context.Context, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.SetRemoteFile(remotePath, data)
	return nil
}

func (f *Fake) CopyFromRemote(ctx context.Context, remotePath, localPath string) error {
	data, ok := f.RemoteFile(remotePath)
	if !ok {
		return &CommandError{ExitCode: 1, Stderr: []byte(remotePath + ": No such file or directory")}
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0644)
}
