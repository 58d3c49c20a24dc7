//go:build e2e

package e2e

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperengineering/tasksync/pkg/client"
)

const e2eSecret = "e2e-secret-0123456789abcdefghijklmnop"

// tasksyncServer manages a running tasksync server process.
type tasksyncServer struct {
	cmd     *exec.Cmd
	dataDir string
	port    int
	address string
	logFile string
}

// serverEnv returns the process environment for a server or CLI call on dataDir.
// tasksync is configured entirely via environment variables.
func serverEnv(dataDir string, port int) []string {
	return append(os.Environ(),
		fmt.Sprintf("TASKSYNC_PORT=%d", port),
		"TASKSYNC_DB_PATH="+filepath.Join(dataDir, "tasksync.db"),
		"TASKSYNC_JWT_SECRET="+e2eSecret,
		"TASKSYNC_CONFIG_PATH="+filepath.Join(dataDir, "nonexistent.yaml"),
		"TASKSYNC_LOG_LEVEL=debug",
	)
}

// startTasksync launches the binary on a fresh data directory and waits
// for it to become healthy.
func startTasksync(t *testing.T) *tasksyncServer {
	t.Helper()
	return startOnData(t, t.TempDir())
}

func startOnData(t *testing.T, dataDir string) *tasksyncServer {
	t.Helper()
	requireTasksync(t)

	port := freePort(t)
	logFile := filepath.Join(dataDir, fmt.Sprintf("tasksync-%d.log", port))

	cmd := exec.Command(tasksyncBin)
	cmd.Env = serverEnv(dataDir, port)

	lf, err := os.Create(logFile)
	if err != nil {
		t.Fatalf("create log file: %v", err)
	}
	cmd.Stdout = lf
	cmd.Stderr = lf

	if err := cmd.Start(); err != nil {
		lf.Close()
		t.Fatalf("start tasksync: %v", err)
	}

	s := &tasksyncServer{
		cmd:     cmd,
		dataDir: dataDir,
		port:    port,
		address: fmt.Sprintf("127.0.0.1:%d", port),
		logFile: logFile,
	}

	t.Cleanup(func() {
		s.stop()
		lf.Close()
	})

	if err := s.waitHealthy(10 * time.Second); err != nil {
		logs, _ := os.ReadFile(logFile)
		t.Fatalf("tasksync not healthy: %v\n%s", err, logs)
	}
	return s
}

func (s *tasksyncServer) stop() {
	if s.cmd != nil && s.cmd.Process != nil && s.cmd.ProcessState == nil {
		_ = s.cmd.Process.Signal(os.Interrupt)
		_ = s.cmd.Wait()
	}
}

// restartOnSameData stops the server and starts a new one over the same
// database file.
func (s *tasksyncServer) restartOnSameData(t *testing.T) *tasksyncServer {
	t.Helper()
	s.stop()
	return startOnData(t, s.dataDir)
}

func (s *tasksyncServer) baseURL() string {
	return "http://" + s.address
}

func (s *tasksyncServer) waitHealthy(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := s.baseURL() + "/api/v1/health"

	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("tasksync not healthy after %s", timeout)
}

// cli runs a tasksync subcommand against the server's data directory.
func (s *tasksyncServer) cli(t *testing.T, args ...string) string {
	t.Helper()
	cmd := exec.Command(tasksyncBin, args...)
	cmd.Env = serverEnv(s.dataDir, s.port)
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		t.Fatalf("tasksync %s: %v\n%s", strings.Join(args, " "), err, errOut.String())
	}
	return out.String()
}

// clientFor issues a token through the CLI and returns an API client for owner.
func (s *tasksyncServer) clientFor(t *testing.T, owner string) *client.Client {
	t.Helper()
	tok := strings.TrimSpace(s.cli(t, "token", "--owner", owner, "--ttl", "1h"))
	return client.New(s.baseURL(), tok)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
