package installed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"
	"github.com/mantonx/vvf/internal/metrics"
	"github.com/mantonx/vvf/internal/utils"
	plugins "github.com/mantonx/vvf/sdk"
	"github.com/shirou/gopsutil/v4/process"
)

// DefaultStartTimeout bounds the go-plugin handshake.
const DefaultStartTimeout = 30 * time.Second

const monitorInterval = 5 * time.Second

var errLauncherClosed = errors.New("launcher is closed")

// ProcessInfo describes one running extension process.
type ProcessInfo struct {
	ID         string    `json:"id"`
	Binary     string    `json:"binary"`
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	Exited     bool      `json:"exited"`
	CPUPercent float64   `json:"cpu_percent"`
	RSSBytes   uint64    `json:"rss_bytes"`
}

type extensionProcess struct {
	id      string
	binary  string
	hash    string
	client  *goplugin.Client
	started time.Time
}

// Launcher starts extension executables with go-plugin and keeps one
// process per extension id. Relaunching an id whose binary changed kills
// the old process. Starts of the same id are serialised; different ids
// start concurrently.
type Launcher struct {
	logger       hclog.Logger
	metrics      *metrics.Metrics
	startTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	processes map[string]*extensionProcess
	starting  map[string]*sync.Mutex
	closed    bool
}

// NewLauncher creates a launcher.
func NewLauncher(logger hclog.Logger, m *metrics.Metrics, startTimeout time.Duration) *Launcher {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if startTimeout <= 0 {
		startTimeout = DefaultStartTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Launcher{
		logger:       logger.Named("launcher"),
		metrics:      m,
		startTimeout: startTimeout,
		ctx:          ctx,
		cancel:       cancel,
		processes:    make(map[string]*extensionProcess),
		starting:     make(map[string]*sync.Mutex),
	}
}

// Launch returns a capability client for the extension id backed by binary.
// A live process for the same id and binary content is reused.
func (l *Launcher) Launch(ctx context.Context, id, binary string) (plugins.Extension, error) {
	st, err := os.Stat(binary)
	if err != nil {
		return nil, fmt.Errorf("extension binary: %w", err)
	}
	if st.IsDir() || st.Mode()&0111 == 0 {
		return nil, fmt.Errorf("extension binary %s is not executable", binary)
	}
	hash, err := utils.FileHash(binary)
	if err != nil {
		return nil, err
	}

	unlock := l.lockID(id)
	defer unlock()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, errLauncherClosed
	}
	p, ok := l.processes[id]
	l.mu.Unlock()

	if ok {
		if !p.client.Exited() && p.binary == binary && p.hash == hash {
			return l.dispense(p)
		}
		l.logger.Info("replacing extension process", "id", id, "binary", binary)
		l.mu.Lock()
		l.killLocked(p)
		l.mu.Unlock()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(binary)
	cmd.Dir = filepath.Dir(binary)
	cmd.Env = append(os.Environ(),
		"VVF_EXTENSION_ID="+id,
		"VVF_BASE_PATH="+filepath.Dir(binary),
	)

	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig:  plugins.Handshake,
		Plugins:          plugins.PluginMap,
		Cmd:              cmd,
		Logger:           l.logger.Named(id),
		AllowedProtocols: []goplugin.Protocol{goplugin.ProtocolNetRPC},
		StartTimeout:     l.startTimeout,
	})

	p = &extensionProcess{id: id, binary: binary, hash: hash, client: client, started: time.Now()}
	instance, err := l.dispense(p)
	if err != nil {
		client.Kill()
		return nil, err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		client.Kill()
		return nil, errLauncherClosed
	}
	l.processes[id] = p
	l.mu.Unlock()

	l.metrics.ProcessStarted()
	go l.monitor(p)
	l.logger.Info("extension process started", "id", id, "pid", pidOf(client))
	return instance, nil
}

// lockID serialises starts of one extension id.
func (l *Launcher) lockID(id string) func() {
	l.mu.Lock()
	m, ok := l.starting[id]
	if !ok {
		m = &sync.Mutex{}
		l.starting[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func (l *Launcher) dispense(p *extensionProcess) (plugins.Extension, error) {
	rpcClient, err := p.client.Client()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to extension: %w", err)
	}
	raw, err := rpcClient.Dispense(plugins.PluginName)
	if err != nil {
		return nil, fmt.Errorf("failed to dispense extension: %w", err)
	}
	instance, ok := raw.(plugins.Extension)
	if !ok {
		return nil, fmt.Errorf("extension process served %T", raw)
	}
	return instance, nil
}

// monitor drops the process entry once it exits.
func (l *Launcher) monitor(p *extensionProcess) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if !p.client.Exited() {
				continue
			}
			l.mu.Lock()
			if cur, ok := l.processes[p.id]; ok && cur == p {
				delete(l.processes, p.id)
				l.metrics.ProcessExited()
				l.logger.Warn("extension process exited", "id", p.id, "uptime", time.Since(p.started))
			}
			l.mu.Unlock()
			return
		}
	}
}

func (l *Launcher) killLocked(p *extensionProcess) {
	p.client.Kill()
	if cur, ok := l.processes[p.id]; ok && cur == p {
		delete(l.processes, p.id)
		l.metrics.ProcessExited()
	}
}

// Stop kills the process of one extension.
func (l *Launcher) Stop(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.processes[id]
	if ok {
		l.killLocked(p)
	}
	return ok
}

// Processes reports the tracked processes with their resource usage.
func (l *Launcher) Processes() []ProcessInfo {
	l.mu.Lock()
	procs := make([]*extensionProcess, 0, len(l.processes))
	for _, p := range l.processes {
		procs = append(procs, p)
	}
	l.mu.Unlock()

	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		info := ProcessInfo{
			ID:        p.id,
			Binary:    p.binary,
			PID:       pidOf(p.client),
			StartedAt: p.started,
			Exited:    p.client.Exited(),
		}
		if info.PID > 0 && !info.Exited {
			if proc, err := process.NewProcess(int32(info.PID)); err == nil {
				if cpu, err := proc.CPUPercent(); err == nil {
					info.CPUPercent = cpu
				}
				if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
					info.RSSBytes = mem.RSS
				}
			}
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close kills every process.
func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.cancel()
	for _, p := range l.processes {
		l.killLocked(p)
	}
	return nil
}

func pidOf(client *goplugin.Client) int {
	if rc := client.ReattachConfig(); rc != nil {
		return rc.Pid
	}
	return 0
}
