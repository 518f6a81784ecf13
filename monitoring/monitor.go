// Package monitoring observes an attribution engine and the loop that drives
// it, through logs, Prometheus metrics and an HTTP server.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/scriptentry/attribution"
	"github.com/sarchlab/scriptentry/host"
	"github.com/sarchlab/scriptentry/monitoring/web"
	"github.com/sarchlab/scriptentry/timeline"
)

// Monitor turns a simulated host into a server that exposes the reported
// long script entries and lets external tools control the loop.
type Monitor struct {
	loop     *host.Loop
	buffer   *timeline.Buffer
	profile  *timeline.ProfileWriter
	gatherer prometheus.Gatherer
	logger   log.Logger

	addr string

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	serverLock sync.Mutex
	server     *http.Server
	done       chan struct{}
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		logger: log.NewNopLogger(),
	}
}

// WithPortNumber sets the port number of the monitor. Ports below 1000 are
// refused and a random port is used instead.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.addr = ":" + strconv.Itoa(portNumber)

	return m
}

// WithAddr sets the address the monitor listens on, such as
// "localhost:8080".
func (m *Monitor) WithAddr(addr string) *Monitor {
	m.addr = addr
	return m
}

// WithLogger sets the logger used for server errors.
func (m *Monitor) WithLogger(logger log.Logger) *Monitor {
	m.logger = logger
	return m
}

// RegisterLoop registers the loop that runs the scripts.
func (m *Monitor) RegisterLoop(l *host.Loop) {
	m.loop = l
}

// RegisterBuffer registers the buffer that holds the reported entries.
func (m *Monitor) RegisterBuffer(b *timeline.Buffer) {
	m.buffer = b
}

// RegisterProfile registers the profile served at /api/profile.
func (m *Monitor) RegisterProfile(p *timeline.ProfileWriter) {
	m.profile = p
}

// RegisterGatherer registers the metrics served at /metrics.
func (m *Monitor) RegisterGatherer(g prometheus.Gatherer) {
	m.gatherer = g
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := newProgressBar(name, total)

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar from the list of bars.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the routes of the monitor.
func (m *Monitor) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/pause", m.pauseLoop).Methods(http.MethodPost)
	r.HandleFunc("/api/continue", m.continueLoop).Methods(http.MethodPost)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/host", m.hostDetails)
	r.HandleFunc("/api/entries", m.listEntries)
	r.HandleFunc("/api/tasks", m.listTasks)
	r.HandleFunc("/api/tasks/{id:[0-9]+}", m.taskEntries)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.longScriptProfile)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	if m.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	}

	r.PathPrefix("/").Handler(http.FileServer(web.Assets(m.logger)))

	return r
}

// StartServer starts the monitor as a web server and returns the URL it is
// reachable at.
func (m *Monitor) StartServer() (string, error) {
	m.serverLock.Lock()
	defer m.serverLock.Unlock()

	if m.server != nil {
		return "", errors.New("monitor already started")
	}

	addr := m.addr
	if addr == "" {
		addr = ":0"
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", errors.Wrapf(err, "listening on %s", addr)
	}

	url := fmt.Sprintf("http://localhost:%d", listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring long scripts with %s\n", url)

	m.server = &http.Server{Handler: m.Router()}
	m.done = make(chan struct{})

	go func(server *http.Server, done chan struct{}) {
		defer close(done)

		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			level.Error(m.logger).Log("msg", "monitor server stopped", "err", err)
		}
	}(m.server, m.done)

	return url, nil
}

// Shutdown stops the server started by StartServer.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.serverLock.Lock()
	server, done := m.server, m.done
	m.server, m.done = nil, nil
	m.serverLock.Unlock()

	if server == nil {
		return nil
	}

	err := server.Shutdown(ctx)
	<-done

	return errors.Wrap(err, "shutting down monitor")
}

// OpenBrowser opens the monitor page in the default browser.
func OpenBrowser(url string) error {
	return errors.Wrap(browser.OpenURL(url), "opening browser")
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		level.Warn(m.logger).Log("msg", "failed to write response", "err", err)
	}
}

func (m *Monitor) loopOr404(w http.ResponseWriter) *host.Loop {
	if m.loop == nil {
		http.Error(w, "no loop registered", http.StatusNotFound)
	}

	return m.loop
}

func (m *Monitor) bufferOr404(w http.ResponseWriter) *timeline.Buffer {
	if m.buffer == nil {
		http.Error(w, "no timeline buffer registered", http.StatusNotFound)
	}

	return m.buffer
}

func (m *Monitor) pauseLoop(w http.ResponseWriter, _ *http.Request) {
	if l := m.loopOr404(w); l != nil {
		l.Pause()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (m *Monitor) continueLoop(w http.ResponseWriter, _ *http.Request) {
	if l := m.loopOr404(w); l != nil {
		l.Continue()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	if l := m.loopOr404(w); l != nil {
		m.writeJSON(w, map[string]float64{"now": l.Now().Milliseconds()})
	}
}

func (m *Monitor) hostDetails(w http.ResponseWriter, _ *http.Request) {
	l := m.loopOr404(w)
	if l == nil {
		return
	}

	stats := l.Stats()

	w.Header().Set("Content-Type", "application/json")

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&stats)
	serializer.SetMaxDepth(1)

	if err := serializer.Serialize(w); err != nil {
		level.Warn(m.logger).Log("msg", "failed to serialize host", "err", err)
	}
}

type entriesRsp struct {
	Entries  []timeline.Entry `json:"entries"`
	Dropped  int              `json:"dropped"`
	Capacity int              `json:"capacity"`
}

func (m *Monitor) listEntries(w http.ResponseWriter, _ *http.Request) {
	b := m.bufferOr404(w)
	if b == nil {
		return
	}

	m.writeJSON(w, entriesRsp{
		Entries:  b.Entries(),
		Dropped:  b.Dropped(),
		Capacity: b.Capacity(),
	})
}

func (m *Monitor) listTasks(w http.ResponseWriter, _ *http.Request) {
	if b := m.bufferOr404(w); b != nil {
		m.writeJSON(w, b.Tasks())
	}
}

func (m *Monitor) taskEntries(w http.ResponseWriter, r *http.Request) {
	b := m.bufferOr404(w)
	if b == nil {
		return
	}

	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries := b.TaskEntries(attribution.TaskID(id))
	if len(entries) == 0 {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}

	m.writeJSON(w, entries)
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]ProgressBarStatus, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.Status())
	}
	m.progressBarsLock.Unlock()

	m.writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	memorySize, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) longScriptProfile(w http.ResponseWriter, _ *http.Request) {
	if m.profile == nil {
		http.Error(w, "no profile registered", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="long-scripts.pb.gz"`)

	if err := m.profile.Write(w); err != nil {
		level.Warn(m.logger).Log("msg", "failed to write profile", "err", err)
	}
}
