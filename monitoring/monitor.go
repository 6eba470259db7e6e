// Package monitoring serves the state of running execution contexts over
// HTTP.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
	"github.com/sarchlab/softmmu/mem/vm/vcpu"
)

// Monitor turns a set of execution contexts into a server that can be
// inspected from outside.
type Monitor struct {
	portNumber      int
	profileDuration time.Duration

	contextsLock sync.Mutex
	contexts     []*vcpu.Context

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{profileDuration: time.Second}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		slog.Warn("port number not allowed for the monitoring server, "+
			"using a random port instead", "port", portNumber)

		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithProfileDuration sets how long /api/profile samples the CPU.
func (m *Monitor) WithProfileDuration(d time.Duration) *Monitor {
	m.profileDuration = d
	return m
}

// RegisterContext registers a context to be monitored.
func (m *Monitor) RegisterContext(c *vcpu.Context) {
	m.contextsLock.Lock()
	defer m.contextsLock.Unlock()

	m.contexts = append(m.contexts, c)
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := newProgressBar(name, total)

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar.
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

// Router returns the HTTP handler of the monitor.
func (m *Monitor) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/contexts", m.listContexts)
	r.HandleFunc("/api/context/{id}", m.listContextDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/tlb/{id}/{mode}", m.listTLBEntries)
	r.HandleFunc("/api/flush/{id}", m.flushContext).Methods(http.MethodPost)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	return r
}

// StartServer starts the monitor as a web server and returns its URL.
func (m *Monitor) StartServer() string {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	slog.Info("monitoring execution contexts", "url", url)

	go func() {
		err := http.Serve(listener, m.Router())
		dieOnErr(err)
	}()

	return url
}

type contextRsp struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (m *Monitor) listContexts(w http.ResponseWriter, _ *http.Request) {
	m.contextsLock.Lock()
	rsp := make([]contextRsp, 0, len(m.contexts))
	for _, c := range m.contexts {
		rsp = append(rsp, contextRsp{ID: c.ID(), Name: c.Name()})
	}
	m.contextsLock.Unlock()

	writeJSON(w, rsp)
}

func (m *Monitor) listContextDetails(w http.ResponseWriter, r *http.Request) {
	c := m.findContextOr404(w, mux.Vars(r)["id"])
	if c == nil {
		return
	}

	stats := c.Stats()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&stats)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	ContextID string `json:"context_id,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	c := m.findContextOr404(w, req.ContextID)
	if c == nil {
		return
	}

	stats := c.Stats()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&stats)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) listTLBEntries(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	c := m.findContextOr404(w, vars["id"])
	if c == nil {
		return
	}

	mode, err := strconv.Atoi(vars["mode"])
	if err != nil || mode < 0 || mode >= c.Config().NumModes {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: invalid mode %q", vars["mode"])

		return
	}

	entries := []tlb.EntrySnapshot{}
	if t := c.TLB(); t != nil {
		c.Parked(func() {
			entries = append(entries, t.Snapshot(vm.Mode(mode))...)
		})
	}

	writeJSON(w, entries)
}

func (m *Monitor) flushContext(w http.ResponseWriter, r *http.Request) {
	c := m.findContextOr404(w, mux.Vars(r)["id"])
	if c == nil {
		return
	}

	c.QueueFlushAll()
	w.WriteHeader(http.StatusAccepted)
}

func (m *Monitor) findContextOr404(
	w http.ResponseWriter,
	id string,
) *vcpu.Context {
	m.contextsLock.Lock()
	defer m.contextsLock.Unlock()

	for _, c := range m.contexts {
		if c.ID() == id || c.Name() == id {
			return c
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err := w.Write([]byte("Context not found"))
	dieOnErr(err)

	return nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressBarRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	time.Sleep(m.profileDuration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")

	_, err = w.Write(bytes)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
