// Package monitoring turns a running simulation into a web server so that
// the frame table and page tables can be inspected from outside.
package monitoring

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/browser"

	"github.com/sarchlab/shiba/vm"
	"github.com/sarchlab/shiba/vm/mmu"
)

// Monitor serves the state of an MMU over HTTP.
type Monitor struct {
	mmu        *mmu.Comp
	portNumber int
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n",
			portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// RegisterMMU registers the MMU whose state is to be monitored.
func (m *Monitor) RegisterMMU(c *mmu.Comp) {
	m.mmu = c
}

// StartServer starts the monitor as a web server and returns the URL it
// serves on. The server runs in a background goroutine. When open is true,
// the URL is also opened in the system browser.
func (m *Monitor) StartServer(open bool) string {
	r := mux.NewRouter()
	r.HandleFunc("/api/frames", m.listFrames)
	r.HandleFunc("/api/process", m.currentProcess)
	r.HandleFunc("/api/pagetable", m.listPageTable)

	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", url)

	go func() {
		dieOnErr(http.Serve(listener, r))
	}()

	if open {
		dieOnErr(browser.OpenURL(url))
	}

	return url
}

type frameStatus struct {
	PFN        vm.PFN `json:"pfn"`
	ShareCount uint32 `json:"share_count"`
}

func (m *Monitor) listFrames(w http.ResponseWriter, _ *http.Request) {
	ft := m.mmu.FrameTable()

	frames := make([]frameStatus, ft.NumFrames())
	for i := range frames {
		frames[i] = frameStatus{
			PFN:        vm.PFN(i),
			ShareCount: ft.ShareCount(vm.PFN(i)),
		}
	}

	sendJSON(w, frames)
}

type processStatus struct {
	PID       vm.PID `json:"pid"`
	NumMapped int    `json:"num_mapped"`
}

func (m *Monitor) currentProcess(w http.ResponseWriter, _ *http.Request) {
	p := m.mmu.Current()

	sendJSON(w, processStatus{
		PID:       p.PID,
		NumMapped: p.PageTable.NumValid(),
	})
}

type mappingStatus struct {
	VPN      uint64 `json:"vpn"`
	PFN      vm.PFN `json:"pfn"`
	Writable bool   `json:"writable"`
	COW      bool   `json:"cow"`
}

func (m *Monitor) listPageTable(w http.ResponseWriter, _ *http.Request) {
	mappings := []mappingStatus{}
	m.mmu.Current().PageTable.ForEachValid(func(vpn uint64, pte *vm.PTE) {
		mappings = append(mappings, mappingStatus{
			VPN:      vpn,
			PFN:      pte.PFN,
			Writable: pte.Writable,
			COW:      pte.COW,
		})
	})

	sendJSON(w, mappings)
}

func sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	dieOnErr(json.NewEncoder(w).Encode(v))
}

func dieOnErr(err error) {
	if err != nil {
		panic(err)
	}
}
