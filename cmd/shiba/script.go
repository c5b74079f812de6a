package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/xid"

	"github.com/sarchlab/shiba/datarecording"
	"github.com/sarchlab/shiba/vm"
	"github.com/sarchlab/shiba/vm/mmu"
)

const accessTableName = "accesses"

// accessRecord is one row of the instruction trace.
type accessRecord struct {
	ID      string
	PID     uint32
	Op      string
	VPN     uint64
	PFN     uint64
	Outcome string
}

type instruction struct {
	op   string
	vpn  uint64
	pid  vm.PID
	rw   vm.Access
	data string
}

// parseInstruction parses one script line. It returns ok=false for blank
// lines and comments.
func parseInstruction(line string) (inst instruction, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return instruction{}, false, nil
	}

	fields := strings.Fields(line)
	inst.op = fields[0]

	switch inst.op {
	case "a":
		if len(fields) != 3 {
			return inst, false, fmt.Errorf("usage: a <vpn> <r|w|rw>")
		}

		inst.vpn, err = strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return inst, false, fmt.Errorf("bad vpn %q", fields[1])
		}

		inst.rw, err = parseAccess(fields[2])
		if err != nil {
			return inst, false, err
		}
	case "f", "r":
		if len(fields) != 2 {
			return inst, false, fmt.Errorf("usage: %s <vpn>", inst.op)
		}

		inst.vpn, err = strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return inst, false, fmt.Errorf("bad vpn %q", fields[1])
		}
	case "w":
		if len(fields) != 2 && len(fields) != 3 {
			return inst, false, fmt.Errorf("usage: w <vpn> [data]")
		}

		inst.vpn, err = strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return inst, false, fmt.Errorf("bad vpn %q", fields[1])
		}

		if len(fields) == 3 {
			inst.data = fields[2]
		}
	case "s":
		if len(fields) != 2 {
			return inst, false, fmt.Errorf("usage: s <pid>")
		}

		pid, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return inst, false, fmt.Errorf("bad pid %q", fields[1])
		}
		inst.pid = vm.PID(pid)
	case "p":
		if len(fields) != 1 {
			return inst, false, fmt.Errorf("usage: p")
		}
	default:
		return inst, false, fmt.Errorf("unknown instruction %q", inst.op)
	}

	return inst, true, nil
}

func parseAccess(s string) (vm.Access, error) {
	switch s {
	case "r":
		return vm.AccessRead, nil
	case "w":
		return vm.AccessWrite, nil
	case "rw":
		return vm.AccessRead | vm.AccessWrite, nil
	default:
		return 0, fmt.Errorf("bad access %q, want r, w, or rw", s)
	}
}

// An interpreter executes a parsed instruction stream against one MMU,
// playing the role of the dispatch loop.
type interpreter struct {
	mmu      *mmu.Comp
	recorder datarecording.DataRecorder
	out      io.Writer
}

func (i *interpreter) run(input io.Reader) error {
	scanner := bufio.NewScanner(input)
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		inst, ok, err := parseInstruction(scanner.Text())
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if !ok {
			continue
		}

		i.execute(inst)
	}

	return scanner.Err()
}

func (i *interpreter) execute(inst instruction) {
	var (
		pfn     vm.PFN
		err     error
		outcome string
	)

	switch inst.op {
	case "a":
		pfn, err = i.mmu.AllocatePage(inst.vpn, inst.rw)
		outcome = "allocated"
	case "f":
		err = i.mmu.FreePage(inst.vpn)
		outcome = "freed"
	case "r":
		pfn, err = i.mmu.Access(inst.vpn, vm.AccessRead)
		outcome = "read"
	case "w":
		pfn, err = i.mmu.Access(inst.vpn, vm.AccessWrite)
		outcome = "written"
		if err == nil && inst.data != "" {
			i.mmu.FrameTable().WriteFrame(pfn, []byte(inst.data))
		}
	case "s":
		pid := i.mmu.SwitchOrFork(inst.pid)
		fmt.Fprintf(i.out, "now running pid %d\n", pid)
		outcome = "switched"
	case "p":
		i.printState()
		return
	}

	switch {
	case err != nil:
		outcome = err.Error()
		fmt.Fprintf(i.out, "%s vpn %d: %v\n", inst.op, inst.vpn, err)
	case inst.op == "f":
		fmt.Fprintf(i.out, "f vpn %d freed\n", inst.vpn)
	case inst.op != "s":
		fmt.Fprintf(i.out, "%s vpn %d -> pfn %d\n", inst.op, inst.vpn, pfn)
	}

	i.record(inst, pfn, outcome)
}

func (i *interpreter) record(inst instruction, pfn vm.PFN, outcome string) {
	if i.recorder == nil {
		return
	}

	i.recorder.InsertData(accessTableName, accessRecord{
		ID:      xid.New().String(),
		PID:     uint32(i.mmu.Current().PID),
		Op:      inst.op,
		VPN:     inst.vpn,
		PFN:     uint64(pfn),
		Outcome: outcome,
	})
}

func (i *interpreter) printState() {
	p := i.mmu.Current()
	fmt.Fprintf(i.out, "pid %d\n", p.PID)

	p.PageTable.ForEachValid(func(vpn uint64, pte *vm.PTE) {
		flags := "r-"
		if pte.Writable {
			flags = "rw"
		}
		if pte.COW {
			flags += " cow"
		}

		fmt.Fprintf(i.out, "  vpn %3d -> pfn %3d [%s]\n",
			vpn, pte.PFN, flags)
	})

	ft := i.mmu.FrameTable()
	fmt.Fprintf(i.out, "frames:")
	for f := 0; f < ft.NumFrames(); f++ {
		if count := ft.ShareCount(vm.PFN(f)); count > 0 {
			fmt.Fprintf(i.out, " %d:%d", f, count)
		}
	}
	fmt.Fprintln(i.out)
}
