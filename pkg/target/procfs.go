package target

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hitzhangjie/dbgfuncs/pkg/memory"
)

// readProcComm read /proc/pid/comm or /proc/pid/stat to load the command line of process.
func readProcComm(pid int) (string, error) {
	comm, err := ioutil.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err == nil {
		// removes newline character
		comm = bytes.TrimSuffix(comm, []byte("\n"))
	}

	if len(comm) == 0 {
		stat, err := ioutil.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
		if err != nil {
			return "", fmt.Errorf("could not read proc stat: %v", err)
		}
		expr := fmt.Sprintf("%d\\s*\\((.*)\\)", pid)
		rexp, err := regexp.Compile(expr)
		if err != nil {
			return "", fmt.Errorf("regexp compile error: %v", err)
		}
		match := rexp.FindSubmatch(stat)
		if match == nil {
			return "", fmt.Errorf("no match found using regexp '%s' in /proc/%d/stat", expr, pid)
		}
		comm = match[1]
	}

	return string(comm), nil
}

// readProcCommArgs read /proc/pid/cmdline to load the command arguments of process
func readProcCommArgs(pid int) ([]string, error) {
	dat, err := ioutil.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return nil, err
	}
	args := strings.Split(strings.TrimRight(string(dat), "\x00"), "\x00")
	if len(args) <= 1 {
		return nil, nil
	}
	return args[1:], nil
}

// readProcMaps loads the memory map of pid from /proc/pid/maps
func readProcMaps(pid int) ([]memory.Region, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return memory.ParseMaps(f)
}

// readProcTasks lists the thread ids of pid from /proc/pid/task
func readProcTasks(pid int) ([]int, error) {
	threadIDs := []int{}

	tids, _ := filepath.Glob(fmt.Sprintf("/proc/%d/task/*", pid))
	for _, tidpath := range tids {
		tidstr := filepath.Base(tidpath)
		tid, err := strconv.Atoi(tidstr)
		if err != nil {
			return nil, err
		}
		threadIDs = append(threadIDs, tid)
	}
	sort.Ints(threadIDs)
	return threadIDs, nil
}

// ProcessInfo 进程列表中的一项
type ProcessInfo struct {
	Pid int
	Exe string
}

// ListProcesses lists running processes, most recently created (highest
// pid) first. Processes that vanish while listing are skipped.
func ListProcesses() ([]ProcessInfo, error) {
	return listProcesses("/proc")
}

func listProcesses(procRoot string) ([]ProcessInfo, error) {
	entries, err := ioutil.ReadDir(procRoot)
	if err != nil {
		return nil, err
	}

	var list []ProcessInfo
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(ent.Name())
		if err != nil {
			continue
		}
		comm, err := ioutil.ReadFile(filepath.Join(procRoot, ent.Name(), "comm"))
		if err != nil {
			continue
		}
		list = append(list, ProcessInfo{Pid: pid, Exe: string(bytes.TrimSpace(comm))})
	}

	sort.Slice(list, func(i, j int) bool { return list[i].Pid > list[j].Pid })
	return list, nil
}

// capSysPtrace is the CAP_SYS_PTRACE bit in the capability sets.
const capSysPtrace = 19

// IsElevated reports whether the debugger runs as root or holds
// CAP_SYS_PTRACE in its effective set.
func IsElevated() bool {
	if os.Geteuid() == 0 {
		return true
	}
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return false
	}
	defer f.Close()
	return capEffHasPtrace(f)
}

// capEffHasPtrace parses the CapEff line of a /proc/pid/status file.
func capEffHasPtrace(r io.Reader) bool {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "CapEff:") {
			continue
		}
		caps, err := strconv.ParseUint(strings.TrimSpace(strings.TrimPrefix(line, "CapEff:")), 16, 64)
		if err != nil {
			return false
		}
		return caps&(1<<capSysPtrace) != 0
	}
	return false
}
