package video

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// Target is a running application that can be chosen for screenshots.
type Target struct {
	Name string // process name without extension
	Exe  string
	PID  int32
}

// DisplayName is the label shown in target listings.
func (t Target) DisplayName() string {
	if t.Exe == "" || strings.EqualFold(filepath.Base(t.Exe), t.Name) {
		return t.Name
	}
	return t.Name + " (" + filepath.Base(t.Exe) + ")"
}

// ProcessLister enumerates running processes.
type ProcessLister interface {
	Targets() ([]Target, error)
}

type systemProcesses struct{}

// SystemProcesses lists processes through gopsutil.
func SystemProcesses() ProcessLister {
	return systemProcesses{}
}

func (systemProcesses) Targets() ([]Target, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	targets := make([]Target, 0, len(procs))
	skipped := 0
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || name == "" {
			skipped++
			continue
		}
		exe, _ := p.Exe()
		targets = append(targets, Target{
			Name: trimExt(name),
			Exe:  exe,
			PID:  p.Pid,
		})
	}
	if skipped > 0 {
		log.Debug("process listing skipped processes", "skipped", skipped, "total", len(procs))
	}
	return targets, nil
}

func trimExt(name string) string {
	if ext := filepath.Ext(name); strings.EqualFold(ext, ".exe") {
		return strings.TrimSuffix(name, ext)
	}
	return name
}

// ListTargets returns one entry per distinct process name, sorted by display
// name. A non-empty filter keeps names containing it (case-insensitive).
func ListTargets(lister ProcessLister, filter string) ([]Target, error) {
	all, err := lister.Targets()
	if err != nil {
		return nil, err
	}

	filter = strings.ToLower(filter)
	seen := make(map[string]bool, len(all))
	out := make([]Target, 0, len(all))
	for _, t := range all {
		key := strings.ToLower(t.Name)
		if seen[key] {
			continue
		}
		if filter != "" && !strings.Contains(key, filter) {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].DisplayName()) < strings.ToLower(out[j].DisplayName())
	})
	return out, nil
}

// targetPIDs returns the pids of every process matching name (extension and
// case ignored).
func targetPIDs(lister ProcessLister, name string) []int32 {
	targets, err := lister.Targets()
	if err != nil {
		log.Warn("cannot list processes", "error", err)
		return nil
	}
	want := strings.ToLower(trimExt(name))
	var pids []int32
	for _, t := range targets {
		if strings.ToLower(t.Name) == want {
			pids = append(pids, t.PID)
		}
	}
	return pids
}
