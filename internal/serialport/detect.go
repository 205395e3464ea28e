package serialport

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	bugst "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// PortInfo describes one serial port found on the host.
type PortInfo struct {
	Device      string
	Description string
}

// List returns the serial ports visible on this host. USB details come from
// the platform enumerator; device nodes it misses are added from the usual
// Linux paths.
func List() ([]PortInfo, error) {
	seen := map[string]bool{}
	out := make([]PortInfo, 0, 8)
	add := func(device, desc string) {
		device = strings.TrimSpace(device)
		if device == "" || seen[device] {
			return
		}
		seen[device] = true
		out = append(out, PortInfo{Device: device, Description: strings.TrimSpace(desc)})
	}

	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		names, listErr := bugst.GetPortsList()
		if listErr != nil {
			return nil, fmt.Errorf("list serial ports: %w", err)
		}
		for _, n := range names {
			add(n, "")
		}
	}
	for _, d := range details {
		add(d.Name, describe(d))
	}
	for _, c := range listCandidates() {
		add(c, "")
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out, nil
}

func describe(d *enumerator.PortDetails) string {
	if d == nil || !d.IsUSB {
		return ""
	}
	desc := strings.TrimSpace(d.Product)
	ids := fmt.Sprintf("USB VID:PID=%s:%s", strings.ToUpper(d.VID), strings.ToUpper(d.PID))
	if sn := strings.TrimSpace(d.SerialNumber); sn != "" {
		ids += " SER=" + sn
	}
	if desc == "" {
		return ids
	}
	return desc + " (" + ids + ")"
}

func listCandidates() []string {
	seen := map[string]bool{}
	out := make([]string, 0, 16)
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		out = append(out, v)
	}

	if byID, err := filepath.Glob("/dev/serial/by-id/*"); err == nil {
		sort.Strings(byID)
		for _, path := range byID {
			target, err := filepath.EvalSymlinks(path)
			if err == nil {
				add(target)
				continue
			}
			add(path)
		}
	}

	for _, pattern := range []string{"/dev/ttyUSB*", "/dev/ttyACM*"} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		sort.Strings(matches)
		for _, path := range matches {
			add(path)
		}
	}

	return out
}
