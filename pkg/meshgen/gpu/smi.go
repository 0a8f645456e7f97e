package gpu

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/jamesainslie/meshgen/pkg/meshgen/types"
)

type smiLog struct {
	XMLName       xml.Name `xml:"nvidia_smi_log"`
	DriverVersion string   `xml:"driver_version"`
	GPUs          []smiGPU `xml:"gpu"`
}

type smiGPU struct {
	ID          string      `xml:"id,attr"`
	ProductName string      `xml:"product_name"`
	UUID        string      `xml:"uuid"`
	FBMemory    smiFBMemory `xml:"fb_memory_usage"`
}

type smiFBMemory struct {
	Used  string `xml:"used"`
	Total string `xml:"total"`
}

// ParseSMI decodes the output of `nvidia-smi -q -x`.
func ParseSMI(data []byte) ([]Device, error) {
	var log smiLog
	if err := xml.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("parse nvidia-smi xml: %w", err)
	}

	devices := make([]Device, 0, len(log.GPUs))
	for i, g := range log.GPUs {
		total, err := ParseMiB(g.FBMemory.Total)
		if err != nil {
			return nil, fmt.Errorf("gpu %d total memory: %w", i, err)
		}
		// Used memory is informational; some drivers report N/A.
		used, _ := ParseMiB(g.FBMemory.Used)
		devices = append(devices, Device{
			Index:    i,
			Name:     strings.TrimSpace(g.ProductName),
			UUID:     strings.TrimSpace(g.UUID),
			Driver:   strings.TrimSpace(log.DriverVersion),
			VRAM:     total,
			VRAMUsed: used,
		})
	}
	return devices, nil
}

// ParseMiB converts a value such as "24576 MiB" into bytes. A bare number
// is taken as MiB.
func ParseMiB(s string) (int64, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty memory value")
	}
	n, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid memory value %q", s)
	}

	unit := types.MiB
	if len(fields) > 1 {
		switch strings.ToLower(fields[1]) {
		case "kib", "kb":
			unit = types.KiB
		case "mib", "mb":
			unit = types.MiB
		case "gib", "gb":
			unit = types.GiB
		default:
			return 0, fmt.Errorf("unknown memory unit in %q", s)
		}
	}
	return int64(n * float64(unit)), nil
}
