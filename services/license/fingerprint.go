package license

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// Fingerprint derives a stable machine identifier sent to the license
// authority. It is never used for local decisions.
type Fingerprint func(ctx context.Context) string

var (
	machineOnce sync.Once
	machineID   string
)

// MachineID hashes hostname, OS, CPU model and total memory. The value is
// computed once per process.
func MachineID(ctx context.Context) string {
	machineOnce.Do(func() {
		machineID = computeMachineID(ctx)
	})
	return machineID
}

func computeMachineID(ctx context.Context) string {
	hostname := "unknown"
	if info, err := host.InfoWithContext(ctx); err == nil && info.Hostname != "" {
		hostname = info.Hostname
	} else if err != nil {
		zap.L().Debug("[License] host info unavailable", zap.Error(err))
	}

	cpuModel := "unknown"
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 && infos[0].ModelName != "" {
		cpuModel = infos[0].ModelName
	}

	var total uint64
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		total = vm.Total
	}

	data := strings.Join([]string{hostname, runtime.GOOS, cpuModel, strconv.FormatUint(total, 10)}, "-")
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:16]
}
