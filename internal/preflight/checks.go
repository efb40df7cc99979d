package preflight

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"vodpipe/internal/config"
	"vodpipe/internal/deps"
	"vodpipe/internal/services"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates the transcoder binaries named in the config.
// Both the daemon and the CLI check command use this.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return deps.CheckBinaries([]deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.Transcoder.FFmpegBinary,
			Description: "Required for thumbnails, posters and HLS encoding",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.Transcoder.FFprobeBinary,
			Description: "Required for metadata extraction",
		},
	})
}

// FreeBytes reports the space available to unprivileged users on the
// filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// MinFreeBytes converts the configured minimum free space.
func MinFreeBytes(cfg *config.Config) uint64 {
	if cfg == nil || cfg.Pipeline.MinFreeMB <= 0 {
		return 0
	}
	return uint64(cfg.Pipeline.MinFreeMB) * 1024 * 1024
}

// CheckFreeSpace reports whether path has at least minFree bytes available.
func CheckFreeSpace(name, path string, minFree uint64) Result {
	free, err := FreeBytes(path)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	detail := fmt.Sprintf("%s free", formatBytes(free))
	if free < minFree {
		return Result{Name: name, Detail: fmt.Sprintf("%s (need %s)", detail, formatBytes(minFree))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// EnsureFreeSpace returns an error wrapping services.ErrStorage when path has
// less than minFree bytes available. A zero minimum disables the check.
func EnsureFreeSpace(path string, minFree uint64) error {
	if minFree == 0 {
		return nil
	}
	free, err := FreeBytes(path)
	if err != nil {
		return services.Wrap(services.ErrStorage, "intake", "free space", "staging volume could not be inspected", err)
	}
	if free < minFree {
		return services.WithHint(
			services.Wrap(services.ErrStorage, "intake", "free space", "not enough space to accept uploads", nil),
			fmt.Sprintf("free space on the staging volume (%s available, %s required)", formatBytes(free), formatBytes(minFree)),
		)
	}
	return nil
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
