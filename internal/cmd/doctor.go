package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/phoenix-pocx/phoenixd/internal/config"
	apperrors "github.com/phoenix-pocx/phoenixd/internal/errors"
	"github.com/phoenix-pocx/phoenixd/internal/observability"
	"github.com/phoenix-pocx/phoenixd/pkg/drives"
	"github.com/phoenix-pocx/phoenixd/pkg/plan"
)

var doctorDrives bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Examples:
  phoenixd doctor             # Full environment check
  phoenixd doctor --drives    # Also inventory the configured drives`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorDrives, "drives", false, "Scan configured drives")
}

func runDoctor(cmd *cobra.Command, _ []string) {
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	log := observability.CLILogger
	log.Info("=== " + bannerName + " ===")
	log.Info("")
	log.Info("Running diagnostic checks...")
	log.Info("")

	cfg := config.GetConfig()
	allChecks := true
	checkNum := 1
	totalChecks := 7
	if doctorDrives {
		totalChecks += len(cfg.Mining.Drives)
	}

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		log.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		log.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Crucible and gofulmen
	version := crucible.GetVersion()
	if version.Crucible != "" && version.Gofulmen != "" {
		log.Info(fmt.Sprintf("[%d/%d] Checking Crucible access... ✅ v%s (gofulmen v%s)", checkNum, totalChecks, version.Crucible, version.Gofulmen),
			zap.String("crucible_version", version.Crucible),
			zap.String("gofulmen_version", version.Gofulmen))
	} else {
		log.Error(fmt.Sprintf("[%d/%d] Checking Crucible access... ❌ Cannot access Crucible", checkNum, totalChecks))
		ExitWithCode(log, foundry.ExitExternalServiceUnavailable, "Cannot access Crucible",
			apperrors.NewExternalServiceError("crucible", errors.New("crucible version unavailable")))
	}
	checkNum++

	// Check 3: Config file
	if used := config.ConfigFileUsed(); used != "" {
		log.Info(fmt.Sprintf("[%d/%d] Checking config file... ✅ %s", checkNum, totalChecks, used),
			zap.String("config_file", used))
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking config file... ✅ defaults (save target %s)", checkNum, totalChecks, config.DefaultConfigPath()))
	}
	checkNum++

	// Check 4: Data directory
	dataDir := config.DataDir()
	if err := checkWritableDir(dataDir); err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking data directory... ❌ %s is not writable", checkNum, totalChecks, dataDir),
			zap.Error(err))
		ExitWithCode(log, foundry.ExitFileWriteError, "Data directory not writable",
			apperrors.WrapInternal(cmd.Context(), err, "data directory not writable"))
	}
	log.Info(fmt.Sprintf("[%d/%d] Checking data directory... ✅ %s", checkNum, totalChecks, dataDir),
		zap.String("data_dir", dataDir))
	checkNum++

	// Check 5: Plotting engine
	if resolved, err := checkEngine(cfg.Plotter.EnginePath); err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking plotting engine... ❌ %v", checkNum, totalChecks, err))
		allChecks = false
	} else {
		log.Info(fmt.Sprintf("[%d/%d] Checking plotting engine... ✅ %s", checkNum, totalChecks, resolved),
			zap.String("engine", resolved))
	}
	checkNum++

	// Check 6: Mining settings
	if err := cfg.Mining.Validate(); err != nil {
		log.Error(fmt.Sprintf("[%d/%d] Checking mining settings... ❌ %v", checkNum, totalChecks, err))
		allChecks = false
	} else if cfg.Mining.Address == "" {
		log.Warn(fmt.Sprintf("[%d/%d] Checking mining settings... ⚠️  no plotting address configured", checkNum, totalChecks))
		allChecks = false
	} else {
		hash, _ := cfg.Mining.Fingerprint()
		log.Info(fmt.Sprintf("[%d/%d] Checking mining settings... ✅ %s, %d drives", checkNum, totalChecks,
			maskAddress(cfg.Mining.Address), len(cfg.Mining.Drives)),
			zap.String("config_hash", hash))
	}
	checkNum++

	// Check 7: Environment
	log.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	if doctorDrives {
		allChecks = runDriveChecks(cfg.Mining.Drives, checkNum, totalChecks) && allChecks
	}

	log.Info("")
	if allChecks {
		log.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	log.Info("")
	log.Info("=== End Diagnostics ===")
}

func runDriveChecks(ds []config.DriveConfig, checkNum, totalChecks int) bool {
	log := observability.CLILogger
	log.Info("")
	log.Info("Drive Checks:")

	ok := true
	for _, d := range ds {
		path := plan.DriveKey(d.Path)
		scan, err := drives.ScanDir(path)
		switch {
		case err != nil:
			log.Error(fmt.Sprintf("[%d/%d] Scanning %s... ❌ %v", checkNum, totalChecks, path, err))
			ok = false
		case scan.IncompleteCount > 0:
			log.Warn(fmt.Sprintf("[%d/%d] Scanning %s... ⚠️  %d interrupted outputs (regenerate the plan to resume them)",
				checkNum, totalChecks, path, scan.IncompleteCount))
		default:
			log.Info(fmt.Sprintf("[%d/%d] Scanning %s... ✅ %d outputs, %s", checkNum, totalChecks, path,
				scan.CompleteCount, humanize.IBytes(uint64(scan.CompleteBytes))),
				zap.Uint64("units", scan.CompleteUnits()),
				zap.Uint64("allocated_units", d.AllocatedUnits))
		}
		checkNum++
	}
	return ok
}

// checkEngine resolves the configured engine binary. Empty selects the
// simulated engine.
func checkEngine(path string) (string, error) {
	if path == "" {
		return "simulated", nil
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return "", fmt.Errorf("engine %s not found: %w", path, err)
	}
	return resolved, nil
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name))
}

// maskAddress keeps the prefix and the last 4 characters of an address.
func maskAddress(addr string) string {
	if len(addr) <= 10 {
		return "****"
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
