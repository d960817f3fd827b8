package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/brainstorm/internal/config"
	"github.com/nextlevelbuilder/brainstorm/internal/session"
	"github.com/nextlevelbuilder/brainstorm/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and data root health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("brainstorm doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		os.Exit(1)
	}

	// Data root: existence and writability are what every tool call
	// depends on.
	root := cfg.DataRootPath()
	fmt.Printf("  Data root: %s", root)
	healthy := true
	if err := os.MkdirAll(root, 0o755); err != nil {
		fmt.Printf(" (CANNOT CREATE: %s)\n", err)
		healthy = false
	} else {
		probe := filepath.Join(root, ".write-probe")
		if err := os.WriteFile(probe, nil, 0o644); err != nil {
			fmt.Printf(" (NOT WRITABLE: %s)\n", err)
			healthy = false
		} else {
			os.Remove(probe)
			fmt.Println(" (OK)")
		}
	}

	// Identity as the server itself would resolve it.
	wd, _ := os.Getwd()
	clientID, idErr := session.ResolveClientID(os.Getenv(session.EnvClientID), wd)
	if idErr != nil {
		fmt.Printf("  Identity: UNRESOLVED (%s)\n", idErr)
		healthy = false
	} else if os.Getenv(session.EnvClientID) != "" {
		fmt.Printf("  Identity: %s (from %s)\n", clientID, session.EnvClientID)
	} else {
		fmt.Printf("  Identity: %s (derived from cwd)\n", clientID)
	}

	fmt.Println()
	fmt.Println("  Limits:")
	fmt.Printf("    %-18s %d bytes\n", "Inline content:", cfg.Limits.MaxInlineBytes)
	fmt.Printf("    %-18s %d bytes\n", "Payload:", cfg.Limits.MaxPayloadBytes)
	fmt.Printf("    %-18s %d\n", "JSON depth:", cfg.Limits.MaxJSONDepth)
	fmt.Printf("    %-18s %d rpm (burst %d)\n", "Rate limit:", cfg.Gateway.RateLimitRPM, cfg.Gateway.RateBurst)

	fmt.Println()
	if cfg.Telemetry.Enabled {
		fmt.Printf("  Telemetry: enabled (%s %s)\n", cfg.Telemetry.Protocol, cfg.Telemetry.Endpoint)
	} else {
		fmt.Println("  Telemetry: disabled")
	}

	if !healthy {
		os.Exit(1)
	}
}
