// Command nri-init is a one-shot host-configuration helper (C10): it
// edits containerd's config.toml to enable the NRI plugin-support
// stanza and optionally restarts the runtime via systemctl. Framing and
// transport for the resctrl-plugin itself are unrelated; this binary
// only prepares the host for it to register (§1).
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/unvariance/collector/internal/nritoml"
	"github.com/unvariance/collector/pkg/logging"
)

func main() {
	logFlags := logging.RegisterFlags()

	configPath := flag.String("config", "/etc/containerd/config.toml", "Path to containerd's config.toml.")
	socketPath := flag.String("socket-path", "/var/run/nri/nri.sock", "NRI plugin registration socket path to write into the config.")
	restart := flag.Bool("restart", false, "Restart containerd via systemctl if the config changed.")
	nsenterTarget := flag.String("nsenter-target", "", "If set, run detection/restart commands inside this host's namespaces via nsenter --target PID (for running from within a container).")
	dryRun := flag.Bool("dry-run", false, "Report what would change without writing the file.")
	flag.Parse()

	log := logging.Setup("nri-init", logFlags.ToConfig())

	runner := nritoml.DefaultRunner(*nsenterTarget)

	raw, err := os.ReadFile(*configPath)
	if err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	doc, err := nritoml.Parse(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	changedVersion := nritoml.EnsureVersion2(doc)
	changedNRI := nritoml.EnsureNRISection(doc, *socketPath)
	changed := changedVersion || changedNRI

	if !changed {
		log.Info("nri plugin already enabled, nothing to do", slog.String("config_path", *configPath))
		return
	}

	out, err := nritoml.Encode(doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	if *dryRun {
		log.Info("dry run: config would change",
			slog.String("config_path", *configPath),
			slog.Bool("version_added", changedVersion),
			slog.Bool("nri_section_added_or_updated", changedNRI))
		fmt.Println(string(out))
		return
	}

	if err := os.WriteFile(*configPath, out, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	log.Info("updated containerd config", slog.String("config_path", *configPath))

	if *restart {
		if _, stdout, stderr, err := runner.RunCapture("systemctl", "restart", "containerd"); err != nil {
			log.Error("failed to restart containerd",
				slog.String("error", err.Error()),
				slog.String("stdout", stdout),
				slog.String("stderr", stderr))
			os.Exit(1)
		}
		log.Info("restarted containerd")
	}
}
