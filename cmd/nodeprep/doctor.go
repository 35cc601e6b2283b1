package main

import (
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose the current host state",
	Long: `Doctor runs every step's verification without changing anything and
reports the facts the pipeline asserts: swap, SELinux mode, firewall,
kernel modules, sysctl values, and the container runtime and kubelet
service states. It exits non-zero when the host is not ready to join.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		printError(err)
		return err
	}

	preparer, err := newPreparer(cfg, cmd.OutOrStdout())
	if err != nil {
		printError(err)
		return err
	}

	report, err := preparer.Doctor(cmd.Context())
	if report != nil {
		preparer.PrintDoctorReport(report)
	}
	if err != nil {
		printError(err)
		return err
	}
	return nil
}
