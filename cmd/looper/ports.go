package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JeanRibes/looper/port"
)

func listPorts(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "MIDI inputs:")
	for i, name := range port.InputNames() {
		fmt.Fprintf(w, "  %d: %s\n", i, name)
	}
	fmt.Fprintln(w, "MIDI outputs:")
	for i, name := range port.OutputNames() {
		fmt.Fprintf(w, "  %d: %s\n", i, name)
	}
	serials, err := port.SerialNames()
	if err != nil {
		return fmt.Errorf("listing serial devices: %w", err)
	}
	fmt.Fprintln(w, "Serial devices:")
	for _, name := range serials {
		fmt.Fprintf(w, "  %s\n", name)
	}
	return nil
}
