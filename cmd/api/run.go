package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"voice-guard-go/internal/acquisition"
	"voice-guard-go/internal/config"
	"voice-guard-go/internal/logger"
	"voice-guard-go/internal/types"
)

var runFlags struct {
	user  string
	file  string
	lat   float64
	lon   float64
	quiet bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one incident for a local audio file and print the result",
	Example: `  voice-guard run --user u123 --file ./clip.m4a
  voice-guard run --user u123 --file ./clip.wav --lat 37.56 --lon 126.97`,
	RunE: runIncident,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.user, "user", "", "user id whose contacts are alerted")
	f.StringVar(&runFlags.file, "file", "", "audio file to process")
	f.Float64Var(&runFlags.lat, "lat", 0, "latitude for the alert map link")
	f.Float64Var(&runFlags.lon, "lon", 0, "longitude for the alert map link")
	f.BoolVarP(&runFlags.quiet, "quiet", "q", false, "suppress logs, print only the result")
	_ = runCmd.MarkFlagRequired("user")
	_ = runCmd.MarkFlagRequired("file")
}

func runIncident(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New()
	if runFlags.quiet {
		log = logger.Discard()
	}

	f, err := os.Open(runFlags.file)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	orch, closeAll, err := build(cmd.Context(), cfg, log, false)
	if err != nil {
		return err
	}
	defer closeAll()

	inc := types.Incident{UserID: runFlags.user, SourceURI: "file://" + filepath.ToSlash(runFlags.file)}
	if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lon") {
		inc.Latitude, inc.Longitude = &runFlags.lat, &runFlags.lon
	}

	res, runErr := orch.Run(cmd.Context(), inc, acquisition.Source{Inline: f, Name: filepath.Base(runFlags.file)})
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	return runErr
}
