package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"threatshield/config"
	"threatshield/internal/engine"
	"threatshield/internal/profile"
	"threatshield/internal/router"
	"threatshield/pkg/models"
)

var (
	scoreFile   string
	scoreConfig string
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score events offline without the classifier or action bus",
	Long: "Reads one JSON event, or JSON lines of events, from --file (or - for stdin)\n" +
		"and prints each decision as JSON. Profiles are kept in memory for the run.",
	RunE: runScore,
}

func init() {
	scoreCmd.Flags().StringVarP(&scoreFile, "file", "f", "", "event file, JSON or JSON lines (- for stdin)")
	scoreCmd.Flags().StringVar(&scoreConfig, "config", "", "optional config file for rules settings")
	scoreCmd.MarkFlagRequired("file")
}

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, *models.ActionRequest) error { return nil }

func runScore(cmd *cobra.Command, args []string) error {
	cfg := &config.Config{}
	if scoreConfig != "" {
		loaded, _, err := loadConfig(scoreConfig)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		config.ApplyDefaults(cfg)
	}

	scorer, err := buildScorer(cfg.ThreatShield.Rules)
	if err != nil {
		return err
	}
	eng := engine.New(engine.Config{
		Scorer:    scorer,
		Profiles:  profile.NewResilient(profile.NewMemoryStore(profile.MemoryConfig{}), 0, nil),
		Router:    router.New(router.Config{IntelligenceTTL: cfg.ThreatShield.Intelligence.TTL}),
		Publisher: discardPublisher{},
	})

	in, err := openInput(scoreFile)
	if err != nil {
		return err
	}
	defer in.Close()

	return scoreStream(cmd.Context(), eng, in, cmd.OutOrStdout())
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}
	return f, nil
}

// scoreStream accepts a single (possibly pretty-printed) JSON event or one
// event per line.
func scoreStream(ctx context.Context, eng *engine.Engine, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read events: %w", err)
	}

	var payloads [][]byte
	trimmed := bytes.TrimSpace(data)
	if json.Valid(trimmed) {
		payloads = append(payloads, trimmed)
	} else {
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			payloads = append(payloads, append([]byte(nil), line...))
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to split events: %w", err)
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	rejected := 0
	for _, p := range payloads {
		res, err := eng.Process(ctx, p)
		if err != nil {
			rejected++
			if encErr := enc.Encode(map[string]string{"error": err.Error()}); encErr != nil {
				return encErr
			}
			continue
		}
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	}
	if rejected > 0 && rejected == len(payloads) {
		return fmt.Errorf("all %d events were rejected", rejected)
	}
	return nil
}
