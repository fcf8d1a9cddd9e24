package main

import (
	"fmt"
	"io"

	"github.com/alexjbarnes/notify-relay/internal/auth"
	"github.com/alexjbarnes/notify-relay/internal/config"
	"github.com/alexjbarnes/notify-relay/internal/models"
	"github.com/alexjbarnes/notify-relay/internal/state"
	"gopkg.in/yaml.v3"
)

// hashToken prints a fresh access token and the hash to put in
// HTTP_TOKEN_HASHES.
func hashToken(w io.Writer) error {
	token := auth.GenerateToken()

	hash, err := auth.HashToken(token)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "token: %s\nhash:  %s\n", token, hash)

	return nil
}

// listCategories prints the stored category tree as YAML. It opens the
// state database directly, so the daemon must not hold it.
func listCategories(w io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	appState, err := state.LoadAt(cfg.StatePath())
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	cats, err := appState.Categories()
	if err != nil {
		return fmt.Errorf("loading categories: %w", err)
	}

	return writeCategories(w, cats)
}

type categoryReport struct {
	Unread     int               `yaml:"unread"`
	Categories []models.Category `yaml:"categories"`
}

func writeCategories(w io.Writer, cats []models.Category) error {
	report := categoryReport{Categories: cats}
	if report.Categories == nil {
		report.Categories = []models.Category{}
	}

	for _, c := range cats {
		report.Unread += c.Unread
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encoding categories: %w", err)
	}

	return enc.Close()
}
