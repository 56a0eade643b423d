package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/danielpatrickdp/knowledge-state/internal/config"
	"github.com/danielpatrickdp/knowledge-state/internal/jobs"
	"github.com/danielpatrickdp/knowledge-state/internal/logging"
	"github.com/danielpatrickdp/knowledge-state/internal/source"
	"github.com/danielpatrickdp/knowledge-state/internal/state"
)

// #region env

// env is everything a command may need. Close releases whatever was opened.
type env struct {
	cfg   config.Config
	log   *logging.Logger
	src   *source.SQLiteSource
	store *state.Store
	jobs  *jobs.Store
}

func loadEnv() (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &env{cfg: cfg, log: log}, nil
}

func (e *env) openSource() error {
	src, err := source.NewSQLiteSource(e.cfg.SourceDB)
	if err != nil {
		return fmt.Errorf("open source %s: %w", e.cfg.SourceDB, err)
	}
	e.src = src
	return nil
}

func (e *env) openState() error {
	store, err := state.NewStore(e.cfg.DB)
	if err != nil {
		return fmt.Errorf("open state %s: %w", e.cfg.DB, err)
	}
	js, err := jobs.NewStore(store.DB())
	if err != nil {
		store.Close()
		return fmt.Errorf("open jobs: %w", err)
	}
	e.store, e.jobs = store, js
	return nil
}

func (e *env) Close() {
	if e.src != nil {
		e.src.Close()
	}
	if e.store != nil {
		e.store.Close()
	}
	e.log.Sync()
}

// #endregion env

// #region output

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(header))
	return t
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
