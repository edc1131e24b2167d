package commands

import (
	"errors"
	"fmt"
	"os"

	"ganagram/internal/components/chrono"
	"ganagram/internal/components/statepath"
	"ganagram/internal/config"
	"ganagram/internal/driver/pwdriver"
	"ganagram/internal/journal"

	"github.com/jedib0t/go-pretty/v6/table"
)

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("read config: %w", err)
	}
	return cfg, nil
}

// loadConfigOrDefaults is loadConfig for commands that only need the state directory.
func loadConfigOrDefaults() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.Config{}
		cfg.ApplyDefaults()
		return cfg, nil
	}
	if err != nil {
		return config.Config{}, fmt.Errorf("read config: %w", err)
	}
	return cfg, nil
}

func stateDir(cfg config.Config) (statepath.Dir, error) {
	state, err := cfg.State()
	if err != nil {
		return statepath.Dir{}, fmt.Errorf("resolve state directory: %w", err)
	}
	return state, nil
}

func openJournal(state statepath.Dir) (*journal.Journal, error) {
	path, err := state.Path("journal.db")
	if err != nil {
		return nil, err
	}
	j, err := journal.Open(path, chrono.NewStandardImpl())
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return j, nil
}

// openStoredJournal opens the journal of the configured state directory for reading.
func openStoredJournal() (*journal.Journal, error) {
	cfg, err := loadConfigOrDefaults()
	if err != nil {
		return nil, err
	}
	state, err := stateDir(cfg)
	if err != nil {
		return nil, err
	}
	return openJournal(state)
}

func launchBrowser(cfg config.Config) (*pwdriver.Browser, *pwdriver.Page, error) {
	browser, err := pwdriver.Launch(pwdriver.Options{
		Headless:    cfg.Browser.Headless,
		Executable:  cfg.Browser.Executable,
		DefaultLang: cfg.Browser.DefaultLang,
		Timeout:     cfg.TimeoutDuration(),
		Install:     cfg.Browser.Install,
	})
	if err != nil {
		return nil, nil, err
	}
	page, err := browser.NewPage()
	if err != nil {
		browser.Close()
		return nil, nil, err
	}
	return browser, page, nil
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
