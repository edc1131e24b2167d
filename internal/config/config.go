// Package config is the configuration surface of a run, read from config.json5 (and its local
// override) next to where ganagram is started.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"ganagram/internal/components/configutil"
	"ganagram/internal/components/statepath"
	"ganagram/internal/registry"
	"ganagram/internal/template"
)

const DefaultPath = "config.json5"

type Account struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Interval is the pacing between comments, in seconds.
type Interval struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mode float64 `json:"mode"`
}

type Browser struct {
	Headless    bool   `json:"headless"`
	Executable  string `json:"executable"`
	DefaultLang bool   `json:"default_lang"`
	Install     bool   `json:"install"`
}

type Config struct {
	Account  Account `json:"account"`
	Post     string  `json:"post"`
	Template string  `json:"template"`
	Relation string  `json:"relation"`
	// Limit caps how many connections are used, 0 means no limit.
	Limit        int    `json:"limit"`
	ForceFull    bool   `json:"force_full"`
	Target       string `json:"target"`
	SpecificFile string `json:"specific_file"`
	SaveOnly     bool   `json:"save_only"`

	Interval Interval `json:"interval"`
	// Timeout is the per call timeout in seconds.
	Timeout    float64 `json:"timeout"`
	MaxRetries int     `json:"max_retries"`
	StateDir   string  `json:"state_dir"`
	Browser    Browser `json:"browser"`
	BaseURL    string  `json:"base_url"`
}

// Load reads path and fills in defaults, it does not validate.
func Load(path string) (Config, error) {
	cfg, err := configutil.ReadConfig[Config](path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Relation == "" {
		c.Relation = string(registry.Followers)
	}
	if c.Interval == (Interval{}) {
		c.Interval = Interval{Min: 60, Max: 120, Mode: 90}
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.StateDir == "" {
		c.StateDir = statepath.Prefix
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://www.instagram.com/"
	}
}

// State returns the state directory, a leading "<state>" stands for the working directory.
func (c Config) State() (statepath.Dir, error) {
	root, err := statepath.Resolve("", c.StateDir)
	if err != nil {
		return statepath.Dir{}, fmt.Errorf("resolve state dir: %w", err)
	}
	return statepath.Dir{Root: root}, nil
}

// TimeoutDuration returns Timeout as a duration.
func (c Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout * float64(time.Second))
}

// Mentions reports whether the template has at least one mention slot.
func (c Config) Mentions() bool {
	return template.HasMention(c.Template)
}

// Validate checks every rule a run depends on and reports all violations at once.
func (c Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Account.Username == "" || c.Account.Password == "" {
		fail("'account.username' and 'account.password' are required")
	}

	if c.Post == "" {
		if !c.SaveOnly {
			fail("provide 'post' or enable 'save_only'")
		} else if c.Target == "" {
			fail("provide 'post' or 'target'")
		}
	}

	if c.SpecificFile != "" {
		if c.SaveOnly {
			fail("choose either 'specific_file' or 'save_only', not both")
		}
		if c.ForceFull {
			fail("choose either 'specific_file' or 'force_full', not both")
		}
	}

	if c.Limit != 0 && c.ForceFull {
		fail("'force_full' only works when 'limit' is unset")
	}
	if c.Limit < 0 && c.Mentions() {
		fail("'limit' must be greater than 0")
	}

	if !c.SaveOnly {
		if c.Template == "" {
			fail("'template' is required unless 'save_only' is enabled")
		} else if _, err := template.Parse(c.Template); err != nil {
			fail("'template': %w", err)
		}
		if !(c.Interval.Min <= c.Interval.Mode && c.Interval.Mode <= c.Interval.Max) {
			fail("'interval.mode' must be between 'interval.min' and 'interval.max'")
		}
		if c.Interval.Min < 0 {
			fail("'interval.min' cannot be negative")
		}
	}

	if _, err := registry.ParseRelation(c.Relation); err != nil {
		fail("'relation': %w", err)
	}
	if c.Timeout <= 0 {
		fail("'timeout' must be greater than 0")
	}
	if c.MaxRetries < 1 {
		fail("'max_retries' must be at least 1")
	}
	if base, err := url.Parse(c.BaseURL); err != nil || !base.IsAbs() {
		fail("'base_url' must be an absolute url")
	}
	if c.Post != "" {
		if post, err := url.Parse(c.Post); err != nil || !post.IsAbs() {
			fail("'post' must be an absolute url")
		}
	}

	return errors.Join(errs...)
}
