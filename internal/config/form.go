package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
)

// Answers holds the values collected by the setup form. Numeric fields are
// kept as strings until Apply.
type Answers struct {
	BindAddress    string
	PortStr        string
	SocketPath     string
	HistoryEnabled bool
	HistoryPath    string
	LogLevel       string
	Confirm        bool
}

// AnswersFrom seeds the form with the values of cfg.
func AnswersFrom(cfg *Config) *Answers {
	return &Answers{
		BindAddress:    cfg.Service.BindAddress,
		PortStr:        strconv.Itoa(cfg.Service.Port),
		SocketPath:     cfg.Backend.SocketPath,
		HistoryEnabled: cfg.History.Enabled,
		HistoryPath:    cfg.History.Path,
		LogLevel:       cfg.Log.Level,
		Confirm:        true,
	}
}

// BuildForm constructs the interactive setup form.
func BuildForm(answers *Answers) *huh.Form {
	return huh.NewForm(
		serviceGroup(answers),
		backendGroup(answers),
		historyGroup(answers),
		historyPathGroup(answers),
		logGroup(answers),
		confirmGroup(answers),
	).WithTheme(huh.ThemeCatppuccin())
}

func serviceGroup(answers *Answers) *huh.Group {
	return huh.NewGroup(
		huh.NewNote().
			Title("Mod Store").
			Description("The local API serves the download list to the mod manager UI."),
		huh.NewInput().
			Title("Bind Address").
			Description("Keep 127.0.0.1 unless the UI runs on another host.").
			Value(&answers.BindAddress).
			Validate(notEmpty("bind address")),
		huh.NewInput().
			Title("Port").
			Value(&answers.PortStr).
			Validate(ValidatePort),
	)
}

func backendGroup(answers *Answers) *huh.Group {
	return huh.NewGroup(
		huh.NewInput().
			Title("Installer backend socket").
			Description("Unix socket of the privileged installer service.").
			Value(&answers.SocketPath).
			Validate(notEmpty("socket path")),
	)
}

func historyGroup(answers *Answers) *huh.Group {
	return huh.NewGroup(
		huh.NewConfirm().
			Title("Keep install history?").
			Description("Finished installs are recorded in a local SQLite database.").
			Value(&answers.HistoryEnabled),
	)
}

func historyPathGroup(answers *Answers) *huh.Group {
	return huh.NewGroup(
		huh.NewInput().
			Title("History database").
			Value(&answers.HistoryPath).
			Validate(notEmpty("history path")),
	).WithHideFunc(func() bool { return !answers.HistoryEnabled })
}

func logGroup(answers *Answers) *huh.Group {
	return huh.NewGroup(
		huh.NewSelect[string]().
			Title("Log level").
			Options(
				huh.NewOption("Info", "info"),
				huh.NewOption("Debug", "debug"),
				huh.NewOption("Warn", "warn"),
				huh.NewOption("Error", "error"),
			).
			Value(&answers.LogLevel),
	)
}

func confirmGroup(answers *Answers) *huh.Group {
	return huh.NewGroup(
		huh.NewConfirm().
			Title("Write configuration?").
			Affirmative("Save").
			Negative("Cancel").
			Value(&answers.Confirm),
	)
}

// Apply copies the answers into cfg and validates the result.
func (a *Answers) Apply(cfg *Config) error {
	port, err := strconv.Atoi(strings.TrimSpace(a.PortStr))
	if err != nil {
		return fmt.Errorf("port: %w", err)
	}
	cfg.Service.BindAddress = strings.TrimSpace(a.BindAddress)
	cfg.Service.Port = port
	cfg.Backend.SocketPath = strings.TrimSpace(a.SocketPath)
	cfg.History.Enabled = a.HistoryEnabled
	if a.HistoryEnabled {
		cfg.History.Path = strings.TrimSpace(a.HistoryPath)
	}
	cfg.Log.Level = a.LogLevel
	return cfg.Validate()
}

// ValidatePort returns nil if s is a port number.
func ValidatePort(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("must be 1-65535")
	}
	return nil
}

func notEmpty(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", what)
		}
		return nil
	}
}
