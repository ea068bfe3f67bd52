package setup

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/krakendca/config"
	"github.com/vadiminshakov/krakendca/internal/domain"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

const wizardTitle = "KRAKEN DCA CONFIG WIZARD"

// answers holds the raw wizard input.
type answers struct {
	currency string
	userRef  string
	interval string
	trades   string
	hookDev  string
	hookMain string
	listen   string
}

func defaultAnswers() answers {
	def := config.Default()
	return answers{
		currency: def.Currency,
		userRef:  strconv.FormatInt(def.UserRef, 10),
		interval: def.DCA.Interval,
		trades:   formatTrades(def.DCA.Trades),
		listen:   def.Web.Listen,
	}
}

func step(title string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render(wizardTitle))
	fmt.Println(stepStyle.Render(title))
}

// RunTUI launches the terminal configuration wizard and returns the path of the written file.
func RunTUI() (string, error) {
	a := defaultAnswers()
	var confirm bool

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render(wizardTitle))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Set up your recurring buys.\n"))

	fmt.Println(stepStyle.Render("STEP 1: ACCOUNT"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Reference currency").
				Description("Quote currency of your pairs (e.g. EUR)").
				Value(&a.currency).
				Validate(notEmpty("currency")),
			huh.NewInput().
				Title("Order user reference").
				Description("Integer tag attached to every order").
				Value(&a.userRef).
				Validate(validateUserRef),
		),
	).Run()
	if err != nil {
		return "", err
	}

	step("STEP 2: BUDGET")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Interval").
				Description("Informational; schedule the execute endpoint accordingly").
				Options(
					huh.NewOption("Weekly", "weekly"),
					huh.NewOption("Biweekly", "biweekly"),
					huh.NewOption("Monthly", "monthly"),
				).
				Value(&a.interval),
			huh.NewText().
				Title("Trades").
				Description("One per line: PAIR AMOUNT [BALANCE_NAME] [STAKE_NAME]").
				Value(&a.trades).
				Validate(func(s string) error {
					_, err := parseTrades(s)
					return err
				}),
		),
	).Run()
	if err != nil {
		return "", err
	}

	step("STEP 3: NOTIFICATIONS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Slack webhook for dry runs").
				Description("Leave empty to disable").
				Value(&a.hookDev),
			huh.NewInput().
				Title("Slack webhook for live orders and reports").
				Description("Leave empty to disable").
				Value(&a.hookMain),
			huh.NewInput().
				Title("HTTP listen address").
				Value(&a.listen).
				Validate(notEmpty("listen address")),
		),
	).Run()
	if err != nil {
		return "", err
	}

	cfg, err := buildConfig(a)
	if err != nil {
		return "", err
	}

	step("FINAL CONFIRMATION")
	summary := fmt.Sprintf("Currency: %s\nUserref: %d\nInterval: %s\nPairs: %s\nListen: %s\n",
		cfg.Currency, cfg.UserRef, cfg.DCA.Interval, domain.JoinPairs(cfg.DCA.Pairs()), cfg.Web.Listen)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return "", err
	}
	if !confirm {
		return "", fmt.Errorf("setup cancelled by user")
	}

	if err := writeConfig(config.GeneratedFile, cfg); err != nil {
		return "", err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(
		fmt.Sprintf("\n✓ Configuration saved to %s\nAPI_KEY and PRIVATE_KEY are read from the environment.\nStarting...", config.GeneratedFile)))
	time.Sleep(1500 * time.Millisecond)

	return config.GeneratedFile, nil
}

// buildConfig turns wizard answers into a validated configuration.
func buildConfig(a answers) (config.Config, error) {
	cfg := config.Default()

	ref, err := strconv.ParseInt(strings.TrimSpace(a.userRef), 10, 64)
	if err != nil {
		return config.Config{}, fmt.Errorf("userref must be an integer: %w", err)
	}
	trades, err := parseTrades(a.trades)
	if err != nil {
		return config.Config{}, err
	}

	cfg.Currency = strings.ToUpper(strings.TrimSpace(a.currency))
	cfg.UserRef = ref
	cfg.DCA = domain.BudgetConfig{Interval: a.interval, Trades: trades}
	cfg.Slack = config.SlackConfig{HookDev: strings.TrimSpace(a.hookDev), HookMain: strings.TrimSpace(a.hookMain)}
	cfg.Web.Listen = strings.TrimSpace(a.listen)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func writeConfig(path string, cfg config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

// parseTrades reads "PAIR AMOUNT [NAME] [STAKE_NAME]" lines. Blank lines and # comments are skipped.
func parseTrades(text string) ([]domain.BudgetEntry, error) {
	var trades []domain.BudgetEntry
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields) > 4 {
			return nil, fmt.Errorf("line %d: want PAIR AMOUNT [NAME] [STAKE_NAME], got %q", i+1, line)
		}
		amount, err := decimal.NewFromString(fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: amount must be a number", i+1)
		}

		entry := domain.BudgetEntry{Pair: strings.ToUpper(fields[0]), Amount: amount}
		if len(fields) > 2 {
			entry.Name = fields[2]
		}
		if len(fields) > 3 {
			entry.StakeName = fields[3]
		}
		trades = append(trades, entry)
	}

	if len(trades) == 0 {
		return nil, fmt.Errorf("at least one trade is required")
	}
	if err := (domain.BudgetConfig{Trades: trades}).Validate(); err != nil {
		return nil, err
	}
	return trades, nil
}

func formatTrades(trades []domain.BudgetEntry) string {
	lines := make([]string, 0, len(trades))
	for _, t := range trades {
		line := t.Pair + " " + t.Amount.String()
		if t.Name != "" {
			line += " " + t.Name
			if t.StakeName != "" {
				line += " " + t.StakeName
			}
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func notEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", field)
		}
		return nil
	}
}

func validateUserRef(s string) error {
	ref, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || ref <= 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}
