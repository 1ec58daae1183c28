// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/sigil-dev/quill/internal/config"
	"github.com/sigil-dev/quill/internal/provider"
	"github.com/sigil-dev/quill/internal/provider/websearch"
	"github.com/sigil-dev/quill/internal/secrets"
	quillerr "github.com/sigil-dev/quill/pkg/errors"
)

// initHTTPClient is the HTTP client used for key and endpoint validation.
// Exposed as a variable so tests can replace it.
var initHTTPClient = &http.Client{Timeout: 10 * time.Second}

// ProviderType aliases provider.ProviderName for use in the init wizard.
type ProviderType = provider.ProviderName

const (
	ProviderAnthropic  = provider.ProviderAnthropic
	ProviderOpenAI     = provider.ProviderOpenAI
	ProviderGoogle     = provider.ProviderGoogle
	ProviderOpenRouter = provider.ProviderOpenRouter
)

// searchProviderName is the config name of the search provider init writes.
const searchProviderName = "web"

// initWizardStep tracks which step of the wizard is active.
type initWizardStep int

const (
	stepProvider       initWizardStep = iota // select provider
	stepAPIKey                               // enter API key
	stepValidateKey                          // validating key (spinner)
	stepSearch                               // enter search endpoint
	stepValidateSearch                       // probing search endpoint (spinner)
	stepDone                                 // wizard complete
	stepError                                // terminal error
)

// initResult holds the collected wizard configuration.
type initResult struct {
	Provider       ProviderType
	APIKey         string
	SearchEndpoint string
}

// --- bubbletea messages ---

type (
	validationSuccessMsg struct{ step initWizardStep }
	validationErrorMsg   struct {
		step initWizardStep
		err  error
	}
)
type configWrittenMsg struct{ path string }

// --- lipgloss styles ---

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

var supportedProviders = []ProviderType{
	ProviderAnthropic,
	ProviderOpenAI,
	ProviderGoogle,
	ProviderOpenRouter,
}

// initModel is the bubbletea model for the init wizard.
type initModel struct {
	step           initWizardStep
	providerIdx    int
	apiKeyInput    textinput.Model
	searchInput    textinput.Model
	spinner        spinner.Model
	result         initResult
	validationErr  string
	configPath     string
	secretStore    secrets.Store
	errFinal       error
	skipSearch     bool
	forceOverwrite bool
}

func newInitModel(store secrets.Store) initModel {
	apiKey := textinput.New()
	apiKey.Placeholder = "paste API key here"
	apiKey.EchoMode = textinput.EchoPassword
	apiKey.EchoCharacter = '•'

	search := textinput.New()
	search.Placeholder = "https://search.example.com"

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return initModel{
		step:        stepProvider,
		apiKeyInput: apiKey,
		searchInput: search,
		spinner:     sp,
		secretStore: store,
	}
}

func (m initModel) Init() tea.Cmd {
	return nil
}

func (m initModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case validationSuccessMsg:
		return m.handleValidationSuccess(msg)

	case validationErrorMsg:
		m.validationErr = msg.err.Error()
		switch msg.step {
		case stepValidateKey:
			m.step = stepAPIKey
			m.apiKeyInput.Focus()
		case stepValidateSearch:
			m.step = stepSearch
			m.searchInput.Focus()
		}
		return m, nil

	case configWrittenMsg:
		m.step = stepDone
		m.configPath = msg.path
		return m, tea.Quit

	case error:
		m.step = stepError
		m.errFinal = msg
		return m, tea.Quit
	}

	return m.updateInputs(msg)
}

func (m initModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.step {
	case stepProvider:
		return m.handleProviderKey(msg)
	case stepAPIKey:
		return m.handleAPIKeyInput(msg)
	case stepSearch:
		return m.handleSearchInput(msg)
	}
	return m, nil
}

func (m initModel) handleProviderKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.providerIdx > 0 {
			m.providerIdx--
		}
	case "down", "j":
		if m.providerIdx < len(supportedProviders)-1 {
			m.providerIdx++
		}
	case "enter":
		m.result.Provider = supportedProviders[m.providerIdx]
		m.step = stepAPIKey
		m.validationErr = ""
		m.apiKeyInput.SetValue("")
		m.apiKeyInput.Focus()
		return m, textinput.Blink
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m initModel) handleAPIKeyInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		key := strings.TrimSpace(m.apiKeyInput.Value())
		if key == "" {
			m.validationErr = "API key must not be empty"
			return m, nil
		}
		m.result.APIKey = key
		m.validationErr = ""
		m.step = stepValidateKey
		return m, tea.Batch(
			m.spinner.Tick,
			validateProviderKeyCmd(m.result.Provider, key),
		)
	case "ctrl+c":
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.apiKeyInput, cmd = m.apiKeyInput.Update(msg)
	return m, cmd
}

func (m initModel) handleSearchInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		endpoint := strings.TrimSpace(m.searchInput.Value())
		if endpoint == "" {
			// Empty skips search; gathering then runs on defaults.
			m.result.SearchEndpoint = ""
			return m, writeConfigCmd(m.result, m.secretStore, m.forceOverwrite)
		}
		m.result.SearchEndpoint = endpoint
		m.validationErr = ""
		m.step = stepValidateSearch
		return m, tea.Batch(
			m.spinner.Tick,
			validateSearchEndpointCmd(endpoint),
		)
	case "ctrl+c":
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	return m, cmd
}

func (m initModel) handleValidationSuccess(msg validationSuccessMsg) (tea.Model, tea.Cmd) {
	switch msg.step {
	case stepValidateKey:
		if m.skipSearch {
			m.result.SearchEndpoint = ""
			return m, writeConfigCmd(m.result, m.secretStore, m.forceOverwrite)
		}
		m.step = stepSearch
		m.validationErr = ""
		m.searchInput.SetValue("")
		m.searchInput.Focus()
		return m, textinput.Blink
	case stepValidateSearch:
		return m, writeConfigCmd(m.result, m.secretStore, m.forceOverwrite)
	}
	return m, nil
}

func (m initModel) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m.step {
	case stepAPIKey:
		var cmd tea.Cmd
		m.apiKeyInput, cmd = m.apiKeyInput.Update(msg)
		return m, cmd
	case stepSearch:
		var cmd tea.Cmd
		m.searchInput, cmd = m.searchInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m initModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("  Quill Setup Wizard  ") + "\n\n")

	switch m.step {
	case stepProvider:
		b.WriteString(promptStyle.Render("Step 1/2: Add your first model provider") + "\n\n")
		for i, p := range supportedProviders {
			if i == m.providerIdx {
				b.WriteString(selectedStyle.Render("  > "+string(p)) + "\n")
			} else {
				b.WriteString(dimStyle.Render("    "+string(p)) + "\n")
			}
		}
		b.WriteString("\n" + dimStyle.Render("↑/↓ to navigate  enter to select  q to quit"))

	case stepAPIKey:
		b.WriteString(promptStyle.Render("Step 1/2: "+string(m.result.Provider)+" API key") + "\n\n")
		b.WriteString(m.apiKeyInput.View() + "\n")
		if m.validationErr != "" {
			b.WriteString("\n" + errorStyle.Render("  "+m.validationErr) + "\n")
		}
		b.WriteString("\n" + dimStyle.Render("enter to continue  ctrl+c to quit"))

	case stepValidateKey:
		b.WriteString(m.spinner.View() + " Validating " + string(m.result.Provider) + " API key…\n")

	case stepSearch:
		b.WriteString(promptStyle.Render("Step 2/2: Web search endpoint") + "\n\n")
		b.WriteString(m.searchInput.View() + "\n")
		if m.validationErr != "" {
			b.WriteString("\n" + errorStyle.Render("  "+m.validationErr) + "\n")
		}
		b.WriteString("\n" + dimStyle.Render("enter to continue  empty to skip  ctrl+c to quit"))

	case stepValidateSearch:
		b.WriteString(m.spinner.View() + " Probing " + m.result.SearchEndpoint + "…\n")

	case stepDone:
		b.WriteString(successStyle.Render("  Setup complete!  ") + "\n\n")
		if m.configPath != "" {
			b.WriteString(dimStyle.Render("Config written to: "+m.configPath) + "\n\n")
		}
		b.WriteString("Run " + promptStyle.Render("quill start") + " or " + promptStyle.Render("quill run --topic ...") + " to get started.\n")
		b.WriteString("Run " + promptStyle.Render("quill doctor") + " to verify setup.\n")

	case stepError:
		b.WriteString(errorStyle.Render("Setup failed: "+m.errFinal.Error()) + "\n")
	}

	return boxStyle.Render(b.String())
}

// --- tea.Cmd factories ---

func validateProviderKeyCmd(p ProviderType, key string) tea.Cmd {
	return func() tea.Msg {
		if err := provider.ValidateKey(context.Background(), initHTTPClient, p, key); err != nil {
			return validationErrorMsg{step: stepValidateKey, err: err}
		}
		return validationSuccessMsg{step: stepValidateKey}
	}
}

func validateSearchEndpointCmd(endpoint string) tea.Cmd {
	return func() tea.Msg {
		sp, err := websearch.New(websearch.Config{Name: searchProviderName, Endpoint: endpoint, Client: initHTTPClient})
		if err != nil {
			return validationErrorMsg{step: stepValidateSearch, err: err}
		}
		defer func() { _ = sp.Close() }()
		if err := sp.CheckHealth(context.Background()); err != nil {
			return validationErrorMsg{step: stepValidateSearch, err: err}
		}
		return validationSuccessMsg{step: stepValidateSearch}
	}
}

func writeConfigCmd(result initResult, store secrets.Store, forceOverwrite bool) tea.Cmd {
	return func() tea.Msg {
		path, err := storeSecretAndWriteConfig(result, store, forceOverwrite)
		if err != nil {
			return err
		}
		return configWrittenMsg{path: path}
	}
}

// --- Config generation (exported for tests) ---

// GenerateConfigYAML produces a minimal quill.yaml from the wizard result.
// The API key is referenced via a keyring:// URI; the secret itself is
// stored separately by storeSecretAndWriteConfig.
func GenerateConfigYAML(result initResult) string {
	name := string(result.Provider)

	var sb strings.Builder
	sb.WriteString("# Quill configuration, generated by quill init\n")
	sb.WriteString("# See quill doctor for a summary of what is in effect.\n\n")

	sb.WriteString("server:\n")
	sb.WriteString("  listen: \"127.0.0.1:18790\"\n\n")

	sb.WriteString("storage:\n")
	sb.WriteString("  backend: sqlite\n\n")

	sb.WriteString("providers:\n")
	fmt.Fprintf(&sb, "  %s:\n", name)
	fmt.Fprintf(&sb, "    type: %s\n", name)
	fmt.Fprintf(&sb, "    api_key: \"%s\"\n", secrets.ProviderKeyURI(name))
	if result.SearchEndpoint != "" {
		fmt.Fprintf(&sb, "  %s:\n", searchProviderName)
		fmt.Fprintf(&sb, "    type: %s\n", config.ProviderTypeWebSearch)
		fmt.Fprintf(&sb, "    endpoint: \"%s\"\n", result.SearchEndpoint)
	}
	sb.WriteString("\n")

	sb.WriteString("pipeline:\n")
	fmt.Fprintf(&sb, "  model_providers: [\"%s\"]\n", name)
	if result.SearchEndpoint != "" {
		fmt.Fprintf(&sb, "  search_providers: [\"%s\"]\n", searchProviderName)
	} else {
		sb.WriteString("  search_providers: []\n")
	}

	return sb.String()
}

// storeSecretAndWriteConfig saves the API key to the OS keyring and writes
// the config YAML to the default config path.
//
// When forceOverwrite is false and the config file already exists, an error is
// returned asking the user to pass --force. A stored key is not rolled back
// when the write fails; a later successful run overwrites it.
func storeSecretAndWriteConfig(result initResult, store secrets.Store, forceOverwrite bool) (string, error) {
	if _, err := secrets.NewProviderKeys(store).Set(string(result.Provider), result.APIKey); err != nil {
		return "", err
	}

	cfgPath, err := configPathForWrite()
	if err != nil {
		return "", err
	}

	if !forceOverwrite {
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			return "", quillerr.Errorf(quillerr.CodeConfigWriteAlreadyExists,
				"config file already exists at %s; use --force to overwrite", cfgPath)
		}
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", quillerr.Errorf(quillerr.CodeConfigWriteFailure, "creating config directory %s: %w", dir, err)
	}

	if err := os.WriteFile(cfgPath, []byte(GenerateConfigYAML(result)), 0o600); err != nil {
		return "", quillerr.Errorf(quillerr.CodeConfigWriteFailure, "writing config to %s: %w", cfgPath, err)
	}

	return cfgPath, nil
}

// configPathForWrite returns the config path init writes to. Exported as a
// variable so tests can override it.
var configPathForWrite = config.DefaultConfigPath

// --- Cobra command ---

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard for Quill",
		Long: `Run an interactive TUI wizard that walks you through:
  1. Adding your first model provider (Anthropic, OpenAI, Google, OpenRouter)
  2. Adding a web search endpoint for the gathering stage

The API key is stored in the OS keyring and referenced via a keyring://
URI in the config file. No secrets are written in plain text.

After completion, run:
  quill start    start the server
  quill run      run one brief in this process
  quill doctor   verify your setup`,
		RunE: runInit,
	}

	cmd.Flags().Bool("skip-search", false, "Skip the web search step")
	cmd.Flags().Bool("force", false, "Overwrite existing config file")

	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok || !isTerminal(f) {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(),
			"quill init requires an interactive terminal.\n"+
				"To configure Quill non-interactively, edit ~/.config/quill/quill.yaml directly\n"+
				"and store keys with 'quill secret set <provider>'.")
		return quillerr.New(quillerr.CodeCLISetupFailure, "quill init: not an interactive terminal")
	}

	skipSearch, _ := cmd.Flags().GetBool("skip-search")
	forceOverwrite, _ := cmd.Flags().GetBool("force")

	m := newInitModel(secretStoreFactory())
	m.skipSearch = skipSearch
	m.forceOverwrite = forceOverwrite

	p := tea.NewProgram(m, tea.WithAltScreen())
	finalModel, err := p.Run()
	if err != nil {
		return quillerr.Errorf(quillerr.CodeCLISetupFailure, "init wizard error: %w", err)
	}

	fm, ok := finalModel.(initModel)
	if !ok {
		return quillerr.New(quillerr.CodeCLISetupFailure, "unexpected model type after wizard")
	}

	if fm.errFinal != nil {
		return quillerr.Errorf(quillerr.CodeCLISetupFailure, "init failed: %w", fm.errFinal)
	}

	// Quitting early is not an error.
	return nil
}

// isTerminal reports whether f is a terminal file descriptor.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
