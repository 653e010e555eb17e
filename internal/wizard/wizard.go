// Package wizard provides an interactive setup wizard for udsrelay.
package wizard

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/hollowpath/udsrelay/internal/config"
	"github.com/hollowpath/udsrelay/internal/relay"
)

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
}

// Wizard manages the interactive setup process.
type Wizard struct {
	theme *huh.Theme
}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{theme: huh.ThemeDracula()}
}

// Interactive reports whether stdin/stdout are both attached to a terminal.
// huh's forms require a real terminal to render, so the configure command
// refuses to run and returns an error when this is false.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// Run executes the interactive setup wizard, producing one Config with one
// or more relay endpoints.
func (w *Wizard) Run() (*Result, error) {
	w.printBanner()

	configPath, logLevel, metricsEnabled, metricsAddr, err := w.askBasicSetup()
	if err != nil {
		return nil, err
	}

	var endpoints []config.EndpointConfig
	addMore := true
	for addMore {
		ep, err := w.askEndpoint(len(endpoints) + 1)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)

		confirmForm := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Configure another endpoint?").
					Value(&addMore),
			),
		).WithTheme(w.theme)
		if err := confirmForm.Run(); err != nil {
			return nil, err
		}
	}

	cfg := config.Default()
	cfg.Agent.LogLevel = logLevel
	cfg.Metrics.Enabled = metricsEnabled
	cfg.Metrics.Address = metricsAddr
	cfg.Endpoints = endpoints

	if err := w.writeConfig(cfg, configPath); err != nil {
		return nil, err
	}

	w.printSummary(configPath, cfg)

	return &Result{Config: cfg, ConfigPath: configPath}, nil
}

func (w *Wizard) printBanner() {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render(`
 _   _ ____  ____                _
| | | |  _ \/ ___|_ __ ___| | __ _ _   _
| | | | | | \___ \ '__/ _ \ |/ _\` + "`" + ` | | | |
| |_| | |_| |___) | | |  __/ | (_| | |_| |
 \___/|____/|____/|_|  \___|_|\__,_|\__, |
                                    |___/
`)

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("  Obfuscated TCP tunnel endpoint - Setup Wizard\n")

	fmt.Println(banner)
	fmt.Println(subtitle)
}

func (w *Wizard) askBasicSetup() (configPath, logLevel string, metricsEnabled bool, metricsAddr string, err error) {
	configPath = "./config.yaml"
	logLevel = "info"
	metricsAddr = ":9090"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Config File Path").
				Placeholder("./config.yaml").
				Value(&configPath).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("config path is required")
					}
					if !strings.HasSuffix(s, ".yaml") && !strings.HasSuffix(s, ".yml") {
						return fmt.Errorf("config file should have .yaml or .yml extension")
					}
					return nil
				}),

			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("Debug", "debug"),
					huh.NewOption("Info", "info"),
					huh.NewOption("Warning", "warn"),
					huh.NewOption("Error", "error"),
				).
				Value(&logLevel),

			huh.NewConfirm().
				Title("Enable Prometheus metrics endpoint?").
				Value(&metricsEnabled),

			huh.NewInput().
				Title("Metrics Listen Address").
				Placeholder(":9090").
				Value(&metricsAddr),
		),
	).WithTheme(w.theme)

	err = form.Run()
	return
}

func (w *Wizard) askEndpoint(num int) (config.EndpointConfig, error) {
	ep := config.EndpointConfig{
		Name:         fmt.Sprintf("endpoint-%d", num),
		InboundKind:  "tcp",
		OutboundKind: "tcp",
		Alignment:    relay.MinAlignment,
	}
	alignmentStr := fmt.Sprintf("%d", relay.MinAlignment)
	remotePortStr := ""

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().Title(fmt.Sprintf("Endpoint #%d", num)),

			huh.NewInput().
				Title("Endpoint Name").
				Value(&ep.Name).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("name is required")
					}
					return nil
				}),

			huh.NewInput().
				Title("Listen Address").
				Description("Where this endpoint accepts inbound connections").
				Placeholder("0.0.0.0:8443").
				Value(&ep.ListenAddress).
				Validate(func(s string) error {
					if _, _, err := net.SplitHostPort(s); err != nil {
						return fmt.Errorf("invalid address format (use host:port)")
					}
					return nil
				}),

			huh.NewSelect[string]().
				Title("Inbound Transmission").
				Options(
					huh.NewOption("TCP", "tcp"),
					huh.NewOption("WebSocket", "ws"),
					huh.NewOption("QUIC", "quic"),
				).
				Value(&ep.InboundKind),

			huh.NewSelect[string]().
				Title("Outbound Transmission").
				Options(
					huh.NewOption("TCP", "tcp"),
					huh.NewOption("WebSocket", "ws"),
					huh.NewOption("QUIC", "quic"),
				).
				Value(&ep.OutboundKind),

			huh.NewInput().
				Title("Remote Address").
				Description("Host or IP the relay dials out to").
				Placeholder("10.0.0.5").
				Value(&ep.RemoteAddress).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("remote address is required")
					}
					return nil
				}),

			huh.NewInput().
				Title("Remote Port").
				Placeholder("22").
				Value(&remotePortStr).
				Validate(func(s string) error {
					if _, err := parsePositiveInt(s); err != nil {
						return fmt.Errorf("invalid port: %v", err)
					}
					return nil
				}),

			huh.NewConfirm().Title("Enable TCP_NODELAY (turbo)?").Value(&ep.Turbo),
			huh.NewConfirm().Title("Enable TCP_FASTOPEN?").Value(&ep.FastOpen),
			huh.NewConfirm().Title("Enable keep-alive probing?").Value(&ep.KeepAlived),

			huh.NewInput().
				Title("Handshake Alignment").
				Description(fmt.Sprintf("Minimum %d", relay.MinAlignment)).
				Value(&alignmentStr),
		),
	).WithTheme(w.theme)

	if err := form.Run(); err != nil {
		return ep, err
	}

	if v, err := parsePositiveInt(remotePortStr); err == nil {
		ep.RemotePort = v
	}
	if v, err := parsePositiveInt(alignmentStr); err == nil {
		ep.Alignment = v
	}

	return ep, nil
}

func parsePositiveInt(s string) (int, error) {
	var v int
	_, err := fmt.Sscanf(s, "%d", &v)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid positive integer: %q", s)
	}
	return v, nil
}

func (w *Wizard) writeConfig(cfg *config.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# udsrelay configuration\n# Generated by setup wizard\n\n"
	if err := os.WriteFile(path, []byte(header+string(data)), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (w *Wizard) printSummary(configPath string, cfg *config.Config) {
	style := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	divider := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).
		Render("─────────────────────────────────────────────────")

	fmt.Println()
	fmt.Println(divider)
	fmt.Println(style.Render("Setup Complete"))
	fmt.Println(divider)
	fmt.Printf("  Config file:  %s\n", configPath)
	for _, ep := range cfg.Endpoints {
		fmt.Printf("  Endpoint %q:  %s -> %s:%d (%s/%s)\n", ep.Name, ep.ListenAddress, ep.RemoteAddress, ep.RemotePort, ep.InboundKind, ep.OutboundKind)
	}
	fmt.Println()
	fmt.Println("  To start the relay:")
	fmt.Printf("    udsrelay serve -c %s\n", configPath)
	fmt.Println()
}
