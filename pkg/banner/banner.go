package banner

import (
	"fmt"

	"chatrelay/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗██████╗ ███████╗██╗      █████╗ ██╗   ██╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝
██║     ███████║███████║   ██║   ██████╔╝█████╗  ██║     ███████║ ╚████╔╝
██║     ██╔══██║██╔══██║   ██║   ██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝
╚██████╗██║  ██║██║  ██║   ██║   ██║  ██║███████╗███████╗██║  ██║   ██║
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝
`

// PrintWithEff prints the startup banner with the effective runtime
// configuration.
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	src := eff.Source
	if src == "" {
		src = "defaults"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", src)
	if eff.Config != nil {
		d := eff.Config.Delivery
		fmt.Println("\n== Delivery ===================================================")
		fmt.Printf("Idle session:   %s\n", d.IdleSession.Duration())
		fmt.Printf("Poll timeout:   %s (max %s)\n", d.DefaultPollTimeout.Duration(), d.MaxPollTimeout.Duration())
		fmt.Printf("Session sweep:  %s\n", d.SessionSweep.Duration())
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /poll/register            - Open a long-poll session")
	fmt.Println("GET  /poll/messages?sessionId= - Held poll for pending deliveries")
	fmt.Println("POST /poll/status              - Set presence status")
	fmt.Println("POST /v1/messages/private      - Send a private message")
	fmt.Println("POST /v1/messages/group        - Send a group message")
	fmt.Println("GET  /metrics, /healthz, /readyz, /docs/")
}
