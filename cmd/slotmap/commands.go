package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/jiayi-1994/slotmap/pkg/allocator"
	"github.com/jiayi-1994/slotmap/pkg/claims"
	"github.com/jiayi-1994/slotmap/pkg/config"
)

// Exit codes for rejected claims, so scripts can tell outcomes apart
const (
	exitFailure        = 1
	exitAlreadyClaimed = 2
	exitInvalidSlot    = 3
	exitNotLive        = 4
	exitNotEnriched    = 5
)

func exitCode(err error) int {
	switch {
	case allocator.IsAlreadyClaimed(err):
		return exitAlreadyClaimed
	case allocator.IsInvalidSlot(err):
		return exitInvalidSlot
	case allocator.IsNotLive(err):
		return exitNotLive
	case claims.IsEnrichmentError(err):
		return exitNotEnriched
	default:
		return exitFailure
	}
}

// withService opens the claims service for the duration of one command
func withService(c *cli.Context, cfg *config.Config, fn func(ctx context.Context, svc *claims.Service) error) error {
	svc, err := claims.Open(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(c.Context, svc)
}

var slotFlag = &cli.Uint64Flag{
	Name:     "slot",
	Aliases:  []string{"s"},
	Usage:    "Slot number",
	Required: true,
}

func commands(cfg func() *config.Config) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "init",
			Usage: "Provision the slot index; never shrinks it",
			Flags: []cli.Flag{
				&cli.Uint64Flag{
					Name:  "bits",
					Usage: "Slots to provision (default: index.initialCapacityBits or universe.totalSlots)",
				},
			},
			Action: func(c *cli.Context) error {
				bits := c.Uint64("bits")
				if bits == 0 {
					bits = cfg().ProvisionBits()
				}
				return withService(c, cfg(), func(ctx context.Context, svc *claims.Service) error {
					if err := svc.Provision(ctx, bits); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "slot index provisioned: %d slots\n", svc.Status().CapacityBits)
					return nil
				})
			},
		},
		{
			Name:  "claim",
			Usage: "Claim a slot",
			Flags: []cli.Flag{
				slotFlag,
				&cli.Uint64Flag{
					Name:     "counter",
					Usage:    "Current value of the external counter",
					Required: true,
				},
				&cli.StringFlag{
					Name:  "now",
					Usage: "Claim time in RFC 3339 (default: current time)",
				},
			},
			Action: func(c *cli.Context) error {
				now := time.Now()
				if raw := c.String("now"); raw != "" {
					parsed, err := time.Parse(time.RFC3339, raw)
					if err != nil {
						return fmt.Errorf("invalid --now %q: %w", raw, err)
					}
					now = parsed
				}
				return withService(c, cfg(), func(ctx context.Context, svc *claims.Service) error {
					receipt, err := svc.Claim(ctx, c.Uint64("slot"), now, c.Uint64("counter"))
					if receipt != nil {
						fmt.Fprintf(c.App.Writer, "claimed slot %d (%s)\n", receipt.Slot, receipt.Name)
					}
					return err
				})
			},
		},
		{
			Name:  "check",
			Usage: "Report whether a slot is claimed",
			Flags: []cli.Flag{slotFlag},
			Action: func(c *cli.Context) error {
				return withService(c, cfg(), func(ctx context.Context, svc *claims.Service) error {
					claimed, err := svc.IsClaimed(c.Uint64("slot"))
					if err != nil {
						return err
					}
					state := "free"
					if claimed {
						state = "claimed"
					}
					fmt.Fprintf(c.App.Writer, "slot %d: %s\n", c.Uint64("slot"), state)
					return nil
				})
			},
		},
		{
			Name:  "total",
			Usage: "Print the number of claimed slots",
			Action: func(c *cli.Context) error {
				return withService(c, cfg(), func(ctx context.Context, svc *claims.Service) error {
					fmt.Fprintln(c.App.Writer, svc.TotalClaimed())
					return nil
				})
			},
		},
		{
			Name:  "claimed",
			Usage: "List claimed slots in [from, to)",
			Flags: []cli.Flag{
				&cli.Uint64Flag{Name: "from", Usage: "First slot"},
				&cli.Uint64Flag{Name: "to", Usage: "End of range, exclusive (default: index capacity)"},
			},
			Action: func(c *cli.Context) error {
				return withService(c, cfg(), func(ctx context.Context, svc *claims.Service) error {
					to := c.Uint64("to")
					if !c.IsSet("to") {
						to = svc.Status().CapacityBits
					}
					slots, err := svc.ClaimedInRange(c.Uint64("from"), to)
					if err != nil {
						return err
					}
					for _, slot := range slots {
						fmt.Fprintln(c.App.Writer, slot)
					}
					return nil
				})
			},
		},
		{
			Name:  "enrich",
			Usage: "Re-run enrichment for a claimed slot",
			Flags: []cli.Flag{slotFlag},
			Action: func(c *cli.Context) error {
				return withService(c, cfg(), func(ctx context.Context, svc *claims.Service) error {
					receipt, err := svc.Reenrich(ctx, c.Uint64("slot"))
					if err != nil {
						if errors.Is(err, claims.ErrEnrichmentDisabled) {
							return fmt.Errorf("%w: set enrichment.enabled in the config", err)
						}
						return err
					}
					fmt.Fprintf(c.App.Writer, "enriched slot %d (%s)\n", receipt.Slot, receipt.Name)
					return nil
				})
			},
		},
		{
			Name:  "serve",
			Usage: "Run the HTTP API",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "listen",
					Usage: "Listen address (default: server.listenAddress)",
				},
			},
			Action: func(c *cli.Context) error {
				serverCfg := cfg().Server
				if addr := c.String("listen"); addr != "" {
					serverCfg.ListenAddress = addr
				}
				return withService(c, cfg(), func(ctx context.Context, svc *claims.Service) error {
					return serve(ctx, svc, serverCfg)
				})
			},
		},
	}
}
