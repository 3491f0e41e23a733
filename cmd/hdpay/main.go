package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/abcfe/hdpay/app"
	"github.com/abcfe/hdpay/common/logger"
	prt "github.com/abcfe/hdpay/protocol"
	"github.com/abcfe/hdpay/wallet"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Version info (Injected from Makefile)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var configFile string

func main() {
	var rootCmd = &cobra.Command{
		Use:     "hdpay",
		Short:   "Per-payment Stellar address derivation",
		Long:    `Derives a unique Stellar address for every merchant payment from one master seed and regenerates its keypair on demand for sweeping.`,
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}

	// Register global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(deriveCmd())
	rootCmd.AddCommand(regenerateCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(healthCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println("Failed to execute command:", err)
		os.Exit(1)
	}
}

// withApp opens the application for the duration of one command
func withApp(fn func(a *app.App) error) error {
	application, err := app.New(configFile)
	if err != nil {
		return err
	}
	application.SigHandler()
	defer application.Terminate()

	return fn(application)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Derive addresses for new payments
func deriveCmd() *cobra.Command {
	var (
		noRecord    bool
		parallelism int
	)

	cmd := &cobra.Command{
		Use:   "derive <merchant-id> <payment-id>...",
		Short: "Derive addresses for new payments",
		Long:  `Allocates the next payment index for the merchant and derives its address. By default the payment is recorded with its encrypted indices so it can be swept by id later.`,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if parallelism < 1 {
				return fmt.Errorf("--parallel must be at least 1, got %d", parallelism)
			}
			merchantID, paymentIDs := args[0], args[1:]

			return withApp(func(a *app.App) error {
				g, ctx := errgroup.WithContext(a.Context())
				g.SetLimit(parallelism)

				var mu sync.Mutex
				results := make([]interface{}, len(paymentIDs))
				for i, paymentID := range paymentIDs {
					i, paymentID := i, paymentID
					g.Go(func() error {
						var (
							out interface{}
							err error
						)
						if noRecord {
							out, err = a.Service.DerivePaymentAddress(ctx, merchantID, paymentID)
						} else {
							out, err = a.Service.CreatePayment(ctx, merchantID, paymentID)
						}
						if err != nil {
							return fmt.Errorf("payment %s: %w", paymentID, err)
						}

						mu.Lock()
						results[i] = out
						mu.Unlock()
						return nil
					})
				}
				if err := g.Wait(); err != nil {
					logger.Error("derive failed: ", err)
					return err
				}
				return printJSON(results)
			})
		},
	}

	cmd.Flags().BoolVar(&noRecord, "no-record", false, "Only derive, do not record the payment")
	cmd.Flags().IntVarP(&parallelism, "parallel", "p", 4, "Concurrent derivations")
	return cmd
}

// Regenerate a keypair for sweeping
func regenerateCmd() *cobra.Command {
	var (
		path       string
		merchantID string
		paymentID  string
		showSecret bool
	)

	cmd := &cobra.Command{
		Use:   "regenerate [merchant-index payment-index]",
		Short: "Regenerate a payment keypair",
		Long:  `Rebuilds a keypair from raw indices, from a derivation path (--path) or from the recorded payment (--merchant and --payment).`,
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				ctx := a.Context()

				var (
					kp  *wallet.Keypair
					err error
				)
				switch {
				case path != "":
					kp, err = a.Service.RegenerateKeypairFromPath(ctx, path)
				case merchantID != "" && paymentID != "":
					kp, err = a.Service.RegenerateKeypairByID(ctx, merchantID, paymentID)
				case len(args) == 2:
					m, p, perr := parseIndices(args[0], args[1])
					if perr != nil {
						return perr
					}
					kp, err = a.Service.RegenerateKeypair(ctx, m, p)
				default:
					return fmt.Errorf("give indices, --path, or --merchant with --payment")
				}
				if err != nil {
					return err
				}

				fmt.Printf("Address: %s\n", kp.PublicKey)
				if showSecret {
					fmt.Printf("Secret: %s\n", kp.SecretKey)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "Derivation path m/44'/148'/m'/p'")
	cmd.Flags().StringVar(&merchantID, "merchant", "", "Merchant id of a recorded payment")
	cmd.Flags().StringVar(&paymentID, "payment", "", "Payment id of a recorded payment")
	cmd.Flags().BoolVar(&showSecret, "show-secret", false, "Print the secret key")
	return cmd
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <merchant-index> <payment-index> <address>",
		Short: "Check an address against its indices",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, p, err := parseIndices(args[0], args[1])
			if err != nil {
				return err
			}

			return withApp(func(a *app.App) error {
				ok, err := a.Service.VerifyAddress(a.Context(), m, p, args[2])
				if err != nil {
					return err
				}

				fmt.Printf("%s at %s: %t\n", args[2], wallet.FormatPath(m, p), ok)
				if !ok {
					return errors.New("address does not match")
				}
				return nil
			})
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the secret backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				name := a.Service.Provider().Name()
				if !a.Service.HealthCheck(a.Context()) {
					return fmt.Errorf("secret provider %s unhealthy", name)
				}
				fmt.Printf("secret provider %s: ok\n", name)

				// a lookup that misses still proves the store answers
				if _, err := a.Store.Payment(a.Context(), "health-check"); err != nil && !errors.Is(err, prt.ErrNotFound) {
					return fmt.Errorf("db %s: %w", a.Conf.DB.Backend, err)
				}
				fmt.Printf("db %s: ok\n", a.Conf.DB.Backend)
				return nil
			})
		},
	}
}

func parseIndices(m, p string) (uint32, uint32, error) {
	mi, err := strconv.ParseUint(m, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("merchant index %q: %w", m, err)
	}
	pi, err := strconv.ParseUint(p, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("payment index %q: %w", p, err)
	}
	return uint32(mi), uint32(pi), nil
}
