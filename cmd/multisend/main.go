package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"multisend/internal/client"
	"multisend/internal/config"
	"multisend/internal/events"
	"multisend/internal/jsonrpc"
)

const (
	FlagRPC     = "rpc"
	FlagFrom    = "from"
	FlagTimeout = "timeout"
	FlagVerbose = "verbose"
)

var (
	rpcURL  string
	fromHex string
	timeout time.Duration
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "multisend",
		Short: "Client for a multisend node",
		Long: `A command-line client for a multisend node: approve the distributor,
push one amount to many recipients and inspect balances and receipts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&rpcURL, FlagRPC, fmt.Sprintf("http://%s:%d", config.DefaultHost, config.DefaultRPCPort), "Node endpoint (http or ws)")
	rootCmd.PersistentFlags().DurationVar(&timeout, FlagTimeout, 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, FlagVerbose, "v", false, "Log retries and other client details")

	rootCmd.AddCommand(
		maxCountCmd(),
		tokenCmd(),
		balanceCmd(),
		allowanceCmd(),
		approveCmd(),
		pushCmd(),
		receiptCmd(),
		watchCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		if reason, ok := client.RevertReason(err); ok {
			fmt.Fprintf(os.Stderr, "Error: execution reverted: %s\n", reason)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}

// withClient dials the node and runs fn under the request timeout
func withClient(fn func(ctx context.Context, c *client.Client) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c, err := client.Dial(ctx, rpcURL, client.DefaultRetryConfig, newLogger())
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(ctx, c)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseAddresses(args []string) ([]common.Address, error) {
	var out []common.Address
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			addr, err := parseAddress(part)
			if err != nil {
				return nil, err
			}
			out = append(out, addr)
		}
	}
	return out, nil
}

// parseAmount accepts a decimal or 0x-prefixed hex amount in base units
func parseAmount(s string) (*uint256.Int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := uint256.FromHex(s)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", s, err)
		}
		return v, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

func addFromFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&fromHex, FlagFrom, config.DefaultHolder, "Account the call acts for")
}

func maxCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "max-count",
		Short: "Print the recipient limit of one distribution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				n, err := c.MaxCount(ctx)
				if err != nil {
					return err
				}
				fmt.Println(n)
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <token>",
		Short: "Print token metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			return withClient(func(ctx context.Context, c *client.Client) error {
				info, err := c.TokenInfo(ctx, token)
				if err != nil {
					return err
				}
				return printJSON(info)
			})
		},
	}
}

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <token> <account>",
		Short: "Print the token balance of an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := parseAddresses(args)
			if err != nil {
				return err
			}
			return withClient(func(ctx context.Context, c *client.Client) error {
				bal, err := c.BalanceOf(ctx, addrs[0], addrs[1])
				if err != nil {
					return err
				}
				fmt.Println(bal.Dec())
				return nil
			})
		},
	}
}

func allowanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "allowance <token> <owner> [spender]",
		Short: "Print an allowance; spender defaults to the distributor",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			addrs, err := parseAddresses(args)
			if err != nil {
				return err
			}
			return withClient(func(ctx context.Context, c *client.Client) error {
				spender, err := spenderOrDistributor(ctx, c, addrs[2:])
				if err != nil {
					return err
				}
				a, err := c.Allowance(ctx, addrs[0], addrs[1], spender)
				if err != nil {
					return err
				}
				fmt.Println(a.Dec())
				return nil
			})
		},
	}
}

func spenderOrDistributor(ctx context.Context, c *client.Client, rest []common.Address) (common.Address, error) {
	if len(rest) > 0 {
		return rest[0], nil
	}
	return c.DistributorAddress(ctx)
}

func approveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <token> <amount> [spender]",
		Short: "Approve a spender; it defaults to the distributor",
		Long: `Set the allowance of a spender over the --from account's tokens.

Amount is in base units, decimal or 0x-prefixed hex.

Example:
  multisend approve 0x5FbDB2315678afecb367f032d93F642f64180aa3 400`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseAddress(fromHex)
			if err != nil {
				return err
			}
			token, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			rest, err := parseAddresses(args[2:])
			if err != nil {
				return err
			}
			return withClient(func(ctx context.Context, c *client.Client) error {
				spender, err := spenderOrDistributor(ctx, c, rest)
				if err != nil {
					return err
				}
				commit, err := c.Approve(ctx, from, token, spender, amount)
				if err != nil {
					return err
				}
				return printJSON(commit)
			})
		},
	}
	addFromFlag(cmd)
	return cmd
}

func pushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push <token> <amount> <recipient>...",
		Short: "Send the same amount to every recipient in one batch",
		Long: `Pull amount x len(recipients) from the --from account's allowance and
send amount to each recipient. Recipients may be separate arguments or
comma-separated. The distributor must be approved first.

Example:
  multisend push 0x5FbDB2315678afecb367f032d93F642f64180aa3 100 0xAb...01,0xAb...02`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseAddress(fromHex)
			if err != nil {
				return err
			}
			token, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			recipients, err := parseAddresses(args[2:])
			if err != nil {
				return err
			}
			return withClient(func(ctx context.Context, c *client.Client) error {
				receipt, err := c.PushDistribute(ctx, from, token, amount, recipients)
				if err != nil {
					return err
				}
				return printJSON(receipt)
			})
		},
	}
	addFromFlag(cmd)
	return cmd
}

func receiptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "receipt <txhash>",
		Short: "Print a stored distribution receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := hexutil.Decode(args[0])
			if err != nil || len(b) != common.HashLength {
				return fmt.Errorf("invalid transaction hash %q", args[0])
			}
			txHash := common.BytesToHash(b)
			return withClient(func(ctx context.Context, c *client.Client) error {
				receipt, err := c.Receipt(ctx, txHash)
				if err != nil {
					return err
				}
				if receipt == nil {
					return fmt.Errorf("receipt %s not found", txHash.Hex())
				}
				return printJSON(receipt)
			})
		},
	}
}

func watchCmd() *cobra.Command {
	var tokenHex, toHex string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream Transfer logs until interrupted (requires a ws endpoint)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter events.Filter
			if tokenHex != "" {
				token, err := parseAddress(tokenHex)
				if err != nil {
					return err
				}
				filter.Token = &token
			}
			if toHex != "" {
				to, err := parseAddress(toHex)
				if err != nil {
					return err
				}
				filter.To = &to
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := client.Dial(ctx, rpcURL, client.DefaultRetryConfig, newLogger())
			if err != nil {
				return err
			}
			defer c.Close()

			logs := make(chan *jsonrpc.Log, 64)
			sub, err := c.SubscribeTransfers(ctx, filter, logs)
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()

			for {
				select {
				case <-ctx.Done():
					return nil
				case err := <-sub.Err():
					return err
				case log := <-logs:
					if err := printJSON(log); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&tokenHex, "token", "", "Only logs of this token")
	cmd.Flags().StringVar(&toHex, "to", "", "Only logs to this recipient")
	return cmd
}
