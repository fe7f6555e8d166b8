package main

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/erc7824/nitrolite/walletnode/pkg/rpc"
	"github.com/erc7824/nitrolite/walletnode/pkg/wallet"
)

const consoleCallTimeout = 30 * time.Second

// walletClient is the part of rpc.Client the console uses.
type walletClient interface {
	Accounts(ctx context.Context) ([]string, error)
	ChainID(ctx context.Context) (string, error)
	GetBalance(ctx context.Context) (rpc.GetBalanceResponse, error)
	GetAccount(ctx context.Context) (rpc.GetAccountResponse, error)
	GetEncryptionPublicKey(ctx context.Context, from string) (string, error)
	PersonalSign(ctx context.Context, data, from string) (string, error)
	SignTypedDataV4(ctx context.Context, from, typedData string) (string, error)
	Decrypt(ctx context.Context, ciphertext, from string) (string, error)
	SendTransaction(ctx context.Context, tx any) (string, error)
	SendToken(ctx context.Context, transfer any) (string, error)
	SetProvider(ctx context.Context, req rpc.SetProviderRequest) (rpc.SetProviderResponse, error)
	GetHistory(ctx context.Context, req rpc.GetHistoryRequest) (rpc.GetHistoryResponse, error)
}

var _ walletClient = (*rpc.Client)(nil)

// Console runs interactive commands against a wallet node.
type Console struct {
	client walletClient
	out    io.Writer
	from   string

	exitCh chan struct{}
}

func NewConsole(client walletClient, out io.Writer) *Console {
	return &Console{
		client: client,
		out:    out,
		exitCh: make(chan struct{}),
	}
}

func consoleCommand(c *cli.Context) error {
	url := c.Args().First()
	if url == "" {
		return cli.Exit("usage: walletnode console <ws-url>", 1)
	}

	dialerConf := rpc.DefaultWebsocketDialerConfig
	if token := c.String("token"); token != "" {
		dialerConf.Header = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	client := rpc.NewClient(rpc.NewWebsocketDialer(dialerConf))
	client.HandleChainChanged(func(_ context.Context, chainID string) {
		fmt.Printf("\nchain changed to %s\n", chainID)
	})

	closedCh := make(chan struct{})
	if err := client.Start(c.Context, url, func(err error) {
		if err != nil {
			fmt.Printf("Connection closed: %s\n", err.Error())
		}
		close(closedCh)
	}); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	console := NewConsole(client, os.Stdout)

	initialState, _ := term.GetState(int(os.Stdin.Fd()))
	handleExit := func() {
		if initialState != nil {
			term.Restore(int(os.Stdin.Fd()), initialState)
		}
		exec.Command("stty", "sane").Run()
	}

	options := append(consoleStyleOptions(),
		prompt.OptionPrefix("wallet> "),
		prompt.OptionAddKeyBind(prompt.KeyBind{
			Key: prompt.ControlC,
			Fn: func(buf *prompt.Buffer) {
				fmt.Println("Exiting console.")
				handleExit()
				os.Exit(0)
			},
		}),
	)
	p := prompt.New(console.Execute, console.Complete, options...)

	promptExitCh := make(chan struct{})
	go func() {
		p.Run()
		close(promptExitCh)
	}()

	select {
	case <-closedCh:
		fmt.Println("Node disconnected.")
	case <-console.Wait():
	case <-promptExitCh:
	}
	handleExit()
	return nil
}

func consoleStyleOptions() []prompt.Option {
	return []prompt.Option{
		prompt.OptionTitle("walletnode console"),
		prompt.OptionPrefixTextColor(prompt.Yellow),
		prompt.OptionPreviewSuggestionTextColor(prompt.Cyan),
		prompt.OptionSuggestionTextColor(prompt.White),
		prompt.OptionSuggestionBGColor(prompt.DarkBlue),
		prompt.OptionDescriptionTextColor(prompt.Black),
		prompt.OptionDescriptionBGColor(prompt.Yellow),
		prompt.OptionSelectedSuggestionTextColor(prompt.Black),
		prompt.OptionSelectedSuggestionBGColor(prompt.Yellow),
	}
}

var consoleSuggestions = []prompt.Suggest{
	{Text: "accounts", Description: "List the wallet accounts"},
	{Text: "chain", Description: "Show the chain id of the current endpoint"},
	{Text: "balance", Description: "Show the native balance"},
	{Text: "account", Description: "Show the address and public key"},
	{Text: "sign", Description: "Sign a personal message: sign <message>"},
	{Text: "sign-typed", Description: "Sign EIP-712 typed data from a file: sign-typed <path>"},
	{Text: "encryption-key", Description: "Show the encryption public key"},
	{Text: "decrypt", Description: "Decrypt a ciphertext: decrypt <hex>"},
	{Text: "provider", Description: "Switch endpoint: provider url <url> | provider network <name>"},
	{Text: "send", Description: "Send native value: send <to> <wei>"},
	{Text: "send-token", Description: "Send ERC-20 tokens: send-token <contract> <to> <amount>"},
	{Text: "history", Description: "Show recent calls: history [limit]"},
	{Text: "exit", Description: "Exit the console"},
}

func (o *Console) Complete(d prompt.Document) []prompt.Suggest {
	args := strings.Split(d.TextBeforeCursor(), " ")
	if len(args) < 2 {
		return prompt.FilterHasPrefix(consoleSuggestions, d.GetWordBeforeCursor(), true)
	}
	if len(args) == 2 && args[0] == "provider" {
		return prompt.FilterHasPrefix([]prompt.Suggest{
			{Text: "url", Description: "Use an RPC URL"},
			{Text: "network", Description: "Use a configured network"},
		}, d.GetWordBeforeCursor(), true)
	}
	return nil
}

func (o *Console) Execute(s string) {
	args := strings.Fields(s)
	if len(args) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), consoleCallTimeout)
	defer cancel()

	if err := o.execute(ctx, args); err != nil {
		fmt.Fprintf(o.out, "Error: %s\n", err.Error())
	}
}

func (o *Console) Wait() <-chan struct{} {
	return o.exitCh
}

func (o *Console) execute(ctx context.Context, args []string) error {
	switch args[0] {
	case "accounts":
		accounts, err := o.client.Accounts(ctx)
		if err != nil {
			return err
		}
		for _, account := range accounts {
			fmt.Fprintln(o.out, account)
		}
	case "chain":
		chainID, err := o.client.ChainID(ctx)
		if err != nil {
			return err
		}
		id, err := hexutil.DecodeBig(chainID)
		if err != nil {
			return fmt.Errorf("malformed chain id %q", chainID)
		}
		fmt.Fprintf(o.out, "%s (%s)\n", id, chainID)
	case "balance":
		res, err := o.client.GetBalance(ctx)
		if err != nil {
			return err
		}
		o.renderTable(table.Row{"Address", "Wei", "Ether"}, table.Row{res.Address, res.Wei, res.Ether.String()})
	case "account":
		res, err := o.client.GetAccount(ctx)
		if err != nil {
			return err
		}
		o.renderTable(table.Row{"Address", "Public Key"}, table.Row{res.Address, res.PublicKey})
	case "encryption-key":
		from, err := o.sender(ctx)
		if err != nil {
			return err
		}
		key, err := o.client.GetEncryptionPublicKey(ctx, from)
		if err != nil {
			return err
		}
		fmt.Fprintln(o.out, key)
	case "sign":
		if len(args) < 2 {
			return fmt.Errorf("usage: sign <message>")
		}
		from, err := o.sender(ctx)
		if err != nil {
			return err
		}
		sig, err := o.client.PersonalSign(ctx, strings.Join(args[1:], " "), from)
		if err != nil {
			return err
		}
		fmt.Fprintln(o.out, sig)
	case "sign-typed":
		if len(args) != 2 {
			return fmt.Errorf("usage: sign-typed <path>")
		}
		document, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		from, err := o.sender(ctx)
		if err != nil {
			return err
		}
		sig, err := o.client.SignTypedDataV4(ctx, from, string(document))
		if err != nil {
			return err
		}
		fmt.Fprintln(o.out, sig)
	case "decrypt":
		if len(args) != 2 {
			return fmt.Errorf("usage: decrypt <ciphertext>")
		}
		from, err := o.sender(ctx)
		if err != nil {
			return err
		}
		plain, err := o.client.Decrypt(ctx, args[1], from)
		if err != nil {
			return err
		}
		fmt.Fprintln(o.out, plain)
	case "provider":
		return o.handleProvider(ctx, args[1:])
	case "send":
		return o.handleSend(ctx, args[1:])
	case "send-token":
		return o.handleSendToken(ctx, args[1:])
	case "history":
		return o.handleHistory(ctx, args[1:])
	case "exit":
		fmt.Fprintln(o.out, "Exiting console.")
		close(o.exitCh)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}

func (o *Console) handleProvider(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: provider url <url> | provider network <name>")
	}

	var req rpc.SetProviderRequest
	switch args[0] {
	case "url":
		req.URL = args[1]
	case "network":
		req.Network = args[1]
	default:
		return fmt.Errorf("unknown provider kind %q", args[0])
	}

	res, err := o.client.SetProvider(ctx, req)
	if err != nil {
		return err
	}
	o.renderTable(table.Row{"Endpoint", "Chain ID"}, table.Row{res.Endpoint, res.ChainID})
	return nil
}

func (o *Console) handleSend(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: send <to> <wei>")
	}
	value, ok := new(big.Int).SetString(args[1], 10)
	if !ok || value.Sign() < 0 {
		return fmt.Errorf("invalid amount %q", args[1])
	}
	from, err := o.sender(ctx)
	if err != nil {
		return err
	}

	hash, err := o.client.SendTransaction(ctx, wallet.TxParams{
		From:  from,
		To:    args[0],
		Value: (*hexutil.Big)(value),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(o.out, hash)
	return nil
}

func (o *Console) handleSendToken(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: send-token <contract> <to> <amount>")
	}
	from, err := o.sender(ctx)
	if err != nil {
		return err
	}

	hash, err := o.client.SendToken(ctx, wallet.TokenTransfer{
		From:     from,
		Contract: args[0],
		To:       args[1],
		Amount:   args[2],
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(o.out, hash)
	return nil
}

func (o *Console) handleHistory(ctx context.Context, args []string) error {
	req := rpc.GetHistoryRequest{}
	if len(args) > 0 {
		limit, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid limit %q", args[0])
		}
		req.Limit = uint32(limit)
	}

	res, err := o.client.GetHistory(ctx, req)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(o.out)
	t.AppendHeader(table.Row{"Time", "Method", "Outcome", "Error", "Tx Hash"})
	t.AppendSeparator()
	for _, entry := range res.Entries {
		t.AppendRow(table.Row{entry.CreatedAt.Format(time.RFC3339), entry.Method, entry.Outcome, entry.ErrorKind, entry.TxHash})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d of %d", len(res.Entries), res.Total)})
	t.Render()
	return nil
}

// sender returns the wallet address, fetched once.
func (o *Console) sender(ctx context.Context) (string, error) {
	if o.from != "" {
		return o.from, nil
	}
	accounts, err := o.client.Accounts(ctx)
	if err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "", fmt.Errorf("node has no accounts")
	}
	o.from = accounts[0]
	return o.from, nil
}

func (o *Console) renderTable(header, row table.Row) {
	t := table.NewWriter()
	t.SetOutputMirror(o.out)
	t.AppendHeader(header)
	t.AppendSeparator()
	t.AppendRow(row)
	t.Render()
}
