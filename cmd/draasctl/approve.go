package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"DRaaS-Chain/internal/web3"
)

// promptApprover asks for consent on out before each signature and reads a
// y/N answer from in. Anything but yes declines.
func promptApprover(in io.Reader, out io.Writer) web3.Approver {
	reader := bufio.NewReader(in)
	var mu sync.Mutex
	return func(_ context.Context, req web3.ApprovalRequest) (bool, error) {
		mu.Lock()
		defer mu.Unlock()

		to := "-"
		if req.To != nil {
			to = req.To.Hex()
		}
		chain := "-"
		if req.ChainID != nil {
			chain = req.ChainID.String()
		}
		fmt.Fprintf(out, "Sign fee payment of %s ETH from %s to %s on chain %s (gas %d)? [y/N]: ",
			formatEther(req.Value), req.From.Hex(), to, chain, req.Gas)

		answer, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
