package ton

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"
)

// Treasury is the hot wallet the ledger pays out from. Settlement never calls
// it; only the payout pump and the admin sweep do.
type Treasury struct {
	api    ton.APIClientWrapped
	wallet *wallet.Wallet
	log    *zap.Logger
}

// NewTreasury opens the treasury wallet from its seed phrase.
func NewTreasury(api ton.APIClientWrapped, seedPhrase string, log *zap.Logger) (*Treasury, error) {
	seed := strings.Fields(seedPhrase)
	if len(seed) == 0 {
		return nil, fmt.Errorf("treasury seed is empty")
	}

	w, err := wallet.FromSeed(api, seed, wallet.V4R2)
	if err != nil {
		return nil, fmt.Errorf("open treasury wallet: %w", err)
	}

	log.Info("treasury wallet opened", zap.String("address", w.WalletAddress().String()))
	return &Treasury{api: api, wallet: w, log: log}, nil
}

func (t *Treasury) Address() string {
	return t.wallet.WalletAddress().String()
}

// Send transfers amountNano to the destination with a text memo and waits for
// the transaction to be accepted. Returns the transaction hash.
func (t *Treasury) Send(ctx context.Context, toAddr string, amountNano int64, memo string) (string, error) {
	if amountNano <= 0 {
		return "", fmt.Errorf("non-positive payout amount %d", amountNano)
	}

	to, err := address.ParseAddr(toAddr)
	if err != nil {
		return "", fmt.Errorf("parse destination %q: %w", toAddr, err)
	}

	msg, err := t.wallet.BuildTransfer(to, tlb.FromNanoTON(big.NewInt(amountNano)), false, memo)
	if err != nil {
		return "", fmt.Errorf("build transfer: %w", err)
	}

	tx, _, err := t.wallet.SendWaitTransaction(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("send transfer: %w", err)
	}

	hash := hex.EncodeToString(tx.Hash)
	t.log.Info("treasury payout sent",
		zap.String("to", to.String()),
		zap.Int64("amount_nano", amountNano),
		zap.String("tx_hash", hash),
	)
	return hash, nil
}

// BalanceNano returns the treasury's on-chain balance.
func (t *Treasury) BalanceNano(ctx context.Context) (int64, error) {
	block, err := t.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return 0, fmt.Errorf("get master block: %w", err)
	}

	account, err := t.api.GetAccount(ctx, block, t.wallet.WalletAddress())
	if err != nil {
		return 0, fmt.Errorf("get treasury account: %w", err)
	}
	if account == nil || !account.IsActive {
		return 0, nil
	}

	return account.State.Balance.Nano().Int64(), nil
}
