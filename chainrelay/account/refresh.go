package account

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whiteflag/relay/chainrelay/chainstate"
)

// StartRefresh launches the per-chain periodic account refresh timer: every
// refreshInterval, every account's balance and transactionCount are
// refreshed concurrently via the node client. Failures are logged
// per-account and do not fail the batch. The timer is rearmed (not just
// ticked) so a subsequent Create/Delete-triggered Reschedule starts a fresh
// full interval.
func (m *Manager) StartRefresh(ctx context.Context) {
	m.stopRefresh = make(chan struct{})
	go m.refreshLoop(ctx)
}

func (m *Manager) StopRefresh() {
	if m.stopRefresh != nil {
		close(m.stopRefresh)
	}
}

func (m *Manager) refreshLoop(ctx context.Context) {
	timer := time.NewTimer(m.refreshInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopRefresh:
			return
		case <-timer.C:
			m.updateAccounts(ctx)
			timer.Reset(m.refreshInterval)
		}
	}
}

// updateAccounts refreshes balance and transactionCount for every account
// on this chain concurrently, logging a signed delta for any balance
// change and never failing the batch on a per-account error.
func (m *Manager) updateAccounts(ctx context.Context) {
	state, ok, err := m.state.GetBlockchainData(ctx, m.chainName)
	if err != nil || !ok {
		return
	}

	var wg sync.WaitGroup
	updated := make([]chainstate.Account, len(state.Accounts))
	copy(updated, state.Accounts)

	for i, acct := range state.Accounts {
		wg.Add(1)
		go func(i int, acct chainstate.Account) {
			defer wg.Done()
			refreshed, err := m.refreshOne(ctx, acct)
			if err != nil {
				m.log.Warn("account refresh failed", zap.String("address", acct.Address), zap.Error(err))
				return
			}
			updated[i] = refreshed
		}(i, acct)
	}
	wg.Wait()

	state.Accounts = updated
	if err := m.state.UpdateBlockchainData(ctx, m.chainName, state); err != nil {
		m.log.Warn("account refresh: persist state failed", zap.Error(err))
	}
}

func (m *Manager) refreshOne(ctx context.Context, acct chainstate.Account) (chainstate.Account, error) {
	if m.node == nil {
		return acct, nil
	}

	newBalance, err := m.node.GetBalance(ctx, acct.Address)
	if err != nil {
		return acct, fmt.Errorf("get balance: %w", err)
	}
	newCount, err := m.node.GetTransactionCount(ctx, acct.Address)
	if err != nil {
		return acct, fmt.Errorf("get transaction count: %w", err)
	}

	if acct.Balance != nil && *acct.Balance != newBalance {
		m.log.Info("account balance changed",
			zap.String("address", acct.Address),
			zap.String("previous", *acct.Balance),
			zap.String("current", newBalance),
			zap.String("delta", signedHexDelta(*acct.Balance, newBalance)),
		)
	}

	acct.Balance = &newBalance
	acct.TransactionCount = &newCount
	return acct, nil
}

// signedHexDelta renders (current - previous) for two 0x-prefixed hex
// quantities as a signed decimal string, for human-readable delta logging.
func signedHexDelta(previous, current string) string {
	prev, ok1 := new(big.Int).SetString(strings.TrimPrefix(previous, "0x"), 16)
	cur, ok2 := new(big.Int).SetString(strings.TrimPrefix(current, "0x"), 16)
	if !ok1 || !ok2 {
		return "unknown"
	}
	delta := new(big.Int).Sub(cur, prev)
	if delta.Sign() >= 0 {
		return "+" + delta.String()
	}
	return delta.String()
}

// Reschedule clears and re-arms the refresh timer so the next run is a full
// interval away, per the create/delete contract. A no-op if StartRefresh
// was never called for this manager — there is no timer to reschedule.
func (m *Manager) Reschedule(ctx context.Context) {
	if m.stopRefresh == nil {
		return
	}
	m.StopRefresh()
	m.StartRefresh(ctx)
}
