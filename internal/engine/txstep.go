package engine

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chainflow/relay-engine/internal/wallet"
	"github.com/chainflow/relay-engine/pkg/model"
)

// runTransactionItem submits the item's call through the wallet and waits
// for on-chain confirmation. A replaced transaction swaps the tracked hash
// for the replacement; a reverted or cancelled one fails the execution.
func (e *Engine) runTransactionItem(ex *execution, step *model.Step, item *model.Item, w wallet.Wallet) error {
	chainID := item.Data.ChainID
	if chainID == 0 {
		chainID = step.ChainID
	}
	if chainID == 0 {
		return fmt.Errorf("transaction item in step %q has no chain id", step.ID)
	}

	if err := w.SwitchChain(ex.ctx, chainID); err != nil {
		return fmt.Errorf("switch to chain %d: %w", chainID, err)
	}

	item.ProgressState = model.ProgressStateSigning
	ex.emit(step, item)

	txHash, err := w.SendTransaction(ex.ctx, wallet.TransactionRequest{
		ChainID: chainID,
		To:      item.Data.To,
		Value:   item.Data.Value,
		Data:    item.Data.Input,
		Gas:     item.Data.Gas,
	})
	if err != nil {
		return fmt.Errorf("send transaction on chain %d: %w", chainID, err)
	}

	item.TxHashes = model.MergeTxHashes(item.TxHashes, []model.TxHash{{TxHash: txHash, ChainID: chainID}})
	item.ProgressState = model.ProgressStateValidating
	ex.emit(step, item)

	e.logger.Info("engine.transaction_submitted",
		zap.String("step_id", step.ID),
		zap.Int64("chain_id", chainID),
		zap.String("tx_hash", txHash),
	)

	receipt, err := w.Confirm(ex.ctx, chainID, txHash)
	if err != nil {
		if errors.Is(err, model.ErrTransactionCancelled) {
			return err
		}
		return fmt.Errorf("confirm transaction %s: %w", txHash, err)
	}
	if receipt.TxHash != "" && receipt.TxHash != txHash {
		// Replaced (sped up) with the same intent: track the landed hash.
		item.TxHashes = replaceHash(item.TxHashes, txHash, receipt.TxHash, chainID)
	}
	if !receipt.Success {
		return fmt.Errorf("transaction %s reverted on chain %d: %w", receipt.TxHash, chainID, model.ErrTransactionFailed)
	}

	item.Status = model.ItemStatusComplete
	item.ProgressState = model.ProgressStateComplete
	ex.emit(step, item)
	return nil
}

func replaceHash(hashes []model.TxHash, submitted, landed string, chainID int64) []model.TxHash {
	for i := range hashes {
		if hashes[i].TxHash == submitted {
			hashes[i].TxHash = landed
			return hashes
		}
	}
	return append(hashes, model.TxHash{TxHash: landed, ChainID: chainID})
}
